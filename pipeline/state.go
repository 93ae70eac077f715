package pipeline

import "github.com/pravindurgani/agent-sutra/projects"

// Verdicts the auditor can reach. Anything other than VerdictPass counts
// as a failure for the retry edge.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// StageTiming is one node's recorded duration, in graph order.
type StageTiming struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// State is the shared pipeline state. Created by the coordinator,
// mutated only by nodes, discarded after delivery.
type State struct {
	// Input
	TaskID  string
	UserID  int64
	Message string
	Files   []string

	// Classification
	TaskType    string
	ProjectName string
	Project     projects.Project
	HasProject  bool

	// Planning
	Plan string

	// Execution
	Code            string
	ExecutionResult string
	ExtractedParams map[string]string
	WorkingDir      string
	AutoInstalled   []string

	// Audit
	AuditVerdict  string
	AuditFeedback string

	// Control
	RetryCount int

	// Conversation memory, injected before the run
	ConversationContext string

	// Timings for the debug sidecar
	StageTimings []StageTiming

	// Output
	FinalResponse string
	Artifacts     []string
}
