package pipeline

import (
	"context"
	"time"

	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/projects"
	"github.com/pravindurgani/agent-sutra/sandbox"
	"github.com/pravindurgani/agent-sutra/store"
	"github.com/pravindurgani/agent-sutra/types"
)

// ModelCaller is the slice of the gateway nodes need.
type ModelCaller interface {
	Call(ctx context.Context, req gateway.Request) (string, error)
}

// CodeRunner is the slice of the sandbox nodes need.
type CodeRunner interface {
	RunCodeWithAutoInstall(ctx context.Context, taskID, code, language string, timeout time.Duration, workingDir, venvPath string, maxInstallRetries int) sandbox.ExecutionResult
	RunShell(ctx context.Context, taskID, command, workingDir string, timeout time.Duration, venvPath string, extraEnv map[string]string) sandbox.ExecutionResult
}

// Memory is the slice of the store nodes need.
type Memory interface {
	ProjectLessons(ctx context.Context, project string, limit int) ([]types.ProjectLesson, error)
	AddProjectLesson(ctx context.Context, lesson types.ProjectLesson) error
	RecentTaskTypes(ctx context.Context, userID int64, limit int) ([]store.TaskTypeAt, error)
}

// Matcher is the slice of the project registry nodes need.
type Matcher interface {
	Match(message string) (projects.Project, bool)
	Summary() string
}

// Options carries the node tunables pulled from configuration.
type Options struct {
	HostHome   string
	OutputsDir string
	MaxRetries int

	ExecutionTimeout        time.Duration
	MaxCodeExecutionTimeout time.Duration

	BigDataRowThreshold  int
	FileInjectionCharCap int

	CodingStandardsPath    string
	CodingStandardsCharCap int
}

// Nodes holds the five pipeline node implementations and their shared
// dependencies.
type Nodes struct {
	Gateway  ModelCaller
	Runner   CodeRunner
	Memory   Memory
	Registry Matcher
	Opts     Options
}
