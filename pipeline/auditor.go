package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pravindurgani/agent-sutra/gateway"
)

// Environment-failure signatures that no amount of replanning can fix.
// "Permission denied" and "Connection refused" are deliberately absent:
// those are frequently code-level errors (wrong path, wrong port) that
// the audit-retry loop CAN fix.
var envErrorSignatures = []struct {
	pattern     string
	description string
}{
	{"can't initialize sys standard streams", "interpreter stdin/stdout initialisation failed (daemon context)"},
	{"Bad file descriptor", "invalid file descriptor inherited from parent process"},
	{"No space left on device", "disk full"},
	{"Name or service not known", "DNS resolution failed (no network access)"},
	{"Timed out after", "execution timed out (increasing the timeout or optimising the command may help)"},
	{"timed out after", "execution timed out (increasing the timeout or optimising the command may help)"},
	{"killed process group", "process was killed due to timeout"},
}

// detectEnvironmentError returns a description when the execution result
// carries an infrastructure-failure signature, or "" for code-level
// failures that are worth a retry.
func detectEnvironmentError(executionResult string) string {
	if executionResult == "" {
		return ""
	}
	for _, sig := range envErrorSignatures {
		if strings.Contains(executionResult, sig.pattern) {
			return sig.description
		}
	}
	return ""
}

// Audit reviews the execution output against the original task with the
// remote high-capability model. Cross-model review: the auditor is
// always a different, stronger model than the generator.
func (n *Nodes) Audit(ctx context.Context, state *State) error {
	// Environment errors short-circuit straight to delivery; burning
	// retries on them re-runs the same failure.
	if envErr := detectEnvironmentError(state.ExecutionResult); envErr != "" {
		log.Printf("pipeline: environment error for task %s, skipping code-level retry: %s", state.TaskID, envErr)
		state.AuditVerdict = VerdictFail
		state.AuditFeedback = "ENVIRONMENT ERROR (not a code issue, retrying will not help): " + envErr
		state.RetryCount = n.Opts.MaxRetries
		return nil
	}

	criteria, ok := auditCriteria[state.TaskType]
	if !ok {
		criteria = auditCriteria["code"]
	}
	system := auditSystemBase + "\n" + criteria

	prompt := fmt.Sprintf(`Original task: %s

Task type: %s

Plan:
%s

Generated code:
%s

Execution result:
%s`,
		state.Message, state.TaskType,
		capText(orNA(state.Plan), 3000),
		capText(orNA(state.Code), 5000),
		capText(orNA(state.ExecutionResult), 5000))

	if state.TaskType == "project" && len(state.ExtractedParams) > 0 {
		prompt += fmt.Sprintf("\n\nExtracted parameters: %v", state.ExtractedParams)
	}

	response, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:   gateway.PurposeAudit,
		Prompt:    prompt,
		System:    system,
		MaxTokens: 800,
	})
	if err != nil {
		return fmt.Errorf("audit call failed: %w", err)
	}

	verdict, feedback := parseVerdict(response)

	if verdict != VerdictPass {
		// Any non-pass verdict, including unexpected values like
		// "partial", consumes a retry so the loop terminates.
		state.RetryCount++
	}
	state.AuditVerdict = verdict
	state.AuditFeedback = feedback

	log.Printf("pipeline: audit for task %s: %s (retry %d, type=%s)",
		state.TaskID, verdict, state.RetryCount, state.TaskType)
	return nil
}

// parseVerdict pulls verdict and feedback out of the auditor's reply.
// JSON first, then balanced-brace extraction, then a keyword scan. A
// missing or unparseable verdict defaults to fail: ambiguous audit
// output must never let bad work through.
func parseVerdict(response string) (verdict, feedback string) {
	if parsed := extractBalancedObject(response, "verdict"); parsed != nil {
		verdict, _ = parsed["verdict"].(string)
		feedback, _ = parsed["feedback"].(string)
		if verdict != "" {
			if feedback == "" {
				feedback = response
			}
			return verdict, feedback
		}
	}
	head := strings.ToLower(response)
	if len(head) > 50 {
		head = head[:50]
	}
	if strings.Contains(head, "pass") {
		return VerdictPass, response
	}
	return VerdictFail, "Audit response was unparseable: " + capText(response, 300)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
