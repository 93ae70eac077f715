package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/types"
)

// Deliver composes the final user-visible response. Artifacts are only
// released on a pass verdict; a failed task never ships its outputs.
func (n *Nodes) Deliver(ctx context.Context, state *State) error {
	verdict := state.AuditVerdict
	if verdict == "" {
		verdict = VerdictFail
	}

	artifacts := append([]string(nil), state.Artifacts...)
	if verdict != VerdictPass {
		artifacts = nil
	}

	// Attach the generated source for code-producing types on success.
	if verdict == VerdictPass && state.Code != "" {
		switch state.TaskType {
		case "code", "automation", "data", "file":
			if codeFile := n.saveCodeArtifact(state); codeFile != "" && !contains(artifacts, codeFile) {
				artifacts = append(artifacts, codeFile)
			}
		}
	}

	summary := n.composeSummary(ctx, state, verdict, artifacts)

	// Append the file list when the summary didn't mention it.
	fileNames := existingNames(artifacts)
	if len(fileNames) > 0 {
		mentioned := false
		for _, fn := range fileNames {
			if strings.Contains(summary, fn) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			summary += "\n\nAttached: " + strings.Join(fileNames, ", ")
		}
	}

	if suggestion := n.followUpSuggestion(ctx, state); suggestion != "" {
		summary += "\n\n" + suggestion
	}

	if state.TaskType == "project" && state.ProjectName != "" {
		n.recordProjectLesson(ctx, state, verdict)
	}

	state.FinalResponse = summary
	state.Artifacts = artifacts

	if err := n.writeSidecar(state, verdict); err != nil {
		log.Printf("pipeline: failed to write debug sidecar for %s: %v", state.TaskID, err)
	}

	log.Printf("pipeline: delivery prepared for task %s (%d chars, %d artifacts)",
		state.TaskID, len(summary), len(artifacts))
	return nil
}

func (n *Nodes) composeSummary(ctx context.Context, state *State, verdict string, artifacts []string) string {
	status := "Completed successfully"
	if verdict != VerdictPass {
		status = fmt.Sprintf("FAILED (after %d retries). Do not claim success.", state.RetryCount)
	}

	retryNote := ""
	if state.RetryCount > 0 && verdict == VerdictPass {
		retryNote = "Retry note: " + capText(state.AuditFeedback, 300)
	}

	paramInfo := ""
	if state.TaskType == "project" && len(state.ExtractedParams) > 0 {
		paramInfo = fmt.Sprintf("Parameters used: %v", state.ExtractedParams)
	}

	prompt := fmt.Sprintf(`Original request: %s

Task type: %s
Status: %s
%s
%s

Execution output (stdout):
%s

Files generated: %s`,
		state.Message, state.TaskType, status, retryNote, paramInfo,
		capText(extractOutput(state.ExecutionResult), 3000),
		orNone(strings.Join(existingNames(artifacts), ", ")))

	summary, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:     gateway.PurposeGeneral,
		Prompt:      prompt,
		System:      summarySystem,
		MaxTokens:   800,
		Temperature: 0.3,
	})
	if err != nil {
		log.Printf("pipeline: summary generation failed, using fallback: %v", err)
		return fallbackResponse(state, verdict, artifacts)
	}
	if len(summary) > 3800 {
		summary = summary[:3800] + "..."
	}
	return summary
}

// extractOutput pulls just the stdout section from a formatted
// execution result.
func extractOutput(executionResult string) string {
	if executionResult == "" {
		return "(no output)"
	}
	if _, after, ok := strings.Cut(executionResult, "Output:"); ok {
		output := after
		for _, separator := range []string{"Stderr:", "Traceback:", "Files created:"} {
			if before, _, found := strings.Cut(output, separator); found {
				output = before
			}
		}
		output = strings.TrimSpace(output)
		if output == "" {
			return "(no output)"
		}
		return output
	}
	return capText(executionResult, 2000)
}

// fallbackResponse is the template used when summary generation itself
// fails. It includes the truncated auditor feedback on failure and never
// claims success.
func fallbackResponse(state *State, verdict string, artifacts []string) string {
	var parts []string
	if verdict == VerdictPass {
		if state.TaskType == "project" {
			parts = append(parts, fmt.Sprintf("Project '%s' executed successfully.", state.ProjectName))
		} else {
			parts = append(parts, "Task completed successfully.")
		}
	} else {
		parts = append(parts, fmt.Sprintf("Task FAILED after %d retries.", state.RetryCount))
		if state.AuditFeedback != "" {
			parts = append(parts, "Reason: "+capText(state.AuditFeedback, 300))
		}
	}

	output := extractOutput(state.ExecutionResult)
	if output != "" && output != "(no output)" {
		lines := nonEmptyLines(output)
		if len(lines) > 15 {
			lines = lines[len(lines)-15:]
			parts = append(parts, "Key output:\n"+strings.Join(lines, "\n"))
		} else {
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}

	if names := existingNames(artifacts); len(names) > 0 {
		parts = append(parts, "Attached: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n\n")
}

// saveCodeArtifact writes the generated source next to the other outputs
// so it can be attached. A unique suffix avoids racing a concurrent task
// with a similar message.
func (n *Nodes) saveCodeArtifact(state *State) string {
	filename := fmt.Sprintf("%s_%s.py", slugFromMessage(state.Message, "script"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	path := filepath.Join(n.Opts.OutputsDir, filename)
	if err := os.WriteFile(path, []byte(state.Code), 0o644); err != nil {
		log.Printf("pipeline: failed to save code artifact: %v", err)
		return ""
	}
	return path
}

// recordProjectLesson extracts a one-line lesson from a project run and
// appends it to project memory for the planner's next visit.
func (n *Nodes) recordProjectLesson(ctx context.Context, state *State, verdict string) {
	outcome := "failure"
	if verdict == VerdictPass {
		outcome = "success"
	}
	prompt := fmt.Sprintf("Task: %s\nOutcome: %s\nExecution output:\n%s",
		state.Message, outcome, capText(state.ExecutionResult, 2000))
	lesson, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:    gateway.PurposeGeneral,
		Complexity: gateway.ComplexityLow,
		Prompt:     prompt,
		System:     lessonSystem,
		MaxTokens:  100,
	})
	if err != nil {
		log.Printf("pipeline: lesson extraction failed: %v", err)
		return
	}
	lesson = strings.TrimSpace(lesson)
	if lesson == "" {
		return
	}
	if err := n.Memory.AddProjectLesson(ctx, types.ProjectLesson{
		Project: state.ProjectName,
		Outcome: outcome,
		Lesson:  lesson,
	}); err != nil {
		log.Printf("pipeline: failed to record project lesson: %v", err)
	}
}

// followUpSuggestion mines the user's recent task history for a
// repeated follow-up pattern: when the same type has followed the
// current type at least twice within a short window, suggest it.
func (n *Nodes) followUpSuggestion(ctx context.Context, state *State) string {
	const window = 30 * time.Minute

	history, err := n.Memory.RecentTaskTypes(ctx, state.UserID, 30)
	if err != nil || len(history) < 3 {
		return ""
	}
	// history is newest-first; walk oldest-first so "follow-up" means
	// the task submitted after the matching one.
	counts := map[string]int{}
	for i := len(history) - 1; i > 0; i-- {
		older := history[i]
		newer := history[i-1]
		if older.TaskType != state.TaskType {
			continue
		}
		if newer.CreatedAt.Sub(older.CreatedAt) > window {
			continue
		}
		if newer.TaskType != state.TaskType {
			counts[newer.TaskType]++
		}
	}
	for followUp, count := range counts {
		if count >= 2 {
			return fmt.Sprintf("You often follow %s tasks with a %s task - want me to do that next?",
				state.TaskType, followUp)
		}
	}
	return ""
}

func existingNames(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, filepath.Base(p))
		}
	}
	return out
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func contains(list []string, item string) bool {
	for _, x := range list {
		if x == item {
			return true
		}
	}
	return false
}
