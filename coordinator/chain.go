package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pravindurgani/agent-sutra/chat"
	"github.com/pravindurgani/agent-sutra/pipeline"
	"github.com/pravindurgani/agent-sutra/store"
	"github.com/pravindurgani/agent-sutra/types"
)

// ChainDelimiter separates sub-prompts in a chain command.
const ChainDelimiter = "->"

// outputToken in a step is replaced by the previous step's primary
// artifact path.
const outputToken = "{output}"

// ParseChain splits a raw chain command into its steps. A valid chain
// has at least two non-empty steps.
func ParseChain(raw string) ([]string, error) {
	var steps []string
	for _, part := range strings.Split(raw, ChainDelimiter) {
		if s := strings.TrimSpace(part); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) < 2 {
		return nil, fmt.Errorf("a chain needs at least 2 steps separated by %s", ChainDelimiter)
	}
	return steps, nil
}

// SubstituteOutput fills the {output} token with the previous step's
// primary (first) artifact path, or strips it when there is none.
func SubstituteOutput(step string, previousArtifacts []string) string {
	if len(previousArtifacts) == 0 {
		return strings.TrimSpace(strings.ReplaceAll(step, outputToken, ""))
	}
	return strings.ReplaceAll(step, outputToken, previousArtifacts[0])
}

// RunChain executes a strict-AND chain: each step runs the full
// pipeline; any non-pass verdict halts the remainder and no artifacts
// from the failed step are forwarded.
func (c *Coordinator) RunChain(ctx context.Context, userID int64, raw string) error {
	steps, err := ParseChain(raw)
	if err != nil {
		return err
	}

	baseID := uuid.NewString()[:8]
	var previousArtifacts []string

	if c.messenger != nil {
		lines := make([]string, 0, len(steps)+1)
		lines = append(lines, fmt.Sprintf("Starting chain: %d steps", len(steps)))
		for i, s := range steps {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, s))
		}
		_, _ = c.messenger.SendMessage(ctx, userID, strings.Join(lines, "\n"))
	}

	for i, step := range steps {
		stepID := fmt.Sprintf("%s-step%d", baseID, i)
		stepMsg := SubstituteOutput(step, previousArtifacts)
		files := append([]string(nil), previousArtifacts...)

		if err := c.store.CreateTask(ctx, stepID, userID, stepMsg); err != nil {
			return err
		}
		if c.messenger != nil {
			preview := stepMsg
			if len(preview) > 100 {
				preview = preview[:100]
			}
			_, _ = c.messenger.SendMessage(ctx, userID, fmt.Sprintf("Step %d/%d: %s", i+1, len(steps), preview))
		}

		state, runErr := c.runChainStep(ctx, stepID, userID, stepMsg, files)

		now := time.Now()
		if runErr != nil {
			failed := types.StatusFailed
			errText := runErr.Error()
			_ = c.store.UpdateTask(ctx, stepID, store.TaskUpdate{Status: &failed, Error: &errText, CompletedAt: &now})
			c.reportChainHalt(ctx, userID, i, len(steps), stepMsg, SanitizeError(errText))
			return fmt.Errorf("chain halted at step %d/%d: %w", i+1, len(steps), runErr)
		}

		status := types.StatusCompleted
		if state.AuditVerdict != pipeline.VerdictPass {
			status = types.StatusFailed
		}
		result := capString(state.FinalResponse, 5000)
		_ = c.store.UpdateTask(ctx, stepID, store.TaskUpdate{Status: &status, Result: &result, CompletedAt: &now})

		// Strict-AND gate: the chain only continues on a pass verdict.
		if state.AuditVerdict != pipeline.VerdictPass {
			c.reportChainHalt(ctx, userID, i, len(steps), stepMsg, capString(state.AuditFeedback, 300))
			return fmt.Errorf("chain halted at step %d/%d", i+1, len(steps))
		}

		previousArtifacts = state.Artifacts

		if c.messenger != nil {
			chat.SendLong(ctx, c.messenger, userID, fmt.Sprintf("Step %d: %s", i+1, state.FinalResponse), c.cfg.ChatMaxMessageLength)
		}
		c.sendArtifacts(ctx, userID, previousArtifacts)
	}

	if c.messenger != nil {
		_, _ = c.messenger.SendMessage(ctx, userID, fmt.Sprintf("Chain complete - all %d steps passed.", len(steps)))
	}
	return nil
}

func (c *Coordinator) runChainStep(ctx context.Context, stepID string, userID int64, message string, files []string) (*pipeline.State, error) {
	running := types.StatusRunning
	_ = c.store.UpdateTask(ctx, stepID, store.TaskUpdate{Status: &running})

	conversationCtx, err := c.store.BuildConversationContext(ctx, userID, 6)
	if err != nil {
		log.Printf("coordinator: failed to build conversation context: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.LongTimeout)
	defer cancel()

	state := &pipeline.State{
		TaskID:              stepID,
		UserID:              userID,
		Message:             message,
		Files:               files,
		ConversationContext: conversationCtx,
	}
	if err := c.pipe.Run(runCtx, state); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("pipeline timed out after %s", c.cfg.LongTimeout)
		}
		return nil, err
	}
	return state, nil
}

func (c *Coordinator) reportChainHalt(ctx context.Context, userID int64, failedIdx, total int, stepMsg, reason string) {
	if c.messenger == nil {
		return
	}
	preview := stepMsg
	if len(preview) > 100 {
		preview = preview[:100]
	}
	skipped := total - failedIdx - 1
	_, _ = c.messenger.SendMessage(ctx, userID, fmt.Sprintf(
		"Chain halted at step %d/%d.\n\nStep failed: %s\nReason: %s\n\n%d remaining step(s) were NOT executed.\nNo artifacts from this step were forwarded.",
		failedIdx+1, total, preview, reason, skipped))
}

func capString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
