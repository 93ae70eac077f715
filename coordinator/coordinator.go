// Package coordinator is the entry point the chat front-end calls per
// operator message. It enforces admission guards, owns every Task
// record's lifecycle, launches pipeline runs in workers, streams
// stage-plus-stdout status back, and delivers results and artifacts.
package coordinator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pravindurgani/agent-sutra/chat"
	"github.com/pravindurgani/agent-sutra/config"
	"github.com/pravindurgani/agent-sutra/pipeline"
	"github.com/pravindurgani/agent-sutra/sandbox"
	"github.com/pravindurgani/agent-sutra/store"
	"github.com/pravindurgani/agent-sutra/types"
)

// Human-readable labels for the status stream.
var stageLabels = map[string]string{
	pipeline.StageClassifying: "Classifying task...",
	pipeline.StagePlanning:    "Creating execution plan...",
	pipeline.StageExecuting:   "Generating and running code...",
	pipeline.StageAuditing:    "Auditing output quality...",
	pipeline.StageDelivering:  "Preparing response...",
}

type runningTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	userID int64
}

// Coordinator wires the pipeline to the chat front-end.
type Coordinator struct {
	cfg       *config.Config
	store     *store.Store
	pipe      *pipeline.Pipeline
	live      *sandbox.LiveOutput
	runner    *sandbox.Runner
	messenger chat.Messenger

	memPercent func() (float64, error)
	pollEvery  time.Duration

	mu           sync.Mutex
	running      map[string]*runningTask
	lastSubmit   map[int64]time.Time
	pendingFiles map[int64][]string
}

// New creates a Coordinator. memPercent may be nil to disable the RAM
// guard (tests).
func New(cfg *config.Config, st *store.Store, pipe *pipeline.Pipeline, runner *sandbox.Runner, messenger chat.Messenger, memPercent func() (float64, error)) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		store:        st,
		pipe:         pipe,
		live:         runner.Live(),
		runner:       runner,
		messenger:    messenger,
		memPercent:   memPercent,
		pollEvery:    3 * time.Second,
		running:      map[string]*runningTask{},
		lastSubmit:   map[int64]time.Time{},
		pendingFiles: map[int64][]string{},
	}
}

// AddPendingFile registers an uploaded file for the user's next task.
func (c *Coordinator) AddPendingFile(userID int64, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingFiles[userID] = append(c.pendingFiles[userID], path)
}

// PendingFiles lists the user's queued uploads.
func (c *Coordinator) PendingFiles(userID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pendingFiles[userID]...)
}

// InFlight summarises running tasks for the status command.
func (c *Coordinator) InFlight() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]string{}
	for id, rt := range c.running {
		select {
		case <-rt.done:
			out[id] = "finished"
		default:
			stage := c.pipe.Stages().Get(id)
			if label, ok := stageLabels[stage]; ok {
				stage = label
			}
			if stage == "" {
				stage = "starting"
			}
			out[id] = stage
		}
	}
	return out
}

// HandleMessage runs the full per-task sequence for one operator
// message. It blocks until the task completes, times out, or is
// cancelled; callers run it off their event path.
func (c *Coordinator) HandleMessage(ctx context.Context, userID int64, message string) (string, error) {
	taskID := uuid.NewString()
	now := time.Now()

	c.mu.Lock()
	if err := c.checkCooldown(userID, now); err != nil {
		c.mu.Unlock()
		return "", err
	}
	if err := c.checkResources(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	// Snapshot the pending files this task consumes. Files uploaded
	// while this task runs belong to the next one.
	consumed := append([]string(nil), c.pendingFiles[userID]...)
	c.mu.Unlock()

	if err := c.store.CreateTask(ctx, taskID, userID, message); err != nil {
		return "", err
	}
	_ = c.store.AddHistory(ctx, userID, "user", message, taskID)

	conversationCtx, err := c.store.BuildConversationContext(ctx, userID, 6)
	if err != nil {
		log.Printf("coordinator: failed to build conversation context: %v", err)
	}

	statusMsgID := ""
	if c.messenger != nil {
		statusMsgID, _ = c.messenger.SendMessage(ctx, userID, fmt.Sprintf("Starting... (task %s)", taskID[:8]))
	}

	state, runErr := c.runPipeline(ctx, taskID, userID, message, consumed, conversationCtx, statusMsgID)

	c.mu.Lock()
	delete(c.running, taskID)
	// Clear only the files this task consumed; keep anything uploaded
	// meanwhile.
	consumedSet := map[string]bool{}
	for _, f := range consumed {
		consumedSet[f] = true
	}
	var remaining []string
	for _, f := range c.pendingFiles[userID] {
		if !consumedSet[f] {
			remaining = append(remaining, f)
		}
	}
	if len(remaining) > 0 {
		c.pendingFiles[userID] = remaining
	} else {
		delete(c.pendingFiles, userID)
	}
	c.mu.Unlock()

	if runErr != nil {
		return "", c.finishFailed(ctx, taskID, userID, runErr)
	}
	return c.finishCompleted(ctx, taskID, userID, message, state, statusMsgID)
}

// runPipeline launches the run in a worker goroutine under the overall
// timeout and streams hash-gated status edits while it runs.
func (c *Coordinator) runPipeline(ctx context.Context, taskID string, userID int64, message string, consumedFiles []string, conversationCtx, statusMsgID string) (*pipeline.State, error) {
	running := types.StatusRunning
	_ = c.store.UpdateTask(ctx, taskID, store.TaskUpdate{Status: &running})

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.LongTimeout)
	defer cancel()

	rt := &runningTask{cancel: cancel, done: make(chan struct{}), userID: userID}
	c.mu.Lock()
	c.running[taskID] = rt
	c.mu.Unlock()

	state := &pipeline.State{
		TaskID:              taskID,
		UserID:              userID,
		Message:             message,
		Files:               consumedFiles,
		ConversationContext: conversationCtx,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(rt.done)
		errCh <- c.pipe.Run(runCtx, state)
	}()

	var lastEditHash uint64
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rt.done:
			err := <-errCh
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("pipeline timed out after %s", c.cfg.LongTimeout)
			}
			if err != nil {
				return nil, err
			}
			return state, nil
		case <-ticker.C:
			c.streamStatus(ctx, taskID, userID, statusMsgID, &lastEditHash)
		}
	}
}

// streamStatus edits the status message only when the combined
// (stage, stdout tail) snapshot actually changed. Hash-gating avoids
// rate-limit churn from identical edits.
func (c *Coordinator) streamStatus(ctx context.Context, taskID string, userID int64, statusMsgID string, lastHash *uint64) {
	if c.messenger == nil || statusMsgID == "" {
		return
	}
	label, changed := c.StatusSnapshot(taskID, lastHash)
	if !changed {
		return
	}
	if err := c.messenger.EditMessage(ctx, userID, statusMsgID, label); err != nil {
		// "Message is not modified" and rate limits are not worth
		// surfacing.
		return
	}
}

// StatusSnapshot builds the current status label for a task and reports
// whether it differs from the last hash, updating the hash in place.
func (c *Coordinator) StatusSnapshot(taskID string, lastHash *uint64) (string, bool) {
	stage := c.pipe.Stages().Get(taskID)
	if stage == "" {
		return "", false
	}
	label, ok := stageLabels[stage]
	if !ok {
		label = stage
	}
	if stage == pipeline.StageExecuting {
		if tail := c.live.Tail(taskID, 3); tail != "" {
			if len(tail) > 200 {
				tail = tail[len(tail)-200:]
			}
			label += "\n\nLatest output:\n" + tail
		}
	}
	label += fmt.Sprintf(" (task %s)", taskID[:8])

	h := fnv.New64a()
	_, _ = h.Write([]byte(label))
	sum := h.Sum64()
	if lastHash != nil {
		if *lastHash == sum {
			return label, false
		}
		*lastHash = sum
	}
	return label, true
}

func (c *Coordinator) finishCompleted(ctx context.Context, taskID string, userID int64, message string, state *pipeline.State, statusMsgID string) (string, error) {
	if c.messenger != nil && statusMsgID != "" {
		_ = c.messenger.EditMessage(ctx, userID, statusMsgID, fmt.Sprintf("Completed. (task %s)", taskID[:8]))
	}

	response := state.FinalResponse
	if response == "" {
		response = "Task completed but no output was generated."
	}
	if c.messenger != nil {
		chat.SendLong(ctx, c.messenger, userID, response, c.cfg.ChatMaxMessageLength)
	}
	_ = c.store.AddHistory(ctx, userID, "assistant", response, taskID)

	c.persistFollowUpContext(ctx, userID, message, state)
	c.sendArtifacts(ctx, userID, state.Artifacts)

	completed := types.StatusCompleted
	now := time.Now()
	taskType := state.TaskType
	plan := state.Plan
	result := state.FinalResponse
	if err := c.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:      &completed,
		TaskType:    &taskType,
		Plan:        &plan,
		Result:      &result,
		CompletedAt: &now,
	}); err != nil {
		log.Printf("coordinator: failed to update task %s: %v", taskID, err)
	}
	return taskID, nil
}

func (c *Coordinator) finishFailed(ctx context.Context, taskID string, userID int64, runErr error) error {
	log.Printf("coordinator: task %s failed: %v", taskID, runErr)
	failed := types.StatusFailed
	errText := runErr.Error()
	now := time.Now()
	_ = c.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:      &failed,
		Error:       &errText,
		CompletedAt: &now,
	})
	if c.messenger != nil {
		_, _ = c.messenger.SendMessage(ctx, userID, "Task failed: "+SanitizeError(errText))
	}
	return fmt.Errorf("task failed: %s", SanitizeError(errText))
}

// persistFollowUpContext stores structured context for follow-up tasks.
func (c *Coordinator) persistFollowUpContext(ctx context.Context, userID int64, message string, state *pipeline.State) {
	_ = c.store.SetContext(ctx, userID, "last_task_type", state.TaskType)
	if len(message) > 500 {
		message = message[:500]
	}
	_ = c.store.SetContext(ctx, userID, "last_task_message", message)
	if state.WorkingDir != "" {
		_ = c.store.SetContext(ctx, userID, "last_working_dir", state.WorkingDir)
	}
	if state.ProjectName != "" {
		_ = c.store.SetContext(ctx, userID, "last_project_name", state.ProjectName)
	}
}

// sendArtifacts delivers files one by one: duplicates skipped, missing,
// empty and oversized files skipped, and a per-send failure never
// blocks the remaining artifacts.
func (c *Coordinator) sendArtifacts(ctx context.Context, userID int64, artifacts []string) {
	if c.messenger == nil {
		return
	}
	seen := map[string]bool{}
	sent := 0
	for _, fpath := range artifacts {
		if seen[fpath] {
			continue
		}
		seen[fpath] = true
		info, err := os.Stat(fpath)
		if err != nil || info.IsDir() {
			log.Printf("coordinator: artifact not found, skipping: %s", fpath)
			continue
		}
		if info.Size() == 0 {
			log.Printf("coordinator: artifact is empty, skipping: %s", fpath)
			continue
		}
		if info.Size() >= c.cfg.MaxFileSizeBytes {
			log.Printf("coordinator: artifact too large (%d bytes), skipping: %s", info.Size(), fpath)
			continue
		}
		if err := c.messenger.SendDocument(ctx, userID, fpath); err != nil {
			log.Printf("coordinator: failed to send artifact %s: %v", fpath, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(artifacts) > 0 {
		log.Printf("coordinator: no artifacts were successfully sent out of %d detected", len(artifacts))
	}
}

// Cancel signals every running task for the user. Completion of the
// underlying work is best-effort; the worker notices the context.
func (c *Coordinator) Cancel(ctx context.Context, userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancelled := 0
	for id, rt := range c.running {
		if rt.userID != userID {
			continue
		}
		select {
		case <-rt.done:
			continue
		default:
		}
		rt.cancel()
		status := types.StatusCancelled
		_ = c.store.UpdateTask(ctx, id, store.TaskUpdate{Status: &status})
		c.pipe.Stages().Clear(id)
		cancelled++
	}
	return cancelled
}

// Exec routes a single shell command through the sandbox safety layer
// with the operator's home as working directory.
func (c *Coordinator) Exec(ctx context.Context, command string) sandbox.ExecutionResult {
	return c.runner.RunShell(ctx, "exec-"+uuid.NewString()[:8], command, c.cfg.HostHome, 60*time.Second, "", nil)
}

// Debug fetches the debug sidecar for a task-id prefix.
func (c *Coordinator) Debug(taskIDPrefix string) (string, error) {
	return pipeline.ReadSidecar(c.cfg.OutputsDir, taskIDPrefix)
}

// History lists the user's recent tasks with status and duration.
func (c *Coordinator) History(ctx context.Context, userID int64, limit int) ([]string, error) {
	tasks, err := c.store.ListTasks(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		duration := ""
		if !t.CompletedAt.IsZero() && !t.CreatedAt.IsZero() {
			duration = fmt.Sprintf(" (%s)", t.CompletedAt.Sub(t.CreatedAt).Round(time.Second))
		}
		msg := t.Message
		if len(msg) > 60 {
			msg = msg[:60]
		}
		lines = append(lines, fmt.Sprintf("[%s] %s%s", t.Status, msg, duration))
	}
	return lines, nil
}

// ClearConversation wipes a user's conversation memory.
func (c *Coordinator) ClearConversation(ctx context.Context, userID int64) error {
	return c.store.ClearConversation(ctx, userID)
}
