package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const sidecarMessageCap = 300

// Sidecar is the per-task debug record written after every delivery and
// read back by the debug command.
type Sidecar struct {
	TaskID          string        `json:"task_id"`
	Message         string        `json:"message"`
	TaskType        string        `json:"task_type"`
	Stages          []StageTiming `json:"stages"`
	TotalDurationMs int64         `json:"total_duration_ms"`
	Verdict         string        `json:"verdict"`
	RetryCount      int           `json:"retry_count"`
}

// SanitizeHomePaths strips the operator's absolute home prefix from a
// string destined for a debug record.
func SanitizeHomePaths(text, hostHome string) string {
	if hostHome == "" {
		return text
	}
	return strings.ReplaceAll(text, strings.TrimRight(hostHome, "/"), "~")
}

func (n *Nodes) writeSidecar(state *State, verdict string) error {
	var total int64
	for _, t := range state.StageTimings {
		total += t.DurationMs
	}
	message := SanitizeHomePaths(state.Message, n.Opts.HostHome)
	if len(message) > sidecarMessageCap {
		message = message[:sidecarMessageCap]
	}
	sidecar := Sidecar{
		TaskID:          state.TaskID,
		Message:         message,
		TaskType:        state.TaskType,
		Stages:          state.StageTimings,
		TotalDurationMs: total,
		Verdict:         verdict,
		RetryCount:      state.RetryCount,
	}
	raw, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	path := filepath.Join(n.Opts.OutputsDir, state.TaskID+".debug.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// ReadSidecar finds a sidecar by task-id prefix (at least 8 chars) in
// the outputs directory.
func ReadSidecar(outputsDir, taskIDPrefix string) (string, error) {
	if len(taskIDPrefix) < 8 {
		return "", fmt.Errorf("task id prefix must be at least 8 characters")
	}
	matches, err := filepath.Glob(filepath.Join(outputsDir, taskIDPrefix+"*.debug.json"))
	if err != nil {
		return "", fmt.Errorf("failed to search sidecars: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no debug data found for %q", taskIDPrefix)
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		return "", fmt.Errorf("failed to read sidecar: %w", err)
	}
	return string(raw), nil
}
