// Package types holds the shared records that cross package boundaries.
package types

import "time"

// TaskStatus is the lifecycle state of a task record. It only ever
// advances; a task found running at process start is rewritten to crashed.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCrashed   TaskStatus = "crashed"
	StatusCancelled TaskStatus = "cancelled"
)

// Task is the persistent record owned by the coordinator.
type Task struct {
	ID          string
	UserID      int64
	Message     string
	TaskType    string
	Status      TaskStatus
	Plan        string
	Result      string
	Error       string
	TokenUsage  string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// UsageRecord is one row of the append-only API spend ledger. The
// timestamp is a numeric epoch, never a string; the pruning and budget
// cutoffs compare against the same numeric type.
type UsageRecord struct {
	Model          string
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
	Timestamp      float64
}

// HistoryRecord is one conversation turn for a user.
type HistoryRecord struct {
	UserID    int64
	Role      string
	Content   string
	TaskID    string
	CreatedAt time.Time
}

// ProjectLesson is a one-line lesson learned from running a registered
// project, fed back into later plans for the same project.
type ProjectLesson struct {
	Project   string
	Outcome   string // "success" | "failure"
	Lesson    string
	CreatedAt time.Time
}
