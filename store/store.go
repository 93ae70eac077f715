// Package store is the primary sqlite persistence layer: task records,
// conversation history and context, the API spend ledger, and project
// memory. WAL mode is enabled so pipeline workers can write
// concurrently with the status loop's reads.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pravindurgani/agent-sutra/types"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) { s.enableWAL = enabled }
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ── Tasks ────────────────────────────────────────────────────────────

func (s *Store) CreateTask(ctx context.Context, id string, userID int64, message string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("task id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tasks (id, user_id, message, created_at) VALUES (?, ?, ?, ?)",
		id, userID, message, now)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	log.Printf("store: created task %s for user %d", id, userID)
	return nil
}

// TaskUpdate names the mutable task fields. Nil pointers are left
// untouched.
type TaskUpdate struct {
	TaskType    *string
	Status      *types.TaskStatus
	Plan        *string
	Result      *string
	Error       *string
	TokenUsage  *string
	CompletedAt *time.Time
}

func (s *Store) UpdateTask(ctx context.Context, id string, update TaskUpdate) error {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)
	if update.TaskType != nil {
		sets = append(sets, "task_type = ?")
		args = append(args, *update.TaskType)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Plan != nil {
		sets = append(sets, "plan = ?")
		args = append(args, *update.Plan)
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *update.Result)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.TokenUsage != nil {
		sets = append(sets, "token_usage = ?")
		args = append(args, *update.TokenUsage)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UTC().Format(time.RFC3339Nano))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (types.Task, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, message, task_type, status, plan, result, error, token_usage, created_at, completed_at FROM tasks WHERE id = ?", id)
	return scanTask(row)
}

func (s *Store) ListTasks(ctx context.Context, userID int64, limit int) ([]types.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, message, task_type, status, plan, result, error, token_usage, created_at, completed_at "+
			"FROM tasks WHERE user_id = ? ORDER BY created_at DESC LIMIT ?", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// TaskTypeAt is one point in a user's task-type timeline.
type TaskTypeAt struct {
	TaskType  string
	CreatedAt time.Time
}

// RecentTaskTypes returns (task_type, created_at) pairs for a user's
// most recent tasks, newest first. Feeds the deliverer's follow-up
// suggestion mining.
func (s *Store) RecentTaskTypes(ctx context.Context, userID int64, limit int) ([]TaskTypeAt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT task_type, created_at FROM tasks WHERE user_id = ? AND task_type != '' ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent task types: %w", err)
	}
	defer rows.Close()

	var out []TaskTypeAt
	for rows.Next() {
		var taskType, created string
		if err := rows.Scan(&taskType, &created); err != nil {
			return nil, err
		}
		ts, _ := time.Parse(time.RFC3339Nano, created)
		out = append(out, TaskTypeAt{TaskType: taskType, CreatedAt: ts})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (types.Task, error) {
	var t types.Task
	var status, created, completed string
	err := row.Scan(&t.ID, &t.UserID, &t.Message, &t.TaskType, &status, &t.Plan, &t.Result, &t.Error, &t.TokenUsage, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, ErrNotFound
	}
	if err != nil {
		return types.Task{}, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = types.TaskStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if completed != "" {
		t.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
	}
	return t, nil
}

// RecoverStaleTasks rewrites tasks left in running/pending at process
// start to crashed, so history reflects reality after a hard kill.
func (s *Store) RecoverStaleTasks(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = 'crashed', error = 'Process terminated before completion' "+
			"WHERE status IN ('running', 'pending')")
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("store: recovered %d stale task(s) from previous crash", n)
	}
	return n, nil
}

// ── Conversation history & context ───────────────────────────────────

const historyContentCap = 5000

func (s *Store) AddHistory(ctx context.Context, userID int64, role, content, taskID string) error {
	if len(content) > historyContentCap {
		content = content[:historyContentCap]
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversation_history (user_id, role, content, task_id, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, role, content, taskID, now)
	if err != nil {
		return fmt.Errorf("failed to add history: %w", err)
	}
	return nil
}

func (s *Store) RecentHistory(ctx context.Context, userID int64, limit int) ([]types.HistoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, role, content, COALESCE(task_id, ''), created_at FROM conversation_history "+
			"WHERE user_id = ? ORDER BY id DESC LIMIT ?", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []types.HistoryRecord
	for rows.Next() {
		var rec types.HistoryRecord
		var created string
		if err := rows.Scan(&rec.UserID, &rec.Role, &rec.Content, &rec.TaskID, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first for prompt building.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// BuildConversationContext formats recent exchanges for injection into
// planner prompts.
func (s *Store) BuildConversationContext(ctx context.Context, userID int64, limit int) (string, error) {
	history, err := s.RecentHistory(ctx, userID, limit)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", nil
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		label := "Agent"
		if msg.Role == "user" {
			label = "User"
		}
		content := msg.Content
		if len(content) > 500 {
			content = content[:500]
		}
		lines = append(lines, label+": "+content)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Store) SetContext(ctx context.Context, userID int64, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversation_context (user_id, key, value, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		userID, key, value, now)
	if err != nil {
		return fmt.Errorf("failed to set context: %w", err)
	}
	return nil
}

func (s *Store) AllContext(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM conversation_context WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query context: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) ClearConversation(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversation_context WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear context: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversation_history WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// ── API usage ledger ─────────────────────────────────────────────────

func (s *Store) RecordUsage(ctx context.Context, rec types.UsageRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO api_usage (model, input_tokens, output_tokens, thinking_tokens, timestamp) VALUES (?, ?, ?, ?, ?)",
		rec.Model, rec.InputTokens, rec.OutputTokens, rec.ThinkingTokens, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ModelUsage aggregates ledger rows per model.
type ModelUsage struct {
	Model          string
	Calls          int
	InputTokens    int64
	OutputTokens   int64
	ThinkingTokens int64
}

// UsageSince aggregates per-model usage after a numeric epoch cutoff.
// Pass 0 for the lifetime totals.
func (s *Store) UsageSince(ctx context.Context, cutoff float64) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT model, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(thinking_tokens) "+
			"FROM api_usage WHERE timestamp > ? GROUP BY model", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Calls, &u.InputTokens, &u.OutputTokens, &u.ThinkingTokens); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ── Project memory ───────────────────────────────────────────────────

const lessonCap = 300

func (s *Store) AddProjectLesson(ctx context.Context, lesson types.ProjectLesson) error {
	text := lesson.Lesson
	if len(text) > lessonCap {
		text = text[:lessonCap]
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO project_memory (project, outcome, lesson, created_at) VALUES (?, ?, ?, ?)",
		lesson.Project, lesson.Outcome, text, now)
	if err != nil {
		return fmt.Errorf("failed to add project lesson: %w", err)
	}
	return nil
}

func (s *Store) ProjectLessons(ctx context.Context, project string, limit int) ([]types.ProjectLesson, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT project, outcome, lesson, created_at FROM project_memory WHERE project = ? ORDER BY id DESC LIMIT ?",
		project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query project lessons: %w", err)
	}
	defer rows.Close()

	var out []types.ProjectLesson
	for rows.Next() {
		var l types.ProjectLesson
		var created string
		if err := rows.Scan(&l.Project, &l.Outcome, &l.Lesson, &created); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ── Retention ────────────────────────────────────────────────────────

// PruneOldData removes conversation history and usage records past their
// retention windows. The usage cutoff is a numeric epoch, matching the
// stored column type, so a daily run never deletes same-day records.
func (s *Store) PruneOldData(ctx context.Context, historyDays, usageDays int) error {
	historyCutoff := time.Now().UTC().AddDate(0, 0, -historyDays).Format(time.RFC3339Nano)
	usageCutoff := float64(time.Now().Add(-time.Duration(usageDays)*24*time.Hour).UnixNano()) / float64(time.Second)

	res, err := s.db.ExecContext(ctx, "DELETE FROM conversation_history WHERE created_at < ?", historyCutoff)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	historyDeleted, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM api_usage WHERE timestamp < ?", usageCutoff)
	if err != nil {
		return fmt.Errorf("failed to prune usage: %w", err)
	}
	usageDeleted, _ := res.RowsAffected()

	if historyDeleted > 0 || usageDeleted > 0 {
		log.Printf("store: pruned %d history records (>%dd), %d usage records (>%dd)",
			historyDeleted, historyDays, usageDeleted, usageDays)
	}
	return nil
}

// CleanupWorkspaceFiles removes output and upload files older than
// maxAge.
func CleanupWorkspaceFiles(dirs []string, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if os.Remove(filepath.Join(dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		log.Printf("store: workspace cleanup removed %d old files", removed)
	}
	return removed
}
