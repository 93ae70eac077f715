// Package scheduler runs recurring tasks through the pipeline entry
// point. Jobs persist in their own sqlite database, separate from the
// primary store, to avoid lock contention with task writes.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	robcron "github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

// Job is one persisted interval job.
type Job struct {
	ID       string
	UserID   int64
	Message  string
	Interval time.Duration
	NextRun  time.Time
}

// RunFunc executes one scheduled task. Implementations go through the
// coordinator's pipeline entry point.
type RunFunc func(ctx context.Context, userID int64, message string)

// Scheduler manages interval jobs backed by robfig/cron.
type Scheduler struct {
	mu      sync.Mutex
	db      *sql.DB
	cron    *robcron.Cron
	entries map[string]robcron.EntryID
	runFunc RunFunc

	memPercent   func() (float64, error)
	ramThreshold float64
}

// New opens (or creates) the job store at dbPath.
func New(dbPath string, runFunc RunFunc, memPercent func() (float64, error), ramThreshold float64) (*Scheduler, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scheduler directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		user_id          INTEGER NOT NULL,
		message          TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		created_at       TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}

	return &Scheduler{
		db:           db,
		cron:         robcron.New(),
		entries:      map[string]robcron.EntryID{},
		runFunc:      runFunc,
		memPercent:   memPercent,
		ramThreshold: ramThreshold,
	}, nil
}

// Start loads persisted jobs and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.loadAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, job := range jobs {
		if err := s.scheduleLocked(ctx, job); err != nil {
			log.Printf("scheduler: failed to schedule persisted job %s: %v", job.ID, err)
		}
	}
	s.mu.Unlock()
	s.cron.Start()
	log.Printf("scheduler: started (%d persisted jobs loaded)", len(jobs))
	return nil
}

// Stop halts firing and closes the job store.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	_ = s.db.Close()
	log.Printf("scheduler: stopped")
}

// Add persists and schedules a new interval job, returning its id.
func (s *Scheduler) Add(ctx context.Context, userID int64, message string, interval time.Duration) (string, error) {
	if interval < time.Minute {
		return "", fmt.Errorf("interval must be at least 1 minute")
	}
	if interval > 30*24*time.Hour {
		return "", fmt.Errorf("interval must be at most 30 days")
	}
	job := Job{
		ID:       uuid.NewString(),
		UserID:   userID,
		Message:  message,
		Interval: interval,
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO jobs (id, user_id, message, interval_seconds, created_at) VALUES (?, ?, ?, ?, ?)",
		job.ID, job.UserID, job.Message, int(job.Interval.Seconds()), now); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scheduleLocked(ctx, job); err != nil {
		return "", err
	}
	log.Printf("scheduler: added interval job %s: every %s", job.ID[:8], interval)
	return job.ID, nil
}

func (s *Scheduler) scheduleLocked(ctx context.Context, job Job) error {
	spec := fmt.Sprintf("@every %s", job.Interval)
	entryID, err := s.cron.AddFunc(spec, func() {
		s.execute(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entries[job.ID] = entryID
	return nil
}

// execute fires one job, with the same RAM guard interactive tasks get.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	if s.memPercent != nil {
		if used, err := s.memPercent(); err == nil && used >= s.ramThreshold {
			log.Printf("scheduler: skipping job %s: RAM at %.0f%% (threshold: %.0f%%)",
				job.ID[:8], used, s.ramThreshold)
			return
		}
	}
	log.Printf("scheduler: firing job %s: %.60s", job.ID[:8], job.Message)
	s.runFunc(ctx, job.UserID, job.Message)
}

// Remove deletes a job by id prefix. The prefix must match exactly one
// job.
func (s *Scheduler) Remove(ctx context.Context, idPrefix string) error {
	if idPrefix == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []string
	for id := range s.entries {
		if strings.HasPrefix(id, idPrefix) {
			matches = append(matches, id)
		}
	}
	if len(matches) == 0 {
		return fmt.Errorf("no job found matching %q", idPrefix)
	}
	if len(matches) > 1 {
		return fmt.Errorf("job id %q is ambiguous (%d matches)", idPrefix, len(matches))
	}

	id := matches[0]
	s.cron.Remove(s.entries[id])
	delete(s.entries, id)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	log.Printf("scheduler: removed job %s", id[:8])
	return nil
}

// List returns the scheduled jobs sorted by id, with next-run times.
func (s *Scheduler) List(ctx context.Context) ([]Job, error) {
	jobs, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for i := range jobs {
		if entryID, ok := s.entries[jobs[i].ID]; ok {
			entry := s.cron.Entry(entryID)
			if !entry.Next.IsZero() {
				jobs[i].NextRun = entry.Next
			}
		}
	}
	s.mu.Unlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *Scheduler) loadAll(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, message, interval_seconds FROM jobs")
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var job Job
		var seconds int64
		if err := rows.Scan(&job.ID, &job.UserID, &job.Message, &seconds); err != nil {
			return nil, err
		}
		job.Interval = time.Duration(seconds) * time.Second
		out = append(out, job)
	}
	return out, rows.Err()
}
