package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobsPersistAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scheduler.db")
	ctx := context.Background()

	s, err := New(dbPath, func(context.Context, int64, string) {}, nil, 90)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	id, err := s.Add(ctx, 1, "run the scraper", 6*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.Stop()

	// A fresh instance over the same file sees the job again.
	s2, err := New(dbPath, func(context.Context, int64, string) {}, nil, 90)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Stop()
	if err := s2.Start(ctx); err != nil {
		t.Fatal(err)
	}

	jobs, err := s2.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("jobs after reopen = %+v", jobs)
	}
	if jobs[0].Interval != 6*time.Hour || jobs[0].Message != "run the scraper" {
		t.Errorf("job fields lost: %+v", jobs[0])
	}
	if jobs[0].NextRun.IsZero() {
		t.Errorf("rescheduled job should have a next-run time")
	}
}

func TestRemoveByPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "s.db"), func(context.Context, int64, string) {}, nil, 90)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	_ = s.Start(ctx)

	id, err := s.Add(ctx, 1, "task", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, id[:8]); err != nil {
		t.Fatal(err)
	}
	jobs, _ := s.List(ctx)
	if len(jobs) != 0 {
		t.Errorf("job not removed: %+v", jobs)
	}
	if err := s.Remove(ctx, "deadbeef"); err == nil {
		t.Error("removing a missing prefix must fail")
	}
}

func TestIntervalBounds(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "s.db"), func(context.Context, int64, string) {}, nil, 90)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if _, err := s.Add(ctx, 1, "too fast", 30*time.Second); err == nil {
		t.Error("sub-minute interval must be rejected")
	}
	if _, err := s.Add(ctx, 1, "too slow", 31*24*time.Hour); err == nil {
		t.Error("interval over 30 days must be rejected")
	}
}

func TestRAMGuardSkipsScheduledRun(t *testing.T) {
	ctx := context.Background()
	var runs atomic.Int32
	s, err := New(filepath.Join(t.TempDir(), "s.db"),
		func(context.Context, int64, string) { runs.Add(1) },
		func() (float64, error) { return 95, nil }, 90)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.execute(ctx, Job{ID: "aaaaaaaa-0000", UserID: 1, Message: "m"})
	if runs.Load() != 0 {
		t.Errorf("run fired despite RAM above threshold")
	}
}
