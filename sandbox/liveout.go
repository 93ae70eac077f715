package sandbox

import (
	"strings"
	"sync"
)

// liveBuffer is a bounded ring of the most recent stdout lines for one
// task. Single writer (the executor's reader goroutine), many readers
// (the status poll loop).
type liveBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newLiveBuffer(capLines int) *liveBuffer {
	if capLines <= 0 {
		capLines = 50
	}
	return &liveBuffer{cap: capLines}
}

func (b *liveBuffer) push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.cap {
		b.lines = b.lines[len(b.lines)-b.cap:]
	}
}

func (b *liveBuffer) tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// LiveOutput tracks per-task live buffers. Entries exist only while the
// task's execute stage is running.
type LiveOutput struct {
	mu      sync.Mutex
	buffers map[string]*liveBuffer
	lines   int
}

// NewLiveOutput creates the process-wide live output registry. capLines
// bounds each task's ring.
func NewLiveOutput(capLines int) *LiveOutput {
	return &LiveOutput{buffers: map[string]*liveBuffer{}, lines: capLines}
}

func (l *LiveOutput) open(taskID string) *liveBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := newLiveBuffer(l.lines)
	l.buffers[taskID] = buf
	return buf
}

func (l *LiveOutput) close(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buffers, taskID)
}

// Tail returns the last n captured lines for a task joined by newlines,
// or "" when the task has no live buffer.
func (l *LiveOutput) Tail(taskID string, n int) string {
	l.mu.Lock()
	buf, ok := l.buffers[taskID]
	l.mu.Unlock()
	if !ok {
		return ""
	}
	return strings.Join(buf.tail(n), "\n")
}
