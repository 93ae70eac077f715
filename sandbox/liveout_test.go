package sandbox

import (
	"fmt"
	"strings"
	"testing"
)

func TestLiveBufferKeepsLastCapLines(t *testing.T) {
	live := NewLiveOutput(5)
	buf := live.open("task-1")

	for i := 0; i < 23; i++ {
		buf.push(fmt.Sprintf("line %d", i))
	}

	tail := live.Tail("task-1", 5)
	want := "line 18\nline 19\nline 20\nline 21\nline 22"
	if tail != want {
		t.Errorf("tail = %q, want %q", tail, want)
	}
}

func TestLiveBufferTailSmallerThanCap(t *testing.T) {
	live := NewLiveOutput(50)
	buf := live.open("task-2")
	buf.push("a")
	buf.push("b")
	buf.push("c")

	if got := live.Tail("task-2", 2); got != "b\nc" {
		t.Errorf("Tail(2) = %q, want %q", got, "b\nc")
	}
	if got := live.Tail("task-2", 10); got != "a\nb\nc" {
		t.Errorf("Tail(10) = %q, want all lines", got)
	}
}

func TestLiveBufferRemovedOnClose(t *testing.T) {
	live := NewLiveOutput(5)
	buf := live.open("task-3")
	buf.push("still here")
	if live.Tail("task-3", 1) == "" {
		t.Fatal("expected tail before close")
	}
	live.close("task-3")
	if got := live.Tail("task-3", 1); got != "" {
		t.Errorf("Tail after close = %q, want empty", got)
	}
}

func TestLiveBufferConcurrentReaders(t *testing.T) {
	live := NewLiveOutput(10)
	buf := live.open("task-4")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			buf.push(strings.Repeat("x", 10))
		}
	}()
	for i := 0; i < 100; i++ {
		_ = live.Tail("task-4", 3)
	}
	<-done
}
