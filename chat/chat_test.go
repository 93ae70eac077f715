package chat

import (
	"strings"
	"testing"
)

func TestChunkShortTextPassesThrough(t *testing.T) {
	chunks := Chunk("hello\nworld", 100)
	if len(chunks) != 1 || chunks[0] != "hello\nworld" {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestChunkSplitsAtLineBoundaries(t *testing.T) {
	text := strings.Repeat("line one\n", 4) + "tail"
	chunks := Chunk(text, 20)

	for i, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk %d is %d chars, over the limit: %q", i, len(c), c)
		}
		if strings.HasPrefix(c, "ne ") {
			t.Errorf("chunk %d starts mid-word, line boundary not honoured: %q", i, c)
		}
	}
	if got := strings.ReplaceAll(strings.Join(chunks, "\n"), "\n", ""); got != strings.ReplaceAll(text, "\n", "") {
		t.Errorf("content lost across chunks")
	}
}

func TestChunkHardSplitsOversizedLine(t *testing.T) {
	long := strings.Repeat("x", 95)
	chunks := Chunk(long, 30)
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4 (30+30+30+5)", len(chunks))
	}
	for i, c := range chunks[:3] {
		if len(c) != 30 {
			t.Errorf("chunk %d length = %d, want 30", i, len(c))
		}
	}
	if chunks[3] != strings.Repeat("x", 5) {
		t.Errorf("tail chunk = %q", chunks[3])
	}
}

func TestChunkMixedContent(t *testing.T) {
	text := "short\n" + strings.Repeat("y", 50) + "\nshort again"
	chunks := Chunk(text, 20)
	total := 0
	for _, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk over limit: %q", c)
		}
		total += len(strings.ReplaceAll(c, "\n", ""))
	}
	want := len(strings.ReplaceAll(text, "\n", ""))
	if total != want {
		t.Errorf("character count = %d, want %d", total, want)
	}
}
