package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseDeclaredArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "chart.png"), "png-bytes")
	writeFile(t, filepath.Join(dir, "empty.txt"), "")

	stdout := "computing...\nARTIFACTS: [\"chart.png\", \"empty.txt\", \"missing.csv\"]\n"
	got := parseDeclaredArtifacts(stdout, dir)

	if len(got) != 1 || got[0] != filepath.Join(dir, "chart.png") {
		t.Errorf("parseDeclaredArtifacts = %v, want only the existing non-empty file", got)
	}
}

func TestParseDeclaredArtifactsAbsentLine(t *testing.T) {
	if got := parseDeclaredArtifacts("no declaration here", t.TempDir()); got != nil {
		t.Errorf("expected nil for stdout without declaration, got %v", got)
	}
}

func TestDiffArtifactsDetectsNewAndModified(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "existing.csv")
	writeFile(t, old, "v1")

	before := snapshotMtimes(dir)

	// New file plus a rewrite of the existing one with a bumped mtime.
	writeFile(t, filepath.Join(dir, "new.txt"), "fresh")
	writeFile(t, old, "v2")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(old, future, future); err != nil {
		t.Fatal(err)
	}

	got := diffArtifacts(dir, "", before)
	if len(got) != 2 {
		t.Fatalf("diffArtifacts = %v, want 2 entries", got)
	}
}

func TestDiffArtifactsFiltersCachesAndBytecode(t *testing.T) {
	dir := t.TempDir()
	before := snapshotMtimes(dir)

	writeFile(t, filepath.Join(dir, "__pycache__", "mod.cpython-312.pyc"), "x")
	writeFile(t, filepath.Join(dir, "venv", "lib", "thing.py"), "x")
	writeFile(t, filepath.Join(dir, "pkg.dist-info", "METADATA"), "x")
	writeFile(t, filepath.Join(dir, "real_output.csv"), "a,b\n1,2\n")

	got := diffArtifacts(dir, "", before)
	if len(got) != 1 || filepath.Base(got[0]) != "real_output.csv" {
		t.Errorf("diffArtifacts = %v, want only real_output.csv", got)
	}
}

func TestNarrowArtifactsAppliesSanityThreshold(t *testing.T) {
	var many []string
	for i := 0; i < 25; i++ {
		many = append(many, filepath.Join("/w", "dep", "module"+string(rune('a'+i))+".py"))
	}
	many = append(many, "/w/report.pdf", "/w/chart.png")

	got := narrowArtifacts(many, 20)
	if len(got) != 2 {
		t.Fatalf("narrowArtifacts = %v, want the two output-extension files", got)
	}

	// Under the threshold the set passes through untouched.
	few := []string{"/w/a.py", "/w/b.py"}
	if got := narrowArtifacts(few, 20); len(got) != 2 {
		t.Errorf("narrowArtifacts below threshold = %v, want unchanged", got)
	}
}

func TestParseImportError(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ModuleNotFoundError: No module named 'pandas'", "pandas"},
		{"ImportError: No module named 'PIL'", "Pillow"},
		{"ModuleNotFoundError: No module named 'cv2'", "opencv-python"},
		{"ModuleNotFoundError: No module named 'yaml'", "pyyaml"},
		{"ModuleNotFoundError: No module named 'bs4'", "beautifulsoup4"},
		{"SyntaxError: invalid syntax", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseImportError(tt.in); got != tt.want {
			t.Errorf("ParseImportError(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractTracebackTakesLastBlock(t *testing.T) {
	stderr := `warning: something
Traceback (most recent call last):
  File "a.py", line 1
FirstError: old
retrying...
Traceback (most recent call last):
  File "a.py", line 9
ValueError: final failure`

	tb := ExtractTraceback(stderr)
	if tb == "" || tb[:9] != "Traceback" {
		t.Fatalf("traceback should start at the marker, got %q", tb)
	}
	if want := "ValueError: final failure"; !strings.Contains(tb, want) {
		t.Errorf("traceback %q should contain %q", tb, want)
	}
	if strings.Contains(tb, "FirstError") {
		t.Errorf("traceback should only cover the last block, got %q", tb)
	}
	if ExtractTraceback("clean stderr") != "" {
		t.Errorf("no marker should yield empty traceback")
	}
}
