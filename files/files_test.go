package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveUploadUniqueNames(t *testing.T) {
	dir := t.TempDir()
	a, err := SaveUpload(dir, []byte("one"), "report.xlsx", 1024)
	if err != nil {
		t.Fatal(err)
	}
	b, err := SaveUpload(dir, []byte("two"), "report.xlsx", 1024)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("two uploads of the same name collided: %s", a)
	}
	for _, p := range []string{a, b} {
		base := filepath.Base(p)
		if !strings.HasPrefix(base, "report_") || !strings.HasSuffix(base, ".xlsx") {
			t.Errorf("unexpected name shape: %s", base)
		}
	}
}

func TestSaveUploadStripsTraversal(t *testing.T) {
	dir := t.TempDir()
	saved, err := SaveUpload(dir, []byte("x"), "../../etc/evil.sh", 1024)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(saved) != dir {
		t.Errorf("upload escaped the uploads directory: %s", saved)
	}
}

func TestSaveUploadRejectsOversized(t *testing.T) {
	if _, err := SaveUpload(t.TempDir(), make([]byte, 100), "big.bin", 10); err == nil {
		t.Error("oversized upload must be rejected")
	}
}

func TestExtractMetadataCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	content := "name,age,city\nada,36,london\ngrace,45,nyc\nalan,41,cambridge\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	meta := ExtractMetadata(path)
	if len(meta.Columns) != 3 || meta.Columns[0] != "name" {
		t.Errorf("columns = %v", meta.Columns)
	}
	if meta.RowCount != 3 {
		t.Errorf("row count = %d, want 3 data rows", meta.RowCount)
	}
	if len(meta.SampleRows) != 3 {
		t.Errorf("samples = %v", meta.SampleRows)
	}
}

func TestFormatMetadataForPromptWarnsAgainstLoading(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	_ = os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644)

	out := FormatMetadataForPrompt(path)
	if !strings.Contains(out, "DO NOT load this file into context") {
		t.Errorf("prompt block missing the local-processing instruction: %q", out)
	}
}

func TestContentTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	_ = os.WriteFile(path, []byte(strings.Repeat("z", 500)), 0o644)

	out := Content(path, 100)
	if !strings.Contains(out, "truncated") {
		t.Errorf("truncation note missing")
	}
	if len(out) > 150 {
		t.Errorf("content not capped: %d chars", len(out))
	}
}

func TestContentBinaryPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	_ = os.WriteFile(path, []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}, 0o644)

	out := Content(path, 100)
	if !strings.Contains(out, "Binary file") {
		t.Errorf("binary placeholder missing: %q", out)
	}
}
