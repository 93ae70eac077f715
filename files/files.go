// Package files handles uploads and file context extraction for prompts.
package files

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// SaveUpload writes uploaded bytes into uploadsDir under a unique name
// "<stem>_<rand8><ext>". Path components in the client-supplied filename
// are stripped to prevent traversal.
func SaveUpload(uploadsDir string, data []byte, filename string, maxBytes int64) (string, error) {
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("file too large: %s (max %s)", humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(maxBytes)))
	}

	safeName := filepath.Base(filename)
	if safeName == "" || safeName == "." || strings.HasPrefix(safeName, ".") {
		safeName = "upload" + safeName
	}
	ext := filepath.Ext(safeName)
	stem := strings.TrimSuffix(safeName, ext)
	unique := fmt.Sprintf("%s_%s%s", stem, strings.ReplaceAll(uuid.NewString(), "-", "")[:8], ext)
	dest := filepath.Join(uploadsDir, unique)

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	log.Printf("files: saved upload %s (%s)", unique, humanize.Bytes(uint64(len(data))))
	return dest, nil
}

// Content reads a file as text, truncated to maxChars with a note.
// Binary or unreadable files yield a placeholder instead of garbage.
func Content(path string, maxChars int) string {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("[Unreadable file: %s]", filepath.Base(path))
	}
	defer f.Close()

	limit := int64(maxChars) + 1
	raw, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return fmt.Sprintf("[Unreadable file: %s]", filepath.Base(path))
	}
	if !isText(raw) {
		info, _ := os.Stat(path)
		size := int64(0)
		if info != nil {
			size = info.Size()
		}
		return fmt.Sprintf("[Binary file: %s, %s]", filepath.Base(path), humanize.Bytes(uint64(size)))
	}
	text := string(raw)
	if len(text) > maxChars {
		return text[:maxChars] + "\n... (truncated)"
	}
	return text
}

func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return true
}

// Metadata describes a data file without loading it fully.
type Metadata struct {
	Name       string
	SizeBytes  int64
	SizeHuman  string
	Type       string
	Columns    []string
	RowCount   int
	SampleRows [][]string
}

// DataExtensions are the formats the planner treats as datasets.
var DataExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".xlsx": true, ".parquet": true, ".json": true,
}

// ExtractMetadata reads headers, row counts and a small sample from a
// data file. Formats without a cheap reader report size only.
func ExtractMetadata(path string) Metadata {
	info, err := os.Stat(path)
	meta := Metadata{
		Name: filepath.Base(path),
		Type: strings.TrimPrefix(filepath.Ext(path), "."),
	}
	if err != nil {
		return meta
	}
	meta.SizeBytes = info.Size()
	meta.SizeHuman = humanize.Bytes(uint64(info.Size()))

	switch filepath.Ext(path) {
	case ".csv", ".tsv":
		sep := ','
		if filepath.Ext(path) == ".tsv" {
			sep = '\t'
		}
		f, err := os.Open(path)
		if err != nil {
			return meta
		}
		defer f.Close()
		reader := csv.NewReader(f)
		reader.Comma = sep
		reader.FieldsPerRecord = -1
		header, err := reader.Read()
		if err != nil {
			return meta
		}
		meta.Columns = header
		for {
			row, err := reader.Read()
			if err != nil {
				break
			}
			if meta.RowCount < 5 {
				meta.SampleRows = append(meta.SampleRows, row)
			}
			meta.RowCount++
		}

	case ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return meta
		}
		var asList []map[string]any
		if err := json.Unmarshal(raw, &asList); err == nil && len(asList) > 0 {
			for k := range asList[0] {
				meta.Columns = append(meta.Columns, k)
			}
			meta.RowCount = len(asList)
			return meta
		}
		var asMap map[string]any
		if err := json.Unmarshal(raw, &asMap); err == nil {
			for k := range asMap {
				meta.Columns = append(meta.Columns, k)
			}
		}
	}
	return meta
}

// FormatMetadataForPrompt renders metadata as a prompt block that tells
// the model to process the file locally rather than load it.
func FormatMetadataForPrompt(path string) string {
	meta := ExtractMetadata(path)
	head := fmt.Sprintf("--- File: %s (%s", meta.Name, meta.SizeHuman)
	if meta.RowCount > 0 {
		head += fmt.Sprintf(", ~%d data rows", meta.RowCount)
	}
	head += ") ---"

	parts := []string{head}
	if len(meta.Columns) > 0 {
		parts = append(parts, fmt.Sprintf("Columns: %v", meta.Columns))
	}
	if len(meta.SampleRows) > 0 {
		parts = append(parts, fmt.Sprintf("Sample (first %d rows): %v", len(meta.SampleRows), meta.SampleRows))
	}
	parts = append(parts, "DO NOT load this file into context. Write a script to process it locally.")
	return strings.Join(parts, "\n")
}
