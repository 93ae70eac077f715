package sandbox

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Directories pruned entirely during artifact walks.
var prunedDirs = map[string]bool{
	"__pycache__":   true,
	".git":          true,
	"node_modules":  true,
	"venv":          true,
	".venv":         true,
	"site-packages": true,
	".pip-cache":    true,
	".cache":        true,
}

// Extensions considered genuine outputs when narrowing an oversized
// artifact set.
var outputExtensions = map[string]bool{
	".html": true, ".pdf": true, ".csv": true, ".xlsx": true, ".xls": true,
	".json": true, ".xml": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".txt": true, ".md": true, ".zip": true,
	".tar": true, ".gz": true, ".parquet": true,
}

func isArtifactFile(path string, info fs.FileInfo) bool {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, ".pyo") {
		return false
	}
	if name == ".DS_Store" {
		return false
	}
	if strings.Contains(path, ".dist-info") || strings.Contains(path, ".egg-info") {
		return false
	}
	if strings.HasPrefix(name, ".tmp") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	if strings.HasPrefix(name, ".agentsutra_") {
		return false
	}
	if info != nil && info.Size() == 0 {
		return false
	}
	return true
}

// snapshotMtimes records path -> mtime for every file under dir, so the
// post-execution diff catches both new and overwritten files. Walks with
// directory pruning rather than globbing the whole tree.
func snapshotMtimes(dir string) map[string]time.Time {
	out := map[string]time.Time{}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if prunedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err == nil {
			out[path] = info.ModTime()
		}
		return nil
	})
	return out
}

// diffArtifacts returns files under dir whose mtime is new or increased
// relative to the snapshot, excluding the generated script itself and
// anything the artifact filter rejects.
func diffArtifacts(dir, scriptPath string, before map[string]time.Time) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if prunedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if path == scriptPath {
			return nil
		}
		info, err := d.Info()
		if err != nil || !isArtifactFile(path, info) {
			return nil
		}
		prev, seen := before[path]
		if !seen || info.ModTime().After(prev) {
			out = append(out, path)
		}
		return nil
	})
	return out
}

// parseDeclaredArtifacts looks for a single stdout line of the form
// "ARTIFACTS: [...]" (the planner instructs generated code to emit one)
// and resolves the names against the working directory, keeping only
// files that exist and are non-empty.
func parseDeclaredArtifacts(stdout, workingDir string) []string {
	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "ARTIFACTS:") {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(trimmed, "ARTIFACTS:"))
		var parsed []string
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			names = parsed
		}
	}
	var out []string
	for _, name := range names {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, name)
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		out = append(out, path)
	}
	return out
}

// narrowArtifacts applies the sanity threshold: a set larger than limit
// is almost certainly a dependency-tree leak, so keep only known output
// extensions (when any survive).
func narrowArtifacts(artifacts []string, limit int) []string {
	if limit <= 0 || len(artifacts) <= limit {
		return artifacts
	}
	filtered := make([]string, 0, limit)
	for _, a := range artifacts {
		if outputExtensions[strings.ToLower(filepath.Ext(a))] {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return artifacts
	}
	return filtered
}

// collectArtifacts combines both detection sources: declared artifacts
// win; the mtime diff is the fallback.
func collectArtifacts(stdout, workingDir, scriptPath string, before map[string]time.Time, sanityLimit int) []string {
	if declared := parseDeclaredArtifacts(stdout, workingDir); len(declared) > 0 {
		return narrowArtifacts(declared, sanityLimit)
	}
	return narrowArtifacts(diffArtifacts(workingDir, scriptPath, before), sanityLimit)
}
