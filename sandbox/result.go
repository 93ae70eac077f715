package sandbox

import "strings"

const (
	maxStdoutBytes = 50000
	maxStderrBytes = 20000
)

// ExecutionResult is what every execution path returns, success or not.
// Stdout and stderr are capped at fixed limits.
type ExecutionResult struct {
	Success       bool
	ExitCode      int
	Stdout        string
	Stderr        string
	Traceback     string
	Artifacts     []string
	TimedOut      bool
	AutoInstalled []string
}

func failure(stderr string) ExecutionResult {
	return ExecutionResult{Success: false, ExitCode: -1, Stderr: stderr}
}

// ExtractTraceback returns the last traceback block in stderr, from the
// final "Traceback" marker to the end. Empty when none is present.
func ExtractTraceback(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "Traceback (most recent call last):") {
			start = i
		}
	}
	if start == -1 {
		return ""
	}
	return strings.Join(lines[start:], "\n")
}

func capString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
