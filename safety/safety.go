// Package safety implements the tiered command and code-content guards
// that run before anything reaches a child process.
//
// Tier 1 blocks catastrophic, irreversible shell commands outright.
// Tier 3 allows but records operations worth an audit trail.
// Tier 4 scans generated script content in the subprocess backend, where
// there is no container boundary.
//
// The guards defend against hallucinated destruction, not a malicious
// operator.
package safety

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
)

// Result is returned by every check.
type Result struct {
	// Blocked is true when execution must be refused.
	Blocked bool
	// Pattern is the matched pattern source, for diagnostics.
	Pattern string
	// Reason describes what was detected.
	Reason string
}

// Pass is the zero result: nothing matched.
func Pass() Result { return Result{} }

func blockResult(pattern, reason string) Result {
	return Result{Blocked: true, Pattern: pattern, Reason: reason}
}

// CheckCommand matches a shell command against the tier-1 blocklist and
// logs tier-3 matches. Multiline input is checked line by line so a
// heredoc body cannot smuggle a blocked command past the matcher.
func CheckCommand(command string) Result {
	for _, line := range strings.Split(command, "\n") {
		for _, p := range blockedPatterns {
			if p.re.MatchString(line) {
				return blockResult(p.source,
					fmt.Sprintf("BLOCKED: catastrophic command pattern %q. Refusing to execute.", p.source))
			}
		}
	}
	for _, p := range loggedPatterns {
		if p.re.MatchString(command) {
			log.Printf("safety: AUDIT: %s command detected: %.200s", p.label, command)
		}
	}
	return Pass()
}

// CheckCode scans generated script source for dangerous operations.
// Applied only in the subprocess backend; the container backend relies on
// filesystem isolation instead.
func CheckCode(code string) Result {
	for _, p := range codePatterns {
		if p.re.MatchString(code) {
			return blockResult(p.re.String(),
				fmt.Sprintf("BLOCKED: code contains %s. Refusing to execute in subprocess mode.", p.label))
		}
	}
	return Pass()
}

// ValidateWorkingDir refuses working directories outside the operator's
// home. The directory need not exist yet; the check is on the resolved
// path.
func ValidateWorkingDir(workingDir, hostHome string) Result {
	abs, err := filepath.Abs(workingDir)
	if err != nil {
		return blockResult("working-dir", fmt.Sprintf("BLOCKED: cannot resolve working directory %s: %v", workingDir, err))
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	home, err := filepath.Abs(hostHome)
	if err != nil {
		return blockResult("working-dir", fmt.Sprintf("BLOCKED: cannot resolve home %s: %v", hostHome, err))
	}
	if resolved, err := filepath.EvalSymlinks(home); err == nil {
		home = resolved
	}
	rel, err := filepath.Rel(home, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return blockResult("working-dir",
			fmt.Sprintf("BLOCKED: working directory %s is outside HOME (%s)", workingDir, hostHome))
	}
	return Pass()
}
