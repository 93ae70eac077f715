package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/pravindurgani/agent-sutra/files"
	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/sandbox"
)

const (
	freeFormInstallRetries = 2
	projectInstallRetries  = 5
)

// Execute generates and runs code or shell commands for the plan.
func (n *Nodes) Execute(ctx context.Context, state *State) error {
	switch state.TaskType {
	case "project":
		return n.executeProject(ctx, state)
	case "ui_design":
		return n.generateHTML(ctx, state, uiDesignGenSystem, "design")
	case "frontend":
		return n.generateHTML(ctx, state, frontendGenSystem, "app")
	default:
		return n.executeCode(ctx, state)
	}
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// extractParams asks the model for the values of every {placeholder}
// used by the project's commands. Markdown fences are stripped before
// the JSON parse so a fenced response parses identically to a raw one.
func (n *Nodes) extractParams(ctx context.Context, state *State) map[string]string {
	placeholders := map[string]bool{}
	for _, cmd := range state.Project.Commands {
		for _, m := range placeholderRe.FindAllStringSubmatch(cmd, -1) {
			placeholders[m[1]] = true
		}
	}
	if len(placeholders) == 0 {
		return map[string]string{}
	}

	names := make([]string, 0, len(placeholders))
	for name := range placeholders {
		names = append(names, name)
	}

	prompt := fmt.Sprintf(`Extract parameter values from the user's message for a project command.

Parameters needed: %s

User message: %s

Uploaded files: %s

Rules:
- For "file": use the exact uploaded file path if one exists
- For "client": extract the company/client name from the message
- For other parameters: extract from context if possible
- Return ONLY a JSON object with parameter names as keys

Respond with ONLY valid JSON, e.g.: {"client": "Acme Corp", "file": "/path/to/file.xlsx"}`,
		strings.Join(names, ", "), state.Message, orNone(strings.Join(state.Files, ", ")))

	response, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:   gateway.PurposeGeneral,
		Prompt:    prompt,
		MaxTokens: 200,
	})
	if err == nil {
		if params, ok := parseStringMap(response); ok {
			log.Printf("pipeline: extracted parameters: %v", params)
			return params
		}
		log.Printf("pipeline: failed to parse parameter extraction: %.200s", response)
	}

	// Fallback: auto-detect the file parameter from uploads.
	fallback := map[string]string{}
	if placeholders["file"] && len(state.Files) > 0 {
		fallback["file"] = state.Files[0]
	}
	return fallback
}

// bootstrapProjectDeps installs from the project's manifest, once, on
// the first attempt. A failure is logged but not fatal: deps may
// already be present.
func (n *Nodes) bootstrapProjectDeps(ctx context.Context, state *State) {
	reqFile := filepath.Join(state.Project.Path, "requirements.txt")
	if _, err := os.Stat(reqFile); err != nil {
		return
	}
	pip := "pip3"
	if state.Project.Venv != "" {
		pip = filepath.Join(state.Project.Venv, "bin", "pip")
	}
	log.Printf("pipeline: bootstrapping project dependencies from %s", reqFile)
	result := n.Runner.RunShell(ctx, state.TaskID,
		fmt.Sprintf("%s install -r %s --quiet", pip, shellquote.Join(reqFile)),
		state.Project.Path, 120*time.Second, state.Project.Venv, nil)
	if !result.Success {
		log.Printf("pipeline: dependency bootstrap failed: %.300s", result.Stderr)
	}
}

func (n *Nodes) executeProject(ctx context.Context, state *State) error {
	state.ExtractedParams = map[string]string{}

	if !state.HasProject {
		state.ExecutionResult = "Execution: FAILED\nErrors:\nNo project configuration found"
		state.Artifacts = nil
		return nil
	}
	if state.Project.Path == "" {
		state.ExecutionResult = "Execution: FAILED\nErrors:\nProject path is not configured in the registry"
		state.Artifacts = nil
		return nil
	}
	if _, err := os.Stat(state.Project.Path); err != nil {
		state.ExecutionResult = fmt.Sprintf("Execution: FAILED\nErrors:\nProject directory not found: %s", state.Project.Path)
		state.Artifacts = nil
		return nil
	}

	timeout := time.Duration(state.Project.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	if state.RetryCount == 0 {
		n.bootstrapProjectDeps(ctx, state)
	}

	// Parameters are extracted before shell generation, then every
	// value is shell-quoted into the command templates.
	params := n.extractParams(ctx, state)
	state.ExtractedParams = params

	filledCommands := map[string]string{}
	for name, cmd := range state.Project.Commands {
		filled := cmd
		for k, v := range params {
			filled = strings.ReplaceAll(filled, "{"+k+"}", shellquote.Join(v))
		}
		filledCommands[name] = filled
	}

	prompt := fmt.Sprintf(`Plan:
%s

Original task: %s

Project path: %s
Available commands (raw templates): %v
Extracted parameters: %v
Commands with parameters filled in: %v
Venv path: %s

IMPORTANT: Use the filled-in commands above. Do NOT leave {file} or {client} as placeholders.`,
		state.Plan, state.Message, state.Project.Path, state.Project.Commands, params, filledCommands,
		orNone(state.Project.Venv))

	if len(state.Files) > 0 {
		prompt += "\n\nUploaded files (use these exact paths):"
		for _, f := range state.Files {
			prompt += "\n- " + f
		}
	}
	if state.AuditFeedback != "" {
		prompt += "\n\n--- Previous attempt failed ---\n" + state.AuditFeedback
	}

	code, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:   gateway.PurposeCodeGen,
		Prompt:    prompt,
		System:    shellGenSystem,
		MaxTokens: 2000,
		Thinking:  true,
	})
	if err != nil {
		return fmt.Errorf("shell generation call failed: %w", err)
	}
	code = stripMarkdownFences(code)
	if strings.TrimSpace(code) == "" {
		state.Code = ""
		state.ExecutionResult = "Execution: FAILED\nErrors:\nShell script generation returned empty"
		state.Artifacts = nil
		return nil
	}
	state.Code = code

	// Random heredoc delimiter so generated content cannot collide
	// with it.
	delimiter := "AGENTSUTRA_EOF_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	command := fmt.Sprintf("bash -e /dev/stdin <<'%s'\n%s\n%s", delimiter, code, delimiter)

	result := n.Runner.RunShell(ctx, state.TaskID, command, state.Project.Path, timeout, state.Project.Venv, nil)

	// Project scripts get the generous auto-install budget.
	if !result.Success {
		for attempt := 0; attempt < projectInstallRetries; attempt++ {
			missing := sandbox.ParseImportError(result.Traceback)
			if missing == "" {
				missing = sandbox.ParseImportError(result.Stderr)
			}
			if missing == "" {
				break
			}
			log.Printf("pipeline: project missing module %q, attempting auto-install", missing)
			pip := "pip3"
			if state.Project.Venv != "" {
				pip = filepath.Join(state.Project.Venv, "bin", "pip")
			}
			install := n.Runner.RunShell(ctx, state.TaskID,
				fmt.Sprintf("%s install %s", pip, shellquote.Join(missing)),
				state.Project.Path, 120*time.Second, state.Project.Venv, nil)
			if !install.Success {
				break
			}
			state.AutoInstalled = append(state.AutoInstalled, missing)
			result = n.Runner.RunShell(ctx, state.TaskID, command, state.Project.Path, timeout, state.Project.Venv, nil)
			if result.Success {
				break
			}
		}
	}

	state.ExecutionResult = formatResult(result)
	state.Artifacts = result.Artifacts
	state.WorkingDir = state.Project.Path
	return nil
}

func (n *Nodes) executeCode(ctx context.Context, state *State) error {
	system := codeGenSystem
	if state.TaskType == "data" || state.TaskType == "file" {
		system = analysisGenSystem
	}

	prompt := fmt.Sprintf("Plan:\n%s\n\nOriginal task: %s", state.Plan, state.Message)

	if len(state.Files) > 0 {
		prompt += "\n\nAvailable files (use these exact paths):"
		for _, fpath := range state.Files {
			prompt += "\n- " + fpath
			if _, err := os.Stat(fpath); err != nil {
				continue
			}
			ext := filepath.Ext(fpath)
			if files.DataExtensions[ext] {
				prompt += "\n  (Data file - process locally with a script. DO NOT load into context)"
			} else if isTextualSource(ext) {
				content := files.Content(fpath, 3000)
				prompt += "\n  Preview:\n" + capText(content, 1000)
			}
		}
	}

	if state.AuditFeedback != "" {
		prompt += "\n\n--- PREVIOUS CODE FAILED. Fix these issues ---\n" + state.AuditFeedback
		if state.Code != "" {
			prompt += "\n\n--- Previous code ---\n" + state.Code
		}
	}

	code, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:   gateway.PurposeCodeGen,
		Prompt:    prompt,
		System:    system,
		MaxTokens: 8192,
		Thinking:  true,
	})
	if err != nil {
		return fmt.Errorf("code generation call failed: %w", err)
	}
	code = stripMarkdownFences(code)
	if strings.TrimSpace(code) == "" {
		state.Code = ""
		state.ExecutionResult = "Execution: FAILED\nErrors:\nCode generation returned empty output"
		state.Artifacts = nil
		return nil
	}
	state.Code = code

	timeout := n.estimateTimeout(state)
	workingDir := n.determineWorkingDir(state)

	result := n.Runner.RunCodeWithAutoInstall(ctx, state.TaskID, code, "python", timeout, workingDir, "", freeFormInstallRetries)

	state.ExecutionResult = formatResult(result)
	state.Artifacts = result.Artifacts
	state.AutoInstalled = append(state.AutoInstalled, result.AutoInstalled...)
	if workingDir == "" {
		workingDir = n.Opts.OutputsDir
	}
	state.WorkingDir = workingDir
	return nil
}

// generateHTML handles ui_design and frontend: the artifact is the
// generated file itself, no interpreter involved.
func (n *Nodes) generateHTML(ctx context.Context, state *State, system, fallbackStem string) error {
	prompt := fmt.Sprintf("Plan:\n%s\n\nOriginal task: %s", state.Plan, state.Message)

	if len(state.Files) > 0 {
		prompt += "\n\nReference files provided:"
		for _, fpath := range state.Files {
			prompt += "\n- " + fpath
			ext := filepath.Ext(fpath)
			if isTextualSource(ext) || ext == ".csv" || ext == ".json" {
				content := files.Content(fpath, 3000)
				prompt += "\n  Content preview:\n" + capText(content, 1000)
			}
		}
	}

	if state.AuditFeedback != "" {
		prompt += "\n\n--- PREVIOUS ATTEMPT FAILED ---\n" + state.AuditFeedback
		if state.Code != "" {
			prompt += "\n\n--- Previous HTML ---\n" + capText(state.Code, 5000)
		}
	}

	maxTokens := 8192
	if state.TaskType == "frontend" {
		maxTokens = 16000
	}
	code, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:   gateway.PurposeCodeGen,
		Prompt:    prompt,
		System:    system,
		MaxTokens: maxTokens,
		Thinking:  true,
	})
	if err != nil {
		return fmt.Errorf("html generation call failed: %w", err)
	}
	code = stripMarkdownFences(code)
	if strings.TrimSpace(code) == "" {
		state.Code = ""
		state.ExecutionResult = "Execution: FAILED\nErrors:\nHTML generation returned empty"
		state.Artifacts = nil
		return nil
	}
	state.Code = code

	filename := fmt.Sprintf("%s_%s.html", slugFromMessage(state.Message, fallbackStem),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	outputPath := filepath.Join(n.Opts.OutputsDir, filename)
	if err := os.MkdirAll(n.Opts.OutputsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create outputs directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(code), 0o644); err != nil {
		return fmt.Errorf("failed to save generated HTML: %w", err)
	}
	log.Printf("pipeline: HTML saved: %s (%d bytes)", outputPath, len(code))

	state.ExecutionResult = fmt.Sprintf(
		"Execution: SUCCESS (exit code 0)\nOutput:\nHTML generated: %s (%d chars)\nFiles created: %s",
		filename, len(code), filename)
	state.Artifacts = []string{outputPath}
	state.WorkingDir = n.Opts.OutputsDir
	return nil
}

// estimateTimeout scales the per-execution timeout by task type and
// input size, clamped to the hard cap.
func (n *Nodes) estimateTimeout(state *State) time.Duration {
	base := n.Opts.ExecutionTimeout

	if state.TaskType == "data" {
		for _, f := range state.Files {
			if info, err := os.Stat(f); err == nil && info.Size() > 10_000_000 {
				if base < 300*time.Second {
					base = 300 * time.Second
				}
			}
		}
	}
	switch state.TaskType {
	case "frontend", "ui_design", "automation":
		if base < 300*time.Second {
			base = 300 * time.Second
		}
	}
	if base > n.Opts.MaxCodeExecutionTimeout {
		base = n.Opts.MaxCodeExecutionTimeout
	}
	return base
}

var homePathRe = regexp.MustCompile(`(~/[\w/.-]+|/home/\w+/[\w/.-]+)`)

// determineWorkingDir picks the execution directory: an explicit state
// override first, then a home-relative path mentioned in the plan or
// message, else empty for the default outputs directory.
func (n *Nodes) determineWorkingDir(state *State) string {
	if state.WorkingDir != "" && filepath.IsAbs(state.WorkingDir) {
		return state.WorkingDir
	}
	for _, text := range []string{state.Plan, state.Message} {
		m := homePathRe.FindString(text)
		if m == "" {
			continue
		}
		candidate := m
		if strings.HasPrefix(candidate, "~/") {
			candidate = filepath.Join(n.Opts.HostHome, candidate[2:])
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(n.Opts.HostHome, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if filepath.Ext(abs) != "" {
			if info, err := os.Stat(abs); err != nil || !info.IsDir() {
				continue
			}
		}
		return abs
	}
	return ""
}

func isTextualSource(ext string) bool {
	switch ext {
	case ".txt", ".py", ".js", ".md", ".html", ".css":
		return true
	}
	return false
}

func slugFromMessage(message, fallback string) string {
	var b strings.Builder
	for _, r := range message {
		switch {
		case r == ' ', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	words := strings.Fields(strings.ToLower(b.String()))
	if len(words) > 4 {
		words = words[:4]
	}
	if len(words) == 0 {
		return fallback
	}
	return strings.Join(words, "_")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

// formatResult renders an ExecutionResult for the audit prompt and the
// stored execution record.
func formatResult(result sandbox.ExecutionResult) string {
	parts := []string{fmt.Sprintf("Execution: %s (exit code %d)", successWord(result.Success), result.ExitCode)}
	if result.Stdout != "" {
		parts = append(parts, "Output:\n"+result.Stdout)
	}
	if result.Traceback != "" {
		parts = append(parts, "Traceback:\n"+result.Traceback)
	} else if result.Stderr != "" {
		parts = append(parts, "Stderr:\n"+result.Stderr)
	}
	if len(result.Artifacts) > 0 {
		names := make([]string, 0, len(result.Artifacts))
		for _, f := range result.Artifacts {
			names = append(names, filepath.Base(f))
		}
		parts = append(parts, "Files created: "+strings.Join(names, ", "))
	}
	if result.TimedOut {
		parts = append(parts, "WARNING: Execution timed out")
	}
	return strings.Join(parts, "\n")
}

func successWord(ok bool) string {
	if ok {
		return "SUCCESS"
	}
	return "FAILED"
}
