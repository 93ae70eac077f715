package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pravindurgani/agent-sutra/files"
	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/projects"
)

// Plan creates an execution plan for the classified task type.
func (n *Nodes) Plan(ctx context.Context, state *State) error {
	system := n.planSystem(ctx, state)

	prompt := "Task: " + state.Message

	if state.ConversationContext != "" {
		prompt += "\n\nCONVERSATION CONTEXT (recent history):\n" + state.ConversationContext
	}

	for _, fpath := range state.Files {
		if _, err := os.Stat(fpath); err != nil {
			continue
		}
		ext := filepath.Ext(fpath)
		if files.DataExtensions[ext] {
			meta := files.ExtractMetadata(fpath)
			if meta.RowCount > n.Opts.BigDataRowThreshold {
				// Large file: metadata only, process locally.
				prompt += "\n\n" + files.FormatMetadataForPrompt(fpath)
			} else {
				content := files.Content(fpath, n.Opts.FileInjectionCharCap)
				prompt += fmt.Sprintf("\n\n--- File: %s (%s, ~%d data rows) ---\n%s",
					meta.Name, meta.SizeHuman, meta.RowCount, content)
			}
		} else {
			content := files.Content(fpath, n.Opts.FileInjectionCharCap)
			prompt += fmt.Sprintf("\n\n--- File: %s ---\n%s", filepath.Base(fpath), content)
		}
	}

	// Retry path: feed the previous failure back in.
	if state.RetryCount > 0 && state.AuditFeedback != "" {
		prompt += "\n\n--- PREVIOUS ATTEMPT FAILED ---\n" + state.AuditFeedback
		if state.ExecutionResult != "" {
			prompt += "\n\nExecution output:\n" + capText(state.ExecutionResult, 3000)
		}
		prompt += "\nRevise the plan to fix these specific issues."
	}

	// Deep reasoning only where it pays for itself.
	useThinking := state.TaskType == "frontend" || state.TaskType == "ui_design" || state.TaskType == "project"

	response, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:    gateway.PurposePlan,
		Complexity: planComplexity(state),
		Prompt:     prompt,
		System:     system,
		MaxTokens:  3000,
		Thinking:   useThinking,
	})
	if err != nil {
		return fmt.Errorf("planning call failed: %w", err)
	}

	log.Printf("pipeline: plan created for task %s (type=%s, %d chars, thinking=%v)",
		state.TaskID, state.TaskType, len(response), useThinking)
	state.Plan = response
	return nil
}

func planComplexity(state *State) gateway.Complexity {
	if len(state.Files) == 0 && len(state.Message) < 200 && state.RetryCount == 0 {
		return gateway.ComplexityLow
	}
	return gateway.ComplexityHigh
}

func (n *Nodes) planSystem(ctx context.Context, state *State) string {
	switch state.TaskType {
	case "project":
		projectContext := "No project context available."
		if state.HasProject {
			projectContext = projects.Context(state.Project)
			if lessons := n.lessonsBlock(ctx, state.ProjectName); lessons != "" {
				projectContext += "\n\n" + lessons
			}
			if sources := n.relevantSourcesBlock(ctx, state); sources != "" {
				projectContext += "\n\n" + sources
			}
		}
		return fmt.Sprintf(projectPlanSystem, projectContext)
	case "frontend":
		return frontendPlanSystem
	case "ui_design":
		return uiDesignPlanSystem
	case "data":
		return dataPlanSystem
	case "file":
		return filePlanSystem
	case "automation":
		return automationPlanSystem
	default:
		system := codePlanSystem
		if standards := n.codingStandards(); standards != "" {
			system += "\n\nCODING STANDARDS (excerpt):\n" + standards
		}
		return system
	}
}

// lessonsBlock formats stored project memory for the plan prompt.
func (n *Nodes) lessonsBlock(ctx context.Context, project string) string {
	lessons, err := n.Memory.ProjectLessons(ctx, project, 5)
	if err != nil || len(lessons) == 0 {
		return ""
	}
	lines := []string{"LESSONS LEARNED (from previous runs of this project):"}
	for _, l := range lessons {
		lines = append(lines, fmt.Sprintf("  - [%s] %s", l.Outcome, l.Lesson))
	}
	return strings.Join(lines, "\n")
}

// relevantSourcesBlock asks the model to pick a handful of relevant
// source files from a modestly sized project tree and injects their
// contents. Skipped for large trees.
func (n *Nodes) relevantSourcesBlock(ctx context.Context, state *State) string {
	const maxTreeFiles = 40
	const pickCount = 5

	var sources []string
	err := filepath.WalkDir(state.Project.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "venv" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".py", ".js", ".ts", ".sh", ".go", ".rb":
			sources = append(sources, path)
		}
		if len(sources) > maxTreeFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil || len(sources) == 0 || len(sources) > maxTreeFiles {
		return ""
	}

	prompt := fmt.Sprintf(
		"Task: %s\n\nProject source files:\n%s\n\nPick the 3-5 files most relevant to this task. Respond with ONLY a JSON array of paths.",
		state.Message, strings.Join(sources, "\n"))
	response, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:    gateway.PurposePlan,
		Complexity: gateway.ComplexityLow,
		Prompt:     prompt,
		MaxTokens:  300,
	})
	if err != nil {
		return ""
	}

	var picked []string
	raw := stripMarkdownFences(response)
	if start := strings.IndexByte(raw, '['); start >= 0 {
		if end := strings.LastIndexByte(raw, ']'); end > start {
			raw = raw[start : end+1]
		}
	}
	if err := jsonUnmarshalStrings(raw, &picked); err != nil || len(picked) == 0 {
		return ""
	}
	if len(picked) > pickCount {
		picked = picked[:pickCount]
	}

	lines := []string{"RELEVANT PROJECT SOURCES:"}
	for _, p := range picked {
		if !strings.HasPrefix(p, state.Project.Path) {
			continue
		}
		content := files.Content(p, 3000)
		lines = append(lines, fmt.Sprintf("--- %s ---\n%s", p, content))
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// codingStandards reads the operator's standards file, truncated to the
// configured cap. Missing file means no block.
func (n *Nodes) codingStandards() string {
	if n.Opts.CodingStandardsPath == "" {
		return ""
	}
	raw, err := os.ReadFile(n.Opts.CodingStandardsPath)
	if err != nil {
		return ""
	}
	text := string(raw)
	if limit := n.Opts.CodingStandardsCharCap; limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	return text
}

func capText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
