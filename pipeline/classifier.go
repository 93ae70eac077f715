package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pravindurgani/agent-sutra/gateway"
)

// Fallback scan order when the classifier's JSON cannot be parsed.
// Order matters: more specific types first, generic "code" last.
var classifierFallbackOrder = []string{"project", "frontend", "ui_design", "automation", "data", "file", "code"}

// Classify assigns a task type. Registered-project triggers are checked
// first; a hit short-circuits without any model call.
func (n *Nodes) Classify(ctx context.Context, state *State) error {
	if project, ok := n.Registry.Match(state.Message); ok {
		log.Printf("pipeline: classified task %s as project: %s", state.TaskID, project.Name)
		state.TaskType = "project"
		state.ProjectName = project.Name
		state.Project = project
		state.HasProject = true
		return nil
	}

	system := fmt.Sprintf(classifierSystem, n.Registry.Summary())
	prompt := "User message: " + state.Message
	if len(state.Files) > 0 {
		prompt += "\n\nAttached files:"
		for _, f := range state.Files {
			prompt += "\n- " + f
		}
	}

	response, err := n.Gateway.Call(ctx, gateway.Request{
		Purpose:    gateway.PurposeClassify,
		Complexity: gateway.ComplexityLow,
		Prompt:     prompt,
		System:     system,
		MaxTokens:  200,
	})
	if err != nil {
		return fmt.Errorf("classification call failed: %w", err)
	}

	taskType, ok := jsonField(response, "task_type")
	if !ok {
		taskType = "code"
		lower := strings.ToLower(response)
		for _, t := range classifierFallbackOrder {
			if strings.Contains(lower, t) {
				taskType = t
				break
			}
		}
	}

	state.TaskType = taskType

	// The model saying "project" without a matching trigger would loop
	// to a guaranteed failure; demote to plain code.
	if taskType == "project" {
		if project, ok := n.Registry.Match(state.Message); ok {
			state.ProjectName = project.Name
			state.Project = project
			state.HasProject = true
		} else {
			log.Printf("pipeline: model classified as project but no trigger match, falling back to code")
			state.TaskType = "code"
		}
	}

	log.Printf("pipeline: classified task %s as: %s", state.TaskID, state.TaskType)
	return nil
}
