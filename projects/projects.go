// Package projects loads the human-edited project registry and matches
// incoming messages against project trigger phrases.
package projects

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

// Project is one registry entry. Commands may carry {placeholder}
// tokens that the executor fills from the user's message.
type Project struct {
	Name         string            `yaml:"name"`
	Path         string            `yaml:"path"`
	Description  string            `yaml:"description"`
	Commands     map[string]string `yaml:"commands"`
	Venv         string            `yaml:"venv"`
	TimeoutSecs  int               `yaml:"timeout"`
	RequiresFile bool              `yaml:"requires_file"`
	Triggers     []string          `yaml:"triggers"`
}

type registryFile struct {
	Projects []Project `yaml:"projects"`
}

// Registry holds the loaded project list.
type Registry struct {
	mu       sync.RWMutex
	path     string
	projects []Project
}

// NewRegistry loads the registry from path. A missing file is not an
// error; it yields an empty registry.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file.
func (r *Registry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		log.Printf("projects: registry not found at %s", r.path)
		r.mu.Lock()
		r.projects = nil
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read project registry: %w", err)
	}
	var parsed registryFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to parse project registry: %w", err)
	}
	r.mu.Lock()
	r.projects = parsed.Projects
	r.mu.Unlock()
	log.Printf("projects: loaded %d projects from registry", len(parsed.Projects))
	return nil
}

// All returns the registered projects.
func (r *Registry) All() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Project, len(r.projects))
	copy(out, r.projects)
	return out
}

// Match finds the project whose trigger phrase appears in the message.
// Case-insensitive substring; the longest matching trigger wins, since
// longer triggers are more specific.
func (r *Registry) Match(message string) (Project, bool) {
	msgLower := strings.ToLower(message)

	var best Project
	bestScore := 0
	for _, project := range r.All() {
		score := 0
		for _, trigger := range project.Triggers {
			if trigger == "" {
				continue
			}
			if strings.Contains(msgLower, strings.ToLower(trigger)) && len(trigger) > score {
				score = len(trigger)
			}
		}
		if score > bestScore {
			bestScore = score
			best = project
		}
	}
	if bestScore > 0 {
		log.Printf("projects: matched project %s (score=%d)", best.Name, bestScore)
		return best, true
	}
	return Project{}, false
}

// Context formats one project's details for injection into prompts.
func Context(p Project) string {
	lines := []string{
		"EXISTING PROJECT AVAILABLE: " + p.Name,
		"Path: " + p.Path,
		"Description: " + strings.TrimSpace(orDefault(p.Description, "N/A")),
	}
	if len(p.Commands) > 0 {
		lines = append(lines, "Available commands:")
		for name, cmd := range p.Commands {
			lines = append(lines, fmt.Sprintf("  - %s: %s", name, cmd))
		}
	}
	if p.RequiresFile {
		lines = append(lines, "NOTE: This project requires a file upload to work.")
	}
	timeout := p.TimeoutSecs
	if timeout <= 0 {
		timeout = 60
	}
	lines = append(lines, fmt.Sprintf("Timeout: %ds", timeout))
	return strings.Join(lines, "\n")
}

// Summary formats a one-line-per-project overview for the classifier
// prompt.
func (r *Registry) Summary() string {
	all := r.All()
	if len(all) == 0 {
		return "No existing projects registered."
	}
	lines := []string{"REGISTERED PROJECTS (invoke these instead of writing new code):"}
	for _, p := range all {
		triggers := p.Triggers
		if len(triggers) > 3 {
			triggers = triggers[:3]
		}
		desc := strings.TrimSpace(p.Description)
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		lines = append(lines, fmt.Sprintf("  - %s: %s [triggers: %s]", p.Name, desc, strings.Join(triggers, ", ")))
	}
	return strings.Join(lines, "\n")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
