package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/projects"
	"github.com/pravindurgani/agent-sutra/sandbox"
)

func TestParseStringMapFencedEqualsRaw(t *testing.T) {
	raw := `{"client": "Light & Wonder", "file": "/up/data.xlsx"}`
	fenced := "```json\n" + raw + "\n```"

	a, okA := parseStringMap(raw)
	b, okB := parseStringMap(fenced)
	if !okA || !okB {
		t.Fatal("both forms must parse")
	}
	if len(a) != len(b) {
		t.Fatalf("maps differ: %v vs %v", a, b)
	}
	for k, v := range a {
		if b[k] != v {
			t.Errorf("key %s: %q vs %q", k, v, b[k])
		}
	}
}

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", "print('hi')", "print('hi')"},
		{"simple block", "```python\nprint('hi')\n```", "print('hi')"},
		{"longest block wins", "```\nshort\n```\ntext\n```python\nlonger content here\nsecond line\n```", "longer content here\nsecond line"},
		{"backticks inside strings survive", "```js\nconst s = `template ${x}`;\nconsole.log(s);\n```", "const s = `template ${x}`;\nconsole.log(s);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractParamsShellQuoting(t *testing.T) {
	gw := newFakeGateway()
	gw.on(gateway.PurposeGeneral, "```json\n{\"client\": \"Light & Wonder\", \"file\": \"/up/q1 report.xlsx\"}\n```")
	gw.on(gateway.PurposeCodeGen, "#!/bin/bash\nset -e\nrun-report 'Light & Wonder'")
	runner := &fakeRunner{}
	nodes := testNodes(gw, runner, nil, nil, t.TempDir())

	state := &State{
		TaskID:     "t1",
		TaskType:   "project",
		Message:    "run the q1 report for Light & Wonder",
		HasProject: true,
		Project: projects.Project{
			Name:     "reports",
			Path:     t.TempDir(),
			Commands: map[string]string{"report": "python3 report.py --client {client} --file {file}"},
		},
	}
	if err := nodes.Execute(context.Background(), state); err != nil {
		t.Fatal(err)
	}

	if state.ExtractedParams["client"] != "Light & Wonder" {
		t.Errorf("params = %v", state.ExtractedParams)
	}
	// The generation prompt must carry shell-quoted values, never raw
	// ampersands or spaces.
	req, ok := gw.lastRequest(gateway.PurposeCodeGen)
	if !ok {
		t.Fatal("no code_gen request recorded")
	}
	if !strings.Contains(req.Prompt, "'Light & Wonder'") {
		t.Errorf("filled command should shell-quote the client value; prompt:\n%s", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "'/up/q1 report.xlsx'") {
		t.Errorf("filled command should shell-quote the file path; prompt:\n%s", req.Prompt)
	}
	// The script ran through a heredoc with a randomized delimiter.
	if len(runner.shellCommands) == 0 || !strings.Contains(runner.shellCommands[len(runner.shellCommands)-1], "AGENTSUTRA_EOF_") {
		t.Errorf("project script should run via a randomized heredoc, got %v", runner.shellCommands)
	}
}

func TestExecuteProjectWithoutConfigFailsCleanly(t *testing.T) {
	gw := newFakeGateway()
	nodes := testNodes(gw, &fakeRunner{}, nil, nil, t.TempDir())

	state := &State{TaskID: "t2", TaskType: "project"}
	if err := nodes.Execute(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(state.ExecutionResult, "FAILED") {
		t.Errorf("execution result = %q", state.ExecutionResult)
	}
	if len(gw.requests) != 0 {
		t.Errorf("no model calls expected without a project config")
	}
}

func TestExecuteCodeRecordsAutoInstalled(t *testing.T) {
	gw := newFakeGateway()
	gw.on(gateway.PurposeCodeGen, "```python\nimport pandas\nprint('ok')\n```")
	runner := &fakeRunner{codeResults: []sandbox.ExecutionResult{{
		Success:       true,
		Stdout:        "ok\n[Auto-installed: pandas]",
		AutoInstalled: []string{"pandas"},
	}}}
	nodes := testNodes(gw, runner, nil, nil, t.TempDir())

	state := &State{TaskID: "t3", TaskType: "code", Message: "use pandas"}
	if err := nodes.Execute(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if len(state.AutoInstalled) != 1 || state.AutoInstalled[0] != "pandas" {
		t.Errorf("auto-installed = %v", state.AutoInstalled)
	}
	if state.WorkingDir == "" {
		t.Errorf("working dir must be recorded for observability")
	}
}

func TestEstimateTimeoutClampedToHardCap(t *testing.T) {
	nodes := testNodes(newFakeGateway(), nil, nil, nil, t.TempDir())
	nodes.Opts.ExecutionTimeout = 900 * time.Second
	nodes.Opts.MaxCodeExecutionTimeout = 600 * time.Second

	state := &State{TaskType: "automation"}
	if got := nodes.estimateTimeout(state); got != 600*time.Second {
		t.Errorf("timeout = %s, want clamp to 600s", got)
	}

	nodes.Opts.ExecutionTimeout = 120 * time.Second
	state = &State{TaskType: "frontend"}
	if got := nodes.estimateTimeout(state); got != 300*time.Second {
		t.Errorf("frontend timeout = %s, want raised to 300s", got)
	}
	state = &State{TaskType: "code"}
	if got := nodes.estimateTimeout(state); got != 120*time.Second {
		t.Errorf("code timeout = %s, want the base 120s", got)
	}
}

func TestGenerateHTMLProducesArtifact(t *testing.T) {
	gw := newFakeGateway()
	gw.on(gateway.PurposePlan, "plan")
	gw.on(gateway.PurposeCodeGen, "```html\n<!DOCTYPE html><html><head></head><body>hi</body></html>\n```")
	outputs := t.TempDir()
	nodes := testNodes(gw, &fakeRunner{}, nil, nil, outputs)

	state := &State{TaskID: "t4", TaskType: "ui_design", Message: "landing page for a bakery", Plan: "plan"}
	if err := nodes.Execute(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if len(state.Artifacts) != 1 {
		t.Fatalf("artifacts = %v, want the generated HTML file", state.Artifacts)
	}
	if !strings.HasPrefix(state.Artifacts[0], outputs) || !strings.HasSuffix(state.Artifacts[0], ".html") {
		t.Errorf("artifact path = %s", state.Artifacts[0])
	}
	if !strings.Contains(state.ExecutionResult, "SUCCESS") {
		t.Errorf("execution result = %q", state.ExecutionResult)
	}
}

func TestSlugFromMessage(t *testing.T) {
	tests := []struct {
		in, fallback, want string
	}{
		{"Build a landing page for my bakery!", "design", "build_a_landing_page"},
		{"***", "design", "design"},
		{"one two", "x", "one_two"},
	}
	for _, tt := range tests {
		if got := slugFromMessage(tt.in, tt.fallback); got != tt.want {
			t.Errorf("slugFromMessage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
