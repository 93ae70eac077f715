package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/projects"
	"github.com/pravindurgani/agent-sutra/sandbox"
	"github.com/pravindurgani/agent-sutra/store"
	"github.com/pravindurgani/agent-sutra/types"
)

// fakeGateway replays scripted responses per purpose and records every
// request it sees.
type fakeGateway struct {
	mu        sync.Mutex
	responses map[gateway.Purpose][]string
	requests  []gateway.Request
	err       error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{responses: map[gateway.Purpose][]string{}}
}

func (f *fakeGateway) on(purpose gateway.Purpose, responses ...string) {
	f.responses[purpose] = append(f.responses[purpose], responses...)
}

func (f *fakeGateway) Call(_ context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	queue := f.responses[req.Purpose]
	if len(queue) == 0 {
		return "", errors.New("fakeGateway: no scripted response for " + string(req.Purpose))
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[req.Purpose] = queue[1:]
	}
	return resp, nil
}

func (f *fakeGateway) callCount(purpose gateway.Purpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Purpose == purpose {
			n++
		}
	}
	return n
}

func (f *fakeGateway) lastRequest(purpose gateway.Purpose) (gateway.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Purpose == purpose {
			return f.requests[i], true
		}
	}
	return gateway.Request{}, false
}

// fakeRunner returns scripted execution results.
type fakeRunner struct {
	mu            sync.Mutex
	codeResults   []sandbox.ExecutionResult
	shellResults  []sandbox.ExecutionResult
	shellCommands []string
}

func (f *fakeRunner) RunCodeWithAutoInstall(_ context.Context, _, _, _ string, _ time.Duration, _, _ string, _ int) sandbox.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codeResults) == 0 {
		return sandbox.ExecutionResult{Success: true, Stdout: "ok"}
	}
	r := f.codeResults[0]
	if len(f.codeResults) > 1 {
		f.codeResults = f.codeResults[1:]
	}
	return r
}

func (f *fakeRunner) RunShell(_ context.Context, _, command, _ string, _ time.Duration, _ string, _ map[string]string) sandbox.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shellCommands = append(f.shellCommands, command)
	if len(f.shellResults) == 0 {
		return sandbox.ExecutionResult{Success: true, Stdout: "ok"}
	}
	r := f.shellResults[0]
	if len(f.shellResults) > 1 {
		f.shellResults = f.shellResults[1:]
	}
	return r
}

// fakeMemory is an in-memory Memory.
type fakeMemory struct {
	mu      sync.Mutex
	lessons []types.ProjectLesson
	history []store.TaskTypeAt
}

func (f *fakeMemory) ProjectLessons(_ context.Context, project string, _ int) ([]types.ProjectLesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.ProjectLesson
	for _, l := range f.lessons {
		if l.Project == project {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeMemory) AddProjectLesson(_ context.Context, lesson types.ProjectLesson) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lessons = append(f.lessons, lesson)
	return nil
}

func (f *fakeMemory) RecentTaskTypes(context.Context, int64, int) ([]store.TaskTypeAt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

// fakeMatcher serves a fixed project list.
type fakeMatcher struct {
	project projects.Project
	matched bool
}

func (f *fakeMatcher) Match(string) (projects.Project, bool) {
	return f.project, f.matched
}

func (f *fakeMatcher) Summary() string { return "No existing projects registered." }

func testNodes(gw *fakeGateway, runner *fakeRunner, memory *fakeMemory, matcher Matcher, outputsDir string) *Nodes {
	if runner == nil {
		runner = &fakeRunner{}
	}
	if memory == nil {
		memory = &fakeMemory{}
	}
	if matcher == nil {
		matcher = &fakeMatcher{}
	}
	return &Nodes{
		Gateway:  gw,
		Runner:   runner,
		Memory:   memory,
		Registry: matcher,
		Opts: Options{
			HostHome:                "/home/op",
			OutputsDir:              outputsDir,
			MaxRetries:              3,
			ExecutionTimeout:        120 * time.Second,
			MaxCodeExecutionTimeout: 600 * time.Second,
			BigDataRowThreshold:     500,
			FileInjectionCharCap:    10000,
		},
	}
}
