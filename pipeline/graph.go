package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Node is one pipeline step: state in, state mutation out.
type Node interface {
	Execute(ctx context.Context, state *State) error
}

// NodeFunc adapts a plain function to Node.
type NodeFunc func(ctx context.Context, state *State) error

func (f NodeFunc) Execute(ctx context.Context, state *State) error {
	return f(ctx, state)
}

// Condition guards an edge.
type Condition func(ctx context.Context, state *State) (bool, error)

// Edge connects two nodes, optionally conditionally. Unconditional edges
// always fire.
type Edge struct {
	From      string
	To        string
	Condition Condition
}

// Graph is a small node graph with conditional edges. Built once at
// startup and reused for every task.
type Graph struct {
	name        string
	nodes       map[string]Node
	edges       map[string][]Edge
	startNodeID string
	allowCycles bool
	buildErr    error
}

func NewGraph(name string) *Graph {
	return &Graph{
		name:  name,
		nodes: map[string]Node{},
		edges: map[string][]Edge{},
	}
}

func (g *Graph) AddNode(id string, node Node) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if id == "" {
		g.buildErr = fmt.Errorf("node id is required")
		return g
	}
	if node == nil {
		g.buildErr = fmt.Errorf("node %q is nil", id)
		return g
	}
	if _, exists := g.nodes[id]; exists {
		g.buildErr = fmt.Errorf("node %q already exists", id)
		return g
	}
	g.nodes[id] = node
	return g
}

func (g *Graph) AddEdge(from, to string, condition Condition) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if from == "" || to == "" {
		g.buildErr = fmt.Errorf("edge endpoints are required")
		return g
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, Condition: condition})
	return g
}

func (g *Graph) SetStart(id string) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if id == "" {
		g.buildErr = fmt.Errorf("start node id is required")
		return g
	}
	g.startNodeID = id
	return g
}

func (g *Graph) AllowCycles(allow bool) *Graph {
	if g == nil {
		return g
	}
	g.allowCycles = allow
	return g
}

func (g *Graph) Compile() error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	if g.buildErr != nil {
		return g.buildErr
	}
	if g.name == "" {
		return fmt.Errorf("graph name is required")
	}
	if len(g.nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if g.startNodeID == "" {
		return fmt.Errorf("start node is not set")
	}
	if _, ok := g.nodes[g.startNodeID]; !ok {
		return fmt.Errorf("start node %q does not exist", g.startNodeID)
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge source node %q does not exist", from)
		}
		for _, edge := range edges {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge target node %q does not exist", edge.To)
			}
		}
	}
	unreachable := g.unreachableNodes()
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return fmt.Errorf("graph contains unreachable node(s): %v", unreachable)
	}
	if !g.allowCycles && g.hasCycle() {
		return fmt.Errorf("graph contains cycle(s); call AllowCycles(true) to enable")
	}
	return nil
}

func (g *Graph) unreachableNodes() []string {
	visited := map[string]bool{}
	var dfs func(nodeID string)
	dfs = func(nodeID string) {
		if visited[nodeID] {
			return
		}
		visited[nodeID] = true
		for _, edge := range g.edges[nodeID] {
			dfs(edge.To)
		}
	}
	dfs(g.startNodeID)

	out := make([]string, 0)
	for nodeID := range g.nodes {
		if !visited[nodeID] {
			out = append(out, nodeID)
		}
	}
	return out
}

func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(nodeID string) bool
	visit = func(nodeID string) bool {
		color[nodeID] = gray
		for _, edge := range g.edges[nodeID] {
			switch color[edge.To] {
			case gray:
				return true
			case white:
				if visit(edge.To) {
					return true
				}
			}
		}
		color[nodeID] = black
		return false
	}

	for nodeID := range g.nodes {
		if color[nodeID] == white && visit(nodeID) {
			return true
		}
	}
	return false
}

// Run walks the graph from the start node until no edge fires.
func (g *Graph) Run(ctx context.Context, state *State) error {
	currentNodeID := g.startNodeID
	for currentNodeID != "" {
		node, ok := g.nodes[currentNodeID]
		if !ok {
			return fmt.Errorf("node %q does not exist", currentNodeID)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := node.Execute(ctx, state); err != nil {
			return fmt.Errorf("node %q failed: %w", currentNodeID, err)
		}
		next, err := g.selectNextNode(ctx, currentNodeID, state)
		if err != nil {
			return err
		}
		currentNodeID = next
	}
	return nil
}

func (g *Graph) selectNextNode(ctx context.Context, from string, state *State) (string, error) {
	for _, edge := range g.edges[from] {
		if edge.Condition == nil {
			return edge.To, nil
		}
		ok, err := edge.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("edge %q -> %q condition failed: %w", edge.From, edge.To, err)
		}
		if ok {
			return edge.To, nil
		}
	}
	return "", nil
}

// wrapNode sets the public stage indicator and records the node's
// duration into the state's timing list.
func wrapNode(stages *StageMap, stageLabel string, node Node) Node {
	return NodeFunc(func(ctx context.Context, state *State) error {
		stages.Set(state.TaskID, stageLabel)
		start := time.Now()
		err := node.Execute(ctx, state)
		state.StageTimings = append(state.StageTimings, StageTiming{
			Name:       stageLabel,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return err
	})
}

// Pipeline is the compiled five-stage graph plus the stage map.
type Pipeline struct {
	graph      *Graph
	stages     *StageMap
	maxRetries int
}

// Stage labels shown to the operator while a task runs.
const (
	StageClassifying = "classifying"
	StagePlanning    = "planning"
	StageExecuting   = "executing"
	StageAuditing    = "auditing"
	StageDelivering  = "delivering"
)

// New builds and compiles the pipeline graph:
// classify → plan → execute → audit → {deliver | plan}.
// The audit→plan back-edge is a conditional transition over the shared
// state, bounded by maxRetries rather than recursion.
func New(nodes *Nodes, stages *StageMap, maxRetries int) (*Pipeline, error) {
	if nodes == nil {
		return nil, fmt.Errorf("nodes are required")
	}
	if stages == nil {
		stages = NewStageMap()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	shouldDeliver := func(_ context.Context, state *State) (bool, error) {
		if state.AuditVerdict == VerdictPass {
			return true, nil
		}
		if state.RetryCount >= maxRetries {
			log.Printf("pipeline: max retries reached for task %s", state.TaskID)
			return true, nil
		}
		log.Printf("pipeline: retrying task %s (attempt %d)", state.TaskID, state.RetryCount)
		return false, nil
	}
	shouldRetry := func(ctx context.Context, state *State) (bool, error) {
		deliver, err := shouldDeliver(ctx, state)
		return !deliver, err
	}

	g := NewGraph("agent-pipeline").
		AddNode("classify", wrapNode(stages, StageClassifying, NodeFunc(nodes.Classify))).
		AddNode("plan", wrapNode(stages, StagePlanning, NodeFunc(nodes.Plan))).
		AddNode("execute", wrapNode(stages, StageExecuting, NodeFunc(nodes.Execute))).
		AddNode("audit", wrapNode(stages, StageAuditing, NodeFunc(nodes.Audit))).
		AddNode("deliver", wrapNode(stages, StageDelivering, NodeFunc(nodes.Deliver))).
		AddEdge("classify", "plan", nil).
		AddEdge("plan", "execute", nil).
		AddEdge("execute", "audit", nil).
		AddEdge("audit", "deliver", shouldDeliver).
		AddEdge("audit", "plan", shouldRetry).
		SetStart("classify").
		AllowCycles(true)

	if err := g.Compile(); err != nil {
		return nil, err
	}
	return &Pipeline{graph: g, stages: stages, maxRetries: maxRetries}, nil
}

// Stages exposes the stage map for the status loop.
func (p *Pipeline) Stages() *StageMap { return p.stages }

// Run executes the full pipeline for one task. The stage entry is
// cleared whether or not the run succeeds.
func (p *Pipeline) Run(ctx context.Context, state *State) error {
	log.Printf("pipeline: starting run for task %s", state.TaskID)
	defer p.stages.Clear(state.TaskID)
	if err := p.graph.Run(ctx, state); err != nil {
		return err
	}
	log.Printf("pipeline: run complete for task %s: verdict=%s", state.TaskID, state.AuditVerdict)
	return nil
}
