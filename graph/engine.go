package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/storygraph/graph/emit"
)

// StepRecorder persists the state after every executed node.
//
// store.Store[S] satisfies this interface.
type StepRecorder[S any] interface {
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error
}

// Engine orchestrates stateful workflow execution over a declarative edge
// table.
//
// The Engine:
//   - Manages workflow graph topology (nodes, routers and labelled edges)
//   - Executes nodes strictly one at a time
//   - Merges state updates via the reducer
//   - Records state at each step via the step recorder
//   - Emits observability events via the emitter
//   - Enforces the MaxSteps limit
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	engine, _ := New(graph.Replace[MyState], store.NewMemStore[MyState](), emit.NewNullEmitter(), WithMaxSteps(100))
//	_ = engine.Add("score", scoreNode)
//	_ = engine.AddRouter("score", func(s MyState) string {
//	    if s.Score < 7 {
//	        return "retry"
//	    }
//	    return "accept"
//	})
//	_ = engine.Connect("score", "retry", "draft")
//	_ = engine.Connect("score", "accept", graph.End)
//	_ = engine.StartAt("draft")
//
//	final, err := engine.Run(ctx, "run-001", MyState{})
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges node deltas into the running state
	reducer Reducer[S]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S]

	// routers maps node IDs to the router consulted after they run
	routers map[string]Router[S]

	// edges is the label table: from -> label -> to
	edges map[string]map[string]string

	// startNode is the entry point for Run
	startNode string

	// recorder persists per-step state (optional)
	recorder StepRecorder[S]

	// emitter receives observability events (optional)
	emitter emit.Emitter

	opts Options
}

// Options configures Engine execution behavior.
//
// Zero values are valid.
type Options struct {
	// MaxSteps limits a single Run/RunFrom call. 0 disables the limit.
	MaxSteps int

	// NodeTimeout bounds each node execution. 0 means no limit.
	NodeTimeout time.Duration

	// Metrics receives node latency observations. Nil disables metrics.
	Metrics *PrometheusMetrics
}

// New creates a new Engine.
//
// The recorder and emitter may be nil. Options are applied in order and the
// first failing option aborts construction.
func New[S any](reducer Reducer[S], recorder StepRecorder[S], emitter emit.Emitter, options ...Option) (*Engine[S], error) {
	cfg := engineConfig{}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if reducer == nil {
		return nil, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S]{
		reducer:  reducer,
		nodes:    make(map[string]Node[S]),
		routers:  make(map[string]Router[S]),
		edges:    make(map[string]map[string]string),
		recorder: recorder,
		emitter:  emitter,
		opts:     cfg.opts,
	}, nil
}

// Add registers a node in the workflow graph.
//
// Returns error if the ID is empty, the node is nil, or the ID is taken.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID is reserved: " + End, Code: "INVALID_GRAPH"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// AddRouter attaches a router to a node. The router's label selects the
// outgoing edge after the node runs.
func (e *Engine[S]) AddRouter(nodeID string, router Router[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if router == nil {
		return &EngineError{Message: "router cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.routers[nodeID]; exists {
		return &EngineError{
			Message: "router already registered for node: " + nodeID,
			Code:    "DUPLICATE_ROUTER",
		}
	}
	e.routers[nodeID] = router
	return nil
}

// StartAt sets the entry point for Run.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect adds a row to the edge table.
//
// label is the router output that selects this edge; an empty label is the
// node's unconditional successor. to may be End.
//
// Node existence is checked by Validate, not here, so graphs can be built in
// any order.
func (e *Engine[S]) Connect(from, label, to string) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	row, ok := e.edges[from]
	if !ok {
		row = make(map[string]string)
		e.edges[from] = row
	}
	if existing, dup := row[label]; dup && existing != to {
		return &EngineError{
			Message: "label " + label + " on " + from + " already routes to " + existing,
			Code:    "DUPLICATE_EDGE",
		}
	}
	row[label] = to
	return nil
}

// Validate checks the graph is closed: every edge endpoint is a registered
// node (or End), every router has at least one labelled edge, and every
// node has a way out.
func (e *Engine[S]) Validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	for from, row := range e.edges {
		if _, ok := e.nodes[from]; !ok {
			return &EngineError{Message: "edge from unknown node: " + from, Code: "INVALID_GRAPH"}
		}
		for label, to := range row {
			if to == End {
				continue
			}
			if _, ok := e.nodes[to]; !ok {
				return &EngineError{
					Message: "edge " + from + "[" + label + "] targets unknown node: " + to,
					Code:    "INVALID_GRAPH",
				}
			}
		}
	}
	for id := range e.routers {
		if len(e.edges[id]) == 0 {
			return &EngineError{Message: "router on " + id + " has no labelled edges", Code: "INVALID_GRAPH"}
		}
	}
	return nil
}

// Edges returns the edge table sorted by source node and label.
func (e *Engine[S]) Edges() []Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Edge, 0, len(e.edges))
	for from, row := range e.edges {
		for label, to := range row {
			out = append(out, Edge{From: from, Label: label, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Run executes the workflow from the start node until a terminal route,
// an End edge, an error, or the step limit.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()

	if start == "" {
		var zero S
		return zero, &EngineError{
			Message: "start node not set (call StartAt before Run)",
			Code:    "NO_START_NODE",
		}
	}
	return e.RunFrom(ctx, runID, start, initial)
}

// RunFrom executes the workflow starting at an arbitrary node. It is the
// re-entry point for resuming a paused run.
//
// The initial state is deep-copied before the first node sees it, so the
// caller's value is never aliased by the run.
func (e *Engine[S]) RunFrom(ctx context.Context, runID string, startNode string, initial S) (S, error) {
	var zero S

	e.mu.RLock()
	_, exists := e.nodes[startNode]
	e.mu.RUnlock()
	if !exists {
		return zero, &EngineError{
			Message: "start node does not exist: " + startNode,
			Code:    "NODE_NOT_FOUND",
		}
	}

	currentState, err := deepCopy(initial)
	if err != nil {
		return zero, &EngineError{Message: "cannot copy initial state", Code: "STATE_COPY_FAILED", Cause: err}
	}
	currentNode := startNode
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return currentState, &EngineError{
				Message: "workflow exceeded MaxSteps limit",
				Code:    "MAX_STEPS_EXCEEDED",
			}
		}

		select {
		case <-ctx.Done():
			return currentState, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()
		if !exists {
			return currentState, &EngineError{
				Message: "node not found during execution: " + currentNode,
				Code:    "NODE_NOT_FOUND",
			}
		}

		started := time.Now()
		result := runNode(ctx, nodeImpl, currentNode, currentState, e.opts.NodeTimeout)
		elapsed := time.Since(started)

		if result.Err != nil {
			e.opts.Metrics.RecordStepLatency(currentNode, elapsed, "error")
			e.emitter.Emit(emit.Event{
				RunID:  runID,
				Step:   step,
				NodeID: currentNode,
				Msg:    "node failed",
				Meta:   map[string]interface{}{"error": result.Err.Error()},
			})
			return currentState, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)
		e.opts.Metrics.RecordStepLatency(currentNode, elapsed, "success")

		if e.recorder != nil {
			if err := e.recorder.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
				return currentState, &EngineError{
					Message: "failed to save step: " + err.Error(),
					Code:    "STORE_ERROR",
					Cause:   err,
				}
			}
		}

		next, label, err := e.next(currentNode, currentState, result.Route)

		meta := map[string]interface{}{"duration_ms": elapsed.Milliseconds()}
		if label != "" {
			meta["label"] = label
		}
		e.emitter.Emit(emit.Event{
			RunID:  runID,
			Step:   step,
			NodeID: currentNode,
			Msg:    "node completed",
			Meta:   meta,
		})

		if err != nil {
			return currentState, err
		}
		if next == End {
			return currentState, nil
		}
		currentNode = next
	}
}

// next resolves the successor of a node. Explicit routes win over the edge
// table; a router's label must have a matching edge.
func (e *Engine[S]) next(nodeID string, state S, route Next) (string, string, error) {
	if route.Terminal {
		return End, "", nil
	}
	if route.To != "" {
		return route.To, "", nil
	}

	e.mu.RLock()
	router := e.routers[nodeID]
	row := e.edges[nodeID]
	e.mu.RUnlock()

	if router != nil {
		label := router(state)
		to, ok := row[label]
		if !ok {
			return "", label, &EngineError{
				Message: "router on " + nodeID + " returned unmapped label: " + label,
				Code:    "UNKNOWN_LABEL",
			}
		}
		return to, label, nil
	}

	if to, ok := row[""]; ok {
		return to, "", nil
	}
	return "", "", &EngineError{
		Message: "no valid route from node: " + nodeID,
		Code:    "NO_ROUTE",
	}
}
