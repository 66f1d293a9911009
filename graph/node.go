package graph

import "context"

// Node represents a processing unit in the workflow graph.
//
// A node receives the current state, performs exactly one unit of work
// and returns a NodeResult. Nodes never decide their successor by name
// unless they need to; the usual path is to leave Route empty and let
// the node's Router and the engine's edge table pick the next hop.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the state update produced by this node.
	// It is merged with the current state using the configured reducer.
	Delta S

	// Route optionally overrides edge-table routing.
	// Use Stop() to end the run or Goto(id) for an explicit jump.
	Route Next

	// Err halts the run. Recoverable failures belong in the state, not here.
	Err error
}

// Next specifies an explicit routing decision made by a node.
//
// The zero value means "consult the edge table".
type Next struct {
	// To specifies the next node to execute.
	To string

	// Terminal indicates workflow execution should stop.
	Terminal bool
}

// Stop returns a Next that terminates workflow execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	draft := NodeFunc[MyState](func(ctx context.Context, s MyState) NodeResult[MyState] {
//	    s.Draft = "..."
//	    return NodeResult[MyState]{Delta: s}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError represents a fatal error raised by a node.
// It carries enough structure for the caller to mark a job failed with a
// useful message.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
