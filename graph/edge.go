// Package graph provides the state-graph execution engine used by storygraph.
package graph

// End is the pseudo node that terminates a run when used as an edge target.
const End = "__end__"

// Router maps the state produced by a node to an edge label.
//
// Routers must be pure: they read state and return a label, nothing else.
// Every label a router can return needs a matching Connect call for its
// node, otherwise the run fails with UNKNOWN_LABEL.
type Router[S any] func(state S) string

// Edge is one row of the declarative edge table.
//
// An empty Label marks the node's unconditional successor, used when the
// node has no router.
type Edge struct {
	From  string
	Label string
	To    string
}
