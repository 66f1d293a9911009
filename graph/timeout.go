package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// runNode executes one node, bounding it by timeout when positive.
//
// A node that overruns its deadline and returns an error fails with a
// NODE_TIMEOUT EngineError. A node that returns a result without an error
// after its deadline has recovered on its own, so the result is kept. The
// error does not wrap context.DeadlineExceeded so callers can tell it from
// an expired run context.
func runNode[S any](ctx context.Context, node Node[S], nodeID string, state S, timeout time.Duration) NodeResult[S] {
	if timeout <= 0 {
		return node.Run(ctx, state)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(nodeCtx, state)
	if result.Err != nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return NodeResult[S]{Err: &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}}
	}
	return result
}
