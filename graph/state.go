package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a node's delta into the previous state.
type Reducer[S any] func(prev, delta S) S

// Replace is a Reducer for nodes that return the whole next state as their
// delta.
func Replace[S any](_, delta S) S {
	return delta
}

// deepCopy creates a deep copy of state S using JSON round-trip serialization.
//
// Unexported struct fields are not copied, and values that do not marshal
// to JSON (channels, functions) make the copy fail.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
