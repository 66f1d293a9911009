package graph

import (
	"errors"
	"time"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(reducer, store, emitter,
//	    graph.WithMaxSteps(500),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits a single run to n node executions.
//
// Loops in the edge table are legal; MaxSteps is the backstop for a loop
// whose exit condition never fires. When exceeded, the run returns an
// EngineError with code "MAX_STEPS_EXCEEDED".
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return errors.New("max steps must be >= 0")
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithNodeTimeout bounds every node execution by d. A node that overruns
// fails the run with an EngineError of code "NODE_TIMEOUT".
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("node timeout must be >= 0")
		}
		cfg.opts.NodeTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus node latency metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}

// WithOptions applies a whole Options struct.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		return nil
	}
}
