package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter implements Emitter by writing one structured log record per
// event.
//
// Events carrying an "error" meta key are logged at Error level, pauses at
// Info, and routine node completions at Debug so a default Info logger shows
// the job's milestones without per-node noise.
//
// Example output (text handler):
//
//	level=INFO msg="job paused" run_id=7f3c.../2 step=0 node_id=select_outline decision_type=outline_selection
//
// Usage:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	emitter := emit.NewSlogEmitter(logger)
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates a SlogEmitter. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit writes the event to the logger.
func (l *SlogEmitter) Emit(event Event) {
	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs,
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
		slog.String("node_id", event.NodeID),
	)

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(context.Background(), levelFor(event), event.Msg, attrs...)
}

func levelFor(event Event) slog.Level {
	if _, ok := event.Meta["error"]; ok {
		return slog.LevelError
	}
	if event.Step == 0 {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
