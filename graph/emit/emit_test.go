package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSlogEmitter verifies events become structured log records.
func TestSlogEmitter(t *testing.T) {
	t.Run("job level event at info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
		NewSlogEmitter(logger).Emit(Event{
			RunID:  "job-1/1",
			NodeID: "select_outline",
			Msg:    "job paused",
			Meta:   map[string]interface{}{"decision_type": "outline_selection"},
		})

		var rec map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("expected JSON record, got %q: %v", buf.String(), err)
		}
		if rec["msg"] != "job paused" {
			t.Errorf("expected msg 'job paused', got %v", rec["msg"])
		}
		if rec["level"] != "INFO" {
			t.Errorf("expected level INFO, got %v", rec["level"])
		}
		if rec["decision_type"] != "outline_selection" {
			t.Errorf("expected decision_type attr, got %v", rec["decision_type"])
		}
	})

	t.Run("node completion is debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
		NewSlogEmitter(logger).Emit(Event{RunID: "job-1/1", Step: 3, NodeID: "draft_chapter", Msg: "node completed"})
		if buf.Len() != 0 {
			t.Errorf("expected debug record to be filtered at info level, got %q", buf.String())
		}
	})

	t.Run("errors at error level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		NewSlogEmitter(logger).Emit(Event{RunID: "r", Step: 2, Msg: "node failed", Meta: map[string]interface{}{"error": "boom"}})
		if !strings.Contains(buf.String(), "level=ERROR") {
			t.Errorf("expected ERROR level, got %q", buf.String())
		}
	})
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter(3)
	for i := 1; i <= 5; i++ {
		b.Emit(Event{RunID: "job-1/1", Step: i, NodeID: "n", Msg: "node completed"})
	}
	b.Emit(Event{RunID: "job-2/1", Step: 1, Msg: "node completed"})

	history := b.GetHistory("job-1/1")
	if len(history) != 3 {
		t.Fatalf("expected 3 events after trimming, got %d", len(history))
	}
	if history[0].Step != 3 {
		t.Errorf("expected oldest kept step 3, got %d", history[0].Step)
	}

	minStep := 5
	filtered := b.GetHistoryWithFilter("job-1/1", HistoryFilter{MinStep: &minStep})
	if len(filtered) != 1 || filtered[0].Step != 5 {
		t.Errorf("expected only step 5, got %+v", filtered)
	}

	if ids := b.RunIDs("job-1/"); len(ids) != 1 {
		t.Errorf("expected one run for job-1, got %v", ids)
	}

	b.Clear("job-1/1")
	if got := b.GetHistory("job-1/1"); len(got) != 0 {
		t.Errorf("expected cleared history, got %d events", len(got))
	}
	if got := b.GetHistory("job-2/1"); len(got) != 1 {
		t.Errorf("expected other run untouched, got %d events", len(got))
	}
}

func TestMultiEmitter(t *testing.T) {
	a := NewBufferedEmitter(0)
	b := NewBufferedEmitter(0)
	m := Multi(a, nil, b, NewNullEmitter())
	m.Emit(Event{RunID: "r", Msg: "x"})

	if len(a.GetHistory("r")) != 1 || len(b.GetHistory("r")) != 1 {
		t.Error("expected event delivered to both buffered emitters")
	}
}

func TestOTelEmitter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := NewOTelEmitter(tp.Tracer("test"))
	e.Emit(Event{RunID: "job-1/1", Step: 2, NodeID: "draft_chapter", Msg: "node completed",
		Meta: map[string]interface{}{"duration_ms": int64(40), "label": "proceed"}})
	e.Emit(Event{RunID: "job-1/1", Step: 3, NodeID: "score_chapter_quality", Msg: "node failed",
		Meta: map[string]interface{}{"error": "scorer down"}})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	first := spans[0]
	if first.Name != "node completed" {
		t.Errorf("expected span name 'node completed', got %q", first.Name)
	}
	if d := first.EndTime.Sub(first.StartTime); d.Milliseconds() != 40 {
		t.Errorf("expected 40ms span, got %v", d)
	}
	found := false
	for _, attr := range first.Attributes {
		if string(attr.Key) == "storygraph.node_id" && attr.Value.AsString() == "draft_chapter" {
			found = true
		}
	}
	if !found {
		t.Error("expected storygraph.node_id attribute")
	}

	if spans[1].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[1].Status.Code)
	}
}
