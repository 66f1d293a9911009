package novel

import (
	"context"
	"math"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	opts := []DecisionOption{{ID: "proceed"}, {ID: "retry"}}
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		options []DecisionOption
		dc      DecisionContext
		want    string
		ok      bool
	}{
		{"no options", nil, DecisionContext{}, "", false},
		{"default picks first", opts, DecisionContext{Type: DecisionOutline}, "proceed", true},
		{"score meets threshold", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(7), Threshold: f(7), Operator: ">="}, "proceed", true},
		{"score below threshold", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(6.9), Threshold: f(7), Operator: ">="}, "retry", true},
		{"strict greater", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(7), Threshold: f(7), Operator: ">"}, "retry", true},
		{"less or equal", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(3), Threshold: f(7), Operator: "<="}, "proceed", true},
		{"less", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(8), Threshold: f(7), Operator: "<"}, "retry", true},
		{"equal", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(7), Threshold: f(7), Operator: "=="}, "proceed", true},
		{"not equal", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(7), Threshold: f(7), Operator: "!="}, "retry", true},
		{"unknown operator falls back", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(1), Threshold: f(7), Operator: "~"}, "proceed", true},
		{"missing score falls back", opts, DecisionContext{Mode: ModeScoreThreshold, Threshold: f(7), Operator: ">="}, "proceed", true},
		{"NaN falls back", opts, DecisionContext{Mode: ModeScoreThreshold, Score: f(math.NaN()), Threshold: f(7), Operator: ">="}, "proceed", true},
		{"one option falls back", opts[1:], DecisionContext{Mode: ModeScoreThreshold, Score: f(1), Threshold: f(7), Operator: ">="}, "retry", true},
	}

	p := DefaultPolicy{Logger: quietLogger()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Decide(tt.options, tt.dc)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if got.ID != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.ID)
			}
		})
	}
}

func TestPolicyFrom(t *testing.T) {
	if _, ok := PolicyFrom(context.Background()).(DefaultPolicy); !ok {
		t.Error("expected DefaultPolicy when none is attached")
	}

	last := PolicyFunc(func(options []DecisionOption, _ DecisionContext) (DecisionOption, bool) {
		if len(options) == 0 {
			return DecisionOption{}, false
		}
		return options[len(options)-1], true
	})
	ctx := WithPolicy(context.Background(), last)
	got, _ := PolicyFrom(ctx).Decide([]DecisionOption{{ID: "0"}, {ID: "1"}}, DecisionContext{})
	if got.ID != "1" {
		t.Errorf("expected attached policy to pick 1, got %s", got.ID)
	}
}

func TestController_CustomPolicy(t *testing.T) {
	h := newHarness(t, Deps{})
	id := h.submit(t, JobConfig{Chapters: 1, AutoMode: true})

	last := PolicyFunc(func(options []DecisionOption, dc DecisionContext) (DecisionOption, bool) {
		if dc.Mode == ModeScoreThreshold {
			return DefaultPolicy{}.Decide(options, dc)
		}
		return options[len(options)-1], true
	})
	if _, err := h.ctrl.Run(context.Background(), id, last); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s := h.state(t, id)
	if s.SelectedOutline != s.OutlineOptions[len(s.OutlineOptions)-1] {
		t.Errorf("expected last outline selected, got %q", s.SelectedOutline)
	}
}
