package google

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/storygraph/graph/model"
	"github.com/google/generative-ai-go/genai"
)

type fakeClient struct {
	system  string
	history []*genai.Content
	last    genai.Part
	resp    *genai.GenerateContentResponse
	err     error
}

func (f *fakeClient) generateContent(_ context.Context, system string, history []*genai.Content, last genai.Part) (*genai.GenerateContentResponse, error) {
	f.system, f.history, f.last = system, history, last
	return f.resp, f.err
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeClient{resp: &genai.GenerateContentResponse{
		Candidates:    []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("line one"), genai.Text("line two")}}}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 4},
	}}
	m := NewChatModel(Config{APIKey: "k"})
	m.client = fake

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "first"},
		{Role: model.RoleAssistant, Content: "reply"},
		{Role: model.RoleUser, Content: "second"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "line one\nline two" {
		t.Errorf("unexpected text %q", out.Text)
	}
	if fake.system != "sys" {
		t.Errorf("expected system instruction, got %q", fake.system)
	}
	if len(fake.history) != 2 || fake.history[1].Role != "model" {
		t.Errorf("expected user/model history, got %+v", fake.history)
	}
	if fake.last != genai.Text("second") {
		t.Errorf("expected last turn sent, got %v", fake.last)
	}
	if out.Usage.OutputTokens != 4 {
		t.Errorf("expected usage mapped, got %+v", out.Usage)
	}
}

func TestChatModel_Errors(t *testing.T) {
	if _, err := NewChatModel(Config{}).Chat(context.Background(), nil); !errors.Is(err, model.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}

	m := NewChatModel(Config{APIKey: "k"})
	m.client = &fakeClient{err: &genai.BlockedError{}}
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) {
		t.Errorf("expected SafetyFilterError, got %v", err)
	}
}
