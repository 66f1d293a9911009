// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/storygraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config configures the Gemini adapter.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// Safety filter blocks surface as *SafetyFilterError:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("content blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	cfg    Config
	client googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, system string, history []*genai.Content, last genai.Part) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a new Google ChatModel.
func NewChatModel(cfg Config) *ChatModel {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &ChatModel{cfg: cfg, client: &defaultClient{cfg: cfg}}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if m.cfg.APIKey == "" {
		return model.ChatOut{}, fmt.Errorf("%w: Google API key is required", model.ErrMissingCredentials)
	}

	system, turns := model.SplitSystem(messages)
	if len(turns) == 0 {
		return model.ChatOut{}, errors.New("google: at least one non-system message is required")
	}
	history := convertHistory(turns[:len(turns)-1])
	last := genai.Text(turns[len(turns)-1].Content)

	resp, err := m.client.generateContent(ctx, system, history, last)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return model.ChatOut{}, &SafetyFilterError{reason: "SAFETY", category: blocked.Error()}
		}
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp), nil
}

// convertHistory maps prior turns to Gemini's user/model roles.
func convertHistory(turns []model.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == model.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return out
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out
}

// defaultClient wraps the official Google Gemini SDK client. A client is
// created per call and closed afterwards.
type defaultClient struct {
	cfg Config
}

func (c *defaultClient) generateContent(ctx context.Context, system string, history []*genai.Content, last genai.Part) (*genai.GenerateContentResponse, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(c.cfg.Model)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if c.cfg.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(c.cfg.MaxTokens))
	}
	if c.cfg.Temperature != 0 {
		gm.SetTemperature(float32(c.cfg.Temperature))
	}

	session := gm.StartChat()
	session.History = history
	return session.SendMessage(ctx, last)
}

// SafetyFilterError represents a Google safety filter block.
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
