// Package openai adapts the OpenAI chat completions API (and compatible
// local servers) to model.ChatModel.
package openai

import (
	"context"
	"fmt"

	"github.com/dshills/storygraph/graph/model"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config configures the OpenAI adapter.
type Config struct {
	APIKey string

	// Model name, e.g. "gpt-4o". Empty uses DefaultModel.
	Model string

	// BaseURL points at an OpenAI-compatible server (vLLM, Ollama, ...).
	// Empty uses the public API.
	BaseURL string

	// MaxTokens caps the completion length. Zero leaves it to the server.
	MaxTokens int

	// Temperature is sent when non-zero.
	Temperature float64
}

// ChatModel implements model.ChatModel for OpenAI's API.
//
// Example usage:
//
//	m := openai.NewChatModel(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY"), Model: "gpt-4o"})
//	out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Hello"}})
type ChatModel struct {
	cfg    Config
	client openaiClient
}

// openaiClient is the slice of the SDK the adapter needs; tests replace it.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
}

// NewChatModel creates a new OpenAI ChatModel. A missing API key is only
// reported when Chat is called, unless BaseURL is set (local servers often
// need no key).
func NewChatModel(cfg Config) *ChatModel {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &ChatModel{cfg: cfg, client: newDefaultClient(cfg)}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if m.cfg.APIKey == "" && m.cfg.BaseURL == "" {
		return model.ChatOut{}, fmt.Errorf("%w: OpenAI API key is required", model.ErrMissingCredentials)
	}

	resp, err := m.client.createChatCompletion(ctx, m.buildParams(messages))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.ChatOut{}, fmt.Errorf("openai: %w", model.ErrEmptyResponse)
	}

	return model.ChatOut{
		Text: resp.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (m *ChatModel) buildParams(messages []model.Message) sdk.ChatCompletionNewParams {
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.cfg.Model),
		Messages: convertMessages(messages),
	}
	if m.cfg.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(m.cfg.MaxTokens))
	}
	if m.cfg.Temperature != 0 {
		params.Temperature = sdk.Float(m.cfg.Temperature)
	}
	return params
}

func convertMessages(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

// defaultClient wraps the official openai-go SDK client.
type defaultClient struct {
	client sdk.Client
}

func newDefaultClient(cfg Config) *defaultClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &defaultClient{client: sdk.NewClient(opts...)}
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
