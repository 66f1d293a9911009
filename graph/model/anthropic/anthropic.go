// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/storygraph/graph/model"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// defaultMaxTokens is sent when Config.MaxTokens is zero; the Messages API
// requires a value.
const defaultMaxTokens = 4096

// Config configures the Anthropic adapter.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatModel implements model.ChatModel for Anthropic's API.
//
// System messages are lifted into the request's system field; the
// remaining turns are sent in order.
type ChatModel struct {
	cfg    Config
	client anthropicClient
}

type anthropicClient interface {
	createMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// NewChatModel creates a new Anthropic ChatModel.
func NewChatModel(cfg Config) *ChatModel {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &ChatModel{cfg: cfg, client: newDefaultClient(cfg.APIKey)}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if m.cfg.APIKey == "" {
		return model.ChatOut{}, fmt.Errorf("%w: Anthropic API key is required", model.ErrMissingCredentials)
	}

	resp, err := m.client.createMessage(ctx, m.buildParams(messages))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text: text.String(),
		Usage: model.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func (m *ChatModel) buildParams(messages []model.Message) sdk.MessageNewParams {
	system, turns := model.SplitSystem(messages)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.cfg.Model),
		MaxTokens: int64(m.cfg.MaxTokens),
		Messages:  make([]sdk.MessageParam, 0, len(turns)),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if m.cfg.Temperature != 0 {
		params.Temperature = sdk.Float(m.cfg.Temperature)
	}
	for _, turn := range turns {
		block := sdk.NewTextBlock(turn.Content)
		if turn.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	return params
}

// defaultClient wraps the official anthropic-sdk-go client.
type defaultClient struct {
	client sdk.Client
}

func newDefaultClient(apiKey string) *defaultClient {
	return &defaultClient{client: sdk.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))}
}

func (c *defaultClient) createMessage(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return c.client.Messages.New(ctx, params)
}
