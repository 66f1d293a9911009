package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the model answered with no text.
var ErrEmptyResponse = errors.New("model returned empty response")

// Generator adapts a ChatModel to the prompt-in, text-out contract used by
// the pipeline's collaborators, adding a fixed system prompt and retries.
type Generator struct {
	model  ChatModel
	system string
	retry  RetryPolicy
}

// NewGenerator creates a Generator. An empty system prompt sends the user
// prompt alone. A zero RetryPolicy means a single attempt.
func NewGenerator(m ChatModel, system string, policy RetryPolicy) *Generator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Generator{model: m, system: system, retry: policy}
}

// GenerateText sends prompt and returns the trimmed response text.
//
// Authentication failures are reported as ErrMissingCredentials so callers
// can treat them as setup errors.
func (g *Generator) GenerateText(ctx context.Context, prompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if g.system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: g.system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	var text string
	err := g.retry.Do(ctx, func() error {
		out, err := g.model.Chat(ctx, messages)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out.Text)
		if text == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		if IsAuthError(err) && !errors.Is(err, ErrMissingCredentials) {
			return "", fmt.Errorf("%w: %v", ErrMissingCredentials, err)
		}
		return "", err
	}
	return text, nil
}
