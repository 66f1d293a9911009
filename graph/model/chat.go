// Package model abstracts chat-style text generation services and adapts
// them to the plain prompt-in, text-out contract the pipeline consumes.
package model

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMissingCredentials marks a setup error: the provider cannot be called
// at all because required configuration is absent. Callers treat it as
// fatal rather than retrying or substituting a fallback.
var ErrMissingCredentials = errors.New("missing credentials")

// ChatModel is a chat completion backend.
//
// Implementations must honour ctx cancellation and must not retry
// internally; retries belong to RetryPolicy so they are observable.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a model response.
type ChatOut struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// SplitSystem separates system messages (joined by blank lines) from the
// conversational turns, for providers that take the system prompt apart.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// IsTransient reports whether err looks like a temporary provider failure
// worth retrying: rate limits, timeouts, connection resets and 5xx.
// Setup errors and cancellations are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msgLower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"network",
		"connection",
		"temporary",
		"rate limit",
		"rate_limit",
		"429",
		"500",
		"502",
		"503",
		"529",
		"overloaded",
	} {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err is a provider authentication failure.
// These are setup errors as far as a job is concerned.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msgLower := strings.ToLower(err.Error())
	return strings.Contains(msgLower, "401") ||
		strings.Contains(msgLower, "403") ||
		strings.Contains(msgLower, "authentication") ||
		strings.Contains(msgLower, "invalid api key") ||
		strings.Contains(msgLower, "invalid_api_key")
}

// WithTimeout bounds every Chat call of m by d. A non-positive d returns m
// unchanged.
func WithTimeout(m ChatModel, d time.Duration) ChatModel {
	if d <= 0 {
		return m
	}
	return &timeoutModel{next: m, timeout: d}
}

type timeoutModel struct {
	next    ChatModel
	timeout time.Duration
}

func (t *timeoutModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Chat(ctx, messages)
}
