package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests and offline runs.
//
// Resolution order per call: Handler when set, then Err, then the next
// entry of Responses (the last one repeats once the list is exhausted).
//
// Example:
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{{Text: "Title: One\nContent: ..."}},
//	}
//	gen := model.NewGenerator(mock, "You are a novelist.", model.RetryPolicy{MaxAttempts: 1})
type MockChatModel struct {
	// Responses is returned in order.
	Responses []ChatOut

	// Err, when set, is returned from every call.
	Err error

	// Handler computes the response from the messages.
	Handler func(messages []Message) (ChatOut, error)

	// Calls records every invocation.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single Chat invocation.
type MockChatCall struct {
	Messages []Message
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: append([]Message(nil), messages...)})

	if m.Handler != nil {
		return m.Handler(messages)
	}
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and rewinds the response list.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat invocations.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
