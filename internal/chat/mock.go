package chat

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a deterministic in-process provider for tests and for
// running the server without an API key.
type MockProvider struct {
	mu    sync.Mutex
	calls [][]Message

	// Reply, when set, is returned verbatim. Otherwise the reply echoes
	// the last user message.
	Reply string

	// Err, when set, is returned from every Generate call.
	Err error
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return fmt.Sprintf("You said: %s", messages[i].Content), nil
		}
	}
	return "Hello.", nil
}

// Calls returns a copy of every conversation the provider has seen.
func (m *MockProvider) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
