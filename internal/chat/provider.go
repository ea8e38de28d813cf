package chat

import "context"

// Message is one entry in a provider conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates assistant replies from a conversation. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in logs and config.
	Name() string

	// Generate returns the assistant reply for the given messages.
	Generate(ctx context.Context, messages []Message) (string, error)
}
