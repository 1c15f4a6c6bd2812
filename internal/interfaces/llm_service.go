package interfaces

import "context"

// Message is one turn sent to an LLM provider.
type Message struct {
	Role    string
	Content string
}

// LLMService abstracts a chat-completion provider. Implementations return
// the assistant text verbatim; callers own parsing and fence stripping.
type LLMService interface {
	// Chat sends the ordered messages and returns the assistant reply.
	Chat(ctx context.Context, messages []Message) (string, error)

	// HealthCheck verifies the provider is reachable and credentialed.
	HealthCheck(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}
