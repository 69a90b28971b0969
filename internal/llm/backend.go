// Package llm provides the model-backend client used for chat completions
// and text embeddings. The engine treats the backend as two functions —
// complete and embed — behind the Backend interface, so stubs can replace
// the network client in tests.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the model backend cannot be reached or
// reports a server-side failure. Callers map it to a retryable
// service-unavailable response instead of treating it as a permanent error.
var ErrUnavailable = errors.New("llm: backend unavailable")

// Message is a single turn in the chat history sent to the model.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// Completion is the result of a single chat-completion call.
type Completion struct {
	// Text is the model's reply.
	Text string
	// PromptTokens is the token count of the full input (history + prompt)
	// as reported by the backend. Zero when the backend does not report it.
	PromptTokens int
	// CompletionTokens is the token count of the generated reply.
	CompletionTokens int
}

// Backend is the contract the core consumes from the language-model service.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Complete sends prompt as the final user message, preceded by history,
	// and returns the model's reply with token usage.
	Complete(ctx context.Context, prompt string, history []Message, model string) (Completion, error)

	// Embed produces a vector embedding for the given text.
	Embed(ctx context.Context, text string, model string) ([]float32, error)
}
