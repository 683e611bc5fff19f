// Package llm defines the Provider interface for the language-model
// backends that generate meeting summaries.
//
// A provider wraps a remote or local chat-completion API (OpenAI, or
// anything any-llm-go can reach) behind a single blocking Complete
// call. Summaries are one-shot requests; no streaming or tool calling
// is exposed.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
package llm

import "context"

// Message is one turn of a chat-completion request.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything the model needs to produce a completion.
type Request struct {
	// System is an optional high-priority instruction injected before
	// Messages.
	System string

	// Messages is the ordered conversation. Must be non-empty.
	Messages []Message

	// Temperature controls output randomness in [0, 2]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONOnly asks the model to emit a single JSON object. Providers
	// with a native JSON mode enable it; others rely on the prompt and
	// callers must still validate the output.
	JSONOnly bool
}

// Usage holds token accounting returned by the backend, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the model's completed reply.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	// Zero when the backend does not report it.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and blocks until the full response arrives or
	// ctx expires.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backend in logs and metrics (e.g. "openai").
	Name() string
}
