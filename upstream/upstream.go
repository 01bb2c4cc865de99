// Package upstream defines the Provider interface for the LLM backend the
// engine calls on a cache miss, plus shared request/response types and the
// error taxonomy used by the retry layer.
//
// Core types: Request, Response, Message, Usage. OpenAI is the bundled
// Provider implementation; Retrier wraps any Provider with bounded retry,
// exponential backoff with jitter, and a circuit breaker.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Provider is the LLM backend called on a cache miss.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	SupportsModel(model string) bool
}

// Embedder produces the embedding vector for a normalized prompt string.
// Vectors returned for the same embedding model must share a fixed
// dimensionality; the semantic index enforces this per namespace.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float64, error)
}

// Message represents a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. Fields map to the OpenAI Chat
// Completions API so any OpenAI-compatible client works unchanged.
type Request struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate returns an error if the request is missing required fields or
// contains out-of-range parameter values.
func (r Request) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	return nil
}

// Response is a chat completion response in the OpenAI envelope.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage carries token consumption statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrUnavailable is returned when the provider's circuit breaker is open and
// new calls are short-circuited without reaching the provider.
var ErrUnavailable = errors.New("upstream unavailable")

// Error is a classified upstream failure. Temporary errors are retried by
// the Retrier; permanent ones fail the call immediately.
type Error struct {
	Provider  string
	Status    int
	Message   string
	Temporary bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Transient reports whether err is worth retrying: a Temporary *Error,
// a deadline expiry, or a network timeout.
func Transient(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Temporary
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
