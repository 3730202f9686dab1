// Package provider adapts pluggable LLM backends behind two small
// capability interfaces: Embeddings and Chat. Adapters are rate-limited
// through the shared limiter and retried with exponential backoff, so
// consumers never deal with provider-specific transport concerns.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Embeddings turns text into fixed-dimension vectors.
type Embeddings interface {
	// EmbedDocuments embeds a batch of texts. The adapter may split the
	// batch into several provider calls; each call consumes one rate-limit
	// slot.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension is the width of produced vectors.
	Dimension() int
}

// CompletionRequest is a single chat completion.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int // Zero means provider default.
}

// Chat produces a completion for a system + user prompt pair.
type Chat interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Model is the provider model identifier, reported in QA responses.
	Model() string
}

// ErrorKind classifies provider failures for callers deciding whether to
// degrade, retry at a higher level, or abort.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAuth
	KindBadRequest
	KindQuotaExceeded
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad-request"
	case KindQuotaExceeded:
		return "quota-exceeded"
	case KindUnavailable:
		return "unavailable"
	default:
		return "other"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError unwraps a provider Error from |err|, or returns nil.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
