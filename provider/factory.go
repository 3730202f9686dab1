package provider

import (
	"context"
	"fmt"

	"github.com/quarry-ai/quarry/ratelimit"
)

// Settings carries the credentials and model names the factory selects from.
type Settings struct {
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIEmbeddingModel string

	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	EmbeddingDimensions int
}

// NewEmbeddings builds the embeddings adapter named by |name| ("openai" or
// "gemini").
func NewEmbeddings(ctx context.Context, name string, s Settings, limiter *ratelimit.Limiter) (Embeddings, error) {
	switch name {
	case "openai":
		return NewOpenAIEmbeddings(s.OpenAIAPIKey, s.OpenAIEmbeddingModel, s.EmbeddingDimensions, limiter), nil
	case "gemini":
		return NewGeminiEmbeddings(ctx, s.GeminiAPIKey, s.GeminiEmbeddingModel, s.EmbeddingDimensions, limiter)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (expected openai or gemini)", name)
	}
}

// NewChat builds the chat adapter named by |name| ("openai" or "gemini").
func NewChat(ctx context.Context, name string, s Settings, limiter *ratelimit.Limiter) (Chat, error) {
	switch name {
	case "openai":
		return NewOpenAIChat(s.OpenAIAPIKey, s.OpenAIModel, limiter), nil
	case "gemini":
		return NewGeminiChat(ctx, s.GeminiAPIKey, s.GeminiModel, limiter)
	default:
		return nil, fmt.Errorf("unknown chat provider %q (expected openai or gemini)", name)
	}
}
