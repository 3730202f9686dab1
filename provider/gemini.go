package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/quarry-ai/quarry/ratelimit"
)

const geminiEmbedBatch = 100

// geminiStatus extracts the HTTP status from a genai error, or zero.
func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// GeminiEmbeddings embeds text via the Gemini embedContent API.
type GeminiEmbeddings struct {
	client    *genai.Client
	model     string
	dimension int
	limiter   *ratelimit.Limiter
}

func NewGeminiEmbeddings(ctx context.Context, apiKey, model string, dimension int, limiter *ratelimit.Limiter) (*GeminiEmbeddings, error) {
	var client, err = genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEmbeddings{
		client:    client,
		model:     model,
		dimension: dimension,
		limiter:   limiter,
	}, nil
}

func (s *GeminiEmbeddings) Dimension() int { return s.dimension }

func (s *GeminiEmbeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out = make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += geminiEmbedBatch {
		var end = min(start+geminiEmbedBatch, len(texts))
		var vecs, err = s.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *GeminiEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vecs, err = s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *GeminiEmbeddings) embed(ctx context.Context, texts []string) (vecs [][]float32, _ error) {
	if err := s.limiter.Wait(ctx, "gemini_embeddings"); err != nil {
		return nil, err
	}

	var contents = make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var err = withRetry(ctx, "gemini", "embeddings", func() (int, error) {
		var resp, err = s.client.Models.EmbedContent(ctx, s.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(s.dimension)),
		})
		if err != nil {
			return geminiStatus(err), err
		}
		if len(resp.Embeddings) != len(texts) {
			return 0, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
		}

		vecs = make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			vecs[i] = e.Values
		}
		return 0, nil
	})
	countCall("gemini", "embeddings", err)

	return vecs, err
}

// GeminiChat completes prompts via the Gemini generateContent API.
type GeminiChat struct {
	client  *genai.Client
	model   string
	limiter *ratelimit.Limiter
}

func NewGeminiChat(ctx context.Context, apiKey, model string, limiter *ratelimit.Limiter) (*GeminiChat, error) {
	var client, err = genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiChat{client: client, model: model, limiter: limiter}, nil
}

func (s *GeminiChat) Model() string { return s.model }

func (s *GeminiChat) Complete(ctx context.Context, req CompletionRequest) (text string, _ error) {
	if err := s.limiter.Wait(ctx, "gemini_chat"); err != nil {
		return "", err
	}

	var cfg = &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var err = withRetry(ctx, "gemini", "chat", func() (int, error) {
		var resp, err = s.client.Models.GenerateContent(ctx, s.model, genai.Text(req.User), cfg)
		if err != nil {
			return geminiStatus(err), err
		}
		text = resp.Text()
		if text == "" {
			return 0, fmt.Errorf("completion returned no text")
		}
		return 0, nil
	})
	countCall("gemini", "chat", err)

	return text, err
}
