package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/quarry-ai/quarry/ratelimit"
)

const openaiEmbedBatch = 100

// openaiStatus extracts the HTTP status from an openai-go error, or zero.
func openaiStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// OpenAIEmbeddings embeds text via the OpenAI embeddings API.
type OpenAIEmbeddings struct {
	client    openai.Client
	model     string
	dimension int
	limiter   *ratelimit.Limiter
}

// NewOpenAIEmbeddings builds an embeddings adapter for |model| producing
// vectors of |dimension| (text-embedding-3 models accept 256..3072).
func NewOpenAIEmbeddings(apiKey, model string, dimension int, limiter *ratelimit.Limiter) *OpenAIEmbeddings {
	return &OpenAIEmbeddings{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		dimension: dimension,
		limiter:   limiter,
	}
}

func (s *OpenAIEmbeddings) Dimension() int { return s.dimension }

func (s *OpenAIEmbeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out = make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += openaiEmbedBatch {
		var end = min(start+openaiEmbedBatch, len(texts))
		var vecs, err = s.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *OpenAIEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vecs, err = s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *OpenAIEmbeddings) embed(ctx context.Context, texts []string) (vecs [][]float32, _ error) {
	if err := s.limiter.Wait(ctx, "openai_embeddings"); err != nil {
		return nil, err
	}

	var err = withRetry(ctx, "openai", "embeddings", func() (int, error) {
		var resp, err = s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model:      openai.EmbeddingModel(s.model),
			Dimensions: openai.Int(int64(s.dimension)),
		})
		if err != nil {
			return openaiStatus(err), err
		}
		if len(resp.Data) != len(texts) {
			return 0, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}

		vecs = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			var v = make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				v[j] = float32(f)
			}
			vecs[i] = v
		}
		return 0, nil
	})
	countCall("openai", "embeddings", err)

	return vecs, err
}

// OpenAIChat completes prompts via the OpenAI chat completions API.
type OpenAIChat struct {
	client  openai.Client
	model   string
	limiter *ratelimit.Limiter
}

func NewOpenAIChat(apiKey, model string, limiter *ratelimit.Limiter) *OpenAIChat {
	return &OpenAIChat{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		limiter: limiter,
	}
}

func (s *OpenAIChat) Model() string { return s.model }

func (s *OpenAIChat) Complete(ctx context.Context, req CompletionRequest) (text string, _ error) {
	if err := s.limiter.Wait(ctx, "openai_chat"); err != nil {
		return "", err
	}

	var err = withRetry(ctx, "openai", "chat", func() (int, error) {
		var params = openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(req.System),
				openai.UserMessage(req.User),
			},
			Model:       openai.ChatModel(s.model),
			Temperature: openai.Float(float64(req.Temperature)),
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		var resp, err = s.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return openaiStatus(err), err
		}
		if len(resp.Choices) == 0 {
			return 0, fmt.Errorf("completion returned no choices")
		}
		text = resp.Choices[0].Message.Content
		return 0, nil
	})
	countCall("openai", "chat", err)

	return text, err
}
