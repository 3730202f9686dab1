package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarry-ai/quarry/ratelimit"
)

func TestFactorySelectsOpenAI(t *testing.T) {
	var s = Settings{
		OpenAIAPIKey:         "sk-test",
		OpenAIModel:          "gpt-4o-mini",
		OpenAIEmbeddingModel: "text-embedding-3-small",
		EmbeddingDimensions:  768,
	}
	var limiter = ratelimit.New(60)

	var emb, err = NewEmbeddings(context.Background(), "openai", s, limiter)
	require.NoError(t, err)
	require.IsType(t, &OpenAIEmbeddings{}, emb)
	require.Equal(t, 768, emb.Dimension())

	chat, err := NewChat(context.Background(), "openai", s, limiter)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", chat.Model())
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	var limiter = ratelimit.New(60)

	var _, err = NewEmbeddings(context.Background(), "anthropic", Settings{}, limiter)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown embeddings provider")

	_, err = NewChat(context.Background(), "", Settings{}, limiter)
	require.Error(t, err)
}
