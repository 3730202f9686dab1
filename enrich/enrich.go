// Package enrich asks a chat model for per-chunk metadata: a short
// summary, keywords, topic, complexity, entities, and sentiment. The
// model's output is parsed defensively; a chunk that cannot be enriched
// gets empty metadata rather than failing its upload.
package enrich

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/quarry-ai/quarry/chunker"
	"github.com/quarry-ai/quarry/provider"
)

// Metadata is the structured enrichment of one chunk. Zero values mean
// the field was absent or enrichment was skipped.
type Metadata struct {
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Topic      string   `json:"topic"`
	Complexity string   `json:"complexity"`
	Entities   []string `json:"entities"`
	Sentiment  string   `json:"sentiment"`
}

// excerptLimit bounds how much chunk text is sent to the model. The
// head of a chunk is enough signal for summary-level metadata.
const excerptLimit = 1000

const systemPrompt = `You are a document analyst. Respond with a single JSON object and nothing else.`

const userPromptTemplate = `Analyze the following text and return JSON with exactly these keys:
- "summary": one or two sentences.
- "keywords": up to 5 keywords.
- "topic": the main topic, a few words.
- "complexity": one of "simple", "medium", "complex".
- "entities": named people, organizations, places, products.
- "sentiment": one of "positive", "neutral", "negative".

Text:
`

// Enricher derives Metadata from chunks via a chat adapter.
type Enricher struct {
	chat provider.Chat
}

func New(chat provider.Chat) *Enricher {
	return &Enricher{chat: chat}
}

// Enrich analyzes one chunk. A provider failure propagates (the caller
// decides whether to degrade); a malformed response degrades here to
// empty metadata with a warning.
func (e *Enricher) Enrich(ctx context.Context, chunk chunker.Chunk) (Metadata, error) {
	var excerpt = chunk.Text
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit]
	}

	var text, err = e.chat.Complete(ctx, provider.CompletionRequest{
		System:      systemPrompt,
		User:        userPromptTemplate + excerpt,
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return Metadata{}, err
	}

	var md, ok = parseMetadata(text)
	if !ok {
		log.WithFields(log.Fields{
			"source": chunk.Source,
			"chunk":  chunk.Index,
		}).Warn("unparsable enrichment response; using empty metadata")
		return Metadata{}, nil
	}
	return md, nil
}

// parseMetadata extracts and decodes a JSON object from model output,
// tolerating code fences and surrounding prose.
func parseMetadata(text string) (Metadata, bool) {
	var start = strings.IndexByte(text, '{')
	var end = strings.LastIndexByte(text, '}')
	if start == -1 || end <= start {
		return Metadata{}, false
	}

	var md Metadata
	if err := json.Unmarshal([]byte(text[start:end+1]), &md); err != nil {
		return Metadata{}, false
	}
	md.Complexity = normalizeComplexity(md.Complexity)
	return md, true
}

func normalizeComplexity(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "simple":
		return "simple"
	case "complex":
		return "complex"
	case "medium", "moderate":
		return "medium"
	case "":
		return ""
	default:
		return "medium"
	}
}
