package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/quarry-ai/quarry/provider"
)

// breakpointPercentile selects the similarity threshold: the lowest
// quartile of successive-sentence similarities marks topic shifts.
const breakpointPercentile = 25

// Semantic groups sentences into blocks by embedding similarity, then
// recursive-splits each block to honour the token budget. Boundary
// detection embeds every sentence and therefore consumes rate-limit
// slots.
type Semantic struct {
	opts      Options
	emb       provider.Embeddings
	recursive *Recursive
}

func NewSemantic(opts Options, emb provider.Embeddings) *Semantic {
	opts = opts.withDefaults()
	return &Semantic{opts: opts, emb: emb, recursive: NewRecursive(opts)}
}

func (s *Semantic) Chunk(ctx context.Context, doc Document) ([]Chunk, error) {
	var sentences = splitSentences(doc.Text)
	if len(sentences) < 3 {
		return s.recursive.Chunk(ctx, doc)
	}

	var vecs, err = s.emb.EmbedDocuments(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embedding sentences for boundary detection: %w", err)
	}

	var sims = make([]float64, len(sentences)-1)
	for i := range sims {
		sims[i] = cosine(vecs[i], vecs[i+1])
	}
	var threshold = percentile(sims, breakpointPercentile)

	// A breakpoint opens a new block where similarity to the previous
	// sentence drops below the threshold.
	var blocks []string
	var cur strings.Builder
	cur.WriteString(sentences[0])
	for i := 1; i != len(sentences); i++ {
		if sims[i-1] < threshold {
			blocks = append(blocks, cur.String())
			cur.Reset()
		} else {
			cur.WriteString(" ")
		}
		cur.WriteString(sentences[i])
	}
	blocks = append(blocks, cur.String())

	var texts []string
	for _, block := range blocks {
		if Tokens(block) <= s.opts.ChunkSize {
			texts = append(texts, block)
		} else {
			texts = append(texts, s.recursive.splitText(block)...)
		}
	}
	return assemble(doc, texts, nil), nil
}

// splitSentences breaks text at sentence-final punctuation and newlines.
func splitSentences(text string) []string {
	var out []string
	var start = 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
				continue
			}
		case '\n':
		default:
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func percentile(values []float64, p int) float64 {
	var sorted = append([]float64(nil), values...)
	sort.Float64s(sorted)
	var idx = len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
