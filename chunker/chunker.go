// Package chunker splits documents into token-bounded chunks. Four
// strategies are available: recursive (separator back-off), markdown and
// html (structural, heading-aware), and semantic (embedding-guided
// breakpoints). Every produced chunk fits within the configured token
// budget.
package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/quarry-ai/quarry/provider"
)

// Document is an input to be chunked.
type Document struct {
	Source string
	Text   string
	Attrs  map[string]string
}

// Chunk is an ordered fragment of one Document.
type Chunk struct {
	Text     string
	Source   string
	Index    int
	Tokens   int
	Metadata map[string]string
}

// Chunker turns a document into an ordered sequence of chunks.
type Chunker interface {
	Chunk(ctx context.Context, doc Document) ([]Chunk, error)
}

// Options bound chunk sizes, measured in tokens.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 2
	}
	return o
}

// New builds the chunker named by |strategy|. The semantic strategy
// requires an embeddings adapter; the others ignore it.
func New(strategy string, opts Options, emb provider.Embeddings) (Chunker, error) {
	switch strategy {
	case "recursive":
		return NewRecursive(opts), nil
	case "markdown":
		return NewMarkdown(opts), nil
	case "html":
		return NewHTML(opts), nil
	case "semantic":
		if emb == nil {
			return nil, fmt.Errorf("semantic chunking requires an embeddings adapter")
		}
		return NewSemantic(opts, emb), nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q (expected recursive, semantic, markdown, or html)", strategy)
	}
}

// assemble builds Chunks from split texts, carrying document attributes
// plus |extra| per-chunk metadata (parallel to |texts|; may be nil).
func assemble(doc Document, texts []string, extra []map[string]string) []Chunk {
	var chunks = make([]Chunk, 0, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		var md = make(map[string]string, len(doc.Attrs)+1)
		for k, v := range doc.Attrs {
			md[k] = v
		}
		if extra != nil {
			for k, v := range extra[i] {
				md[k] = v
			}
		}
		chunks = append(chunks, Chunk{
			Text:     text,
			Source:   doc.Source,
			Index:    len(chunks),
			Tokens:   Tokens(text),
			Metadata: md,
		})
	}
	return chunks
}
