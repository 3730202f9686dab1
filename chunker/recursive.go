package chunker

import (
	"context"
	"strings"
	"unicode/utf8"
)

// defaultSeparators are tried in order, from coarse structure down to a
// hard byte split.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Recursive splits text by a descending list of separators, backing off
// to finer separators for oversized pieces, then merges pieces into
// chunks with a token-overlap carry-over.
type Recursive struct {
	opts       Options
	separators []string
}

func NewRecursive(opts Options) *Recursive {
	return &Recursive{opts: opts.withDefaults(), separators: defaultSeparators}
}

func (r *Recursive) Chunk(_ context.Context, doc Document) ([]Chunk, error) {
	return assemble(doc, r.splitText(doc.Text), nil), nil
}

// splitText returns merged chunk texts, each within the token budget.
func (r *Recursive) splitText(text string) []string {
	return r.merge(r.split(text, r.separators))
}

// split recursively breaks |text| into pieces no larger than ChunkSize
// tokens, preferring the coarsest separator that applies.
func (r *Recursive) split(text string, separators []string) []string {
	if Tokens(text) <= r.opts.ChunkSize {
		return []string{text}
	}

	var sep = separators[0]
	if sep == "" {
		return r.hardSplit(text)
	}

	var parts = strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		// Separator absent; back off to the next one.
		return r.split(text, separators[1:])
	}

	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if Tokens(part) <= r.opts.ChunkSize {
			out = append(out, part)
		} else {
			out = append(out, r.split(part, separators[1:])...)
		}
	}
	return out
}

// hardSplit cuts oversized text as a last resort, backing each cut up
// to the nearest rune boundary so no chunk holds a torn rune.
func (r *Recursive) hardSplit(text string) []string {
	var limit = maxChars(r.opts.ChunkSize)
	var out []string
	for len(text) > limit {
		var cut = limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// merge greedily packs pieces into chunks up to ChunkSize tokens,
// retaining a ChunkOverlap-token suffix of each chunk as the prefix of
// the next.
func (r *Recursive) merge(pieces []string) []string {
	var chunks []string
	var window []string
	var total int

	for _, piece := range pieces {
		var pt = Tokens(piece)

		if total+pt > r.opts.ChunkSize && len(window) > 0 {
			chunks = append(chunks, strings.Join(window, ""))

			// Shrink to the overlap suffix, and further if the incoming
			// piece still would not fit.
			for len(window) > 0 && (total > r.opts.ChunkOverlap || total+pt > r.opts.ChunkSize) {
				total -= Tokens(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += pt
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}
