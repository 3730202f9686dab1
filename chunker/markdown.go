package chunker

import (
	"context"
	"strings"
)

// Markdown splits at #, ##, and ### heading boundaries. Chunks inherit
// the nearest heading under the "heading" metadata key; oversized
// sections fall back to the recursive splitter.
type Markdown struct {
	opts      Options
	recursive *Recursive
}

func NewMarkdown(opts Options) *Markdown {
	opts = opts.withDefaults()
	return &Markdown{opts: opts, recursive: NewRecursive(opts)}
}

type section struct {
	heading string
	text    string
}

func (m *Markdown) Chunk(_ context.Context, doc Document) ([]Chunk, error) {
	var texts []string
	var extra []map[string]string

	for _, sec := range splitMarkdown(doc.Text) {
		for _, text := range m.sized(sec.text) {
			texts = append(texts, text)
			if sec.heading != "" {
				extra = append(extra, map[string]string{"heading": sec.heading})
			} else {
				extra = append(extra, nil)
			}
		}
	}
	return assemble(doc, texts, extra), nil
}

// sized returns the section as-is when it fits, or recursive splits.
func (m *Markdown) sized(text string) []string {
	if Tokens(text) <= m.opts.ChunkSize {
		return []string{text}
	}
	return m.recursive.splitText(text)
}

// splitMarkdown breaks text into sections at h1-h3 heading lines. Text
// before the first heading forms a headingless section.
func splitMarkdown(text string) []section {
	var sections []section
	var cur section

	var flush = func() {
		if strings.TrimSpace(cur.text) != "" {
			sections = append(sections, cur)
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if h, ok := headingLine(line); ok {
			flush()
			cur = section{heading: h, text: line}
			continue
		}
		cur.text += line
	}
	flush()
	return sections
}

// headingLine reports whether |line| is a markdown h1-h3 heading and
// returns its text.
func headingLine(line string) (string, bool) {
	var trimmed = strings.TrimLeft(line, "#")
	var level = len(line) - len(trimmed)

	if level < 1 || level > 3 || !strings.HasPrefix(trimmed, " ") {
		return "", false
	}
	return strings.TrimSpace(trimmed), true
}
