package chunker

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// HTML tokenizes markup, extracts text, and splits at h1-h3 boundaries.
// Chunks inherit the nearest heading under the "heading" metadata key.
type HTML struct {
	opts      Options
	recursive *Recursive
}

func NewHTML(opts Options) *HTML {
	opts = opts.withDefaults()
	return &HTML{opts: opts, recursive: NewRecursive(opts)}
}

func (h *HTML) Chunk(_ context.Context, doc Document) ([]Chunk, error) {
	var texts []string
	var extra []map[string]string

	for _, sec := range splitHTML(doc.Text) {
		for _, text := range h.sized(sec.text) {
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

func (h *HTML) sized(text string) []string {
	if Tokens(text) <= h.opts.ChunkSize {
		return []string{text}
	}
	return h.recursive.splitText(text)
}

func isHeadingTag(tag string) bool {
	return tag == "h1" || tag == "h2" || tag == "h3"
}

// splitHTML walks the token stream, accumulating visible text into
// sections delimited by h1-h3 elements. Script and style bodies are
// skipped.
func splitHTML(markup string) []section {
	var z = html.NewTokenizer(strings.NewReader(markup))

	var sections []section
	var cur section
	var heading strings.Builder
	var inHeading, skip bool

	var flush = func() {
		if strings.TrimSpace(cur.text) != "" {
			sections = append(sections, cur)
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return sections

		case html.StartTagToken:
			var name, _ = z.TagName()
			var tag = string(name)
			switch {
			case isHeadingTag(tag):
				flush()
				inHeading = true
				heading.Reset()
			case tag == "script" || tag == "style":
				skip = true
			case tag == "p" || tag == "br" || tag == "div" || tag == "li":
				cur.text += "\n"
			}

		case html.EndTagToken:
			var name, _ = z.TagName()
			var tag = string(name)
			switch {
			case isHeadingTag(tag):
				inHeading = false
				cur = section{heading: strings.TrimSpace(heading.String())}
				cur.text = cur.heading + "\n"
			case tag == "script" || tag == "style":
				skip = false
			}

		case html.TextToken:
			if skip {
				continue
			}
			var text = string(z.Text())
			if inHeading {
				heading.WriteString(text)
			} else {
				cur.text += text
			}
		}
	}
}
