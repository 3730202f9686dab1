package qa

import "strings"

// Query types select both the retrieval strategy and the prompt.
const (
	QueryGeneral  = "general"
	QueryResearch = "research"
	QuerySpecific = "specific"
	QueryComplex  = "complex"
)

// normalizeQueryType maps unknown types to general.
func normalizeQueryType(qt string) string {
	switch qt {
	case QueryResearch, QuerySpecific, QueryComplex:
		return qt
	default:
		return QueryGeneral
	}
}

const systemPrompt = `You are a helpful assistant answering questions about uploaded documents. Answer using only the provided context.`

var promptTemplates = map[string]string{
	QueryGeneral: `Use the following context to answer the question. If the context does not contain the answer, say that you don't know rather than guessing.

Context:
{context}

Question: {question}

Answer:`,

	QueryResearch: `You are assisting with research. Using only the context below, give a comprehensive answer that synthesizes information across sources. Mention which sources support each point. If the context is insufficient, say what is missing.

Context:
{context}

Question: {question}

Answer:`,

	QuerySpecific: `Answer the question with the exact details found in the context below: names, numbers, dates, and definitions. Do not generalize or add information that is not present. If the detail is not in the context, say so.

Context:
{context}

Question: {question}

Answer:`,

	QueryComplex: `The question below may have several parts. Break it down, address each part using only the context, and then give a combined conclusion. If a part cannot be answered from the context, say so for that part.

Context:
{context}

Question: {question}

Answer:`,
}

// renderPrompt fills the template for |queryType| (already normalized).
func renderPrompt(queryType, contextText, question string) string {
	var tpl = promptTemplates[queryType]
	tpl = strings.ReplaceAll(tpl, "{context}", contextText)
	return strings.ReplaceAll(tpl, "{question}", question)
}

// buildContext concatenates retrieved chunk texts with source markers.
func buildContext(hits []retrieved) string {
	if len(hits) == 0 {
		return "(no documents retrieved)"
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[Source: ")
		b.WriteString(h.source)
		b.WriteString("]\n")
		b.WriteString(h.text)
	}
	return b.String()
}
