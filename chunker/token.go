package chunker

// Tokens approximates the token count of |s| at four bytes per token,
// rounded up. Close enough for sizing chunks against model context
// windows without binding to a specific tokenizer.
func Tokens(s string) int {
	return (len(s) + 3) / 4
}

// maxChars is the largest byte length whose approximate token count
// still fits within |tokens|.
func maxChars(tokens int) int {
	return tokens*4 - 3
}
