// Package chat assembles token-budgeted chapter context and orchestrates
// chat turns against an LLM provider.
package chat

import "strings"

// CountTokens returns the deterministic token count of text. Tokens are
// whitespace-separated words, which keeps budgets provider-independent and
// reproducible across turns.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
