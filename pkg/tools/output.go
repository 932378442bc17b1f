package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for
// English text. Used for threshold estimation only — not exact counting.
const charsPerToken = 4

// DefaultResultMaxTokens bounds a single tool result fed back into the
// reasoning context. Protects the context window from massive log dumps.
const DefaultResultMaxTokens = 8000

// EstimateTokens returns an approximate token count for the given text
// using the ~4 characters per token heuristic. len(text) counts bytes,
// so multi-byte content overestimates — the safe direction for a limit.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateResult cuts tool output to maxTokens estimated tokens,
// preferring the last newline before the limit so indented JSON, YAML,
// or log output keeps its logical line boundaries.
func TruncateResult(content string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	// Don't split a multi-byte UTF-8 character
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: output exceeded result limit — original size: %s, limit: %s]",
		formatSize(len(content)), formatSize(maxChars))
}

// formatSize returns a human-readable size string. Uses bytes under 1KB
// to avoid confusing "0KB" output on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
