package conversation

import (
	"regexp"
	"strings"
)

const (
	maxTitleLen    = 50
	maxFallbackLen = 48
	fallbackWords  = 6
	DefaultTitle   = "New Chat"
)

var (
	titleQuotes      = regexp.MustCompile(`^["']|["']$`)
	titlePunctuation = regexp.MustCompile(`[.!?]+$`)
	titleWhitespace  = regexp.MustCompile(`\s+`)
)

// TitleFromText derives a chat title from the first user message.
func TitleFromText(text string) string {
	raw := strings.TrimSpace(text)
	clean := titleQuotes.ReplaceAllString(raw, "")
	clean = titlePunctuation.ReplaceAllString(clean, "")
	clean = titleWhitespace.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(truncateRunes(clean, maxTitleLen))

	if len([]rune(clean)) >= 3 {
		return clean
	}

	words := strings.Split(raw, " ")
	if len(words) > fallbackWords {
		words = words[:fallbackWords]
	}
	fallback := strings.TrimSpace(truncateRunes(strings.Join(words, " "), maxFallbackLen))
	if fallback == "" {
		return DefaultTitle
	}
	return fallback
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
