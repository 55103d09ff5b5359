package completion

import (
	"regexp"
	"strings"

	"github.com/pressfeed/newspipe/internal/similarity"
)

// blacklistSimilarity is the per-line resemblance cutoff for dropping
// output the model wrapped in filler.
const blacklistSimilarity = 0.7

var labelPrefix = regexp.MustCompile(`(?i)^(title|slug|summary|caption|category|country|tags?|meta title|meta description|focus keyphrase|answer)\s*:\s*`)

// postFilter cleans one generated value: wrapping quotes and label
// prefixes are stripped, blacklisted lines removed, and the result
// truncated to maxLength runes.
func postFilter(text string, blacklist []string, maxLength int) string {
	text = strings.TrimSpace(text)
	text = stripWrappingQuotes(text)
	text = labelPrefix.ReplaceAllString(text, "")
	text = stripWrappingQuotes(text)

	if len(blacklist) > 0 {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if blacklisted(line, blacklist) {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	if maxLength > 0 {
		if runes := []rune(text); len(runes) > maxLength {
			text = strings.TrimSpace(string(runes[:maxLength]))
		}
	}
	return text
}

func blacklisted(line string, blacklist []string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range blacklist {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
		if similarity.Score(trimmed, phrase) >= blacklistSimilarity {
			return true
		}
	}
	return false
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"},
	{"‘", "’"},
	{"`", "`"},
}

func stripWrappingQuotes(s string) string {
	for _, pair := range quotePairs {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) && len(s) > len(pair[0])+len(pair[1]) {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, pair[0]), pair[1]))
		}
	}
	return s
}
