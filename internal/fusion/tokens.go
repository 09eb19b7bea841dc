package fusion

import "unicode/utf8"

// EstimateTokens approximates token count as ceil(chars/4), the usual
// heuristic for English and code alike.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
