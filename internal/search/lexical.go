package search

import (
	"regexp"
	"strings"
	"unicode"
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// tokenize splits text into lowercased sub-tokens, breaking camelCase,
// PascalCase, and snake_case identifiers apart, adapted from the teacher's
// TokenizeCode/SplitCodeToken/SplitCamelCase.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// lexicalScore is token overlap between queryTokens and content's tokens,
// normalized by query length, plus exactMatchBoost when query appears
// verbatim in content (case-insensitive) (spec.md §4.5 step 4).
func lexicalScore(query string, queryTokens []string, content string, exactMatchBoost float64) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := make(map[string]bool)
	for _, t := range tokenize(content) {
		contentTokens[t] = true
	}

	querySet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = true
	}

	matched := 0
	for t := range querySet {
		if contentTokens[t] {
			matched++
		}
	}

	score := float64(matched) / float64(len(querySet))
	if strings.Contains(strings.ToLower(content), strings.ToLower(query)) {
		score += exactMatchBoost
	}
	if score > 1 {
		score = 1
	}
	return score
}
