package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_SplitsCamelCaseAndSnakeCase(t *testing.T) {
	assert.ElementsMatch(t, []string{"get", "user", "by", "id"}, tokenize("getUserById"))
	assert.ElementsMatch(t, []string{"parse", "http", "request"}, tokenize("parse_http_request"))
}

func TestTokenize_DropsShortTokens(t *testing.T) {
	assert.NotContains(t, tokenize("a b cd"), "a")
	assert.Contains(t, tokenize("a b cd"), "cd")
}

func TestLexicalScore_FullOverlapScoresOne(t *testing.T) {
	q := "login handler"
	score := lexicalScore(q, tokenize(q), "function loginHandler() {}", 0)
	assert.InDelta(t, 1.0, score, 0.01)
}

func TestLexicalScore_NoOverlapScoresZero(t *testing.T) {
	score := lexicalScore("login", tokenize("login"), "function sort() {}", 0)
	assert.Equal(t, 0.0, score)
}

func TestLexicalScore_ExactMatchAddsBoost(t *testing.T) {
	base := lexicalScore("login", tokenize("login"), "function login() {}", 0)
	boosted := lexicalScore("login", tokenize("login"), "function login() {}", 0.2)
	assert.InDelta(t, base+0.2, boosted, 0.01)
}

func TestLexicalScore_EmptyQueryScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, lexicalScore("", nil, "anything", 0.1))
}
