package index

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + strconv.Itoa(i+1)
	}
	return strings.Join(lines, "\n")
}

func TestWindowChunks_SplitsIntoOverlappingWindows(t *testing.T) {
	content := numberedLines(150)
	chunks := windowChunks(content, 60, 10)

	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 60, chunks[0].EndLine)
	assert.Equal(t, 51, chunks[1].StartLine) // 60 - 10 + 1
	assert.Equal(t, chunks[len(chunks)-1].EndLine, 150)
}

func TestWindowChunks_ShortFile_SingleChunk(t *testing.T) {
	content := numberedLines(10)
	chunks := windowChunks(content, 60, 10)

	assert.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 10, chunks[0].EndLine)
}

func TestWindowChunks_EmptyContent_ReturnsNil(t *testing.T) {
	assert.Nil(t, windowChunks("", 60, 10))
}

func TestWindowChunks_OversizedLine_IsSplit(t *testing.T) {
	content := strings.Repeat("x", maxLineLength*2+5)
	lines := splitAndBoundLines(content)
	assert.Len(t, lines, 3)
	assert.Len(t, lines[0], maxLineLength)
	assert.Len(t, lines[1], maxLineLength)
	assert.Len(t, lines[2], 5)
}

func TestWindowChunks_AvoidsSplittingOpenBlockComment(t *testing.T) {
	lines := []string{
		"func A() {}",
		"/* this comment",
		"   spans several lines",
		"   and ends here */",
		"func B() {}",
	}
	content := strings.Join(lines, "\n")
	chunks := windowChunks(content, 3, 0)

	// a naive 3-line window would end at line 3, mid-comment; it should
	// be pushed forward to line 4 where the comment closes.
	assert.GreaterOrEqual(t, chunks[0].EndLine, 4)
}
