package index

import (
	"strings"
)

// windowedChunk is one line-windowed slice of a file, before embedding.
type windowedChunk struct {
	StartLine int // 1-indexed
	EndLine   int // inclusive
	Content   string
}

// maxLineLength bounds a single oversized line before it is split into
// multiple sub-lines, so that one pathological line (a minified bundle,
// a base64 blob) can't blow out a whole chunk's token budget.
const maxLineLength = 2000

// commentPrefixes is used only to avoid opening a new chunk in the middle
// of a multi-line comment block; it does not attempt full language parsing.
var commentPrefixes = []string{"/*", "\"\"\"", "'''"}

// windowChunks splits content into line-windowed chunks of chunkSize lines
// with chunkOverlap lines of overlap between adjacent windows, per spec.md
// §4.4 step 3. Oversized lines are pre-split so no single line dominates a
// window; a window boundary is nudged forward rather than falling inside an
// open multi-line comment.
func windowChunks(content string, chunkSize, chunkOverlap int) []windowedChunk {
	if chunkSize <= 0 {
		chunkSize = 60
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 6
	}

	lines := splitAndBoundLines(content)
	if len(lines) == 0 {
		return nil
	}

	var chunks []windowedChunk
	for start := 0; start < len(lines); {
		end := start + chunkSize
		if end > len(lines) {
			end = len(lines)
		}
		end = avoidMidComment(lines, start, end)

		chunks = append(chunks, windowedChunk{
			StartLine: start + 1,
			EndLine:   end,
			Content:   strings.Join(lines[start:end], "\n"),
		})

		if end >= len(lines) {
			break
		}
		next := end - chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// splitAndBoundLines splits content on newlines and breaks any line longer
// than maxLineLength into maxLineLength-byte pieces, so oversized lines
// don't dominate a chunk window.
func splitAndBoundLines(content string) []string {
	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if len(line) <= maxLineLength {
			lines = append(lines, line)
			continue
		}
		for len(line) > maxLineLength {
			lines = append(lines, line[:maxLineLength])
			line = line[maxLineLength:]
		}
		lines = append(lines, line)
	}
	return lines
}

// avoidMidComment nudges a proposed window end forward past the close of
// any multi-line comment that opened before it and hasn't closed yet, so
// chunk boundaries don't split a doc comment from the symbol it documents.
func avoidMidComment(lines []string, start, end int) int {
	if end >= len(lines) {
		return end
	}

	openAt := -1
	for i := start; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if openAt == -1 && hasAnyPrefix(trimmed, commentPrefixes) && !closesComment(trimmed) {
			openAt = i
		} else if openAt != -1 && closesComment(trimmed) {
			openAt = -1
		}
	}
	if openAt == -1 {
		return end
	}

	for i := end; i < len(lines); i++ {
		if closesComment(strings.TrimSpace(lines[i])) {
			return i + 1
		}
	}
	return len(lines)
}

func closesComment(line string) bool {
	return strings.Contains(line, "*/") || strings.HasSuffix(line, "\"\"\"") || strings.HasSuffix(line, "'''")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
