package budget

import (
	"strings"
)

// Chunk splits text into pieces of at most size runes. A piece ends after the last newline
// when that newline lies beyond 60% of the piece.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			window := string(runes[start:end])
			if nl := strings.LastIndexByte(window, '\n'); nl >= 0 {
				cut := len([]rune(window[:nl])) + 1
				if cut > size*6/10 {
					end = start + cut
				}
			}
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}

// EstimateTokens approximates tokens as four characters each.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len([]rune(text)) / 4
	if n < 1 {
		return 1
	}
	return n
}
