// Package semantic ranks text chunks by relevance to a prompt.
package semantic

import (
	"regexp"
	"sort"
	"strings"
)

// Result is one ranked chunk.
type Result struct {
	Index   int     `json:"index"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// Rank returns up to limit chunks ordered by token overlap with query.
// Chunks with no overlap are omitted. Ties keep chunk order.
func Rank(query string, chunks []string, limit int) []Result {
	qTokens := uniqueTokens(tokenize(query))
	if len(qTokens) == 0 || len(chunks) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	results := make([]Result, 0, len(chunks))
	for i, chunk := range chunks {
		score := overlapScore(qTokens, tokenize(chunk))
		if score <= 0 {
			continue
		}
		results = append(results, Result{Index: i, Score: score, Snippet: summarize(chunk)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Best returns the index of the chunk most relevant to query, or 0 when nothing overlaps.
func Best(query string, chunks []string) int {
	if ranked := Rank(query, chunks, 1); len(ranked) > 0 {
		return ranked[0].Index
	}
	return 0
}

func overlapScore(query, doc []string) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		seen[t] = struct{}{}
	}
	var overlap int
	for _, q := range query {
		if _, ok := seen[q]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(query))
}

var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func summarize(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trim := strings.TrimSpace(line)
		if trim == "" {
			continue
		}
		return clip(trim, 200)
	}
	return clip(content, 200)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
