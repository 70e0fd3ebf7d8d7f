// Package retrieval selects the transcript excerpt that best matches a
// question, using plain keyword overlap.
package retrieval

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nugget/vidchat/internal/transcript"
)

const (
	// DefaultMaxChars bounds an excerpt when the caller passes no limit.
	DefaultMaxChars = 5000
	// MaxHits is the number of scored segments kept in an excerpt.
	MaxHits = 16
	// minTokenLen is the shortest token that takes part in scoring.
	minTokenLen = 3
)

// Hit is a segment that matched at least one question token.
type Hit struct {
	Segment transcript.Segment `json:"segment"`
	Score   int                `json:"score"`
}

// Tokenize lower-cases s, splits it on whitespace, strips every
// non-alphanumeric rune from each token, and drops tokens shorter than
// three runes.
func Tokenize(s string) []string {
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(s)) {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, field)
		if utf8.RuneCountInString(tok) >= minTokenLen {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Score counts how many tokens occur as substrings of the lower-cased text.
func Score(text string, tokens []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			n++
		}
	}
	return n
}

// Select returns up to limit matching segments ranked by score, highest
// first, ties broken by segment index.
func Select(segments []transcript.Segment, question string, limit int) []Hit {
	tokens := Tokenize(question)
	if len(tokens) == 0 || len(segments) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = MaxHits
	}

	var hits []Hit
	for _, seg := range segments {
		if s := Score(seg.Text, tokens); s > 0 {
			hits = append(hits, Hit{Segment: seg, Score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Segment.Index < hits[j].Segment.Index
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Retrieve builds a chronologically ordered excerpt of the segments most
// relevant to question, bounded to maxChars runes (DefaultMaxChars when
// maxChars <= 0). With no segments it returns "". When the question has
// no usable tokens or nothing matches, the plain transcript is returned
// instead, truncated to the same bound.
func Retrieve(segments []transcript.Segment, question string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if len(segments) == 0 {
		return ""
	}

	hits := Select(segments, question, MaxHits)
	if len(hits) == 0 {
		return Truncate(transcript.PlainText(segments), maxChars)
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Segment.Index < hits[j].Segment.Index
	})
	picked := make([]transcript.Segment, len(hits))
	for i, h := range hits {
		picked[i] = h.Segment
	}
	return Truncate(transcript.PlainText(picked), maxChars)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
