// Package quality classifies how much grounding context is available for
// a video and recognizes chat messages that need no generation at all.
package quality

import (
	"strings"
	"unicode/utf8"

	"github.com/nugget/vidchat/internal/retrieval"
)

// Tier is the coarse amount of context available for a video.
type Tier string

const (
	TierMinimal Tier = "MINIMAL"
	TierLimited Tier = "LIMITED"
	TierRich    Tier = "RICH"
)

const (
	// minInformativeTokens is the fewest tokens a description or summary
	// needs to count as context.
	minInformativeTokens = 8
	// minUniqueRatio rejects repetitive filler ("video video video ...").
	minUniqueRatio = 0.4
)

// Meta describes the context available for one request. It is derived
// on every request and never stored.
type Meta struct {
	HasTranscript   bool `json:"has_transcript"`
	TranscriptChars int  `json:"transcript_chars"`
	HasDescription  bool `json:"has_description"`
	HasSummary      bool `json:"has_summary"`
	Quality         Tier `json:"quality"`
}

// TierFor derives the tier from the availability flags.
func TierFor(hasTranscript, hasDescription, hasSummary bool) Tier {
	switch {
	case hasTranscript:
		return TierRich
	case hasSummary || hasDescription:
		return TierLimited
	default:
		return TierMinimal
	}
}

// Informative reports whether text carries enough distinct words to be
// worth grounding an answer on.
func Informative(text string) bool {
	tokens := retrieval.Tokenize(text)
	if len(tokens) < minInformativeTokens {
		return false
	}
	unique := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		unique[t] = struct{}{}
	}
	return float64(len(unique))/float64(len(tokens)) >= minUniqueRatio
}

// Assess builds the [Meta] for a video. Descriptions may contain HTML
// markup; only their visible text is considered. Descriptions and
// summaries that fail [Informative] are treated as absent.
func Assess(description, summary, transcriptText string) Meta {
	transcriptText = strings.TrimSpace(transcriptText)
	m := Meta{
		TranscriptChars: utf8.RuneCountInString(transcriptText),
		HasDescription:  Informative(VisibleText(description)),
		HasSummary:      Informative(summary),
	}
	m.HasTranscript = m.TranscriptChars > 0
	m.Quality = TierFor(m.HasTranscript, m.HasDescription, m.HasSummary)
	return m
}
