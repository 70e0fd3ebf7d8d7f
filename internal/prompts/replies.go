package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// fallbackExcerptChars bounds the transcript excerpt quoted in fallback text.
const fallbackExcerptChars = 600

// SmallTalkReply returns the canned response to a greeting or
// acknowledgement about the given video.
func SmallTalkReply(title string) string {
	if title = strings.TrimSpace(title); title != "" {
		return fmt.Sprintf("Hi! Ask me anything about %q and I'll answer from what the video covers.", title)
	}
	return "Hi! Ask me anything about this video and I'll answer from what it covers."
}

// MetaQuestionReply explains what the assistant actually knows about the
// video. quality is the context tier name.
func MetaQuestionReply(hasTranscript, hasSummary, hasDescription bool, quality string) string {
	var sources []string
	if hasTranscript {
		sources = append(sources, "the video's transcript")
	}
	if hasSummary {
		sources = append(sources, "its summary")
	}
	if hasDescription {
		sources = append(sources, "its description")
	}

	if len(sources) == 0 {
		return "I can't watch videos directly, and right now I don't have a transcript, summary, or description for this one. " +
			"I can still try to help, but my answers will be general rather than based on the video itself."
	}

	var list string
	switch len(sources) {
	case 1:
		list = sources[0]
	case 2:
		list = sources[0] + " and " + sources[1]
	default:
		list = strings.Join(sources[:len(sources)-1], ", ") + ", and " + sources[len(sources)-1]
	}
	return fmt.Sprintf("I don't watch the video itself. I answer from %s (context quality: %s), "+
		"so I can point you to what is said and roughly when.", list, quality)
}

// FallbackAnswer builds a deterministic answer used when text generation
// is unavailable. It echoes the question and surfaces whatever saved
// context exists.
func FallbackAnswer(question, title, summary, excerpt string) string {
	var sb strings.Builder
	sb.WriteString("I can't generate a full answer right now, so here is what I have on this video.\n\n")
	sb.WriteString(fmt.Sprintf("You asked: %q\n", strings.TrimSpace(question)))

	if title = strings.TrimSpace(title); title != "" {
		sb.WriteString(fmt.Sprintf("\nVideo: %s\n", title))
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		sb.WriteString(fmt.Sprintf("\nSummary: %s\n", summary))
	}
	if excerpt = strings.TrimSpace(excerpt); excerpt != "" {
		if utf8.RuneCountInString(excerpt) > fallbackExcerptChars {
			excerpt = string([]rune(excerpt)[:fallbackExcerptChars]) + "…"
		}
		sb.WriteString(fmt.Sprintf("\nMost relevant part of the transcript:\n> %s\n", excerpt))
	}
	if summary == "" && excerpt == "" {
		sb.WriteString("\nThere is no transcript or summary for this video yet, so I can't point to a specific part of it.\n")
	}

	sb.WriteString("\nPlease try again in a little while for a more complete answer.")
	return sb.String()
}
