package prompts

import (
	"fmt"
	"strings"
)

// chatSystemTemplate steers tone and uncertainty handling for video Q&A.
const chatSystemTemplate = `You are a helpful assistant answering questions about a single video.

## Grounding
- Answer from the video context provided with each question: the transcript
  excerpt, the summary, and the description.
- When the transcript excerpt supports an answer, say so and quote or
  paraphrase the relevant part. Mention timestamps when they are given.
- When the context does not cover the question, say that plainly. Do not
  invent scenes, quotes, speakers, or numbers.
- If context quality is MINIMAL, explain that you only have limited
  information about this video and answer cautiously.

## Style
- Be concise and conversational. Two or three short paragraphs at most.
- Use Markdown lists only when the user asks for steps or a list.
- Answer in the language of the question.`

// ChatSystemPrompt returns the system instruction for video Q&A. Although
// it requires no interpolation, it follows the package convention of an
// exported function.
func ChatSystemPrompt() string {
	return chatSystemTemplate
}

// Turn is one prior message included in a chat prompt.
type Turn struct {
	Role    string
	Content string
}

// ChatInput holds the dynamic parts of a video Q&A prompt.
type ChatInput struct {
	Title       string
	Summary     string // empty when not informative
	Description string // empty when not informative

	HasTranscript   bool
	TranscriptChars int
	Quality         string

	Excerpt  string
	History  []Turn
	Question string
}

// contextHealthTemplate reports how much grounding is available. Format
// verbs: 1: transcript available (yes/no), 2: transcript chars,
// 3: quality tier.
const contextHealthTemplate = `## Context health
Transcript available: %s (%d characters)
Context quality: %s`

// ChatPrompt assembles the user prompt for one question. Sections with no
// content are omitted.
func ChatPrompt(in ChatInput) string {
	var sb strings.Builder

	sb.WriteString("## Video\n")
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "(untitled)"
	}
	sb.WriteString("Title: " + title + "\n")
	if in.Summary != "" {
		sb.WriteString("Summary: " + in.Summary + "\n")
	}
	if in.Description != "" {
		sb.WriteString("Description: " + in.Description + "\n")
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf(contextHealthTemplate, yesNo(in.HasTranscript), in.TranscriptChars, in.Quality))
	sb.WriteString("\n")

	if in.Excerpt != "" {
		sb.WriteString("\n## Transcript excerpt\n")
		sb.WriteString(in.Excerpt)
		sb.WriteString("\n")
	}

	if len(in.History) > 0 {
		sb.WriteString("\n## Recent conversation\n")
		for _, t := range in.History {
			sb.WriteString(fmt.Sprintf("%s: %s\n", roleLabel(t.Role), t.Content))
		}
	}

	sb.WriteString("\n## Question\n")
	sb.WriteString(in.Question)
	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	default:
		return "System"
	}
}
