package prompts

import (
	"fmt"
	"strings"
)

// sectionSummaryTemplate is sent for each transcript section during the
// map phase of video summarization. Format verbs: 1: video title,
// 2: section index, 3: total sections, 4: section text with timestamps.
const sectionSummaryTemplate = `Summarize this section of the transcript of the video %q (part %d of %d).

Extract the key points, arguments, and noteworthy details. Preserve specific
numbers, names, dates, and claims. Keep the [HH:MM:SS] markers of the lines
you draw from. Aim for roughly 1/5 the length of the input.

Transcript section:
%s

Summary:`

// summaryReduceTemplate combines section summaries. Format verbs:
// 1: video title, 2: concatenated section summaries.
const summaryReduceTemplate = `Combine these section summaries into a single coherent summary of the video %q.
Maintain chronological flow and eliminate redundancy.

Section summaries:
%s

Combined summary:`

// videoSummaryTemplate summarizes a transcript short enough to fit in a
// single section, skipping the map phase. Format verbs: 1: video title,
// 2: transcript text with timestamps.
const videoSummaryTemplate = `Summarize the transcript of the video %q.
Extract the key points in chronological order. Preserve specific numbers,
names, dates, and claims.

Transcript:
%s

Video summary:`

// summaryBriefSection is appended to the final prompt for brief summaries.
const summaryBriefSection = `

Be very concise. Produce a summary of roughly 500 characters with just the
key takeaway points.`

// summaryFullSection is appended to the reduce prompt for the default
// detail level.
const summaryFullSection = `

Produce a thorough summary of 1500-2500 characters. Cover all major topics
and preserve key details and timestamps.`

// SectionSummaryPrompt returns the map-phase prompt for one section of a
// transcript.
func SectionSummaryPrompt(title, section string, index, total int) string {
	return fmt.Sprintf(sectionSummaryTemplate, title, index, total, section)
}

// SummaryReducePrompt returns the reduce-phase prompt. detail "brief"
// asks for roughly 500 characters; anything else asks for a full summary.
func SummaryReducePrompt(title, sectionSummaries, detail string) string {
	return withDetail(fmt.Sprintf(summaryReduceTemplate, title, sectionSummaries), detail)
}

// VideoSummaryPrompt returns the one-shot prompt for a transcript that
// fits in a single section. detail behaves as in [SummaryReducePrompt].
func VideoSummaryPrompt(title, transcript, detail string) string {
	return withDetail(fmt.Sprintf(videoSummaryTemplate, title, transcript), detail)
}

func withDetail(prompt, detail string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	if detail == "brief" {
		sb.WriteString(summaryBriefSection)
	} else {
		sb.WriteString(summaryFullSection)
	}
	return sb.String()
}
