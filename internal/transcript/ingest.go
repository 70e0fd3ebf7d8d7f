package transcript

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nugget/vidchat/internal/apperr"
)

const (
	// MaxTranscriptChars bounds the canonical transcript text, in runes.
	MaxTranscriptChars = 120_000
	// MaxInputBytes bounds raw transcript text accepted for ingestion.
	MaxInputBytes = 2_000_000
)

// Strategy names the path [Ingestor.Ingest] took.
type Strategy string

const (
	StrategyCues      Strategy = "cues"
	StrategyCueBlocks Strategy = "cue_blocks"
	StrategyProse     Strategy = "prose"
)

// Input is raw transcript material. Cues take precedence over Text.
type Input struct {
	Text            string  `json:"transcript_text,omitempty"`
	Cues            []Cue   `json:"cues,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Normalized is the canonical transcript produced by ingestion.
// TranscriptText is always rebuilt from Segments.
type Normalized struct {
	Segments       []Segment `json:"segments"`
	TranscriptText string    `json:"transcript_text"`
	WordCount      int       `json:"word_count"`
	SegmentCount   int       `json:"segment_count"`
	Strategy       Strategy  `json:"strategy"`
}

// Ingestor selects an ingestion strategy and normalizes the result.
type Ingestor struct {
	parser Parser
}

// NewIngestor returns an Ingestor that reads numeric timestamps with p.
func NewIngestor(p Parser) *Ingestor {
	return &Ingestor{parser: p}
}

// Ingest normalizes in with [DefaultParser].
func Ingest(in Input) (*Normalized, error) {
	return NewIngestor(DefaultParser).Ingest(in)
}

// Ingest validates in and produces a [Normalized] transcript.
//
// Structured cues are normalized directly. Otherwise text containing a
// "-->" separator is parsed as cue blocks, and anything else (or cue
// text that yields no usable blocks) is split into sentences with
// synthetic timing.
func (ing *Ingestor) Ingest(in Input) (*Normalized, error) {
	if math.IsNaN(in.DurationSeconds) || math.IsInf(in.DurationSeconds, 0) || in.DurationSeconds < 0 {
		return nil, apperr.Validationf("duration must be a non-negative number of seconds")
	}
	if len(in.Text) > MaxInputBytes {
		return nil, apperr.Validationf("transcript text exceeds %d bytes", MaxInputBytes)
	}
	text := strings.TrimSpace(in.Text)
	if len(in.Cues) == 0 && text == "" {
		return nil, apperr.Validationf("transcript text or cues are required")
	}

	var segments []Segment
	var strategy Strategy
	switch {
	case len(in.Cues) > 0:
		segments, strategy = Normalize(in.Cues, in.DurationSeconds, ing.parser), StrategyCues
	case strings.Contains(text, "-->"):
		if cues := ParseCueBlocks(text, ing.parser); len(cues) > 0 {
			segments, strategy = Normalize(cues, in.DurationSeconds, ing.parser), StrategyCueBlocks
		}
	}
	if len(segments) == 0 && text != "" {
		segments, strategy = Normalize(ProseCues(text, in.DurationSeconds), in.DurationSeconds, ing.parser), StrategyProse
	}
	if len(segments) == 0 {
		return nil, apperr.Validationf("transcript contains no usable text")
	}

	return Build(segments, strategy), nil
}

// Build derives the canonical text and counts from segments.
func Build(segments []Segment, strategy Strategy) *Normalized {
	full := truncateRunes(PlainText(segments), MaxTranscriptChars)
	return &Normalized{
		Segments:       segments,
		TranscriptText: full,
		WordCount:      len(strings.Fields(full)),
		SegmentCount:   len(segments),
		Strategy:       strategy,
	}
}

var (
	// webvttHeaderRe matches the WEBVTT file signature line.
	webvttHeaderRe = regexp.MustCompile(`^WEBVTT\b`)
	// noteBlockRe matches the first line of a WebVTT comment or style block.
	noteBlockRe = regexp.MustCompile(`^(NOTE|STYLE|REGION)\b`)
	// blankLineRe splits text into blocks on one or more blank lines.
	blankLineRe = regexp.MustCompile(`\n[ \t]*\n`)
)

// ParseCueBlocks parses SRT or WebVTT style text into raw cues. Each
// block is an optional identifier line, a timing line, and text lines.
// Blocks whose timing does not parse are skipped.
func ParseCueBlocks(text string, p Parser) []Cue {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var cues []Cue
	for _, block := range blankLineRe.Split(text, -1) {
		lines := splitNonEmpty(block)
		if len(lines) == 0 {
			continue
		}
		if webvttHeaderRe.MatchString(lines[0]) || noteBlockRe.MatchString(lines[0]) {
			continue
		}

		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
			// Only an identifier may precede the timing line.
			if i >= 1 {
				break
			}
		}
		if timing < 0 {
			continue
		}

		start, end, ok := parseTimingLine(lines[timing], p)
		if !ok {
			continue
		}
		body := strings.Join(lines[timing+1:], " ")
		if strings.TrimSpace(body) == "" {
			continue
		}
		cues = append(cues, Cue{"startMs": start, "endMs": end, "text": body})
		if len(cues) == MaxCues {
			break
		}
	}
	return cues
}

// parseTimingLine reads "START --> END [settings]".
func parseTimingLine(line string, p Parser) (int, int, bool) {
	times := strings.SplitN(line, "-->", 2)
	if len(times) != 2 {
		return 0, 0, false
	}
	endFields := strings.Fields(times[1])
	if len(endFields) == 0 {
		return 0, 0, false
	}
	start, ok := p.ParseString(times[0])
	if !ok {
		return 0, 0, false
	}
	end, ok := p.ParseString(endFields[0])
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func splitNonEmpty(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ProseCues splits unsegmented text into sentence chunks and assigns each
// a contiguous time window proportional to its length. The total is the
// known duration, or [DefaultCueMs] per chunk when unknown.
func ProseCues(text string, durationSeconds float64) []Cue {
	chunks := SplitSentences(text)
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) > MaxCues {
		chunks = chunks[:MaxCues]
	}

	totalMs := len(chunks) * DefaultCueMs
	if durationSeconds > 0 {
		totalMs = int(math.Round(durationSeconds * 1000))
	}

	totalChars := 0
	lengths := make([]int, len(chunks))
	for i, c := range chunks {
		lengths[i] = utf8.RuneCountInString(c)
		totalChars += lengths[i]
	}

	cues := make([]Cue, 0, len(chunks))
	cursor := 0
	for i, c := range chunks {
		span := int(math.Round(float64(totalMs) * float64(lengths[i]) / float64(totalChars)))
		if i == len(chunks)-1 && cursor < totalMs {
			span = totalMs - cursor
		}
		if span < MinCueMs {
			span = MinCueMs
		}
		cues = append(cues, Cue{"startMs": cursor, "endMs": cursor + span, "text": c})
		cursor += span
	}
	return cues
}

// SplitSentences breaks text after '.', '!' or '?' when followed by
// whitespace, and at newlines. Text with no split points is one chunk.
// Chunks longer than [MaxSegmentChars] are further split at word
// boundaries so no text is lost to the segment cap.
func SplitSentences(text string) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, splitLong(s, MaxSegmentChars)...)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			flush()
		}
	}
	flush()
	return chunks
}

// splitLong cuts s into pieces of at most n runes, breaking between
// words where possible.
func splitLong(s string, n int) []string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var out []string
	var cur []string
	curLen := 0
	for _, w := range strings.Fields(s) {
		wl := utf8.RuneCountInString(w)
		for wl > n {
			if curLen > 0 {
				out = append(out, strings.Join(cur, " "))
				cur, curLen = nil, 0
			}
			head := truncateRunes(w, n)
			out = append(out, head)
			w = w[len(head):]
			wl -= n
		}
		extra := wl
		if curLen > 0 {
			extra++
		}
		if curLen+extra > n {
			out = append(out, strings.Join(cur, " "))
			cur, curLen = nil, 0
			extra = wl
		}
		if wl > 0 {
			cur = append(cur, w)
			curLen += extra
		}
	}
	if curLen > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}
