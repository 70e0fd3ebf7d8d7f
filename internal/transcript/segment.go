// Package transcript turns heterogeneous transcript input into a
// canonical, time-ordered list of segments with millisecond bounds.
//
// Three input shapes are accepted: structured cue records, subtitle-style
// cue-block text ("00:00:01,000 --> 00:00:03,000"), and unsegmented prose.
// All of them are funneled through [Normalize], so downstream consumers
// only ever see [Segment] values that satisfy the same invariants.
package transcript

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxCues is the number of input cues considered per transcript.
	MaxCues = 4000
	// MaxSegmentChars bounds the text of a single segment, in runes.
	MaxSegmentChars = 500
	// DefaultCueMs is the duration assigned to a cue with no end or
	// duration field.
	DefaultCueMs = 3000
	// MinCueMs is the shortest duration a segment may have.
	MinCueMs = 500
)

// Segment is one normalized, indexed, bounds-checked cue.
type Segment struct {
	Index     int    `json:"index"`
	StartMs   int    `json:"start_ms"`
	EndMs     int    `json:"end_ms"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Text      string `json:"text"`
}

// Cue is a raw timed caption record with free-form field names, as it
// arrives from decoded JSON or from the cue-block parser.
type Cue map[string]any

// accessor names one candidate field for a cue attribute. When millis is
// set the value is already milliseconds and bypasses the magnitude
// heuristic of [Parser].
type accessor struct {
	key    string
	millis bool
}

// Candidate field names, tried in order.
var (
	startFields = []accessor{
		{"startMs", true}, {"start_ms", true},
		{"start", false}, {"from", false}, {"startTime", false}, {"start_time", false}, {"begin", false},
	}
	endFields = []accessor{
		{"endMs", true}, {"end_ms", true},
		{"end", false}, {"to", false}, {"endTime", false}, {"end_time", false}, {"stop", false},
	}
	durationFields = []accessor{
		{"durationMs", true}, {"duration_ms", true},
		{"duration", false}, {"dur", false},
	}
	textFields = []string{"text", "content", "caption", "line", "value"}
)

// markupRe matches inline tags found in caption text (<i>, <c.color>, <font>).
var markupRe = regexp.MustCompile(`<[^>]+>`)

// resolve returns the first parseable value among the candidates.
func (p Parser) resolve(c Cue, fields []accessor) (int, bool) {
	for _, f := range fields {
		v, present := c[f.key]
		if !present || v == nil {
			continue
		}
		if f.millis {
			if ms, ok := parseMillis(v, p); ok {
				return ms, true
			}
			continue
		}
		if ms, ok := p.Parse(v); ok {
			return ms, true
		}
	}
	return 0, false
}

// parseMillis reads a value that is already expressed in milliseconds.
// Clock strings are still accepted.
func parseMillis(v any, p Parser) (int, bool) {
	var f float64
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.Contains(s, ":") {
			return p.ParseString(s)
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	default:
		n, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		f = n
	}
	return millis(math.Round(f))
}

func cueText(c Cue) string {
	for _, k := range textFields {
		if s, ok := c[k].(string); ok {
			if t := CleanText(s); t != "" {
				return t
			}
		}
	}
	return ""
}

// CleanText strips inline markup, collapses whitespace, and caps the
// result at [MaxSegmentChars] runes.
func CleanText(s string) string {
	s = markupRe.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return truncateRunes(s, MaxSegmentChars)
}

// Normalize converts raw cues into segments. durationSeconds bounds every
// segment when positive; zero or negative means the total is unknown.
//
// Cues without text are dropped. A cue without a start continues from the
// previous cue's end. A cue without an end lasts for its duration field,
// or [DefaultCueMs], and never less than [MinCueMs]. The result is sorted
// by start (stable) and indexed from 1.
func Normalize(cues []Cue, durationSeconds float64, p Parser) []Segment {
	if len(cues) > MaxCues {
		cues = cues[:MaxCues]
	}

	totalMs := 0
	if durationSeconds > 0 {
		totalMs = int(min(math.Round(durationSeconds*1000), MaxTimestampMs))
	}

	segments := make([]Segment, 0, len(cues))
	prevEnd := 0
	for _, c := range cues {
		text := cueText(c)
		if text == "" {
			continue
		}

		start, ok := p.resolve(c, startFields)
		if !ok {
			start = prevEnd
		}

		end, ok := p.resolve(c, endFields)
		if !ok {
			dur, hasDur := p.resolve(c, durationFields)
			if !hasDur {
				dur = DefaultCueMs
			}
			if dur < MinCueMs {
				dur = MinCueMs
			}
			end = start + dur
		}
		if end <= start {
			end = start + MinCueMs
		}

		if totalMs > 0 {
			start, end = clamp(start, end, totalMs)
		}

		segments = append(segments, Segment{StartMs: start, EndMs: end, Text: text})
		prevEnd = end
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartMs < segments[j].StartMs
	})
	for i := range segments {
		segments[i].Index = i + 1
		segments[i].StartTime = FormatClock(segments[i].StartMs)
		segments[i].EndTime = FormatClock(segments[i].EndMs)
	}
	return segments
}

// clamp bounds a cue to [0, total] while keeping the minimum duration
// wherever the total allows it.
func clamp(start, end, total int) (int, int) {
	start = min(max(start, 0), total)
	end = min(max(end, 0), total)
	if end-start < MinCueMs {
		if start+MinCueMs <= total {
			end = start + MinCueMs
		} else {
			end = total
			start = max(total-MinCueMs, 0)
		}
	}
	return start, end
}

// PlainText joins segment texts with single spaces.
func PlainText(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
