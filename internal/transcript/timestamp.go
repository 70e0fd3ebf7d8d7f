package transcript

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultMillisThreshold is the magnitude at which an integral numeric
// timestamp is assumed to already be in milliseconds.
const DefaultMillisThreshold = 1000

// MaxTimestampMs is the largest timestamp accepted, about 31 years.
// Anything larger is treated as unparseable so that cue arithmetic stays
// well inside the int range.
const MaxTimestampMs = 1_000_000_000_000

// maxSeconds is the largest accepted seconds field in a clock timestamp.
// Values up to 60.999 are tolerated to absorb encoder rounding.
const maxSeconds = 60.999

// Parser converts timestamp tokens into integer milliseconds.
//
// Numeric tokens are ambiguous: 90 is ninety seconds but 90000 is
// ninety seconds expressed in milliseconds. Integral values at or above
// MillisThreshold are taken as milliseconds, everything else as seconds.
// A bare-integer duration of, say, 1500 seconds is therefore misread as
// 1.5 seconds. Raise the threshold when a source is known to emit large
// second counts.
type Parser struct {
	MillisThreshold float64
}

// DefaultParser uses [DefaultMillisThreshold].
var DefaultParser = Parser{MillisThreshold: DefaultMillisThreshold}

// NewParser returns a Parser with the given threshold. A non-positive
// threshold selects [DefaultMillisThreshold].
func NewParser(threshold float64) Parser {
	if threshold <= 0 {
		threshold = DefaultMillisThreshold
	}
	return Parser{MillisThreshold: threshold}
}

// Parse converts v to milliseconds. Accepted inputs are Go numeric
// types, [json.Number], and strings holding either a number or a clock
// timestamp (HH:MM:SS.mmm, HH:MM:SS,mmm, MM:SS). ok is false for
// anything unparseable, negative, or out of range.
func (p Parser) Parse(v any) (ms int, ok bool) {
	switch t := v.(type) {
	case string:
		return p.ParseString(t)
	case json.Number:
		return p.ParseString(t.String())
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return p.fromNumber(f)
}

// ParseString is [Parser.Parse] for string tokens.
func (p Parser) ParseString(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return p.fromNumber(f)
}

func (p Parser) fromNumber(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	threshold := p.MillisThreshold
	if threshold <= 0 {
		threshold = DefaultMillisThreshold
	}
	if f >= threshold && f == math.Trunc(f) {
		return millis(f)
	}
	return millis(math.Round(f * 1000))
}

// millis converts a non-negative millisecond count, rejecting values
// above [MaxTimestampMs].
func millis(f float64) (int, bool) {
	if math.IsNaN(f) || f < 0 || f > MaxTimestampMs {
		return 0, false
	}
	return int(f), true
}

// parseClock parses "HH:MM:SS(.fff)" or "MM:SS(.fff)".
func parseClock(s string) (int, bool) {
	fields := strings.Split(strings.Replace(s, ",", ".", 1), ":")
	var hours, minutes int
	var secField string

	switch len(fields) {
	case 2:
		m, ok := parseUint(fields[0])
		if !ok {
			return 0, false
		}
		minutes, secField = m, fields[1]
	case 3:
		h, ok := parseUint(fields[0])
		if !ok {
			return 0, false
		}
		m, ok := parseUint(fields[1])
		if !ok {
			return 0, false
		}
		hours, minutes, secField = h, m, fields[2]
	default:
		return 0, false
	}

	if minutes >= 60 {
		return 0, false
	}
	secField = strings.TrimSpace(secField)
	if secField == "" || strings.HasPrefix(secField, "-") || strings.HasPrefix(secField, "+") {
		return 0, false
	}
	sec, err := strconv.ParseFloat(secField, 64)
	if err != nil || math.IsNaN(sec) || sec < 0 || sec >= maxSeconds {
		return 0, false
	}

	return millis(float64((hours*60+minutes)*60*1000) + math.Round(sec*1000))
}

// parseUint accepts only ASCII digits.
func parseUint(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > math.MaxInt32 {
			return 0, false
		}
	}
	return n, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// FormatClock renders milliseconds as "HH:MM:SS.mmm". Negative input
// renders as zero.
func FormatClock(ms int) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
