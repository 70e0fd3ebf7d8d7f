package transcript

import (
	"strings"
	"testing"

	"github.com/nugget/vidchat/internal/apperr"
)

func TestIngest_CueBlocks(t *testing.T) {
	text := "1\n00:00:01,000 --> 00:00:03,000\nHello everyone\n\n2\n00:00:03,200 --> 00:00:05,500\nWelcome back"
	got, err := Ingest(Input{Text: text})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.Strategy != StrategyCueBlocks {
		t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyCueBlocks)
	}
	if got.SegmentCount != 2 || len(got.Segments) != 2 {
		t.Fatalf("SegmentCount = %d, len = %d, want 2", got.SegmentCount, len(got.Segments))
	}
	s := got.Segments[0]
	if s.StartMs != 1000 || s.EndMs != 3000 || s.Text != "Hello everyone" {
		t.Errorf("segments[0] = %+v", s)
	}
	if !strings.Contains(got.TranscriptText, "Hello everyone") || !strings.Contains(got.TranscriptText, "Welcome back") {
		t.Errorf("TranscriptText = %q", got.TranscriptText)
	}
	if got.WordCount != 4 {
		t.Errorf("WordCount = %d, want 4", got.WordCount)
	}
}

func TestIngest_WebVTT(t *testing.T) {
	text := `WEBVTT
Kind: captions

NOTE generated by the encoder

intro
00:00:00.500 --> 00:00:02.000 align:start position:0%
<c>First</c> line
continues here

00:00:02.000 --> 00:00:04.000
Second cue

bogus --> timing
ignored`
	got, err := Ingest(Input{Text: text})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.SegmentCount != 2 {
		t.Fatalf("SegmentCount = %d, want 2: %+v", got.SegmentCount, got.Segments)
	}
	if got.Segments[0].Text != "First line continues here" {
		t.Errorf("segments[0].Text = %q", got.Segments[0].Text)
	}
	if got.Segments[0].StartMs != 500 || got.Segments[0].EndMs != 2000 {
		t.Errorf("segments[0] bounds = [%d,%d]", got.Segments[0].StartMs, got.Segments[0].EndMs)
	}
}

func TestIngest_CueArrayTakesPrecedence(t *testing.T) {
	got, err := Ingest(Input{
		Text: "ignored prose",
		Cues: []Cue{
			{"startMs": 0, "endMs": 2000, "text": "Intro"},
			{"startMs": 2100, "endMs": 4500, "text": "Main topic"},
		},
	})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.Strategy != StrategyCues || got.SegmentCount != 2 {
		t.Fatalf("Strategy = %q, SegmentCount = %d", got.Strategy, got.SegmentCount)
	}
	if got.Segments[0].StartTime != "00:00:00.000" {
		t.Errorf("StartTime = %q", got.Segments[0].StartTime)
	}
	if got.TranscriptText != "Intro Main topic" {
		t.Errorf("TranscriptText = %q", got.TranscriptText)
	}
}

func TestIngest_Prose(t *testing.T) {
	got, err := Ingest(Input{Text: "Alpha beta gamma. Delta epsilon zeta.", DurationSeconds: 12})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.Strategy != StrategyProse || got.SegmentCount != 2 {
		t.Fatalf("Strategy = %q, SegmentCount = %d", got.Strategy, got.SegmentCount)
	}
	first, second := got.Segments[0], got.Segments[1]
	if first.StartMs != 0 || first.EndMs != second.StartMs {
		t.Errorf("chunks not contiguous: %+v %+v", first, second)
	}
	if second.EndMs != 12000 {
		t.Errorf("last EndMs = %d, want 12000", second.EndMs)
	}
	if second.StartMs < 2000 || !strings.Contains(second.Text, "Delta") {
		t.Errorf("second = %+v", second)
	}
}

func TestIngest_ProseWithoutDuration(t *testing.T) {
	got, err := Ingest(Input{Text: "one line\nsecond line\nthird"})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.SegmentCount != 3 {
		t.Fatalf("SegmentCount = %d, want 3", got.SegmentCount)
	}
	last := got.Segments[2]
	if last.EndMs != 3*DefaultCueMs {
		t.Errorf("last EndMs = %d, want %d", last.EndMs, 3*DefaultCueMs)
	}
}

func TestIngest_NoSplitPoints(t *testing.T) {
	got, err := Ingest(Input{Text: "just one run-on thought without punctuation"})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.SegmentCount != 1 {
		t.Errorf("SegmentCount = %d, want 1", got.SegmentCount)
	}
}

func TestIngest_ArrowWithoutTimingFallsBackToProse(t *testing.T) {
	got, err := Ingest(Input{Text: "a --> b is an arrow. Nothing else."})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if got.Strategy != StrategyProse {
		t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyProse)
	}
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"empty", Input{}},
		{"blank text", Input{Text: "   \n "}},
		{"negative duration", Input{Text: "hello", DurationSeconds: -1}},
		{"oversized", Input{Text: strings.Repeat("a", MaxInputBytes+1)}},
		{"cues without text", Input{Cues: []Cue{{"start": 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Ingest(tt.in)
			if !apperr.Is(err, apperr.Validation) {
				t.Errorf("Ingest error = %v, want validation error", err)
			}
		})
	}
}

func TestIngest_ReconstructionIsIdempotent(t *testing.T) {
	inputs := []Input{
		{Text: "1\n00:00:01,000 --> 00:00:03,000\nHello everyone\n\n2\n00:00:03,200 --> 00:00:05,500\nWelcome back"},
		{Text: "Alpha beta gamma. Delta epsilon zeta.", DurationSeconds: 12},
		{Cues: []Cue{{"start": 0, "text": "a --> b"}, {"start": 3, "text": "tail."}}},
	}
	for _, in := range inputs {
		first, err := Ingest(in)
		if err != nil {
			t.Fatalf("Ingest(%+v) error: %v", in, err)
		}
		if first.TranscriptText != PlainText(first.Segments) {
			t.Errorf("TranscriptText %q != joined segments", first.TranscriptText)
		}
		if _, err := Ingest(Input{Text: first.TranscriptText}); err != nil {
			t.Errorf("re-ingesting %q: %v", first.TranscriptText, err)
		}
	}
}

func TestIngest_OrderingLaw(t *testing.T) {
	got, err := Ingest(Input{Cues: []Cue{
		{"start": 9, "text": "late"},
		{"start": 1, "text": "early"},
		{"start": 4, "end": 2, "text": "odd"},
	}, DurationSeconds: 10})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	for i, s := range got.Segments {
		if s.Index != i+1 {
			t.Errorf("Index = %d at position %d", s.Index, i)
		}
		if s.StartMs > s.EndMs {
			t.Errorf("segment %d: start %d > end %d", s.Index, s.StartMs, s.EndMs)
		}
		if i > 0 && got.Segments[i-1].StartMs > s.StartMs {
			t.Errorf("segments out of order at %d", i)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Hi there! How are you?Fine.\nNext line. 3.14 is pi")
	want := []string{"Hi there!", "How are you?Fine.", "Next line.", "3.14 is pi"}
	if len(got) != len(want) {
		t.Fatalf("SplitSentences = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitSentences_LongChunk(t *testing.T) {
	words := strings.Repeat("word ", 300)
	chunks := SplitSentences(words)
	if len(chunks) < 3 {
		t.Fatalf("len = %d, want at least 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if n := len([]rune(c)); n > MaxSegmentChars {
			t.Errorf("chunk has %d runes", n)
		}
		total += len(strings.Fields(c))
	}
	if total != 300 {
		t.Errorf("words across chunks = %d, want 300", total)
	}
}
