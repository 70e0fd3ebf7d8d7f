package prompts

import (
	"strings"
	"testing"
)

func TestFallbackAnswer(t *testing.T) {
	got := FallbackAnswer(" what is covered? ", "Cooking 101", "Knife skills and stock.", "first we sharpen the knife")
	for _, want := range []string{
		`You asked: "what is covered?"`,
		"Video: Cooking 101",
		"Summary: Knife skills and stock.",
		"> first we sharpen the knife",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("FallbackAnswer missing %q:\n%s", want, got)
		}
	}
}

func TestFallbackAnswer_NoContext(t *testing.T) {
	got := FallbackAnswer("why?", "", "", "")
	if !strings.Contains(got, "no transcript or summary") {
		t.Errorf("FallbackAnswer without context = %q", got)
	}
	if got != FallbackAnswer("why?", "", "", "") {
		t.Error("FallbackAnswer is not deterministic")
	}
}

func TestFallbackAnswer_TruncatesExcerpt(t *testing.T) {
	got := FallbackAnswer("q", "", "", strings.Repeat("a", 2000))
	if strings.Contains(got, strings.Repeat("a", fallbackExcerptChars+1)) {
		t.Error("excerpt was not truncated")
	}
}

func TestMetaQuestionReply(t *testing.T) {
	tests := []struct {
		name                   string
		transcript, sum, desc  bool
		quality                string
		want                   string
	}{
		{"nothing", false, false, false, "MINIMAL", "don't have a transcript"},
		{"transcript only", true, false, false, "RICH", "from the video's transcript (context quality: RICH)"},
		{"two sources", false, true, true, "LIMITED", "from its summary and its description"},
		{"all", true, true, true, "RICH", "transcript, its summary, and its description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MetaQuestionReply(tt.transcript, tt.sum, tt.desc, tt.quality)
			if !strings.Contains(got, tt.want) {
				t.Errorf("MetaQuestionReply = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestSmallTalkReply(t *testing.T) {
	if got := SmallTalkReply("Cooking 101"); !strings.Contains(got, `"Cooking 101"`) {
		t.Errorf("SmallTalkReply = %q", got)
	}
	if got := SmallTalkReply(""); !strings.Contains(got, "this video") {
		t.Errorf("SmallTalkReply(\"\") = %q", got)
	}
}
