package retrieval

import (
	"reflect"
	"strings"
	"testing"

	"github.com/nugget/vidchat/internal/transcript"
)

func segs(texts ...string) []transcript.Segment {
	out := make([]transcript.Segment, len(texts))
	for i, t := range texts {
		out[i] = transcript.Segment{Index: i + 1, StartMs: i * 1000, EndMs: i*1000 + 900, Text: t}
	}
	return out
}

func TestTokenize(t *testing.T) {
	got := Tokenize("What's the DEAL with go-routines, eh? 42 is ok")
	want := []string{"whats", "the", "deal", "with", "goroutines"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %q, want %q", got, want)
	}
	if got := Tokenize("a an to ?!"); len(got) != 0 {
		t.Errorf("Tokenize(short words) = %q, want none", got)
	}
}

func TestRetrieve_Empty(t *testing.T) {
	if got := Retrieve(nil, "anything at all", 100); got != "" {
		t.Errorf("Retrieve(nil) = %q, want empty", got)
	}
}

func TestRetrieve_NoTokensReturnsPlainTranscript(t *testing.T) {
	s := segs("first part", "second part")
	if got := Retrieve(s, "", 0); got != "first part second part" {
		t.Errorf("Retrieve(\"\") = %q", got)
	}
	if got := Retrieve(s, "", 8); got != "first pa" {
		t.Errorf("Retrieve(\"\", 8) = %q, want %q", got, "first pa")
	}
}

func TestRetrieve_NoMatchesReturnsPlainTranscript(t *testing.T) {
	s := segs("first part", "second part")
	if got := Retrieve(s, "kubernetes", 0); got != "first part second part" {
		t.Errorf("Retrieve(no match) = %q", got)
	}
}

func TestRetrieve_ChronologicalExcerpt(t *testing.T) {
	s := segs(
		"we install the operator",
		"unrelated banter",
		"the operator reconciles the cluster",
		"more banter",
		"cluster upgrades need care",
	)
	got := Retrieve(s, "How does the operator touch the cluster?", 0)
	want := "we install the operator the operator reconciles the cluster cluster upgrades need care"
	if got != want {
		t.Errorf("Retrieve = %q\nwant     %q", got, want)
	}
}

func TestSelect_RanksByScoreThenIndex(t *testing.T) {
	s := segs("alpha", "alpha beta", "beta", "alpha beta gamma")
	hits := Select(s, "alpha beta gamma", 0)
	var idx []int
	for _, h := range hits {
		idx = append(idx, h.Segment.Index)
	}
	if want := []int{4, 2, 1, 3}; !reflect.DeepEqual(idx, want) {
		t.Errorf("ranked indices = %v, want %v", idx, want)
	}
}

func TestRetrieve_KeepsTopHits(t *testing.T) {
	var texts []string
	for i := 0; i < 40; i++ {
		if i < 20 {
			texts = append(texts, "plain match")
		} else {
			texts = append(texts, "match twice match plain")
		}
	}
	hits := Select(segs(texts...), "plain match", MaxHits)
	if len(hits) != MaxHits {
		t.Fatalf("len(hits) = %d, want %d", len(hits), MaxHits)
	}
	if hits[0].Segment.Index != 1 {
		t.Errorf("first hit index = %d, want 1 (tie broken by index)", hits[0].Segment.Index)
	}
}

func TestRetrieve_Bounded(t *testing.T) {
	long := strings.Repeat("keyword ", 100)
	got := Retrieve(segs(long, long), "keyword", 50)
	if n := len([]rune(got)); n != 50 {
		t.Errorf("excerpt runes = %d, want 50", n)
	}
}

func TestRetrieve_ProseExample(t *testing.T) {
	norm, err := transcript.Ingest(transcript.Input{Text: "Alpha beta gamma. Delta epsilon zeta.", DurationSeconds: 12})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	hits := Select(norm.Segments, "delta", 0)
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	h := hits[0].Segment
	if !strings.Contains(strings.ToLower(h.Text), "delta") {
		t.Errorf("hit text = %q", h.Text)
	}
	if h.StartMs < 2000 || h.EndMs > 12000 {
		t.Errorf("hit window = [%d,%d], want within [2000,12000]", h.StartMs, h.EndMs)
	}
	if got := Retrieve(norm.Segments, "delta", 0); got != "Delta epsilon zeta." {
		t.Errorf("Retrieve = %q", got)
	}
}
