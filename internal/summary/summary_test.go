package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/events"
	"github.com/nugget/vidchat/internal/llm"
	"github.com/nugget/vidchat/internal/transcript"
	"github.com/nugget/vidchat/internal/usage"
	"github.com/nugget/vidchat/internal/videos"
)

type fakeCatalog struct {
	video   *videos.Video
	loadErr error
	saved   string
}

func (f *fakeCatalog) LoadVideo(_ context.Context, _, _ string) (*videos.Video, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.video, nil
}

func (f *fakeCatalog) SaveSummary(_ context.Context, _ string, summary string) error {
	f.saved = summary
	return nil
}

type fakeQuota struct {
	err     error
	records []usage.Record
}

func (f *fakeQuota) Check(context.Context, string) error { return f.err }
func (f *fakeQuota) Record(_ context.Context, rec usage.Record) {
	f.records = append(f.records, rec)
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	failOn  string
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, req.UserPrompt)
	g.mu.Unlock()
	if g.failOn != "" && strings.Contains(req.UserPrompt, g.failOn) {
		return nil, errors.New("backend down")
	}
	text := "section notes"
	if strings.Contains(req.UserPrompt, "Combined summary:") || strings.Contains(req.UserPrompt, "Video summary:") {
		text = "  The talk covers goroutines and channels.  "
	}
	return &llm.Response{Text: text, Provider: "fake", Model: "m1", InputTokens: 10, OutputTokens: 5}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVideo() *videos.Video {
	return &videos.Video{
		ID:      "v1",
		OwnerID: "alice",
		Title:   "Concurrency in Go",
		Status:  videos.StatusReady,
		Segments: []transcript.Segment{
			{Index: 1, StartMs: 0, EndMs: 4000, Text: "Goroutines are cheap."},
			{Index: 2, StartMs: 4000, EndMs: 9000, Text: "Channels connect them."},
			{Index: 3, StartMs: 3_725_000, EndMs: 3_730_000, Text: "Select waits on many channels."},
		},
	}
}

func TestSections(t *testing.T) {
	v := testVideo()

	one := Sections(v, 0)
	if len(one) != 1 {
		t.Fatalf("Sections = %d, want 1", len(one))
	}
	want := "[00:00:00] Goroutines are cheap.\n[00:00:04] Channels connect them.\n[01:02:05] Select waits on many channels."
	if one[0] != want {
		t.Errorf("section =\n%s\nwant\n%s", one[0], want)
	}

	split := Sections(v, 70)
	if len(split) != 2 {
		t.Fatalf("Sections(70) = %d sections: %q", len(split), split)
	}

	textOnly := &videos.Video{TranscriptText: "one two three four five six"}
	got := Sections(textOnly, 10)
	if strings.Join(got, "|") != "one two|three four|five six" {
		t.Errorf("text sections = %q", got)
	}

	// Limits count runes, so multibyte text packs as densely as ASCII.
	wide := &videos.Video{TranscriptText: "héllo wörld ünïcode ñandú"}
	if got := Sections(wide, 11); strings.Join(got, "|") != "héllo wörld|ünïcode|ñandú" {
		t.Errorf("multibyte text sections = %q", got)
	}
	cjk := &videos.Video{Segments: []transcript.Segment{
		{Index: 1, StartMs: 0, EndMs: 1000, Text: "日本語の字幕"},
		{Index: 2, StartMs: 1000, EndMs: 2000, Text: "二行目"},
	}}
	// "[00:00:00] 日本語の字幕" is 17 runes; both lines joined are 32.
	if got := Sections(cjk, 32); len(got) != 1 {
		t.Errorf("Sections(32) over CJK = %d sections, want 1: %q", len(got), got)
	}
	if got := Sections(cjk, 31); len(got) != 2 {
		t.Errorf("Sections(31) over CJK = %d sections, want 2: %q", len(got), got)
	}

	if got := Sections(&videos.Video{}, 10); len(got) != 0 {
		t.Errorf("empty video sections = %q", got)
	}
}

func TestSummarize(t *testing.T) {
	cat := &fakeCatalog{video: testVideo()}
	q := &fakeQuota{}
	gen := &fakeGenerator{}
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	s := New(cat, q, gen, Config{SectionChars: 70}, bus, discardLogger())
	res, err := s.Summarize(context.Background(), "v1", "alice", "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if res.Summary != "The talk covers goroutines and channels." {
		t.Errorf("Summary = %q", res.Summary)
	}
	if res.Detail != DetailFull || res.Sections != 2 {
		t.Errorf("Detail/Sections = %s/%d", res.Detail, res.Sections)
	}
	// Two map calls and one reduce call.
	if len(gen.prompts) != 3 {
		t.Errorf("generator calls = %d, want 3", len(gen.prompts))
	}
	if res.InputTokens != 30 || res.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 30/15", res.InputTokens, res.OutputTokens)
	}
	if cat.saved != res.Summary {
		t.Errorf("saved summary = %q", cat.saved)
	}
	if len(q.records) != 1 || q.records[0].JobKind != usage.KindSummary || q.records[0].InputTokens != 30 {
		t.Errorf("usage records = %+v", q.records)
	}

	select {
	case e := <-ch:
		if e.Kind != events.KindSummarized {
			t.Errorf("event kind = %q", e.Kind)
		}
	default:
		t.Error("no summarized event published")
	}
}

func TestSummarize_SingleSection(t *testing.T) {
	cat := &fakeCatalog{video: testVideo()}
	q := &fakeQuota{}
	gen := &fakeGenerator{}

	s := New(cat, q, gen, Config{}, nil, discardLogger())
	res, err := s.Summarize(context.Background(), "v1", "alice", DetailBrief)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if res.Sections != 1 {
		t.Fatalf("Sections = %d, want 1", res.Sections)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(gen.prompts))
	}
	p := gen.prompts[0]
	if strings.Contains(p, "Combined summary:") || !strings.Contains(p, "Select waits on many channels.") {
		t.Errorf("prompt is not a single pass over the transcript:\n%s", p)
	}
	if !strings.Contains(p, "roughly 500 characters") {
		t.Error("brief detail not carried into the prompt")
	}
	if res.Summary != "The talk covers goroutines and channels." || cat.saved != res.Summary {
		t.Errorf("Summary = %q, saved = %q", res.Summary, cat.saved)
	}
	if res.InputTokens != 10 || res.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", res.InputTokens, res.OutputTokens)
	}
	if len(q.records) != 1 {
		t.Errorf("usage records = %d, want 1", len(q.records))
	}
}

func TestSummarize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		cat    *fakeCatalog
		quota  *fakeQuota
		gen    llm.Generator
		user   string
		detail Detail
		want   apperr.Kind
	}{
		{"bad detail", &fakeCatalog{video: testVideo()}, &fakeQuota{}, &fakeGenerator{}, "alice", "long", apperr.Validation},
		{"not owner", &fakeCatalog{video: testVideo()}, &fakeQuota{}, &fakeGenerator{}, "bob", "", apperr.Forbidden},
		{"load passes through", &fakeCatalog{loadErr: apperr.NotReadyf("processing")}, &fakeQuota{}, &fakeGenerator{}, "alice", "", apperr.NotReady},
		{"no transcript", &fakeCatalog{video: &videos.Video{ID: "v1", OwnerID: "alice"}}, &fakeQuota{}, &fakeGenerator{}, "alice", "", apperr.Validation},
		{"no generator", &fakeCatalog{video: testVideo()}, &fakeQuota{}, nil, "alice", "", apperr.Upstream},
		{"quota", &fakeCatalog{video: testVideo()}, &fakeQuota{err: apperr.Quota(40, 40)}, &fakeGenerator{}, "alice", "", apperr.QuotaExceeded},
		{"generation fails", &fakeCatalog{video: testVideo()}, &fakeQuota{}, &fakeGenerator{failOn: "Goroutines are cheap."}, "alice", DetailBrief, apperr.Upstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.cat, tt.quota, tt.gen, Config{}, nil, discardLogger())
			_, err := s.Summarize(context.Background(), "v1", tt.user, tt.detail)
			if !apperr.Is(err, tt.want) {
				t.Errorf("err = %v, want %s", err, tt.want)
			}
			if tt.cat.saved != "" {
				t.Errorf("summary saved on failure: %q", tt.cat.saved)
			}
			if len(tt.quota.records) != 0 {
				t.Errorf("usage recorded on failure")
			}
		})
	}
}
