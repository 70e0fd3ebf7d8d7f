// Package summary produces a video summary from its stored transcript
// with a map-reduce pass over the generation backend: each timed section
// is summarized concurrently, then the section summaries are combined.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/events"
	"github.com/nugget/vidchat/internal/llm"
	"github.com/nugget/vidchat/internal/prompts"
	"github.com/nugget/vidchat/internal/transcript"
	"github.com/nugget/vidchat/internal/usage"
	"github.com/nugget/vidchat/internal/videos"
)

// Detail controls the length of the combined summary.
type Detail string

const (
	DetailFull  Detail = "full"
	DetailBrief Detail = "brief"
)

const (
	// DefaultSectionChars is the target size of one map-phase section.
	DefaultSectionChars = 5000

	// maxParallelSections bounds concurrent map-phase calls.
	maxParallelSections = 4

	mapMaxTokens    = 600
	reduceMaxTokens = 900
)

// Catalog loads videos and stores their summaries.
type Catalog interface {
	LoadVideo(ctx context.Context, videoID, viewerID string) (*videos.Video, error)
	SaveSummary(ctx context.Context, videoID, summary string) error
}

// Quota gates and records billable jobs.
type Quota interface {
	Check(ctx context.Context, userID string) error
	Record(ctx context.Context, rec usage.Record)
}

// Config tunes the summarizer.
type Config struct {
	Model        string
	SectionChars int
	Temperature  float64
}

// Result is a finished summary.
type Result struct {
	VideoID      string `json:"video_id"`
	Summary      string `json:"summary"`
	Detail       Detail `json:"detail"`
	Sections     int    `json:"sections"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Summarizer runs summaries for video owners.
type Summarizer struct {
	catalog Catalog
	quota   Quota
	gen     llm.Generator
	cfg     Config
	bus     *events.Bus
	logger  *slog.Logger
}

// New returns a summarizer. gen may be nil, in which case every request
// fails with an upstream error.
func New(catalog Catalog, quota Quota, gen llm.Generator, cfg Config, bus *events.Bus, logger *slog.Logger) *Summarizer {
	if cfg.SectionChars <= 0 {
		cfg.SectionChars = DefaultSectionChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		catalog: catalog,
		quota:   quota,
		gen:     gen,
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With("component", "summary"),
	}
}

// Summarize generates, stores, and returns a summary of videoID on
// behalf of userID, who must own the video.
func (s *Summarizer) Summarize(ctx context.Context, videoID, userID string, detail Detail) (*Result, error) {
	switch detail {
	case "":
		detail = DetailFull
	case DetailFull, DetailBrief:
	default:
		return nil, apperr.Validationf("unknown detail level %q", detail)
	}

	v, err := s.catalog.LoadVideo(ctx, videoID, userID)
	if err != nil {
		return nil, err
	}
	if v.OwnerID != userID {
		return nil, apperr.Forbiddenf("only the owner can summarize video %s", videoID)
	}
	sections := Sections(v, s.cfg.SectionChars)
	if len(sections) == 0 {
		return nil, apperr.Validationf("video %s has no transcript to summarize", videoID)
	}
	if s.gen == nil {
		return nil, apperr.New(apperr.Upstream, "no generation backend configured")
	}
	if s.quota != nil {
		if err := s.quota.Check(ctx, userID); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	s.logger.Info("starting video summary",
		"video", videoID, "sections", len(sections), "detail", string(detail))

	res := &Result{VideoID: videoID, Detail: detail, Sections: len(sections)}
	var prompt string
	if len(sections) == 1 {
		prompt = prompts.VideoSummaryPrompt(v.Title, sections[0], string(detail))
	} else {
		partials, err := s.mapSections(ctx, v.Title, sections, res)
		if err != nil {
			return nil, apperr.Wrap(apperr.Upstream, err, "summary generation failed")
		}
		prompt = prompts.SummaryReducePrompt(v.Title, strings.Join(partials, "\n\n---\n\n"), string(detail))
	}

	resp, err := s.gen.Generate(ctx, llm.Request{
		Model:           s.cfg.Model,
		UserPrompt:      prompt,
		Temperature:     s.cfg.Temperature,
		MaxOutputTokens: reduceMaxTokens,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "summary generation failed")
	}
	res.add(resp)
	res.Summary = strings.TrimSpace(resp.Text)
	if res.Summary == "" {
		return nil, apperr.New(apperr.Upstream, "summary generation returned no text")
	}

	if err := s.catalog.SaveSummary(ctx, videoID, res.Summary); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}

	if s.quota != nil {
		s.quota.Record(ctx, usage.Record{
			UserID:       userID,
			JobKind:      usage.KindSummary,
			VideoID:      videoID,
			Provider:     res.Provider,
			Model:        res.Model,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		})
	}

	elapsed := time.Since(start)
	s.logger.Info("video summary complete",
		"video", videoID, "chars", len(res.Summary), "elapsed", elapsed.Round(time.Millisecond))
	s.bus.Emit(events.SourceSummary, events.KindSummarized, map[string]any{
		"video_id":   videoID,
		"sections":   res.Sections,
		"provider":   res.Provider,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return res, nil
}

// mapSections summarizes every section, at most maxParallelSections at
// a time. The first failure cancels the rest.
func (s *Summarizer) mapSections(ctx context.Context, title string, sections []string, res *Result) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	partials := make([]string, len(sections))
	responses := make([]*llm.Response, len(sections))
	sem := make(chan struct{}, maxParallelSections)
	errs := make(chan error, len(sections))
	var wg sync.WaitGroup

	for i, section := range sections {
		wg.Add(1)
		go func(idx int, text string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			resp, err := s.gen.Generate(ctx, llm.Request{
				Model:           s.cfg.Model,
				UserPrompt:      prompts.SectionSummaryPrompt(title, text, idx+1, len(sections)),
				Temperature:     s.cfg.Temperature,
				MaxOutputTokens: mapMaxTokens,
			})
			if err != nil {
				errs <- fmt.Errorf("section %d: %w", idx+1, err)
				cancel()
				return
			}
			partials[idx] = strings.TrimSpace(resp.Text)
			responses[idx] = resp
		}(i, section)
	}

	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return nil, err
	}

	for _, resp := range responses {
		res.add(resp)
	}
	return partials, nil
}

func (r *Result) add(resp *llm.Response) {
	if resp == nil {
		return
	}
	r.Provider = resp.Provider
	r.Model = resp.Model
	r.InputTokens += resp.InputTokens
	r.OutputTokens += resp.OutputTokens
}

// Sections groups a video's transcript into sections of at most maxChars
// runes; a single over-long line still forms its own section. Segment
// lines carry an [HH:MM:SS] marker. Videos with only transcript text are
// split at word boundaries.
func Sections(v *videos.Video, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultSectionChars
	}
	if len(v.Segments) == 0 {
		return splitWords(v.TranscriptText, maxChars)
	}

	var sections []string
	var current strings.Builder
	runes := 0
	for _, seg := range v.Segments {
		clock := transcript.FormatClock(seg.StartMs)
		line := "[" + clock[:strings.LastIndexByte(clock, '.')] + "] " + seg.Text
		n := utf8.RuneCountInString(line)
		if runes > 0 && runes+n+1 > maxChars {
			sections = append(sections, current.String())
			current.Reset()
			runes = 0
		}
		if runes > 0 {
			current.WriteByte('\n')
			runes++
		}
		current.WriteString(line)
		runes += n
	}
	if runes > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

func splitWords(text string, maxChars int) []string {
	var sections []string
	var current strings.Builder
	runes := 0
	for _, w := range strings.Fields(text) {
		n := utf8.RuneCountInString(w)
		if runes > 0 && runes+n+1 > maxChars {
			sections = append(sections, current.String())
			current.Reset()
			runes = 0
		}
		if runes > 0 {
			current.WriteByte(' ')
			runes++
		}
		current.WriteString(w)
		runes += n
	}
	if runes > 0 {
		sections = append(sections, current.String())
	}
	return sections
}
