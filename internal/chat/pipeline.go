// Package chat answers questions about a video. A message passes
// through answer reuse, small-talk and meta-question short-circuits, the
// daily quota, context assembly, and generation, falling back to a
// deterministic answer whenever generation is unavailable.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/events"
	"github.com/nugget/vidchat/internal/llm"
	"github.com/nugget/vidchat/internal/memory"
	"github.com/nugget/vidchat/internal/prompts"
	"github.com/nugget/vidchat/internal/quality"
	"github.com/nugget/vidchat/internal/retrieval"
	"github.com/nugget/vidchat/internal/transcript"
	"github.com/nugget/vidchat/internal/usage"
	"github.com/nugget/vidchat/internal/videos"
)

// Outcomes, also used as provider names for replies that did not come
// from a generator.
const (
	OutcomeCache     = "cache"
	OutcomeSmallTalk = "smalltalk"
	OutcomeMeta      = "meta"
	OutcomeGenerated = "generated"
	OutcomeFallback  = "fallback"
	OutcomeRejected  = "quota_exceeded"
)

// fallbackWarning is reported with every fallback answer.
const fallbackWarning = "text generation unavailable; answer built from saved video context"

// VideoLoader loads a video the viewer may access.
type VideoLoader interface {
	LoadVideo(ctx context.Context, videoID, viewerID string) (*videos.Video, error)
}

// TurnStore reads and appends session turns.
type TurnStore interface {
	GetSession(ctx context.Context, id string) (*memory.Session, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]memory.Turn, error)
	AppendTurnPair(ctx context.Context, sessionID, userContent, assistantContent string) (string, string, error)
}

// QuotaGate enforces and records the daily allowance.
type QuotaGate interface {
	Check(ctx context.Context, userID string) error
	Record(ctx context.Context, rec usage.Record)
}

// Config tunes the pipeline. Zero fields take defaults.
type Config struct {
	CacheWindow     int
	HistoryTurns    int
	TurnChars       int
	MaxMessageChars int
	ExcerptChars    int
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

func (c *Config) applyDefaults() {
	if c.CacheWindow <= 0 {
		c.CacheWindow = 20
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 12
	}
	if c.TurnChars <= 0 {
		c.TurnChars = 1200
	}
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = 4000
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = retrieval.DefaultMaxChars
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 700
	}
}

// Deps are the pipeline's collaborators. Generator, Quota, Bus, and
// Metrics may be nil.
type Deps struct {
	Videos    VideoLoader
	Turns     TurnStore
	Quota     QuotaGate
	Generator llm.Generator
	Bus       *events.Bus
	Metrics   *Metrics
	Logger    *slog.Logger
}

// ProviderInfo says where an answer came from.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Warning  string `json:"warning,omitempty"`
	Cached   bool   `json:"cached"`
}

// Reply is the result of a chat message.
type Reply struct {
	SessionID       string       `json:"session_id"`
	UserTurnID      string       `json:"user_turn_id"`
	AssistantTurnID string       `json:"assistant_turn_id"`
	Reply           string       `json:"reply"`
	ContextMeta     quality.Meta `json:"context_meta"`
	Provider        ProviderInfo `json:"provider"`
	Outcome         string       `json:"outcome"`
}

// Answer is the result of a one-shot question.
type Answer struct {
	VideoID     string       `json:"video_id"`
	Answer      string       `json:"answer"`
	ContextMeta quality.Meta `json:"context_meta"`
	Provider    ProviderInfo `json:"provider"`
	Outcome     string       `json:"outcome"`
}

// Pipeline handles chat messages and one-shot questions. It holds no
// per-session state; history and quota are re-read for every request.
type Pipeline struct {
	cfg       Config
	videos    VideoLoader
	turns     TurnStore
	quota     QuotaGate
	generator llm.Generator
	bus       *events.Bus
	metrics   *Metrics
	logger    *slog.Logger
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		videos:    deps.Videos,
		turns:     deps.Turns,
		quota:     deps.Quota,
		generator: deps.Generator,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "chat"),
	}
}

// result is the pipeline's internal answer before it is shaped into a
// Reply or Answer.
type result struct {
	text     string
	provider ProviderInfo
	outcome  string
	meta     quality.Meta

	inputTokens  int
	outputTokens int
}

// HandleMessage answers message in a session owned by userID and stores
// the USER and ASSISTANT turns.
func (p *Pipeline) HandleMessage(ctx context.Context, sessionID, userID, message string) (*Reply, error) {
	start := time.Now()
	if err := p.validate(message); err != nil {
		return nil, err
	}

	sess, err := p.turns.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, apperr.Forbiddenf("session %s belongs to another user", sessionID)
	}
	video, err := p.videos.LoadVideo(ctx, sess.VideoID, userID)
	if err != nil {
		return nil, err
	}

	window := max(p.cfg.CacheWindow, p.cfg.HistoryTurns)
	recent, err := p.turns.RecentTurns(ctx, sessionID, window)
	if err != nil {
		return nil, err
	}

	meta := assess(video)
	var res *result
	if cached, ok := findCached(lastN(recent, p.cfg.CacheWindow), message); ok {
		res = &result{
			text:     cached,
			provider: ProviderInfo{Provider: OutcomeCache, Cached: true},
			outcome:  OutcomeCache,
			meta:     meta,
		}
	} else {
		res, err = p.answer(ctx, video, meta, userID, message, lastN(recent, p.cfg.HistoryTurns))
		if err != nil {
			return nil, err
		}
	}

	userTurnID, assistantTurnID, err := p.turns.AppendTurnPair(ctx, sessionID, strings.TrimSpace(message), res.text)
	if err != nil {
		return nil, err
	}

	if billable(res.outcome) {
		p.record(ctx, usage.Record{
			UserID:       userID,
			JobKind:      usage.KindChat,
			VideoID:      video.ID,
			SessionID:    sessionID,
			Provider:     res.provider.Provider,
			Model:        res.provider.Model,
			InputTokens:  res.inputTokens,
			OutputTokens: res.outputTokens,
		})
	}
	p.finish(res, video.ID, sessionID, userID, start)

	return &Reply{
		SessionID:       sessionID,
		UserTurnID:      userTurnID,
		AssistantTurnID: assistantTurnID,
		Reply:           res.text,
		ContextMeta:     res.meta,
		Provider:        res.provider,
		Outcome:         res.outcome,
	}, nil
}

// Ask answers a single question about a video without a session. Only
// the usage record is persisted.
func (p *Pipeline) Ask(ctx context.Context, videoID, userID, question string) (*Answer, error) {
	start := time.Now()
	if err := p.validate(question); err != nil {
		return nil, err
	}
	video, err := p.videos.LoadVideo(ctx, videoID, userID)
	if err != nil {
		return nil, err
	}

	res, err := p.answer(ctx, video, assess(video), userID, question, nil)
	if err != nil {
		return nil, err
	}
	if billable(res.outcome) {
		p.record(ctx, usage.Record{
			UserID:       userID,
			JobKind:      usage.KindChat,
			VideoID:      video.ID,
			Provider:     res.provider.Provider,
			Model:        res.provider.Model,
			InputTokens:  res.inputTokens,
			OutputTokens: res.outputTokens,
		})
	}
	p.finish(res, video.ID, "", userID, start)

	return &Answer{
		VideoID:     video.ID,
		Answer:      res.text,
		ContextMeta: res.meta,
		Provider:    res.provider,
		Outcome:     res.outcome,
	}, nil
}

func (p *Pipeline) validate(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return apperr.Validationf("message is required")
	}
	if n := utf8.RuneCountInString(trimmed); n > p.cfg.MaxMessageChars {
		return apperr.Validationf("message is %d characters; the limit is %d", n, p.cfg.MaxMessageChars)
	}
	return nil
}

// answer runs classification, quota, and generation for one question.
func (p *Pipeline) answer(ctx context.Context, video *videos.Video, meta quality.Meta, userID, question string, history []memory.Turn) (*result, error) {
	switch {
	case quality.IsSmallTalk(question):
		return &result{
			text:     prompts.SmallTalkReply(video.Title),
			provider: ProviderInfo{Provider: OutcomeSmallTalk},
			outcome:  OutcomeSmallTalk,
			meta:     meta,
		}, nil
	case quality.IsMetaQuestion(question):
		return &result{
			text:     prompts.MetaQuestionReply(meta.HasTranscript, meta.HasSummary, meta.HasDescription, string(meta.Quality)),
			provider: ProviderInfo{Provider: OutcomeMeta},
			outcome:  OutcomeMeta,
			meta:     meta,
		}, nil
	}

	if p.quota != nil {
		if err := p.quota.Check(ctx, userID); err != nil {
			if apperr.Is(err, apperr.QuotaExceeded) {
				p.metrics.observeRejection()
				p.metrics.observeReply(OutcomeRejected, "")
				data := map[string]any{
					"user_id":  userID,
					"video_id": video.ID,
				}
				var qe *apperr.QuotaError
				if errors.As(err, &qe) {
					data["used"] = qe.Used
					data["limit"] = qe.Limit
				}
				p.bus.Emit(events.SourceChat, events.KindQuotaExceeded, data)
			}
			return nil, err
		}
	}

	excerpt := p.excerpt(video, question)
	summary, description := informativeContext(video, meta)
	in := prompts.ChatInput{
		Title:           video.Title,
		Summary:         summary,
		Description:     description,
		HasTranscript:   meta.HasTranscript,
		TranscriptChars: meta.TranscriptChars,
		Quality:         string(meta.Quality),
		Excerpt:         excerpt,
		History:         p.history(history),
		Question:        strings.TrimSpace(question),
	}

	resp, err := p.generate(ctx, in)
	if err != nil {
		p.logger.Warn("generation failed, using fallback answer",
			"video", video.ID, "transient", llm.Transient(err), "error", err)
		p.bus.Emit(events.SourceChat, events.KindFallback, map[string]any{
			"video_id": video.ID,
			"error":    err.Error(),
		})
		return &result{
			text:     prompts.FallbackAnswer(question, video.Title, summary, excerpt),
			provider: ProviderInfo{Provider: OutcomeFallback, Warning: fallbackWarning},
			outcome:  OutcomeFallback,
			meta:     meta,
		}, nil
	}

	return &result{
		text: strings.TrimSpace(resp.Text),
		provider: ProviderInfo{
			Provider: resp.Provider,
			Model:    resp.Model,
			Warning:  resp.Warning,
		},
		outcome:      OutcomeGenerated,
		meta:         meta,
		inputTokens:  resp.InputTokens,
		outputTokens: resp.OutputTokens,
	}, nil
}

// generate calls the generator. A missing generator, an error, or an
// empty completion are all reported as upstream errors.
func (p *Pipeline) generate(ctx context.Context, in prompts.ChatInput) (*llm.Response, error) {
	if p.generator == nil {
		return nil, apperr.New(apperr.Upstream, "no generation backend configured")
	}

	start := time.Now()
	resp, err := p.generator.Generate(ctx, llm.Request{
		Model:             p.cfg.Model,
		SystemInstruction: prompts.ChatSystemPrompt(),
		UserPrompt:        prompts.ChatPrompt(in),
		Temperature:       p.cfg.Temperature,
		MaxOutputTokens:   p.cfg.MaxOutputTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.observeGeneration(p.generator.Name(), elapsed, false)
		return nil, apperr.Wrap(apperr.Upstream, err, "generation failed")
	}
	p.metrics.observeGeneration(resp.Provider, elapsed, true)

	if strings.TrimSpace(resp.Text) == "" {
		return nil, apperr.New(apperr.Upstream, "generation returned no text")
	}
	p.logger.Debug("generation complete",
		"provider", resp.Provider,
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return resp, nil
}

// excerpt selects the transcript context for question. Videos with only
// stored transcript text fall back to its truncated prefix.
func (p *Pipeline) excerpt(video *videos.Video, question string) string {
	if len(video.Segments) > 0 {
		return retrieval.Retrieve(video.Segments, question, p.cfg.ExcerptChars)
	}
	return retrieval.Truncate(strings.TrimSpace(video.TranscriptText), p.cfg.ExcerptChars)
}

func (p *Pipeline) history(turns []memory.Turn) []prompts.Turn {
	out := make([]prompts.Turn, 0, len(turns))
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if utf8.RuneCountInString(content) > p.cfg.TurnChars {
			content = retrieval.Truncate(content, p.cfg.TurnChars) + "…"
		}
		out = append(out, prompts.Turn{Role: string(t.Role), Content: content})
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, rec usage.Record) {
	if p.quota == nil {
		return
	}
	p.quota.Record(ctx, rec)
}

func (p *Pipeline) finish(res *result, videoID, sessionID, userID string, start time.Time) {
	elapsed := time.Since(start)
	p.metrics.observeReply(res.outcome, res.provider.Provider)
	p.bus.Emit(events.SourceChat, events.KindReply, map[string]any{
		"session_id": sessionID,
		"video_id":   videoID,
		"user_id":    userID,
		"outcome":    res.outcome,
		"provider":   res.provider.Provider,
		"model":      res.provider.Model,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	p.logger.Info("question answered",
		"video", videoID,
		"session", sessionID,
		"outcome", res.outcome,
		"provider", res.provider.Provider,
		"quality", string(res.meta.Quality),
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

// billable reports whether an outcome consumes quota.
func billable(outcome string) bool {
	return outcome == OutcomeGenerated || outcome == OutcomeFallback
}

// assess derives the context meta for a video.
func assess(v *videos.Video) quality.Meta {
	text := v.TranscriptText
	if text == "" && len(v.Segments) > 0 {
		text = retrieval.Truncate(transcript.PlainText(v.Segments), transcript.MaxTranscriptChars)
	}
	return quality.Assess(v.Description, v.Summary, text)
}

// informativeContext returns the summary and visible description text
// that passed the quality filter, or "" for each that did not.
func informativeContext(v *videos.Video, meta quality.Meta) (summary, description string) {
	if meta.HasSummary {
		summary = strings.TrimSpace(v.Summary)
	}
	if meta.HasDescription {
		description = quality.VisibleText(v.Description)
	}
	return summary, description
}

// findCached looks newest-first for a USER turn equal to message after
// normalization that is immediately followed by an ASSISTANT turn, and
// returns that ASSISTANT turn's content.
func findCached(turns []memory.Turn, message string) (string, bool) {
	want := quality.NormalizeMessage(message)
	for i := len(turns) - 2; i >= 0; i-- {
		if turns[i].Role != memory.RoleUser || turns[i+1].Role != memory.RoleAssistant {
			continue
		}
		if quality.NormalizeMessage(turns[i].Content) == want {
			return turns[i+1].Content, true
		}
	}
	return "", false
}

// lastN returns the last n turns.
func lastN(turns []memory.Turn, n int) []memory.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
