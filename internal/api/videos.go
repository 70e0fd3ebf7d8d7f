package api

import (
	"net/http"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/chat"
	"github.com/nugget/vidchat/internal/events"
	"github.com/nugget/vidchat/internal/summary"
	"github.com/nugget/vidchat/internal/transcript"
	"github.com/nugget/vidchat/internal/videos"
)

// videoRequest is the body of PUT /v1/videos/{id}.
type videoRequest struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Summary         *string           `json:"summary"`
	DurationSeconds float64           `json:"duration_seconds"`
	Visibility      videos.Visibility `json:"visibility"`
	Status          videos.Status     `json:"status"`
}

type questionRequest struct {
	Question string `json:"question"`
	MaxChars int    `json:"max_chars,omitempty"`
}

type summaryRequest struct {
	Detail summary.Detail `json:"detail"`
}

type askResponse struct {
	*chat.Answer
	AnswerHTML string `json:"answer_html"`
}

// handleNormalize ingests a transcript and returns the normalized form
// without storing anything.
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var in transcript.Input
	if err := decodeJSON(w, r, &in, false); err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.ingestor.Ingest(in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatusJSON(w, http.StatusOK, n)
}

// handleVideoPut creates or replaces a video's metadata. The caller
// becomes the owner of a new video and must own an existing one.
func (s *Server) handleVideoPut(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var req videoRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	existing, err := s.catalog.Get(r.Context(), id)
	switch {
	case apperr.Is(err, apperr.NotFound):
		existing = nil
	case err != nil:
		s.writeError(w, err)
		return
	case existing.OwnerID != user:
		s.writeError(w, apperr.Forbiddenf("video %s belongs to another user", id))
		return
	}

	v := &videos.Video{
		ID:              id,
		OwnerID:         user,
		Title:           req.Title,
		Description:     req.Description,
		DurationSeconds: req.DurationSeconds,
		Visibility:      req.Visibility,
		Status:          req.Status,
	}
	switch {
	case req.Summary != nil:
		v.Summary = *req.Summary
	case existing != nil:
		v.Summary = existing.Summary
	}
	if err := s.catalog.Upsert(r.Context(), v); err != nil {
		s.writeError(w, err)
		return
	}

	code := http.StatusOK
	if existing == nil {
		code = http.StatusCreated
	}
	s.writeStatusJSON(w, code, v)
}

// handleTranscriptPut ingests a transcript and stores it on the video,
// replacing any previous one. Only the owner may upload.
func (s *Server) handleTranscriptPut(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var in transcript.Input
	if err := decodeJSON(w, r, &in, false); err != nil {
		s.writeError(w, err)
		return
	}

	v, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if v.OwnerID != user {
		s.writeError(w, apperr.Forbiddenf("video %s belongs to another user", id))
		return
	}
	if in.DurationSeconds == 0 {
		in.DurationSeconds = v.DurationSeconds
	}

	n, err := s.ingestor.Ingest(in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.catalog.SaveTranscript(r.Context(), id, n); err != nil {
		s.writeError(w, err)
		return
	}

	s.bus.Emit(events.SourceTranscript, events.KindIngested, map[string]any{
		"video_id": id,
		"strategy": string(n.Strategy),
		"segments": n.SegmentCount,
		"words":    n.WordCount,
	})
	s.logger.Info("transcript stored",
		"video", id,
		"strategy", n.Strategy,
		"segments", n.SegmentCount,
		"words", n.WordCount,
	)
	s.writeStatusJSON(w, http.StatusOK, n)
}

// handleContext returns the grounding context for a question without
// generating an answer.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.pipeline.Context(r.Context(), r.PathValue("id"), user, req.Question, req.MaxChars)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatusJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	ans, err := s.pipeline.Ask(r.Context(), r.PathValue("id"), user, req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatusJSON(w, http.StatusOK, askResponse{Answer: ans, AnswerHTML: s.renderMarkdown(ans.Answer)})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if s.summarizer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "summaries are not enabled")
		return
	}
	req := summaryRequest{Detail: summary.DetailFull}
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Detail == "" {
		req.Detail = summary.DetailFull
	}
	res, err := s.summarizer.Summarize(r.Context(), r.PathValue("id"), user, req.Detail)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatusJSON(w, http.StatusOK, res)
}
