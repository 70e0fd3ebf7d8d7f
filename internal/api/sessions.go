package api

import (
	"context"
	"net/http"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/chat"
	"github.com/nugget/vidchat/internal/memory"
)

// defaultTurnLimit bounds GET /v1/sessions/{id}/turns when no limit is given.
const defaultTurnLimit = 100

type sessionRequest struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type replyResponse struct {
	*chat.Reply
	ReplyHTML string `json:"reply_html"`
}

// handleSessionCreate opens a chat session on a video the caller may view.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req sessionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	if req.VideoID == "" {
		s.writeError(w, apperr.Validationf("video_id is required"))
		return
	}

	v, err := s.catalog.LoadVideo(r.Context(), req.VideoID, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	title := req.Title
	if title == "" {
		title = v.Title
	}

	sess, err := s.sessions.CreateSession(r.Context(), user, v.ID, title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatusJSON(w, http.StatusCreated, sess)
}

// handleSessionList lists the caller's sessions, optionally for one video.
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sessions, err := s.sessions.ListSessions(r.Context(), user, r.URL.Query().Get("video_id"), parseIntParam(r, "limit", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []memory.Session{}
	}
	s.writeStatusJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleSessionTurns returns the most recent turns of a session in
// chronological order.
func (s *Server) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.ownSession(r.Context(), r.PathValue("id"), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	turns, err := s.sessions.RecentTurns(r.Context(), sess.ID, parseIntParam(r, "limit", defaultTurnLimit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	s.writeStatusJSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"turns":   turns,
	})
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	reply, err := s.pipeline.HandleMessage(r.Context(), r.PathValue("id"), user, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatusJSON(w, http.StatusOK, s.replyResponse(reply))
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.ownSession(r.Context(), r.PathValue("id"), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.DeleteSession(r.Context(), sess.ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownSession loads a session and checks that user owns it.
func (s *Server) ownSession(ctx context.Context, id, user string) (*memory.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != user {
		return nil, apperr.Forbiddenf("session %s belongs to another user", id)
	}
	return sess, nil
}

func (s *Server) replyResponse(reply *chat.Reply) replyResponse {
	return replyResponse{Reply: reply, ReplyHTML: s.renderMarkdown(reply.Reply)}
}
