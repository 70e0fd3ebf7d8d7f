package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 64 * 1024
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 10 * time.Minute
)

// Frame types.
const (
	frameMessage = "message"
	frameReply   = "reply"
	frameError   = "error"
	framePing    = "ping"
	framePong    = "pong"
)

// wsInbound is a client frame. A frame without a type is a message.
type wsInbound struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wsOutbound struct {
	Type  string         `json:"type"`
	Reply *replyResponse `json:"reply,omitempty"`
	Error *errorBody     `json:"error,omitempty"`
}

// handleSessionWS runs a chat session over a WebSocket. Ownership is
// checked before the upgrade so refusals are ordinary HTTP errors. Each
// inbound frame is answered with one reply, pong, or error frame. An
// error frame, including one for a frame that is not valid JSON, does
// not close the connection.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.ownSession(r.Context(), r.PathValue("id"), user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "session", sess.ID, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	s.logger.Debug("websocket connected", "session", sess.ID, "user", user)
	ctx := r.Context()
	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "session", sess.ID, "error", err)
			}
			return
		}

		var out wsOutbound
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			out = wsOutbound{Type: frameError, Error: &errorBody{
				Message: "frame is not a JSON object",
				Type:    "invalid_request",
				Code:    http.StatusBadRequest,
			}}
		} else {
			out = s.answerFrame(ctx, sess.ID, user, in)
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(out); err != nil {
			s.logger.Debug("websocket write failed", "session", sess.ID, "error", err)
			return
		}
	}
}

// answerFrame produces the outbound frame for one decoded inbound frame.
func (s *Server) answerFrame(ctx context.Context, sessionID, user string, in wsInbound) wsOutbound {
	switch in.Type {
	case framePing:
		return wsOutbound{Type: framePong}
	case frameMessage, "":
		reply, err := s.pipeline.HandleMessage(ctx, sessionID, user, in.Message)
		if err != nil {
			body := s.errorFor(err)
			return wsOutbound{Type: frameError, Error: &body}
		}
		resp := s.replyResponse(reply)
		return wsOutbound{Type: frameReply, Reply: &resp}
	default:
		return wsOutbound{Type: frameError, Error: &errorBody{
			Message: "unknown frame type " + in.Type,
			Type:    "invalid_request",
			Code:    http.StatusBadRequest,
		}}
	}
}
