// Package api implements the vidchat HTTP and WebSocket API.
//
// Every /v1 route except version identifies the caller by the X-User-ID
// header, which an upstream gateway is expected to set after
// authentication.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/buildinfo"
	"github.com/nugget/vidchat/internal/chat"
	"github.com/nugget/vidchat/internal/events"
	"github.com/nugget/vidchat/internal/memory"
	"github.com/nugget/vidchat/internal/quota"
	"github.com/nugget/vidchat/internal/summary"
	"github.com/nugget/vidchat/internal/transcript"
	"github.com/nugget/vidchat/internal/videos"
)

// UserHeader carries the authenticated caller's id.
const UserHeader = "X-User-ID"

// maxBodyBytes bounds JSON request bodies. Transcript uploads dominate.
const maxBodyBytes = 4 * transcript.MaxInputBytes

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	pipeline    *chat.Pipeline
	catalog     *videos.Catalog
	sessions    *memory.SQLiteStore
	ingestor    *transcript.Ingestor
	summarizer  *summary.Summarizer
	bus         *events.Bus
	quota       *quota.Checker
	usage       UsageReporter
	metrics     http.Handler
	metricsPath string
	markdown    goldmark.Markdown
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, pipeline *chat.Pipeline, catalog *videos.Catalog, sessions *memory.SQLiteStore, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		pipeline: pipeline,
		catalog:  catalog,
		sessions: sessions,
		ingestor: transcript.NewIngestor(transcript.DefaultParser),
		markdown: goldmark.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// SetIngestor replaces the default transcript ingestor.
func (s *Server) SetIngestor(ing *transcript.Ingestor) {
	s.ingestor = ing
}

// SetSummarizer enables the summary endpoint.
func (s *Server) SetSummarizer(sum *summary.Summarizer) {
	s.summarizer = sum
}

// SetEventBus sets the bus that transcript ingestion events go to.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetMetricsHandler serves h at path.
func (s *Server) SetMetricsHandler(path string, h http.Handler) {
	s.metricsPath = path
	s.metrics = h
}

// Handler returns the routed handler, wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}

	// Transcripts and videos
	mux.HandleFunc("POST /v1/transcripts/normalize", s.handleNormalize)
	mux.HandleFunc("PUT /v1/videos/{id}", s.handleVideoPut)
	mux.HandleFunc("PUT /v1/videos/{id}/transcript", s.handleTranscriptPut)
	mux.HandleFunc("POST /v1/videos/{id}/context", s.handleContext)
	mux.HandleFunc("POST /v1/videos/{id}/ask", s.handleAsk)
	mux.HandleFunc("POST /v1/videos/{id}/summary", s.handleSummary)

	// Chat sessions
	mux.HandleFunc("POST /v1/sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{id}/turns", s.handleSessionTurns)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleSessionMessage)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleSessionWS)

	// Usage
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	return s.withLogging(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // generation and summaries are slow
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"user", r.Header.Get(UserHeader),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// errorBody is the "error" object of every failed response.
type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Used    int    `json:"used,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.writeErrorBody(w, errorBody{Message: message, Type: "invalid_request", Code: code})
}

func (s *Server) writeErrorBody(w http.ResponseWriter, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Code)
	writeJSON(w, map[string]any{"error": body}, s.logger)
}

// writeError maps err's kind to a status code. Internal errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorBody(w, s.errorFor(err))
}

func (s *Server) errorFor(err error) errorBody {
	kind := apperr.KindOf(err)
	body := errorBody{Message: err.Error(), Type: kind.String(), Code: statusFor(kind)}
	var qe *apperr.QuotaError
	if errors.As(err, &qe) {
		body.Message = qe.Error()
		body.Used = qe.Used
		body.Limit = qe.Limit
	}
	if kind == apperr.Internal {
		s.logger.Error("request failed", "error", err)
		body.Message = "internal error"
	}
	return body
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotReady:
		return http.StatusConflict
	case apperr.QuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requireUser returns the caller's id, writing a 401 when it is absent.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		s.errorResponse(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return "", false
	}
	return user, true
}

// decodeJSON reads a JSON request body into v. An empty body is accepted
// when allowEmpty is set and leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Validationf("request body exceeds %d bytes", tooBig.Limit)
		}
		return apperr.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func (s *Server) writeStatusJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, v, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
