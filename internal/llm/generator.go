// Package llm provides the text-generation clients used to answer video
// questions. Each provider implements [Generator]; callers that find no
// provider configured fall back to deterministic text instead.
package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nugget/vidchat/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Request is one text-generation call.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model             string
	SystemInstruction string
	UserPrompt        string
	Temperature       float64
	MaxOutputTokens   int
}

// Response is the provider-neutral generation result.
type Response struct {
	Text     string
	Provider string
	Model    string
	// Warning is set when the provider answered but flagged the result
	// (for example a truncated completion).
	Warning string

	InputTokens  int
	OutputTokens int
}

// Generator is the interface that all LLM providers must implement.
type Generator interface {
	// Generate sends a single system+user exchange and returns the reply.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name reported in responses.
	Name() string
}

// truncatedWarning is reported when a completion hit its token limit.
const truncatedWarning = "response truncated at the output token limit"

// Transient reports whether err is a provider failure that may clear on
// its own, such as rate limiting or an overloaded server.
func Transient(err error) bool {
	var se *httpkit.StatusError
	return errors.As(err, &se) && se.Transient()
}
