package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/vidchat/internal/httpkit"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute // local models can be slow to load
	}
	client := httpkit.NewClient(
		httpkit.WithTimeout(timeout),
		httpkit.WithHeaderTimeout(timeout),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger.With("provider", "ollama"),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Name implements [Generator].
func (c *OllamaClient) Name() string { return "ollama" }

// Generate sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var msgs []ollamaMessage
	if req.SystemInstruction != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.SystemInstruction})
	}
	msgs = append(msgs, ollamaMessage{Role: "user", Content: req.UserPrompt})

	body := ollamaRequest{
		Model:    model,
		Messages: msgs,
		Options:  &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxOutputTokens},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := httpkit.CheckStatus(resp, c.Name()); err != nil {
		return nil, err
	}

	var chatResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{
		Text:         chatResp.Message.Content,
		Provider:     c.Name(),
		Model:        chatResp.Model,
		InputTokens:  chatResp.PromptEvalCount,
		OutputTokens: chatResp.EvalCount,
	}
	if out.Model == "" {
		out.Model = model
	}
	if chatResp.DoneReason == "length" {
		out.Warning = truncatedWarning
	}

	c.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return out, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, httpkit.ErrorBodyLimit)

	return httpkit.CheckStatus(resp, c.Name())
}
