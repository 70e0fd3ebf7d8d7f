package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/vidchat/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	// defaultAnthropicMaxTokens applies when a request sets no limit;
	// the Messages API requires one.
	defaultAnthropicMaxTokens = 1024
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. An empty apiURL
// selects the public Messages endpoint.
func NewAnthropicClient(apiKey, apiURL, model string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if apiURL == "" {
		apiURL = anthropicAPIURL
	}
	return &AnthropicClient{
		apiKey: apiKey,
		apiURL: apiURL,
		model:  model,
		logger: logger.With("provider", "anthropic"),
		// Rely on ctx deadlines for the overall timeout.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Name implements [Generator].
func (c *AnthropicClient) Name() string { return "anthropic" }

// Generate sends a non-streaming Messages API request.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temp := req.Temperature

	body := anthropicRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
		System:      req.SystemInstruction,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	}

	c.logger.Debug("preparing request",
		"model", model,
		"system_len", len(req.SystemInstruction),
		"prompt_len", len(req.UserPrompt),
	)

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := httpkit.CheckStatus(resp, c.Name()); err != nil {
		c.logger.Error("API error", "status", resp.StatusCode, "error", err)
		return nil, err
	}

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := convertFromAnthropic(&ar)
	c.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"stop_reason", ar.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", out.Text)
	return out, nil
}

func convertFromAnthropic(resp *anthropicResponse) *Response {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := &Response{
		Text:         text.String(),
		Provider:     "anthropic",
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if resp.StopReason == "max_tokens" {
		out.Warning = truncatedWarning
	}
	return out
}
