package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/vidchat/internal/httpkit"
)

// OpenAIClient talks to OpenAI or any server exposing the OpenAI chat
// completions API (vLLM, LM Studio, llama.cpp server).
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a chat completions client. An empty baseURL
// selects the public OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(timeout))

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With("provider", "openai"),
	}
}

// Name implements [Generator].
func (c *OpenAIClient) Name() string { return "openai" }

// Generate sends a single chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var msgs []openai.ChatCompletionMessage
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt})

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxOutputTokens,
	}

	c.logger.Debug("preparing request", "model", model, "prompt_len", len(req.UserPrompt))

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &httpkit.StatusError{Provider: c.Name(), StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	out := &Response{
		Text:         choice.Message.Content,
		Provider:     c.Name(),
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if out.Model == "" {
		out.Model = model
	}
	if choice.FinishReason == openai.FinishReasonLength {
		out.Warning = truncatedWarning
	}

	c.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return out, nil
}
