package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicClient_Generate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Part one. "}, {"type": "text", "text": "Part two."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 50, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, "claude-test", nil)
	resp, err := c.Generate(context.Background(), Request{
		SystemInstruction: "system text",
		UserPrompt:        "question",
		Temperature:       0.3,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	if got.System != "system text" || got.Model != "claude-test" {
		t.Errorf("request = %+v", got)
	}
	if got.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", got.MaxTokens, defaultAnthropicMaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("Temperature = %v", got.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}

	if resp.Text != "Part one. Part two." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Provider != "anthropic" || resp.InputTokens != 50 || resp.OutputTokens != 7 {
		t.Errorf("response = %+v", resp)
	}
}

func TestConvertFromAnthropic_MaxTokens(t *testing.T) {
	resp := convertFromAnthropic(&anthropicResponse{
		Model:      "m",
		Content:    []anthropicContent{{Type: "text", Text: "cut"}},
		StopReason: "max_tokens",
	})
	if resp.Warning != truncatedWarning {
		t.Errorf("Warning = %q", resp.Warning)
	}
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicClient("k", srv.URL, "m", nil).Generate(context.Background(), Request{UserPrompt: "q"})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !Transient(err) {
		t.Errorf("Transient(%v) = false, want true for rate limiting", err)
	}
}
