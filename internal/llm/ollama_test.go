package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "qwen3:4b",
			"message":           map[string]string{"role": "assistant", "content": "It covers knife skills."},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 120,
			"eval_count":        9,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "qwen3:4b", 0, nil)
	resp, err := c.Generate(context.Background(), Request{
		SystemInstruction: "be brief",
		UserPrompt:        "what is covered?",
		Temperature:       0.3,
		MaxOutputTokens:   700,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	if got.Stream {
		t.Error("request should not stream")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "what is covered?" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Options == nil || got.Options.NumPredict != 700 || got.Options.Temperature != 0.3 {
		t.Errorf("options = %+v", got.Options)
	}

	if resp.Text != "It covers knife skills." || resp.Provider != "ollama" || resp.Model != "qwen3:4b" {
		t.Errorf("response = %+v", resp)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 9 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.Warning != "" {
		t.Errorf("Warning = %q, want empty", resp.Warning)
	}
}

func TestOllamaClient_Truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"partial"},"done":true,"done_reason":"length"}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaClient(srv.URL, "m", 0, nil).Generate(context.Background(), Request{UserPrompt: "q"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Warning != truncatedWarning {
		t.Errorf("Warning = %q, want %q", resp.Warning, truncatedWarning)
	}
}

func TestOllamaClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "missing", 0, nil).Generate(context.Background(), Request{UserPrompt: "q"})
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("Generate error = %v, want 404 with body", err)
	}
	if Transient(err) {
		t.Errorf("Transient(%v) = true, want false for a missing model", err)
	}
}

func TestOllamaClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, "m", 0, nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}
