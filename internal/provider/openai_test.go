package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"personabot/internal/domain"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotBody oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello back"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Model: "test-model", Logger: slog.Default()})
	reply, err := o.Generate(context.Background(), domain.Prompt{
		Messages: []domain.PromptMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		MaxTokens:   64,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "hello back" {
		t.Fatalf("reply = %q", reply)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody.Model != "test-model" || len(gotBody.Messages) != 2 || gotBody.MaxTokens != 64 {
		t.Fatalf("request body = %+v", gotBody)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.7 {
		t.Fatalf("temperature = %v", gotBody.Temperature)
	}
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	if _, err := o.Generate(context.Background(), domain.Prompt{
		Messages: []domain.PromptMessage{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	if _, err := o.Generate(context.Background(), domain.Prompt{
		Messages: []domain.PromptMessage{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestGenerate_SingleAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	_, _ = o.Generate(context.Background(), domain.Prompt{
		Messages: []domain.PromptMessage{{Role: "user", Content: "hi"}},
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retries)", calls)
	}
}
