package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/voxrelay/internal/config"
	"github.com/ashureev/voxrelay/internal/domain"
)

type capturedRequest struct {
	mu   sync.Mutex
	body map[string]any
	path string
}

func (c *capturedRequest) set(path string, body map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	c.body = body
}

func (c *capturedRequest) get() (string, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.body
}

func newOpenAIServer(t *testing.T, status int, reply string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if captured != nil {
			captured.set(r.URL.Path, body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "llama-3.3-70b-versatile",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderGroq,
		APIKey:      "test-key",
		Model:       "llama-3.3-70b-versatile",
		BaseURL:     baseURL,
		Temperature: 1,
		MaxTokens:   1024,
	}
}

func TestOpenAICompleterSendsHistory(t *testing.T) {
	captured := &capturedRequest{}
	srv := newOpenAIServer(t, http.StatusOK, "  Hi there!  ", captured)
	c := NewOpenAI(testLLMConfig(srv.URL))

	msgs := append(domain.Seed("sys"), domain.UserMessage("Hello"))
	reply, err := c.Complete(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Hi there!" {
		t.Fatalf("expected trimmed reply, got %q", reply)
	}

	path, body := captured.get()
	if path != "/chat/completions" {
		t.Fatalf("unexpected path %q", path)
	}
	if body["max_tokens"].(float64) != 1024 {
		t.Fatalf("unexpected max_tokens %v", body["max_tokens"])
	}
	sent := body["messages"].([]any)
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages sent, got %d", len(sent))
	}
	first := sent[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Fatalf("unexpected first message %v", first)
	}
}

func TestOpenAICompleterWrapsAPIError(t *testing.T) {
	srv := newOpenAIServer(t, http.StatusTooManyRequests, "", nil)
	c := NewOpenAI(testLLMConfig(srv.URL))

	_, err := c.Complete(context.Background(), domain.Seed("sys"))
	var ce *domain.CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompletionError, got %T %v", err, err)
	}
	if ce.Provider != config.ProviderGroq || ce.Timeout {
		t.Fatalf("unexpected error fields: %+v", ce)
	}
}

func TestOpenAICompleterEmptyReply(t *testing.T) {
	srv := newOpenAIServer(t, http.StatusOK, "   ", nil)
	c := NewOpenAI(testLLMConfig(srv.URL))

	_, err := c.Complete(context.Background(), domain.Seed("sys"))
	if domain.KindOf(err) != domain.KindCompletion {
		t.Fatalf("expected completion error for empty reply, got %v", err)
	}
}

func TestOpenAICompleterTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := NewOpenAI(testLLMConfig(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, domain.Seed("sys"))

	var ce *domain.CompletionError
	if !errors.As(err, &ce) || !ce.Timeout {
		t.Fatalf("expected timed out CompletionError, got %v", err)
	}
}

func TestGroqDefaultBaseURL(t *testing.T) {
	cfg := testLLMConfig("")
	c := NewOpenAI(cfg)
	if c.Provider() != config.ProviderGroq || c.Model() != cfg.Model {
		t.Fatalf("unexpected completer identity %s/%s", c.Provider(), c.Model())
	}
}

func TestGeminiCompleterMapsRoles(t *testing.T) {
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		captured.set(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Sure."}]}}]}`))
	}))
	defer srv.Close()

	cfg := testLLMConfig(srv.URL)
	cfg.Provider = config.ProviderGemini
	cfg.Model = "gemini-2.0-flash"
	c, err := NewGemini(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}

	msgs := append(domain.Seed("sys"),
		domain.UserMessage("Hello"), domain.AssistantMessage("Hi"), domain.UserMessage("again"))
	reply, err := c.Complete(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Sure." {
		t.Fatalf("unexpected reply %q", reply)
	}

	path, body := captured.get()
	if !strings.HasSuffix(path, "gemini-2.0-flash:generateContent") {
		t.Fatalf("unexpected path %q", path)
	}
	contents := body["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("expected system prompt excluded from contents, got %d entries", len(contents))
	}
	if role := contents[1].(map[string]any)["role"]; role != "model" {
		t.Fatalf("expected assistant mapped to model, got %v", role)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Fatal("expected systemInstruction in request")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := testLLMConfig("")
	cfg.Provider = "bard"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
