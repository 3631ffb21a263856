package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "API_HOST", "PORT", "LLM_PROVIDER", "LLM_API_KEY", "LLM_MODEL",
		"LLM_TEMPERATURE", "LLM_MAX_TOKENS", "CONVERSATION_HISTORY_LIMIT",
		"CONVERSATION_STORE", "SESSION_IDLE_TTL", "AUDIO_RETENTION", "AUDIO_DIR",
		"TTS_PROVIDER", "PROMPTS_FILE")
	t.Setenv("GROQ_API_KEY", "gsk_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:7860" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.LLM.Provider != ProviderGroq || cfg.LLM.APIKey != "gsk_test" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 1 || cfg.LLM.MaxTokens != 1024 {
		t.Fatalf("unexpected sampling defaults: %+v", cfg.LLM)
	}
	if cfg.Conversation.HistoryLimit != 10 || cfg.Conversation.Store != "memory" {
		t.Fatalf("unexpected conversation defaults: %+v", cfg.Conversation)
	}
	if cfg.Conversation.IdleTTL != 0 || cfg.Janitor.AudioRetention != 0 {
		t.Fatal("cleanup must be disabled by default")
	}
	if cfg.TTS.OutputDir() != "audio_files/output" {
		t.Fatalf("unexpected output dir %q", cfg.TTS.OutputDir())
	}
	if cfg.Prompts.Greeting != "Hello! Please speak." {
		t.Fatalf("unexpected greeting %q", cfg.Prompts.Greeting)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "LLM_API_KEY") {
		t.Fatalf("expected missing api key error, got %v", err)
	}
}

func TestValidateRejectsTinyHistoryLimit(t *testing.T) {
	unsetEnv(t, "PROMPTS_FILE", "LLM_PROVIDER", "TTS_PROVIDER")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("CONVERSATION_HISTORY_LIMIT", "2")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for history limit below minimum")
	}
}

func TestValidateOpenAITTSNeedsKey(t *testing.T) {
	unsetEnv(t, "PROMPTS_FILE", "LLM_PROVIDER")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("TTS_PROVIDER", "openai")
	t.Setenv("TTS_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for openai tts without key")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90")
	if got := getEnvDuration("X_DUR", 0); got != 90*time.Second {
		t.Fatalf("bare seconds: got %v", got)
	}
	t.Setenv("X_DUR", "2m")
	if got := getEnvDuration("X_DUR", 0); got != 2*time.Minute {
		t.Fatalf("duration string: got %v", got)
	}
	t.Setenv("X_DUR", "soon")
	if got := getEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Fatalf("fallback: got %v", got)
	}
}

func TestLoadPromptsOverridesSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "system_prompt: You are a pirate.\ngreeting: Ahoy!\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}

	unsetEnv(t, "LLM_PROVIDER", "TTS_PROVIDER", "CONVERSATION_HISTORY_LIMIT")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("PROMPTS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prompts.SystemPrompt != "You are a pirate." || cfg.Prompts.Greeting != "Ahoy!" {
		t.Fatalf("overrides not applied: %+v", cfg.Prompts)
	}
	if cfg.Prompts.Reprompt != DefaultPrompts().Reprompt {
		t.Fatalf("unset key lost its default: %+v", cfg.Prompts)
	}
}

func TestLoadPromptsAllowsSilentReprompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("reprompt: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}

	unsetEnv(t, "LLM_PROVIDER", "TTS_PROVIDER", "CONVERSATION_HISTORY_LIMIT")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("PROMPTS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Prompts.Reprompt != "" || cfg.Prompts.Greeting != DefaultPrompts().Greeting {
		t.Fatalf("unexpected prompts: %+v", cfg.Prompts)
	}
}

func TestLoadPromptsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("greeting: [unclosed"), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}
	if _, err := LoadPrompts(path, DefaultPrompts()); err == nil {
		t.Fatal("expected parse error")
	}
}
