// Package config provides application configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider and backend names.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderGoogle = "google"

	MinHistoryLimit = 3
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	LLM          LLMConfig
	TTS          TTSConfig
	Conversation ConversationConfig
	Twilio       TwilioConfig
	Events       EventsConfig
	Janitor      JanitorConfig
	Chat         ChatConfig
	Prompts      Prompts

	LogLevel       string
	MetricsEnabled bool
	GRPCHealthAddr string
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string
	Port            string
	PublicBaseURL   string // externally reachable origin used in audio URLs
	FrontendURL     string // CORS origin; empty allows any
	ShutdownTimeout time.Duration
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// LLMConfig configures the completion API.
type LLMConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// TTSConfig configures speech synthesis and audio file output.
type TTSConfig struct {
	Provider   string
	Language   string
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string
	SampleRate int
	Timeout    time.Duration
	AudioDir   string
}

// OutputDir is the directory synthesized WAV files are written to.
func (t TTSConfig) OutputDir() string {
	return strings.TrimRight(t.AudioDir, "/") + "/output"
}

// ConversationConfig controls history retention.
type ConversationConfig struct {
	HistoryLimit int
	Store        string
	DBPath       string
	RedisURL     string
	IdleTTL      time.Duration
}

// TwilioConfig holds environment-provided telephony settings.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	Voice             string
	ValidateSignature bool
}

// EventsConfig controls the NDJSON event journal.
type EventsConfig struct {
	Enabled    bool
	Path       string
	QueueSize  int
	RecentSize int
}

// JanitorConfig controls opt-in cleanup of idle sessions and old audio.
type JanitorConfig struct {
	Interval       time.Duration
	AudioRetention time.Duration
}

// ChatConfig controls the browser chat endpoint.
type ChatConfig struct {
	RateLimit float64
	RateBurst int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("API_HOST", "0.0.0.0"),
			Port:            getEnv("PORT", "7860"),
			PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
			FrontendURL:     getEnv("FRONTEND_URL", ""),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderGroq)),
			APIKey:      getEnv("LLM_API_KEY", getEnv("GROQ_API_KEY", "")),
			Model:       getEnv("LLM_MODEL", getEnv("GROQ_LLM_MODEL", "llama-3.3-70b-versatile")),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 1),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		TTS: TTSConfig{
			Provider:   strings.ToLower(getEnv("TTS_PROVIDER", ProviderGoogle)),
			Language:   getEnv("TTS_LANGUAGE", "en"),
			APIKey:     getEnv("TTS_API_KEY", ""),
			BaseURL:    getEnv("TTS_BASE_URL", ""),
			Model:      getEnv("TTS_MODEL", "tts-1"),
			Voice:      getEnv("TTS_VOICE", "alloy"),
			SampleRate: getEnvInt("TTS_SAMPLE_RATE", 8000),
			Timeout:    getEnvDuration("TTS_TIMEOUT", 20*time.Second),
			AudioDir:   getEnv("AUDIO_DIR", "audio_files"),
		},
		Conversation: ConversationConfig{
			HistoryLimit: getEnvInt("CONVERSATION_HISTORY_LIMIT", 10),
			Store:        strings.ToLower(getEnv("CONVERSATION_STORE", "memory")),
			DBPath:       getEnv("DB_PATH", "./data/voxrelay.db"),
			RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
			IdleTTL:      getEnvDuration("SESSION_IDLE_TTL", 0),
		},
		Twilio: TwilioConfig{
			AccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
			PhoneNumber:       getEnv("TWILIO_PHONE_NUMBER", ""),
			Voice:             getEnv("TWILIO_VOICE", "alice"),
			ValidateSignature: getEnvBool("TWILIO_VALIDATE_SIGNATURE", false),
		},
		Events: EventsConfig{
			Enabled:    getEnvBool("EVENT_LOG_ENABLED", true),
			Path:       getEnv("EVENT_LOG_PATH", "logs/app_logs.ndjson"),
			QueueSize:  getEnvInt("EVENT_LOG_QUEUE_SIZE", 1000),
			RecentSize: getEnvInt("EVENT_RECENT_SIZE", 200),
		},
		Janitor: JanitorConfig{
			Interval:       getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			AudioRetention: getEnvDuration("AUDIO_RETENTION", 0),
		},
		Chat: ChatConfig{
			RateLimit: getEnvFloat("CHAT_RATE_LIMIT", 2),
			RateBurst: getEnvInt("CHAT_RATE_BURST", 5),
		},
		Prompts:        DefaultPrompts(),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
	}

	if path := getEnv("PROMPTS_FILE", ""); path != "" {
		p, err := LoadPrompts(path, cfg.Prompts)
		if err != nil {
			return nil, err
		}
		cfg.Prompts = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.LLM.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of groq, openai, gemini; got %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY (or GROQ_API_KEY) cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	switch c.TTS.Provider {
	case ProviderGoogle:
	case ProviderOpenAI:
		if c.TTS.APIKey == "" {
			return fmt.Errorf("TTS_API_KEY is required for TTS_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("TTS_PROVIDER must be google or openai; got %q", c.TTS.Provider)
	}
	if c.TTS.SampleRate <= 0 {
		return fmt.Errorf("TTS_SAMPLE_RATE must be > 0")
	}
	if c.TTS.AudioDir == "" {
		return fmt.Errorf("AUDIO_DIR cannot be empty")
	}
	if c.Conversation.HistoryLimit < MinHistoryLimit {
		return fmt.Errorf("CONVERSATION_HISTORY_LIMIT must be >= %d", MinHistoryLimit)
	}
	switch c.Conversation.Store {
	case "memory":
	case "sqlite":
		if c.Conversation.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty for CONVERSATION_STORE=sqlite")
		}
	case "redis":
		if c.Conversation.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty for CONVERSATION_STORE=redis")
		}
	default:
		return fmt.Errorf("CONVERSATION_STORE must be memory, sqlite or redis; got %q", c.Conversation.Store)
	}
	if c.Events.Enabled && c.Events.Path == "" {
		return fmt.Errorf("EVENT_LOG_PATH cannot be empty")
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("EVENT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Events.RecentSize <= 0 {
		return fmt.Errorf("EVENT_RECENT_SIZE must be > 0")
	}
	if (c.Conversation.IdleTTL > 0 || c.Janitor.AudioRetention > 0) && c.Janitor.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0 when cleanup is enabled")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateBurst <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT and CHAT_RATE_BURST must be > 0")
	}
	return c.Prompts.validate()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.FrontendURL == "" ||
		strings.Contains(c.Server.FrontendURL, "localhost") ||
		strings.Contains(c.Server.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
