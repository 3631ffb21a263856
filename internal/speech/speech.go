// Package speech turns reply text into WAV files the telephony provider can play.
package speech

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/voxrelay/internal/config"
)

// Synthesizer converts text into compressed (MP3) speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Name() string
}

// NewSynthesizer constructs the synthesizer selected by cfg.Provider.
func NewSynthesizer(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Provider {
	case config.ProviderGoogle:
		return NewGoogle(GoogleOptions{
			BaseURL:  cfg.BaseURL,
			Language: cfg.Language,
			Client:   &http.Client{Timeout: cfg.Timeout},
		}), nil
	case config.ProviderOpenAI:
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		return NewOpenAI(openai.NewClientWithConfig(oc), cfg.Model, cfg.Voice), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.Provider)
	}
}

// Artifact describes a materialized audio file.
type Artifact struct {
	Name       string // file name under the output directory
	Path       string
	Size       int64
	Synthesis  time.Duration
	Transcode  time.Duration
	Provider   string
	SourceSize int // bytes of compressed speech received
}
