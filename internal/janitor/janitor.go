// Package janitor periodically removes idle conversations and old audio files.
// It only runs when a retention limit is configured.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper deletes conversations idle for longer than a duration.
type SessionSweeper interface {
	Sweep(ctx context.Context, idle time.Duration) (int64, error)
}

// AudioPruner deletes audio files older than a duration.
type AudioPruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// Config sets the sweep cadence and retention limits. Zero disables a limit.
type Config struct {
	Interval       time.Duration
	SessionIdleTTL time.Duration
	AudioRetention time.Duration
}

// Janitor runs cleanup sweeps on a ticker.
type Janitor struct {
	cfg      Config
	sessions SessionSweeper
	audio    AudioPruner
	logger   *slog.Logger
}

// New creates a Janitor. sessions or audio may be nil.
func New(cfg Config, sessions SessionSweeper, audio AudioPruner, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{cfg: cfg, sessions: sessions, audio: audio, logger: logger}
}

// Enabled reports whether any retention limit is set.
func (j *Janitor) Enabled() bool {
	return j.cfg.Interval > 0 && (j.cfg.SessionIdleTTL > 0 || j.cfg.AudioRetention > 0)
}

// Run sweeps every interval until ctx is done. It returns immediately when
// no retention limit is set.
func (j *Janitor) Run(ctx context.Context) error {
	if !j.Enabled() {
		return nil
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	j.logger.Info("janitor started",
		"interval", j.cfg.Interval,
		"session_idle_ttl", j.cfg.SessionIdleTTL,
		"audio_retention", j.cfg.AudioRetention)

	for {
		select {
		case <-ticker.C:
			j.SweepOnce(ctx)
		case <-ctx.Done():
			j.logger.Info("janitor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Result counts what one sweep removed.
type Result struct {
	Sessions int64
	Files    int
}

// SweepOnce runs a single cleanup pass. Failures are logged and the pass
// continues with the next resource.
func (j *Janitor) SweepOnce(ctx context.Context) Result {
	var res Result

	if j.sessions != nil && j.cfg.SessionIdleTTL > 0 {
		n, err := j.sessions.Sweep(ctx, j.cfg.SessionIdleTTL)
		if err != nil {
			j.logger.Error("janitor failed to sweep idle conversations", "error", err)
		} else if n > 0 {
			j.logger.Info("janitor removed idle conversations", "count", n)
		}
		res.Sessions = n
	}

	if j.audio != nil && j.cfg.AudioRetention > 0 {
		n, err := j.audio.Prune(ctx, j.cfg.AudioRetention)
		if err != nil {
			j.logger.Error("janitor failed to prune audio files", "error", err)
		} else if n > 0 {
			j.logger.Info("janitor removed audio files", "count", n)
		}
		res.Files = n
	}

	return res
}
