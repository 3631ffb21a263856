package speech

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/voxrelay/internal/domain"
)

var (
	audioNameRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.wav$`)
	sessionUnsafe = regexp.MustCompile(`[^A-Za-z0-9-]`)
)

// Materializer synthesizes reply text into WAV files under one directory.
type Materializer struct {
	synth      Synthesizer
	transcoder Transcoder
	dir        string
	logger     *slog.Logger
}

// NewMaterializer creates the output directory and returns a Materializer.
func NewMaterializer(synth Synthesizer, transcoder Transcoder, dir string, logger *slog.Logger) (*Materializer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		synth:      synth,
		transcoder: transcoder,
		dir:        dir,
		logger:     logger,
	}, nil
}

// Dir returns the output directory.
func (m *Materializer) Dir() string { return m.dir }

// Provider names the synthesizer in use.
func (m *Materializer) Provider() string { return m.synth.Name() }

// Materialize synthesizes text and writes tts_<session>_<suffix>.wav. The
// file is complete on disk when Materialize returns without error. Every
// failure is a *domain.SynthesisError.
func (m *Materializer) Materialize(ctx context.Context, sessionID, text string) (Artifact, error) {
	art := Artifact{Provider: m.synth.Name()}

	start := time.Now()
	compressed, err := m.synth.Synthesize(ctx, text)
	art.Synthesis = time.Since(start)
	if err != nil {
		return art, m.fail("synthesize", err)
	}
	art.SourceSize = len(compressed)

	tmp, err := os.CreateTemp(m.dir, ".tts-*.tmp")
	if err != nil {
		return art, m.fail("write", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	start = time.Now()
	err = m.transcoder.Transcode(compressed, tmp)
	art.Transcode = time.Since(start)
	if err != nil {
		_ = tmp.Close()
		return art, m.fail("transcode", err)
	}
	if err := tmp.Close(); err != nil {
		return art, m.fail("write", err)
	}

	art.Name = fileName(sessionID)
	art.Path = filepath.Join(m.dir, art.Name)
	if err := os.Rename(tmpPath, art.Path); err != nil {
		return art, m.fail("write", err)
	}
	tmpPath = ""

	if info, err := os.Stat(art.Path); err == nil {
		art.Size = info.Size()
	}
	return art, nil
}

func (m *Materializer) fail(stage string, err error) error {
	return &domain.SynthesisError{Provider: m.synth.Name(), Stage: stage, Cause: err}
}

// Resolve maps a served file name to its path. Names that are not plain WAV
// file names, or that do not exist, yield a *domain.NotFoundError.
func (m *Materializer) Resolve(name string) (string, error) {
	if !audioNameRe.MatchString(name) || filepath.Base(name) != name {
		return "", &domain.NotFoundError{Resource: "audio file", Name: name}
	}
	path := filepath.Join(m.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", &domain.NotFoundError{Resource: "audio file", Name: name}
	}
	return path, nil
}

// Prune deletes audio files (and abandoned temp files) last modified before
// now minus maxAge.
func (m *Materializer) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	threshold := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".wav") || strings.HasSuffix(name, ".tmp")) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to prune audio file", "file", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func fileName(sessionID string) string {
	sid := sessionUnsafe.ReplaceAllString(sessionID, "_")
	if sid == "" {
		sid = "session"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("tts_%s_%s.wav", sid, suffix)
}
