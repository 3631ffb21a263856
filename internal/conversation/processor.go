// Package conversation runs user turns against the completion API while
// keeping per-session history consistent.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/llm"
	"github.com/ashureev/voxrelay/internal/store"
)

// Processor turns an utterance into an assistant reply.
type Processor struct {
	store        store.ConversationStore
	completer    llm.Completer
	systemPrompt string
	historyLimit int
	timeout      time.Duration
	locks        *keyedMutex
	logger       *slog.Logger
}

// Options configures a Processor.
type Options struct {
	SystemPrompt string
	HistoryLimit int
	// Timeout bounds a single completion call. Zero leaves it to the caller's context.
	Timeout time.Duration
	Logger  *slog.Logger
}

// TurnInfo describes a completed turn.
type TurnInfo struct {
	Reply    string
	Turn     int
	Sent     int // messages sent to the completion API
	Duration time.Duration
}

// NewProcessor creates a Processor.
func NewProcessor(s store.ConversationStore, c llm.Completer, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:        s,
		completer:    c,
		systemPrompt: opts.SystemPrompt,
		historyLimit: opts.HistoryLimit,
		timeout:      opts.Timeout,
		locks:        newKeyedMutex(),
		logger:       logger,
	}
}

// Start seeds a fresh conversation for sessionID, discarding any earlier
// history stored under the same id.
func (p *Processor) Start(ctx context.Context, sessionID string) error {
	unlock := p.locks.Lock(sessionID)
	defer unlock()

	if err := p.store.Reset(ctx, sessionID, domain.Seed(p.systemPrompt)); err != nil {
		return fmt.Errorf("seed conversation %s: %w", sessionID, err)
	}
	return nil
}

// ProcessTurn appends utterance to the session, asks the completion API for a
// reply and records it. Turns for the same session run one at a time.
func (p *Processor) ProcessTurn(ctx context.Context, sessionID, utterance string) (string, error) {
	info, err := p.Run(ctx, sessionID, utterance)
	if err != nil {
		return "", err
	}
	return info.Reply, nil
}

// Run is ProcessTurn with turn metadata. A failed completion leaves the
// stored history unchanged.
func (p *Processor) Run(ctx context.Context, sessionID, utterance string) (TurnInfo, error) {
	unlock := p.locks.Lock(sessionID)
	defer unlock()

	history, err := p.store.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		history = domain.Seed(p.systemPrompt)
		if err := p.store.Reset(ctx, sessionID, history); err != nil {
			return TurnInfo{}, fmt.Errorf("seed conversation %s: %w", sessionID, err)
		}
	} else if err != nil {
		return TurnInfo{}, fmt.Errorf("load conversation %s: %w", sessionID, err)
	}

	user := domain.UserMessage(utterance)
	pending := domain.Trim(append(history, user), p.historyLimit)

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := p.completer.Complete(callCtx, pending)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Warn("completion failed",
			"session_id", sessionID,
			"provider", p.completer.Provider(),
			"duration", elapsed,
			"error", err)
		return TurnInfo{}, err
	}

	if err := p.store.Record(ctx, sessionID, p.historyLimit, user, domain.AssistantMessage(reply)); err != nil {
		return TurnInfo{}, fmt.Errorf("record turn %s: %w", sessionID, err)
	}

	p.logger.Debug("turn completed",
		"session_id", sessionID,
		"messages_sent", len(pending),
		"duration", elapsed)

	return TurnInfo{
		Reply:    reply,
		Turn:     domain.Turns(history) + 1,
		Sent:     len(pending),
		Duration: elapsed,
	}, nil
}

// History returns a copy of the session's messages.
func (p *Processor) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return p.store.Get(ctx, sessionID)
}

// Model names the completion model in use.
func (p *Processor) Model() string { return p.completer.Model() }

// Provider names the completion API in use.
func (p *Processor) Provider() string { return p.completer.Provider() }
