package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Journal records events.
type Journal interface {
	Log(e Event)
	Recent(n int) []Event
	Subscribe() (<-chan Event, func())
	Close() error
}

// Config controls a FileJournal.
type Config struct {
	Enabled    bool   // write NDJSON to Path
	Path       string
	QueueSize  int
	RecentSize int
}

// FileJournal appends events to an NDJSON file from a background goroutine,
// keeps a ring of recent events and fans out to subscribers. Writes never
// block callers: when the queue is full the event is dropped from the file
// (it still reaches the ring and subscribers).
type FileJournal struct {
	logger *slog.Logger
	ring   *Ring
	queue  chan Event
	file   *os.File
	done   chan struct{}
	drops  atomic.Uint64
	now    func() time.Time

	// mu orders sequence assignment with delivery, so every consumer sees
	// events in Seq order.
	mu     sync.Mutex
	seq    uint64
	subs   map[chan Event]struct{}
	closed bool
}

const subscriberBuffer = 64

// NewFileJournal opens the journal. When cfg.Enabled is false nothing is
// written to disk.
func NewFileJournal(cfg Config, logger *slog.Logger) (*FileJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	j := &FileJournal{
		logger: logger,
		ring:   NewRing(cfg.RecentSize),
		done:   make(chan struct{}),
		now:    time.Now,
		subs:   make(map[chan Event]struct{}),
	}

	if !cfg.Enabled {
		close(j.done)
		return j, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	j.file = f
	j.queue = make(chan Event, cfg.QueueSize)
	go j.writeLoop()
	return j, nil
}

// Log stamps and records e.
func (j *FileJournal) Log(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.seq++
	e.Seq = j.seq
	e.stamp(j.now())

	j.ring.Add(e)
	for ch := range j.subs {
		select {
		case ch <- e:
		default:
		}
	}

	if j.queue == nil {
		return
	}
	select {
	case j.queue <- e:
	default:
		if n := j.drops.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn("event log queue full, dropping events", "dropped", n)
		}
	}
}

func (j *FileJournal) writeLoop() {
	defer close(j.done)
	enc := json.NewEncoder(j.file)
	for e := range j.queue {
		if err := enc.Encode(e); err != nil {
			j.logger.Warn("failed to write event log", "event_type", e.EventType, "error", err)
		}
	}
}

// Recent returns up to n recent events, oldest first.
func (j *FileJournal) Recent(n int) []Event {
	return j.ring.Last(n)
}

// Subscribe returns a channel of live events and a cancel function. Slow
// subscribers miss events rather than stall the journal.
func (j *FileJournal) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	j.subs[ch] = struct{}{}
	j.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			if _, ok := j.subs[ch]; ok {
				delete(j.subs, ch)
				close(ch)
			}
			j.mu.Unlock()
		})
	}
}

// Dropped reports how many events were not written to disk.
func (j *FileJournal) Dropped() uint64 {
	return j.drops.Load()
}

// Close flushes queued events and closes the file and all subscriptions.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	for ch := range j.subs {
		delete(j.subs, ch)
		close(ch)
	}
	if j.queue != nil {
		close(j.queue)
	}
	j.mu.Unlock()

	<-j.done
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("close event log: %w", err)
		}
	}
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Log(Event)          {}
func (Nop) Recent(int) []Event { return nil }
func (Nop) Close() error       { return nil }

func (Nop) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
