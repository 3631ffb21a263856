package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	defaultRecentLimit = 50
	feedWriteTimeout   = 5 * time.Second
)

// Feed exposes the journal over HTTP.
type Feed struct {
	journal        Journal
	originPatterns []string
}

// NewFeed creates a Feed. allowedOrigin (a host or a full URL) restricts
// websocket origins; empty allows any.
func NewFeed(journal Journal, allowedOrigin string) *Feed {
	patterns := []string{"*"}
	if allowedOrigin != "" {
		host := allowedOrigin
		if u, err := url.Parse(allowedOrigin); err == nil && u.Host != "" {
			host = u.Host
		}
		patterns = []string{host}
	}
	return &Feed{journal: journal, originPatterns: patterns}
}

// RegisterRoutes mounts the feed endpoints.
func (f *Feed) RegisterRoutes(r chi.Router) {
	r.Get("/api/events", f.List)
	r.Get("/api/events/ws", f.Stream)
}

// List handles GET /api/events?limit=N.
func (f *Feed) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	recent := f.journal.Recent(limit)
	if recent == nil {
		recent = []Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"events": recent})
}

// Stream handles GET /api/events/ws. It sends recent events, then live ones
// until the client disconnects.
func (f *Feed) Stream(w http.ResponseWriter, r *http.Request) {
	// Subscribe first so nothing logged between the backlog and the live
	// stream is lost. Duplicates are filtered by sequence number.
	live, cancel := f.journal.Subscribe()
	defer cancel()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: f.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept event feed websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed closed"); closeErr != nil {
			slog.Debug("Failed to close event feed websocket", "error", closeErr)
		}
	}()

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	var last uint64
	for _, e := range f.journal.Recent(defaultRecentLimit) {
		if err := writeEvent(ctx, ws, e); err != nil {
			return
		}
		last = e.Seq
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-live:
			if !ok {
				return
			}
			if e.Seq <= last {
				continue
			}
			if err := writeEvent(ctx, ws, e); err != nil {
				slog.Debug("Event feed write failed", "error", err)
				return
			}
			last = e.Seq
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
