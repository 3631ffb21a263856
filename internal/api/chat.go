package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voxrelay/internal/conversation"
	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/events"
	"github.com/ashureev/voxrelay/internal/metrics"
)

// BrowserSession is the single implicit session used by the chat endpoint.
const BrowserSession = "browser"

// maxRequestBodySize caps form bodies on JSON endpoints.
const maxRequestBodySize = 1 << 20

// Chat outcomes recorded in metrics.
const (
	chatOutcomeReplied = "replied"
	chatOutcomeError   = "error"
)

// ChatHandler runs text turns for the browser client.
type ChatHandler struct {
	processor *conversation.Processor
	journal   events.Journal
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// NewChatHandler creates a ChatHandler. journal, rec and logger may be nil.
func NewChatHandler(p *conversation.Processor, journal events.Journal, rec *metrics.Recorder, logger *slog.Logger) *ChatHandler {
	if journal == nil {
		journal = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{processor: p, journal: journal, metrics: rec, logger: logger}
}

// RegisterRoutes mounts GET and POST /api/chat. mw wraps only these routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.With(mw...).Get("/api/chat", h.Chat)
	r.With(mw...).Post("/api/chat", h.Chat)
}

type chatResponse struct {
	Status   string `json:"status"`
	Input    string `json:"input"`
	Response string `json:"response"`
	Model    string `json:"model"`
}

// Chat answers one utterance taken from the message query or form field.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		statusError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		statusError(w, http.StatusBadRequest, "message is required")
		return
	}

	h.logger.Info("chat turn", "method", r.Method, "input_length", len(message))

	info, err := h.processor.Run(r.Context(), BrowserSession, message)
	h.metrics.Completion(h.processor.Provider(), time.Since(start), err)
	if err != nil {
		h.logger.Error("chat completion failed", "error", err)
		h.metrics.Turn(metrics.ChannelChat, chatOutcomeError)
		h.journal.Log(events.New(events.TypeChat, "", "llm_error", map[string]any{
			"kind":  string(domain.KindOf(err)),
			"input": message,
			"error": err.Error(),
		}).WithDuration(time.Since(start)))

		status := http.StatusInternalServerError
		var completionErr *domain.CompletionError
		if errors.As(err, &completionErr) {
			status = http.StatusBadGateway
		}
		statusError(w, status, err.Error())
		return
	}

	h.metrics.Turn(metrics.ChannelChat, chatOutcomeReplied)
	h.journal.Log(events.New(events.TypeChat, "", "llm_response", map[string]any{
		"model":           h.processor.Model(),
		"turn":            info.Turn,
		"input":           message,
		"response":        info.Reply,
		"response_length": len(info.Reply),
	}).WithDuration(time.Since(start)))

	JSON(w, http.StatusOK, chatResponse{
		Status:   "success",
		Input:    message,
		Response: info.Reply,
		Model:    h.processor.Model(),
	})
}
