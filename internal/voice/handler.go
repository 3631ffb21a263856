// Package voice serves the telephony webhooks: call start, speech turns and
// the synthesized audio the provider plays back.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voxrelay/internal/api"
	"github.com/ashureev/voxrelay/internal/config"
	"github.com/ashureev/voxrelay/internal/conversation"
	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/events"
	"github.com/ashureev/voxrelay/internal/identity"
	"github.com/ashureev/voxrelay/internal/metrics"
	"github.com/ashureev/voxrelay/internal/speech"
	"github.com/ashureev/voxrelay/internal/twiml"
)

// maxFormSize caps webhook request bodies.
const maxFormSize = 1 << 20

// AudioPath is the route prefix synthesized files are served under.
const AudioPath = "/api/voice/audio/"

// Speaker turns reply text into a served audio file.
type Speaker interface {
	Materialize(ctx context.Context, sessionID, text string) (speech.Artifact, error)
	Resolve(name string) (string, error)
	Provider() string
}

// Handler serves the voice webhooks.
type Handler struct {
	processor     *conversation.Processor
	speaker       Speaker
	markup        *twiml.Builder
	prompts       config.Prompts
	journal       events.Journal
	metrics       *metrics.Recorder
	publicBaseURL string
	logger        *slog.Logger
}

// Deps bundles the collaborators of a Handler.
type Deps struct {
	Processor     *conversation.Processor
	Speaker       Speaker
	Markup        *twiml.Builder
	Prompts       config.Prompts
	Journal       events.Journal
	Metrics       *metrics.Recorder
	PublicBaseURL string
	Logger        *slog.Logger
}

// NewHandler creates a voice Handler.
func NewHandler(d Deps) *Handler {
	journal := d.Journal
	if journal == nil {
		journal = events.Nop{}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		processor:     d.Processor,
		speaker:       d.Speaker,
		markup:        d.Markup,
		prompts:       d.Prompts,
		journal:       journal,
		metrics:       d.Metrics,
		publicBaseURL: strings.TrimRight(d.PublicBaseURL, "/"),
		logger:        logger,
	}
}

// RegisterRoutes mounts the webhooks. mw wraps only the provider callbacks,
// not the audio route.
func (h *Handler) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(mw...)
		r.Post("/api/voice/incoming", h.Incoming)
		r.Post(twiml.ProcessPath, h.Process)
	})
	r.Get(AudioPath+"{filename}", h.Audio)
}

// Incoming starts a conversation for a new call and greets the caller.
func (h *Handler) Incoming(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callSID, ok := identity.NormalizeSessionID(r.PostFormValue("CallSid"))
	if !ok {
		api.Error(w, http.StatusBadRequest, "CallSid is required")
		return
	}
	from := r.PostFormValue("From")

	h.logger.Info("incoming call", "call_sid", callSID, "from", from)

	// Turns seed lazily, so a store failure here does not drop the call.
	if err := h.processor.Start(r.Context(), callSID); err != nil {
		h.logger.Error("failed to start conversation", "call_sid", callSID, "error", err)
	}

	h.journal.Log(events.New(events.TypeCallIncoming, callSID, "call_received", map[string]any{
		"from":        from,
		"to":          r.PostFormValue("To"),
		"call_status": r.PostFormValue("CallStatus"),
	}))
	h.metrics.Call()

	doc, err := h.markup.Say(callSID, h.prompts.Greeting)
	if err != nil {
		h.logger.Error("failed to render greeting", "call_sid", callSID, "error", err)
		http.Error(w, "failed to render response", http.StatusInternalServerError)
		return
	}
	writeXML(w, doc)
}

// Outcomes of a voice turn.
const (
	OutcomeReprompt = "reprompt"
	OutcomePlayed   = "played"
	OutcomeSpoken   = "spoken"
	OutcomeApology  = "apology"
)

// turnResult is what a turn decided to say before it is rendered.
type turnResult struct {
	Outcome  string
	Reply    string
	AudioURL string
}

// Process handles one recognized utterance and answers with the reply.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}

	raw := r.URL.Query().Get("call_sid")
	if raw == "" {
		raw = r.PostFormValue("CallSid")
	}
	callSID, ok := identity.NormalizeSessionID(raw)
	if !ok {
		api.Error(w, http.StatusBadRequest, "call_sid is required")
		return
	}

	res := h.turn(r, callSID, r.PostFormValue("SpeechResult"))

	var (
		doc string
		err error
	)
	switch {
	case res.Outcome == OutcomePlayed:
		doc, err = h.markup.Play(callSID, res.AudioURL)
	case res.Reply == "":
		doc, err = h.markup.Gather(callSID)
	default:
		doc, err = h.markup.Say(callSID, res.Reply)
	}
	if err != nil {
		h.logger.Error("failed to render turn", "call_sid", callSID, "error", err)
		http.Error(w, "failed to render response", http.StatusInternalServerError)
		return
	}

	h.metrics.Turn(metrics.ChannelVoice, res.Outcome)
	h.journal.Log(events.New(events.TypeSpeechProcessing, callSID, "turn_completed", map[string]any{
		"outcome":   res.Outcome,
		"audio_url": res.AudioURL,
	}).WithDuration(time.Since(start)))

	h.logger.Info("voice turn",
		"call_sid", callSID,
		"outcome", res.Outcome,
		"duration", time.Since(start))

	writeXML(w, doc)
}

func (h *Handler) turn(r *http.Request, callSID, utterance string) turnResult {
	ctx := r.Context()

	if domain.IsBlank(utterance) {
		h.journal.Log(events.New(events.TypeSTT, callSID, "no_speech", nil))
		return turnResult{Outcome: OutcomeReprompt, Reply: h.prompts.Reprompt}
	}

	h.journal.Log(events.New(events.TypeSTT, callSID, "speech_received", map[string]any{
		"speech_result": utterance,
		"confidence":    r.PostFormValue("Confidence"),
	}))

	start := time.Now()
	info, err := h.processor.Run(ctx, callSID, utterance)
	h.metrics.Completion(h.processor.Provider(), time.Since(start), err)
	if err != nil {
		h.logger.Error("completion failed", "call_sid", callSID, "error", err)
		h.journal.Log(events.New(events.TypeLLM, callSID, "error", map[string]any{
			"kind":     string(domain.KindOf(err)),
			"provider": h.processor.Provider(),
			"error":    err.Error(),
		}).WithDuration(time.Since(start)))
		return turnResult{Outcome: OutcomeApology, Reply: h.prompts.Apology}
	}

	h.journal.Log(events.New(events.TypeLLM, callSID, "response_generated", map[string]any{
		"turn":          info.Turn,
		"provider":      h.processor.Provider(),
		"model":         h.processor.Model(),
		"messages_sent": info.Sent,
		"response":      info.Reply,
	}).WithDuration(info.Duration))

	art, err := h.speaker.Materialize(ctx, callSID, info.Reply)
	h.metrics.Synthesis(h.speaker.Provider(), art.Synthesis+art.Transcode, err)
	if err != nil {
		var synthErr *domain.SynthesisError
		stage := ""
		if errors.As(err, &synthErr) {
			stage = synthErr.Stage
		}
		h.logger.Warn("synthesis failed, using built-in speech", "call_sid", callSID, "stage", stage, "error", err)
		h.journal.Log(events.New(events.TypeTTS, callSID, "error", map[string]any{
			"provider": h.speaker.Provider(),
			"stage":    stage,
			"error":    err.Error(),
		}))
		return turnResult{Outcome: OutcomeSpoken, Reply: info.Reply}
	}

	audioURL := h.audioURL(r, art.Name)
	h.journal.Log(events.New(events.TypeTTS, callSID, "audio_generated", map[string]any{
		"provider":          art.Provider,
		"file":              art.Name,
		"size_bytes":        art.Size,
		"source_size_bytes": art.SourceSize,
		"synthesis_seconds": art.Synthesis.Seconds(),
		"transcode_seconds": art.Transcode.Seconds(),
		"audio_url":         audioURL,
	}).WithDuration(art.Synthesis + art.Transcode))

	return turnResult{Outcome: OutcomePlayed, Reply: info.Reply, AudioURL: audioURL}
}

// Audio serves a synthesized WAV file.
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	path, err := h.speaker.Resolve(name)
	if err != nil {
		api.Error(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

// audioURL builds the absolute URL the provider fetches audio from.
func (h *Handler) audioURL(r *http.Request, name string) string {
	return externalOrigin(r, h.publicBaseURL) + AudioPath + name
}

// externalOrigin returns base when set, otherwise the origin the request was
// addressed to, honouring reverse-proxy headers.
func externalOrigin(r *http.Request, base string) string {
	if base != "" {
		return base
	}
	scheme := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

func writeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
