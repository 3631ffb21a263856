// voxrelay - voice conversation relay server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/voxrelay/internal/api"
	"github.com/ashureev/voxrelay/internal/config"
	"github.com/ashureev/voxrelay/internal/conversation"
	"github.com/ashureev/voxrelay/internal/credentials"
	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/events"
	"github.com/ashureev/voxrelay/internal/health"
	"github.com/ashureev/voxrelay/internal/janitor"
	"github.com/ashureev/voxrelay/internal/llm"
	"github.com/ashureev/voxrelay/internal/metrics"
	"github.com/ashureev/voxrelay/internal/middleware"
	"github.com/ashureev/voxrelay/internal/speech"
	"github.com/ashureev/voxrelay/internal/store"
	"github.com/ashureev/voxrelay/internal/twiml"
	"github.com/ashureev/voxrelay/internal/voice"
	"github.com/ashureev/voxrelay/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown LOG_LEVEL, using info", "log_level", cfg.LogLevel)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server",
		"addr", cfg.Server.Addr(),
		"llm_provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"tts_provider", cfg.TTS.Provider,
		"store", cfg.Conversation.Store,
		"dev", cfg.IsDevelopment())

	// Conversation store.
	conversations, err := store.Open(store.Options{
		Backend:  cfg.Conversation.Store,
		DBPath:   cfg.Conversation.DBPath,
		RedisURL: cfg.Conversation.RedisURL,
		IdleTTL:  cfg.Conversation.IdleTTL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversations.Close(); closeErr != nil {
			slog.Error("Failed to close conversation store", "error", closeErr)
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = conversations.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return err
	}
	slog.Info("Conversation store ready", "backend", cfg.Conversation.Store)

	// Completion and speech.
	completer, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	synth, err := speech.NewSynthesizer(cfg.TTS)
	if err != nil {
		return err
	}
	materializer, err := speech.NewMaterializer(synth, speech.MP3Transcoder{SampleRate: cfg.TTS.SampleRate}, cfg.TTS.OutputDir(), logger)
	if err != nil {
		return err
	}

	processor := conversation.NewProcessor(conversations, completer, conversation.Options{
		SystemPrompt: cfg.Prompts.SystemPrompt,
		HistoryLimit: cfg.Conversation.HistoryLimit,
		Timeout:      cfg.LLM.Timeout,
		Logger:       logger,
	})

	// Event journal and metrics.
	journal, err := events.NewFileJournal(events.Config{
		Enabled:    cfg.Events.Enabled,
		Path:       cfg.Events.Path,
		QueueSize:  cfg.Events.QueueSize,
		RecentSize: cfg.Events.RecentSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := journal.Close(); closeErr != nil {
			slog.Error("Failed to close event journal", "error", closeErr)
		}
	}()

	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.NewRecorder(conversations)
	}

	creds := credentials.NewManager(domain.Credentials{
		AccountSID:  cfg.Twilio.AccountSID,
		AuthToken:   cfg.Twilio.AuthToken,
		PhoneNumber: cfg.Twilio.PhoneNumber,
	}, credentials.NewTwilioVerifier(logger), logger)

	limiter := middleware.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateBurst, 0)
	defer limiter.Close()

	// Handlers.
	voiceHandler := voice.NewHandler(voice.Deps{
		Processor:     processor,
		Speaker:       materializer,
		Markup:        twiml.NewBuilder(cfg.Twilio.Voice),
		Prompts:       cfg.Prompts,
		Journal:       journal,
		Metrics:       recorder,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	})
	var voiceMiddleware []func(http.Handler) http.Handler
	if cfg.Twilio.ValidateSignature {
		voiceMiddleware = append(voiceMiddleware, voice.SignatureMiddleware(creds.AuthToken, cfg.Server.PublicBaseURL, logger))
		slog.Info("Webhook signature validation enabled")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	api.NewHealthHandler(conversations).RegisterHealth(r)
	api.NewInfoHandler(processor.Model(), processor.Provider(), materializer.Provider()).RegisterRoutes(r)
	api.NewChatHandler(processor, journal, recorder, logger).RegisterRoutes(r, limiter.Middleware)
	api.NewCredentialsHandler(creds, journal, logger).RegisterRoutes(r)
	voiceHandler.RegisterRoutes(r, voiceMiddleware...)
	events.NewFeed(journal, cfg.Server.FrontendURL).RegisterRoutes(r)

	if recorder != nil {
		r.Handle("/metrics", recorder.Handler())
	}

	// Serve embedded browser client (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: the event feed websocket is long-lived.
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweeper := janitor.New(janitor.Config{
		Interval:       cfg.Janitor.Interval,
		SessionIdleTTL: cfg.Conversation.IdleTTL,
		AudioRetention: cfg.Janitor.AudioRetention,
	}, conversations, materializer, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var healthServer *health.Server
	if cfg.GRPCHealthAddr != "" {
		healthServer = health.NewServer(logger)
		g.Go(func() error {
			return healthServer.ListenAndServe(gctx, cfg.GRPCHealthAddr)
		})
	}

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		if healthServer != nil {
			healthServer.SetServing(false)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	journal.Log(events.New(events.TypeServerStart, "", "server_started", map[string]any{
		"host":         cfg.Server.Host,
		"port":         cfg.Server.Port,
		"llm_provider": processor.Provider(),
		"model":        processor.Model(),
		"tts_provider": materializer.Provider(),
		"audio_dir":    materializer.Dir(),
		"store":        cfg.Conversation.Store,
	}))

	return g.Wait()
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.Server.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.Server.FrontendURL}
}
