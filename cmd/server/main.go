// Lingua - language tutor server
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

	"github.com/ashureev/lingua-labs/internal/api"
	"github.com/ashureev/lingua-labs/internal/auth"
	"github.com/ashureev/lingua-labs/internal/broadcast"
	"github.com/ashureev/lingua-labs/internal/config"
	"github.com/ashureev/lingua-labs/internal/domain"
	"github.com/ashureev/lingua-labs/internal/greeting"
	"github.com/ashureev/lingua-labs/internal/identity"
	"github.com/ashureev/lingua-labs/internal/middleware"
	"github.com/ashureev/lingua-labs/internal/realtime"
	"github.com/ashureev/lingua-labs/internal/responder"
	"github.com/ashureev/lingua-labs/internal/session"
	"github.com/ashureev/lingua-labs/internal/shared"
	"github.com/ashureev/lingua-labs/internal/speech"
	"github.com/ashureev/lingua-labs/internal/store"
	"github.com/ashureev/lingua-labs/internal/sweep"
	"github.com/ashureev/lingua-labs/internal/translate"
	"github.com/ashureev/lingua-labs/internal/tutor"
	"github.com/ashureev/lingua-labs/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize persistence.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	events := store.NewEventLog(repo, store.EventLogConfig{
		Enabled:   cfg.EventLog.Enabled,
		QueueSize: cfg.EventLog.QueueSize,
	}, logger)
	defer func() {
		if closeErr := events.Close(); closeErr != nil {
			slog.Error("Failed to flush event log", "error", closeErr)
		}
	}()

	capabilities := map[string]shared.Capability{}

	// Optional collaborators. Each one degrades to a local fallback.
	llm := shared.CapabilityOf(cfg.External.OpenAIAPIKey != "")
	capabilities["llm"] = llm
	var generator responder.Generator
	if llm.Available() {
		generator = responder.NewOpenAIGenerator(cfg.External.OpenAIAPIKey, cfg.External.OpenAIModel, cfg.External.OpenAIBaseURL)
		slog.Info("LLM responder enabled", "model", cfg.External.OpenAIModel)
	} else {
		slog.Info("LLM responder disabled (OPENAI_API_KEY not set), using rule-based replies")
	}

	var backends []translate.Translator
	capabilities["translator_grpc"] = shared.Unavailable
	if cfg.External.TranslatorGRPCAddr != "" {
		grpcClient, err := translate.DialGRPC(translate.GRPCConfig{Address: cfg.External.TranslatorGRPCAddr}, logger)
		if err != nil {
			slog.Warn("Failed to connect to translator sidecar, using HTTP backends only", "error", err)
		} else {
			defer grpcClient.Close()
			backends = append(backends, grpcClient)
			capabilities["translator_grpc"] = shared.Available
		}
	}
	httpClient := &http.Client{Timeout: cfg.External.Timeout}
	backends = append(backends,
		translate.NewLibreTranslate(cfg.External.TranslatorURLs, httpClient),
		translate.NewMyMemory("", httpClient),
	)
	translator := translate.NewService(translate.Config{
		Backends: backends,
		Timeout:  cfg.External.Timeout,
	})

	tts := speech.Probe(cfg.External.TTSBinary)
	capabilities["tts"] = tts
	if !tts.Available() {
		slog.Info("Speech synthesis disabled", "binary", cfg.External.TTSBinary)
	}

	registry := session.NewRegistry(nil)

	var relay *broadcast.RedisRelay
	capabilities["redis"] = shared.Unavailable
	if cfg.RedisURL != "" {
		relay, err = broadcast.NewRedisRelay(ctx, cfg.RedisURL, broadcast.DefaultRelayChannel)
		if err != nil {
			slog.Warn("Failed to connect to Redis, rooms stay local to this instance", "error", err)
			relay = nil
		} else {
			defer func() {
				if closeErr := relay.Close(); closeErr != nil {
					slog.Error("Failed to close Redis relay", "error", closeErr)
				}
			}()
			capabilities["redis"] = shared.Available
		}
	}
	hubCfg := broadcast.Config{Presence: registry}
	if relay != nil {
		hubCfg.Relay = relay
	}
	hub := broadcast.NewHub(hubCfg)

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret: cfg.Auth.JWTSecret,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		slog.Error("Failed to initialize token issuer", "error", err)
		os.Exit(1)
	}

	providers, pendingTTL, err := auth.ProvidersFromEnv()
	if err != nil {
		slog.Error("Failed to load identity providers", "error", err)
		os.Exit(1)
	}
	oauth := auth.NewOAuthClient(auth.OAuthConfig{
		Providers:  providers,
		PendingTTL: pendingTTL,
		Timeout:    cfg.External.Timeout,
	})
	capabilities["oauth"] = shared.CapabilityOf(len(providers) > 0)

	svc := tutor.New(tutor.Config{
		Registry: registry,
		Responder: responder.New(responder.Config{
			Picker:    responder.NewRandPicker(uint64(time.Now().UnixNano())),
			Generator: generator,
			LLM:       llm,
			Timeout:   cfg.External.Timeout,
		}),
		Greetings:  greeting.NewStore(),
		Issuer:     issuer,
		Hub:        hub,
		Identity:   oauth,
		Users:      repo,
		Translator: translator,
		Speech: speech.NewEspeak(speech.Config{
			Binary:     cfg.External.TTSBinary,
			Capability: tts,
			Timeout:    cfg.External.Timeout,
		}),
		Events:          events,
		DefaultLanguage: cfg.DefaultLanguage,
		TokenTTL:        cfg.Auth.TokenTTL,
		Capabilities:    capabilities,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	// Initialize handlers.
	apiHandler := api.NewHandler(svc, repo, cfg.FrontendURL)
	wsHandler := realtime.NewHandler(realtime.Config{
		Service:        svc,
		Hub:            hub,
		Verifier:       issuer,
		Limiter:        limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(issuer, cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r, middleware.RateLimit(limiter, func(r *http.Request) string {
		return identity.UserIDFromContext(r.Context())
	}))

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	if spa := web.SPAHandler(cfg.StaticDir); spa != nil {
		r.Handle("/*", spa)
		slog.Info("Serving frontend", "dir", cfg.StaticDir)
	}

	// No WriteTimeout: WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go hub.Run(ctx)

	sweep.Start(ctx, sweep.Config{
		Interval:          cfg.Sweep.Interval,
		SessionIdleTTL:    cfg.Sweep.SessionIdleTTL,
		ConnectionIdleTTL: cfg.Sweep.ConnectionIdleTTL,
		EventRetention:    cfg.Sweep.EventRetention,
		Sessions:          registry,
		Tokens:            issuer,
		Connections:       hub,
		OAuth:             oauth,
		Events:            repo,
		RateLimits:        limiter,
		OnEvict: func(s domain.Session) {
			events.Log(domain.EventSweep, map[string]any{
				"evicted":  "session",
				"user_id":  s.UserID,
				"language": s.TargetLanguage,
				"score":    s.ProgressScore,
			})
		},
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
