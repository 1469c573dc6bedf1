package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/api"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/auth"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/config"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/directory"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/metrics"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/registry"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/storage"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/telephony"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/transfer"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/websocket"
	"github.com/Trivi1234567/vapi-transfer-server-render/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("public_base_url", cfg.PublicBaseURL).
		Str("registry", cfg.RegistryBackend).
		Bool("twilio", cfg.TwilioEnabled()).
		Msg("starting vapi transfer server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

// run wires the service and blocks until ctx is cancelled and everything drained
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	dir, err := directory.LoadFile(cfg.DirectoryFile)
	if err != nil {
		return fmt.Errorf("failed to load candidate directory: %w", err)
	}
	if cfg.DirectoryFile == "" {
		logger.Warn().Msg("DIRECTORY_FILE not set, every inbound call will get the apology")
	}
	logger.Info().Strs("departments", dir.Departments()).Msg("candidate directory loaded")

	// Outcome history and, optionally, the shared intent registry
	dynamoCfg := storage.LoadDynamoConfig()
	records, dynamoClient, err := storage.NewStore(ctx, dynamoCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if dynamoClient != nil && dynamoCfg.Mode == storage.DynamoModeLocal {
		if err := storage.CreateTablesIfNotExist(ctx, dynamoClient, dynamoCfg, logger); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	var intents registry.Store
	switch cfg.RegistryBackend {
	case "dynamo":
		if dynamoClient == nil {
			return errors.New("REGISTRY_BACKEND=dynamo requires DYNAMO_MODE=local or aws")
		}
		intents = storage.NewDynamoIntentStore(dynamoClient, dynamoCfg.PendingIntentsTable, cfg.IntentTTL, logger)
	default:
		intents = registry.NewMemoryStore(cfg.IntentTTL)
	}

	var gateway transfer.Gateway = telephony.DisabledGateway{}
	if cfg.TwilioEnabled() {
		gateway = telephony.NewTwilioGateway(telephony.GatewayConfig{
			AccountSID:  cfg.TwilioAccountSID,
			AuthToken:   cfg.TwilioAuthToken,
			CallerID:    cfg.TwilioCallerID,
			BaseURL:     cfg.PublicBaseURL,
			RingTimeout:    int(cfg.RingTimeout / time.Second),
			RequestTimeout: cfg.DialTimeout,
		}, logger)
	} else {
		logger.Warn().Msg("Twilio credentials missing, transfers will exhaust without dialing")
	}

	hub := websocket.NewHub(logger)

	mgr := transfer.NewManager(intents, dir, gateway, transfer.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		DialTimeout:    cfg.DialTimeout,
	}, logger)
	defer mgr.Close()
	mgr.SetRecordStore(records)
	mgr.AddListener(metrics.Get())
	mgr.AddListener(hub)
	mgr.SetExhaustedHandler(func(_ context.Context, s types.SessionSnapshot) {
		logger.Warn().
			Str("session_id", s.SessionID).
			Str("department", s.DepartmentName).
			Int("attempts", len(s.Attempts)).
			Msg("no candidate answered, caller left in bridge until hangup")
	})

	authenticator := auth.NewAuthenticator(auth.Config{
		SkipAuth:        cfg.SkipAuth,
		VerifySignature: cfg.VerifyJWTSignature,
		IssuerURL:       cfg.OIDCIssuer,
	}, logger)
	if cfg.SkipAuth {
		logger.Warn().Msg("SKIP_AUTH enabled, ops API is unauthenticated")
	}

	var webhookGuard func(http.Handler) http.Handler
	if cfg.ValidateWebhooks {
		webhookGuard = telephony.NewSignatureValidator(cfg.TwilioAuthToken, cfg.PublicBaseURL, logger).Middleware
	}

	r := newRouter(routes{
		cfg:          cfg,
		logger:       logger,
		auth:         authenticator,
		webhookGuard: webhookGuard,
		vapi:         api.NewVapiHandler(mgr, logger),
		voice:        api.NewVoiceHandler(mgr, cfg.HoldMusicURL, cfg.ApologyMessage, logger),
		sessions:     api.NewSessionsHandler(mgr, intents, logger),
		history:      api.NewHistoryHandler(records, logger),
		directory:    api.NewDirectoryHandler(dir),
		ws:           websocket.NewHandler(hub, cfg, logger),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		transfer.NewSweeper(mgr, intents, cfg.SweepInterval, cfg.SessionRetention, logger).Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// routes carries the handlers mounted by newRouter
type routes struct {
	cfg          *config.Config
	logger       zerolog.Logger
	auth         *auth.Authenticator
	webhookGuard func(http.Handler) http.Handler // nil disables signature checks
	vapi         *api.VapiHandler
	voice        *api.VoiceHandler
	sessions     *api.SessionsHandler
	history      *api.HistoryHandler
	directory    *api.DirectoryHandler
	ws           http.Handler
}

func newRouter(rt routes) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(rt.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Get().Handler())

	// Voice agent tool call
	r.Post("/api/vapi/prepare-sequential-transfer", rt.vapi.PrepareTransfer)

	// Carrier webhooks
	r.Route("/twilio/voice", func(r chi.Router) {
		if rt.webhookGuard != nil {
			r.Use(rt.webhookGuard)
		}
		r.Post("/incoming", rt.voice.Incoming)
		r.Post("/candidate-answer", rt.voice.CandidateAnswer)
		r.Post("/status", rt.voice.Status)
	})

	// Operations API
	r.Group(func(r chi.Router) {
		r.Use(rt.auth.Middleware)

		r.Get("/ws", rt.ws.ServeHTTP)
		r.Get("/api/sessions", rt.sessions.List)
		r.Get("/api/sessions/{sessionId}", rt.sessions.Get)
		r.Get("/api/transfers/pending", rt.sessions.Pending)
		r.Get("/api/transfers/history", rt.history.GetHistory)
		r.Get("/api/directory", rt.directory.List)

		r.With(auth.RequireAdmin).Delete("/api/transfers/history", rt.history.WipeHistory)
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"vapi-transfer"}`)
}
