package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/discovery"
	"github.com/NeilG112/LocalLoop/matching"
	"github.com/NeilG112/LocalLoop/store"
)

// jwtSecret signs and verifies session tokens. main replaces it with
// JWT_SECRET.
var jwtSecret = []byte("your_secret_key_please_change_in_production")

// app carries what the handlers share.
type app struct {
	store     store.Store
	accounts  store.Accounts
	discovery *discovery.Engine
	matching  *matching.Engine
	hub       *Hub
	idem      *idempotency
	upgrader  websocket.Upgrader
	log       *zap.Logger
	tokenTTL  time.Duration
}

func newApp(b *backend, cfg Config, logger *zap.Logger) *app {
	return &app{
		store:    b.store,
		accounts: b.accounts,
		discovery: discovery.New(b.store,
			discovery.WithBatchSize(cfg.BatchSize),
			discovery.WithLogger(logger.Named("discovery"))),
		matching: matching.New(b.store, logger.Named("matching")),
		hub:      newHub(),
		idem:     newIdempotency(cfg.RedisURL, logger.Named("idempotency")),
		upgrader: newUpgrader(cfg.CORSOrigins, cfg.Development()),
		log:      logger,
		tokenTTL: cfg.TokenTTL,
	}
}

func (a *app) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(withCORS(origins))

	// Core auth & profile endpoints
	r.Post("/register", registerHandler(a))
	r.Post("/login", loginHandler(a))
	r.Get("/me", meHandler(a))
	r.Put("/me/profile", putProfileHandler(a))
	r.Post("/me/blocks/{id}", blockHandler(a, true))
	r.Delete("/me/blocks/{id}", blockHandler(a, false))
	r.Get("/users/{id}/profile", userProfileHandler(a))

	// Discovery & matching
	r.Get("/discover", discoverHandler(a))
	r.Post("/swipes/{id}", swipeHandler(a))
	r.Get("/likes/{id}", likedMeHandler(a))

	r.Route("/matches", func(mr chi.Router) {
		mr.Use(DataLoaderMiddleware(a.store))
		mr.Get("/", matchesHandler(a))
		mr.Get("/{id}/messages", listMessagesHandler(a))
		mr.Post("/{id}/messages", sendMessageHandler(a))
	})

	// WebSocket endpoint for messages, matches and typing
	r.Get("/ws", wsHandler(a))

	// Health check endpoint for Docker
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func newLogger(cfg Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg := loadConfig()
	jwtSecret = []byte(cfg.JWTSecret)

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	cfg.logEnvFile(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer b.close()

	a := newApp(b, cfg, logger)
	defer a.idem.close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting LocalLoop backend", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
