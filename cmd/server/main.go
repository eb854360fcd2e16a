package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"

	"github.com/handsomefox/watchwise/internal/auth"
	"github.com/handsomefox/watchwise/internal/catalog"
	"github.com/handsomefox/watchwise/internal/config"
	"github.com/handsomefox/watchwise/internal/handlers"
	"github.com/handsomefox/watchwise/internal/jikan"
	"github.com/handsomefox/watchwise/internal/logger"
	"github.com/handsomefox/watchwise/internal/metrics"
	"github.com/handsomefox/watchwise/internal/store"
	"github.com/handsomefox/watchwise/internal/tmdb"
	"github.com/handsomefox/watchwise/internal/tracking"

	_ "github.com/joho/godotenv/autoload"
)

const (
	tokenIssuer     = "watchwise"
	shutdownTimeout = 10 * time.Second
)

type userStore interface {
	handlers.Users
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Println("Error:", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logger.New(os.Stderr, logger.ParseLevel(cfg.LogLevel), cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := openStore(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := users.Close(); err != nil {
			slog.Error("Failed to close store", logger.Error(err))
		}
	}()

	m := metrics.New(cfg.MetricsEnabled)
	app, err := handlers.New(&handlers.Config{
		Users:   users,
		Engine:  tracking.NewEngine(users),
		Tokens:  auth.Tokens{Secret: []byte(cfg.JWTSecret), TTL: cfg.TokenTTL, Issuer: tokenIssuer},
		Catalog: newCatalog(&cfg, m),
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	r := chi.NewRouter()
	r.Use(handlers.MiddlewareRequestID)
	r.Use(httplog.RequestLogger(slog.Default(), &httplog.Options{
		Level:         slog.LevelInfo,
		Schema:        httplog.SchemaECS,
		RecoverPanics: true,
		Skip: func(req *http.Request, respStatus int) bool {
			return respStatus < http.StatusBadRequest && (req.URL.Path == "/healthz" || req.URL.Path == "/readyz")
		},
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.RequestIDHeader},
		ExposedHeaders:   []string{handlers.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware(m))

	app.RegisterRoutes(r)
	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	if cfg.StaticDir != "" {
		spa, err := handlers.SPA(os.DirFS(cfg.StaticDir))
		if err != nil {
			return fmt.Errorf("failed to init static files: %w", err)
		}
		r.NotFound(spa.ServeHTTP)
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening",
			slog.String("addr", server.Addr),
			slog.String("env", string(cfg.Env)),
			slog.String("store", cfg.StoreDriver))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (userStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return store.OpenMongo(openCtx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	default:
		return store.Open(cfg.DBPath)
	}
}

func newCatalog(cfg *config.Config, m metrics.Provider) *catalog.Service {
	c := catalog.Config{
		Jikan:     jikan.New(cfg.JikanBaseURL),
		Cache:     catalog.NewCache(cfg.CacheSizeMB, cfg.CacheTTL),
		Metrics:   m,
		ImageBase: cfg.TMDBImageBase,
	}
	if strings.TrimSpace(cfg.TMDBAPIKey) != "" || strings.TrimSpace(cfg.TMDBReadToken) != "" {
		c.TMDB = tmdb.New(cfg.TMDBAPIKey, cfg.TMDBReadToken)
	} else {
		slog.Warn("TMDB_API_KEY is not set, movie and TV catalog lookups are disabled")
	}
	return catalog.New(c)
}
