package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/carbonlake/aquiferai/config"
	"github.com/carbonlake/aquiferai/handlers"
	"github.com/carbonlake/aquiferai/metrics"
	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
	"github.com/carbonlake/aquiferai/pkg/pipeline"
	"github.com/carbonlake/aquiferai/pkg/session"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion bool
		verbose     bool
		envFile     string
	)
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode - show debug logs")
	flag.StringVar(&envFile, "env-file", ".env", "path to env file (missing file is ignored)")
	flag.Parse()

	if showVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	_ = godotenv.Load(envFile)

	log := newLogger(verbose)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver, err := config.ConnectNeo4j(log, cfg.Neo4j)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = driver.Close(closeCtx)
	}()

	pool, err := config.ConnectPostgres(ctx, log, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	var backend gateway.Backend
	switch cfg.LLM.Backend {
	case "ollama":
		backend = gateway.NewOllamaBackend(cfg.LLM.OllamaURL, cfg.LLM.MaxTokens)
	default:
		backend = gateway.NewAnthropicBackend(cfg.LLM.MaxTokens)
	}

	gw, err := gateway.New(gateway.Config{
		Logger:      log,
		Backend:     backend,
		Models:      cfg.LLM.Models,
		Timeout:     cfg.LLM.GatewayTimeout,
		MaxAttempts: uint(cfg.LLM.MaxAttempts),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	store, err := graphstore.NewNeo4jStore(graphstore.Neo4jConfig{
		Logger:       log,
		Driver:       driver,
		Database:     cfg.Neo4j.Database,
		QueryTimeout: cfg.Neo4j.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create graph store: %w", err)
	}

	prompts, err := pipeline.LoadPrompts()
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:            log,
		Gateway:           gw,
		Store:             store,
		Prompts:           prompts,
		MaxRetries:        cfg.Pipeline.MaxRetries,
		SynthesisRowLimit: cfg.Pipeline.SynthesisRowLimit,
		WorkerPoolSize:    cfg.Pipeline.WorkerPoolSize,
		ContextWindow:     cfg.Pipeline.ContextWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	sessions := session.NewPostgresStore(pool)

	h := handlers.New(log, p, sessions, store)
	h.ContextWindow = cfg.Pipeline.ContextWindow

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/api/schema", h.Schema)
	r.Post("/api/chat", h.Chat)
	r.Get("/api/sessions", h.ListSessions)
	r.Post("/api/sessions", h.CreateSession)
	r.Get("/api/sessions/{id}", h.GetSession)
	r.Delete("/api/sessions/{id}", h.DeleteSession)

	// Prometheus metrics server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("failed to start metrics listener", "error", err)
				return
			}
			log.Info("metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
	}))
}
