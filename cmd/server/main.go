package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contentflow/internal/ordering"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/logger"
	"contentflow/internal/platform/metrics"
	"contentflow/internal/upload"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	repo, closeRepo, err := openRepository(ctx)
	if err != nil {
		log.Error("open item repository", "error", err)
		os.Exit(1)
	}
	defer closeRepo()
	coll := ordering.NewCollection(repo, met)

	sessions, closeSessions, err := openSessionStore(ctx, log)
	if err != nil {
		log.Error("open session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	storage, err := openStorage(ctx)
	if err != nil {
		log.Error("open storage", "error", err)
		os.Exit(1)
	}

	kinds, err := upload.LoadKinds(config.GetEnv("CONTENT_KINDS_FILE", ""))
	if err != nil {
		log.Error("load content kinds", "error", err)
		os.Exit(1)
	}

	coord, err := upload.NewCoordinator(upload.Deps{
		Store:   sessions,
		Storage: storage,
		Sink:    collectionSink(coll),
		Metrics: met,
		Logger:  log,
	}, upload.Config{
		Kinds:        kinds,
		SpoolDir:     config.GetEnv("SPOOL_DIR", ""),
		StallTimeout: config.GetEnvDuration("STALL_TIMEOUT", upload.DefaultStallTimeout),
	})
	if err != nil {
		log.Error("create upload coordinator", "error", err)
		os.Exit(1)
	}

	uploads := upload.NewHandler(coord, log, config.GetEnvInt64("MAX_FORM_FIELD_BYTES", upload.DefaultMaxFieldBytes))
	items := ordering.NewHandler(coll, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(coord.Active()) }).ServeHTTP(w, r)
	})
	uploads.Routes(r)
	items.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"order_store", config.GetEnv("ORDER_STORE", "memory"),
		"session_store", config.GetEnv("SESSION_STORE", "memory"),
		"storage_backend", config.GetEnv("STORAGE_BACKEND", "file"),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Error("upload shutdown error", "error", err)
	}
	stop()

	log.Info("server stopped")
}
