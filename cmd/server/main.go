package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/topictree/internal/api"
	"github.com/dgallion1/topictree/internal/chunker"
	"github.com/dgallion1/topictree/internal/config"
	"github.com/dgallion1/topictree/internal/latency"
	"github.com/dgallion1/topictree/internal/metrics"
	"github.com/dgallion1/topictree/internal/pathstore"
	"github.com/dgallion1/topictree/internal/pipeline"
	"github.com/dgallion1/topictree/internal/stack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics and rolling latency.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	stats := latency.NewSet(time.Hour)

	// Initialize clients.
	st, err := stack.Build(cfg, m, stats, log)
	if err != nil {
		log.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	ps := pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Workers:      cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
		JobTTL:       cfg.JobTTL,
		Worker: pipeline.WorkerConfig{
			Chunk:       chunker.Config{MaxTokens: cfg.ParagraphMaxTokens, MinTokens: cfg.ParagraphMinTokens},
			StorePrefix: cfg.StorePrefix,
			PDFFallback: cfg.PDFFallbackPdftotext,
		},
	}, st.Engine, ps, m, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(api.Deps{
		Orchestrator:   orch,
		Store:          ps,
		Stats:          stats,
		Gatherer:       reg,
		TriplesEnabled: st.TriplesEnabled,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		st.Close()
		ps.Close()
	}()

	log.Info("starting topictree",
		"port", cfg.Port,
		"workers", cfg.WorkerCount,
		"triples", st.TriplesEnabled,
		"embed_cache", cfg.EmbedCachePath != "",
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
