// Package stack wires the model-service clients, the embedding cache and
// the optional triple extractor into an engine from configuration.
package stack

import (
	"fmt"
	"log/slog"

	"github.com/dgallion1/topictree/internal/config"
	"github.com/dgallion1/topictree/internal/embedcache"
	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/enrich"
	"github.com/dgallion1/topictree/internal/extract"
	"github.com/dgallion1/topictree/internal/latency"
	"github.com/dgallion1/topictree/internal/metrics"
	"github.com/dgallion1/topictree/internal/services"
)

// Stack owns the clients behind an Engine.
type Stack struct {
	Engine *engine.Engine

	// TriplesEnabled is set when an Anthropic key was configured.
	TriplesEnabled bool

	closers []func()
}

// Build constructs the engine and its collaborators. m and stats may be
// nil.
func Build(cfg config.Config, m *metrics.Metrics, stats *latency.Set, log *slog.Logger) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Stack{}
	opts := services.Options{
		Timeout: cfg.ServiceTimeout,
		Stats:   stats,
		Metrics: m,
		Logger:  log,
	}

	embedClient := services.NewEmbedClient(cfg.EmbedURL, cfg.EmbedModel, opts)
	s.closers = append(s.closers, embedClient.Close)
	var embedder engine.Embedder = embedClient
	if cfg.EmbedCachePath != "" {
		cache, err := embedcache.Open(cfg.EmbedCachePath, embedClient.Model(), embedClient, m)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		s.closers = append(s.closers, func() { cache.Close() })
		embedder = cache
		log.Info("embedding cache enabled", "path", cfg.EmbedCachePath)
	}

	var summarizer enrich.Summarizer
	if cfg.SummaryURL != "" {
		sc := services.NewSummaryClient(cfg.SummaryURL, opts)
		s.closers = append(s.closers, sc.Close)
		summarizer = sc
	}
	titles := services.NewTitleClient(cfg.TitlesURL, opts)
	s.closers = append(s.closers, titles.Close)
	enricher := enrich.New(summarizer, titles, cfg.Tuning.Enrich(), log)

	var triples engine.TripleExtractor
	if cfg.AnthropicAPIKey != "" {
		claude := extract.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel,
			extract.WithStats(stats),
			extract.WithMetrics(m),
			extract.WithLogger(log),
		)
		s.closers = append(s.closers, claude.Close)
		triples = claude
		s.TriplesEnabled = true
	}

	s.Engine = engine.New(embedder, enricher, triples, cfg.Tuning.Engine(), m, log)
	return s, nil
}

// Close releases every client, most recently opened first.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
