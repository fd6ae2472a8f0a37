// Package engine runs the full paragraphs-to-topic-tree pipeline: embed,
// cluster level by level, generate titles, consolidate, and optionally
// extract triples.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/topictree/internal/cluster"
	"github.com/dgallion1/topictree/internal/metrics"
	"github.com/dgallion1/topictree/internal/titles"
	"github.com/dgallion1/topictree/internal/topictree"
	"golang.org/x/sync/errgroup"
)

// Embedder returns one vector per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Enricher fills title candidates into an arena.
type Enricher interface {
	Enrich(ctx context.Context, arena *topictree.Arena) error
}

// TripleExtractor pulls subject/predicate/object facts out of text.
type TripleExtractor interface {
	ExtractTriples(ctx context.Context, text string) ([]topictree.Triple, error)
}

// Config tunes the engine. Zero values take defaults.
type Config struct {
	EmbedBatchSize int
	EmbedWorkers   int
	TripleWorkers  int
	TitleThreshold float64
	Divisors       map[topictree.Level]int
	Reduce         cluster.ReduceConfig
	ReduceFallback cluster.ReduceConfig
}

func DefaultConfig() Config {
	return Config{
		EmbedBatchSize: 64,
		EmbedWorkers:   4,
		TripleWorkers:  4,
		TitleThreshold: titles.DefaultThreshold,
	}
}

// Options select the root level and how deep the tree goes.
type Options struct {
	Level               topictree.Level
	CreateLearningUnits bool
	CreateTriples       bool

	// OnStage, when set, is called as each stage starts: embed, cluster,
	// enrich, triples.
	OnStage func(stage string)
}

func (o Options) stage(name string) {
	if o.OnStage != nil {
		o.OnStage(name)
	}
}

// Engine is safe for concurrent use by multiple jobs.
type Engine struct {
	embedder Embedder
	enricher Enricher
	triples  TripleExtractor
	cfg      Config
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New returns an Engine. triples may be nil when triple extraction is
// never requested.
func New(embedder Embedder, enricher Enricher, triples TripleExtractor, cfg Config, m *metrics.Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	d := DefaultConfig()
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = d.EmbedBatchSize
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = d.EmbedWorkers
	}
	if cfg.TripleWorkers <= 0 {
		cfg.TripleWorkers = d.TripleWorkers
	}
	if cfg.TitleThreshold <= 0 {
		cfg.TitleThreshold = d.TitleThreshold
	}
	return &Engine{
		embedder: embedder,
		enricher: enricher,
		triples:  triples,
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// Run builds a titled topic tree from paragraphs. Collaborator failures
// are returned as *topictree.PipelineError. An empty input yields a
// single untitled root.
func (e *Engine) Run(ctx context.Context, paragraphs []string, opts Options) (*topictree.Tree, error) {
	if !opts.Level.Valid() {
		opts.Level = topictree.LevelCourse
	}
	if opts.CreateTriples && e.triples == nil {
		return nil, fmt.Errorf("triple extraction requested but no extractor is configured")
	}
	log := e.log.With("level", opts.Level.String(), "paragraphs", len(paragraphs))

	docs := make([]topictree.Document, len(paragraphs))
	for i, p := range paragraphs {
		docs[i] = topictree.Document{ID: i, Text: p}
	}
	builder := topictree.NewBuilder(e.selector(), log)
	for l, d := range e.cfg.Divisors {
		builder.SetDivisor(l, d)
	}
	treeOpts := topictree.Options{
		CreateLearningUnits: opts.CreateLearningUnits,
		CreateTriples:       opts.CreateTriples,
	}

	if len(docs) == 0 {
		tree, _ := builder.Build(nil, nil, opts.Level, treeOpts)
		titles.Consolidate(tree)
		log.Info("empty input, returning bare root")
		return tree, nil
	}

	opts.stage("embed")
	stage := time.Now()
	vectors, err := e.embed(ctx, paragraphs)
	if err != nil {
		return nil, topictree.Fail("embed", err)
	}
	vectors = cluster.Normalize(vectors)
	e.metrics.ObserveStage("embed", time.Since(stage))

	opts.stage("cluster")
	stage = time.Now()
	tree, arena := builder.Build(docs, vectors, opts.Level, treeOpts)
	e.metrics.ObserveStage("cluster", time.Since(stage))
	log.Info("tree clustered", "nodes", tree.Count())

	opts.stage("enrich")
	stage = time.Now()
	if err := e.enricher.Enrich(ctx, arena); err != nil {
		return nil, topictree.Fail("titles", err)
	}
	e.metrics.ObserveStage("enrich", time.Since(stage))

	titles.Assign(tree, arena, e.cfg.TitleThreshold)
	titles.Consolidate(tree)

	if opts.CreateTriples {
		opts.stage("triples")
		stage = time.Now()
		if err := e.extractTriples(ctx, tree); err != nil {
			return nil, topictree.Fail("triples", err)
		}
		e.metrics.ObserveStage("triples", time.Since(stage))
	}

	for l, n := range tree.CountByLevel() {
		e.metrics.AddNodes(l.String(), n)
	}
	log.Info("tree complete", "nodes", tree.Count())
	return tree, nil
}

func (e *Engine) selector() *cluster.Selector {
	reducer := cluster.NewReducer(e.log)
	if e.cfg.Reduce.Neighbors > 0 && e.cfg.Reduce.Dims > 0 {
		reducer.Primary = e.cfg.Reduce
	}
	if e.cfg.ReduceFallback.Neighbors > 0 && e.cfg.ReduceFallback.Dims > 0 {
		reducer.Fallback = e.cfg.ReduceFallback
	}
	return cluster.NewSelector(reducer, e.log)
}

// embed sends paragraphs to the embedder in batches on a bounded pool.
func (e *Engine) embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EmbedWorkers)
	for start := 0; start < len(texts); start += e.cfg.EmbedBatchSize {
		end := min(start+e.cfg.EmbedBatchSize, len(texts))
		g.Go(func() error {
			v, err := e.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(v) != end-start {
				return fmt.Errorf("embedding count mismatch (got %d want %d)", len(v), end-start)
			}
			copy(out[start:end], v)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("embedding %d has length %d, want %d", i, len(v), dim)
		}
	}
	return out, nil
}

func (e *Engine) extractTriples(ctx context.Context, tree *topictree.Tree) error {
	var targets []*topictree.Node
	tree.Walk(func(n, _ *topictree.Node) bool {
		if n.Level == topictree.LevelTriple {
			targets = append(targets, n)
		}
		return true
	})

	results := make([][]topictree.Triple, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.TripleWorkers)
	for i, n := range targets {
		g.Go(func() error {
			ts, err := e.triples.ExtractTriples(gctx, n.Text)
			if err != nil {
				return fmt.Errorf("triple node %d: %w", i, err)
			}
			results[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, n := range targets {
		n.Triples = results[i]
	}
	e.log.Debug("triples extracted", "nodes", len(targets))
	return nil
}
