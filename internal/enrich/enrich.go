// Package enrich fills title candidates into the records collected while a
// tree is built. Long node texts are first compressed to a token budget via
// the summarization service, then records are batched to the title service
// on a bounded worker pool.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/topictree/internal/chunker"
	"github.com/dgallion1/topictree/internal/topictree"
	"golang.org/x/sync/errgroup"
)

// Summarizer compresses text to roughly ratio of its length.
type Summarizer interface {
	Summarize(ctx context.Context, text string, ratio float64) (string, error)
}

// TitleGenerator returns ranked candidate titles, one list per text.
type TitleGenerator interface {
	GenerateTitles(ctx context.Context, texts []string, blooms bool, maxLen, n int) ([][]string, error)
}

// Config tunes budget compression and batching.
type Config struct {
	TokenBudget    int // max tokens of node text sent for titling
	BatchSize      int // texts per title request
	NumTitles      int // candidates requested per text
	MaxTitleLength int // words per candidate
	TitleWorkers   int // concurrent title requests
	SummaryWorkers int // concurrent summarize requests
}

func DefaultConfig() Config {
	return Config{
		TokenBudget:    512,
		BatchSize:      32,
		NumTitles:      5,
		MaxTitleLength: 12,
		TitleWorkers:   2,
		SummaryWorkers: 8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TokenBudget <= 0 {
		c.TokenBudget = d.TokenBudget
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.NumTitles <= 0 {
		c.NumTitles = d.NumTitles
	}
	if c.MaxTitleLength <= 0 {
		c.MaxTitleLength = d.MaxTitleLength
	}
	if c.TitleWorkers <= 0 {
		c.TitleWorkers = d.TitleWorkers
	}
	if c.SummaryWorkers <= 0 {
		c.SummaryWorkers = d.SummaryWorkers
	}
	return c
}

// Orchestrator runs the enrichment pass over an arena.
type Orchestrator struct {
	summarizer Summarizer
	titles     TitleGenerator
	cfg        Config
	count      func(string) int
	log        *slog.Logger
}

// New returns an Orchestrator. A nil summarizer disables compression and
// node text is always sent verbatim.
func New(summarizer Summarizer, titles TitleGenerator, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		summarizer: summarizer,
		titles:     titles,
		cfg:        cfg.withDefaults(),
		count:      chunker.CountTokens,
		log:        log,
	}
}

// Enrich sets Summary and Candidates on every record in arena. Nothing is
// written unless every request succeeds; any failure is returned as a
// *topictree.PipelineError.
func (o *Orchestrator) Enrich(ctx context.Context, arena *topictree.Arena) error {
	n := arena.Len()
	if n == 0 {
		return nil
	}

	summaries, err := o.compress(ctx, arena)
	if err != nil {
		return topictree.Fail("summarize", err)
	}

	candidates, err := o.generate(ctx, arena, summaries)
	if err != nil {
		return topictree.Fail("titles", err)
	}

	for i := 0; i < n; i++ {
		rec := arena.At(i)
		rec.Summary = summaries[i]
		rec.Candidates = candidates[i]
	}
	o.log.Debug("enrichment complete", "records", n)
	return nil
}

// compress returns the text to title for each record, summarizing the
// member documents of records whose total exceeds the token budget.
func (o *Orchestrator) compress(ctx context.Context, arena *topictree.Arena) ([]string, error) {
	n := arena.Len()
	out := make([]string, n)
	parts := make([][]string, n)
	ratios := make([]float64, n)

	type task struct{ rec, doc int }
	var tasks []task

	for i := 0; i < n; i++ {
		rec := arena.At(i)
		total := 0
		for _, d := range rec.Docs {
			total += o.count(d)
		}
		if o.summarizer == nil || total <= o.cfg.TokenBudget {
			out[i] = strings.Join(rec.Docs, "\n")
			continue
		}
		ratios[i] = min(float64(o.cfg.TokenBudget)/float64(total), 1)
		parts[i] = make([]string, len(rec.Docs))
		for j := range rec.Docs {
			tasks = append(tasks, task{rec: i, doc: j})
		}
	}
	if len(tasks) == 0 {
		return out, nil
	}

	o.log.Debug("compressing records over budget", "documents", len(tasks), "budget", o.cfg.TokenBudget)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SummaryWorkers)
	for _, t := range tasks {
		g.Go(func() error {
			s, err := o.summarizer.Summarize(gctx, arena.At(t.rec).Docs[t.doc], ratios[t.rec])
			if err != nil {
				return fmt.Errorf("summarize record %d doc %d: %w", t.rec, t.doc, err)
			}
			parts[t.rec][t.doc] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, p := range parts {
		if p != nil {
			out[i] = strings.Join(p, "\n")
		}
	}
	return out, nil
}

// batch is one title request: record slots and their texts, in order.
type batch struct {
	blooms bool
	slots  []int
	texts  []string
}

// generate partitions records into blooms and noun streams, dispatches
// every batch on one bounded pool and zips results back by slot.
func (o *Orchestrator) generate(ctx context.Context, arena *topictree.Arena, texts []string) ([][]string, error) {
	var batches []batch
	for _, blooms := range []bool{true, false} {
		var slots []int
		for i := 0; i < arena.Len(); i++ {
			if arena.At(i).Blooms == blooms {
				slots = append(slots, i)
			}
		}
		for start := 0; start < len(slots); start += o.cfg.BatchSize {
			end := min(start+o.cfg.BatchSize, len(slots))
			b := batch{blooms: blooms, slots: slots[start:end], texts: make([]string, end-start)}
			for k, s := range b.slots {
				b.texts[k] = texts[s]
			}
			batches = append(batches, b)
		}
	}

	results := make([][][]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.TitleWorkers)
	for bi, b := range batches {
		g.Go(func() error {
			got, err := o.titles.GenerateTitles(gctx, b.texts, b.blooms, o.cfg.MaxTitleLength, o.cfg.NumTitles)
			if err != nil {
				return fmt.Errorf("title batch %d: %w", bi, err)
			}
			if len(got) != len(b.texts) {
				return fmt.Errorf("title batch %d: got %d candidate lists for %d texts", bi, len(got), len(b.texts))
			}
			results[bi] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]string, arena.Len())
	for bi, b := range batches {
		for k, slot := range b.slots {
			out[slot] = results[bi][k]
		}
	}
	o.log.Debug("titles generated", "batches", len(batches), "records", arena.Len())
	return out, nil
}
