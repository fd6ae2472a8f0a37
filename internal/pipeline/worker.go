package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/topictree/internal/chunker"
	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/metrics"
	"github.com/dgallion1/topictree/internal/parser"
	"github.com/dgallion1/topictree/internal/pathstore"
	"github.com/dgallion1/topictree/internal/topictree"
)

// TreeRunner builds a topic tree from paragraphs.
type TreeRunner interface {
	Run(ctx context.Context, paragraphs []string, opts engine.Options) (*topictree.Tree, error)
}

// TreeStore persists trees and the job index. StoreTree may return a nil
// result alongside an error; when non-nil, Keys lists what was written
// before the failure.
type TreeStore interface {
	StoreTree(ctx context.Context, prefix, source string, tree *topictree.Tree) (*pathstore.StoreResult, error)
	PutNode(ctx context.Context, key string, req pathstore.NodeRequest) error
	DeleteNode(ctx context.Context, key string, recursive bool) error
	ListChildren(ctx context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error)
}

// WorkerConfig holds per-worker settings.
type WorkerConfig struct {
	Chunk       chunker.Config
	StorePrefix string
	PDFFallback bool
}

// Worker processes a single document job.
type Worker struct {
	engine  TreeRunner
	store   TreeStore
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     WorkerConfig

	backoff func(attempt int) time.Duration
}

// NewWorker returns a worker. store may be nil, in which case trees are
// kept only in memory.
func NewWorker(eng TreeRunner, store TreeStore, m *metrics.Metrics, log *slog.Logger, cfg WorkerConfig) *Worker {
	cfg.StorePrefix = strings.TrimRight(cfg.StorePrefix, "/")
	return &Worker{
		engine:  eng,
		store:   store,
		metrics: m,
		log:     log,
		cfg:     cfg,
		backoff: Backoff,
	}
}

// CoursePrefix is the pathstore prefix under which a course's trees live.
func CoursePrefix(prefix, courseID string) string {
	return strings.TrimRight(prefix, "/") + "/" + courseID
}

// Process runs the full build pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "course_id", job.CourseID, "filename", job.Filename)
	status := w.process(ctx, job, log)
	w.metrics.JobFinished(string(status))
}

func (w *Worker) process(ctx context.Context, job *Job, log *slog.Logger) JobStatus {
	fail := func(phase, msg string) JobStatus {
		job.AddError(msg)
		job.SetStatus(StatusFailed, phase)
		return StatusFailed
	}

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	start := time.Now()
	p, err := parser.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		return fail("parsing", err.Error())
	}
	if pp, ok := p.(*parser.PDFParser); ok {
		pp.FallbackPdftotext = w.cfg.PDFFallback
	}

	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	job.releaseFile()
	if err != nil {
		log.Error("parse failed", "error", err)
		return fail("parsing", fmt.Sprintf("parse: %s", err))
	}
	if job.Title != "" {
		doc.Title = job.Title
	}

	paragraphs := chunker.Paragraphs(doc, w.cfg.Chunk)
	job.SetParagraphs(len(paragraphs))
	job.SetContentHash(ContentHashHex([]byte(strings.Join(paragraphs, "\n\n"))))
	w.metrics.ObserveStage("parse", time.Since(start))
	log.Info("parsed document", "paragraphs", len(paragraphs))

	if len(paragraphs) == 0 {
		log.Warn("no paragraphs extracted")
		return fail("parsing", "no extractable content")
	}

	// Phase 1.5: Dedup check
	dup, existing, err := w.checkDuplicate(ctx, job)
	if err != nil {
		log.Warn("dedup check failed, proceeding", "error", err)
	} else if dup {
		log.Info("duplicate document, skipping", "existing_job_id", existing)
		job.SetStatus(StatusDupSkipped, "dedup")
		return StatusDupSkipped
	}

	// Phase 2: Embed, cluster, title
	job.SetStatus(StatusClustering, "building tree")
	tree, err := w.runWithRetry(ctx, job, paragraphs, log)
	if err != nil {
		log.Error("tree build failed", "error", err, "pipeline", topictree.IsPipelineFailure(err))
		return fail("clustering", err.Error())
	}
	job.SetTree(tree)
	log.Info("tree built", "nodes", tree.Count())

	if w.store == nil {
		job.SetStatus(StatusCompleted, "done")
		return StatusCompleted
	}

	// Phase 3: Store
	job.SetStatus(StatusStoring, "storing")
	start = time.Now()
	coursePrefix := CoursePrefix(w.cfg.StorePrefix, job.CourseID)
	source := "topictree:" + job.ID
	res, err := w.store.StoreTree(ctx, coursePrefix, source, tree)
	if err != nil {
		var written []string
		if res != nil {
			written = res.Keys
		}
		log.Error("store failed", "error", err, "nodes_written", len(written))
		if left := w.rollback(ctx, written, log); left > 0 {
			job.AddError(fmt.Sprintf("rollback: %d node records could not be removed", left))
		}
		return fail("storing", fmt.Sprintf("store: %s", err))
	}
	job.SetStored(res.RootKeys, res.Nodes)
	w.metrics.ObserveStage("store", time.Since(start))
	log.Info("storage complete", "nodes", res.Nodes, "links", res.Links)

	// Write job metadata.
	metaErr := w.store.PutNode(ctx, coursePrefix+"/jobs/"+job.ID, pathstore.NodeRequest{
		Value: map[string]any{
			"filename":     job.Filename,
			"title":        doc.Title,
			"level":        job.Options.Level.String(),
			"content_hash": job.ContentHash,
			"root_keys":    res.RootKeys,
			"keys":         res.Keys,
			"nodes":        res.Nodes,
			"paragraphs":   len(paragraphs),
			"created_at":   job.CreatedAt.Format(time.RFC3339),
		},
		MemoryType: "metacognitive",
		Salience:   0.5,
		Source:     source,
	})
	if metaErr != nil {
		log.Error("meta write failed", "error", metaErr)
		job.AddError(fmt.Sprintf("meta: %s", metaErr))
	}

	// Write hash index for dedup.
	hashErr := w.store.PutNode(ctx, hashKey(coursePrefix, job.ContentHash, job.ID), pathstore.NodeRequest{
		Value: map[string]any{
			"filename":   job.Filename,
			"created_at": job.CreatedAt.Format(time.RFC3339),
		},
		MemoryType: "metacognitive",
		Salience:   0.1,
		Source:     source,
	})
	if hashErr != nil {
		log.Error("hash index write failed", "error", hashErr)
	}

	job.SetStatus(StatusCompleted, "done")
	return StatusCompleted
}

// rollback deletes node records written by a failed store, children
// first, and returns how many could not be removed.
func (w *Worker) rollback(ctx context.Context, keys []string, log *slog.Logger) int {
	ctx = context.WithoutCancel(ctx)
	left := 0
	for i := len(keys) - 1; i >= 0; i-- {
		if err := w.store.DeleteNode(ctx, keys[i], false); err != nil {
			log.Warn("rollback delete failed", "key", keys[i], "error", err)
			left++
		}
	}
	if len(keys) > 0 {
		log.Info("partial tree removed", "keys", len(keys), "failed", left)
	}
	return left
}

// runWithRetry reruns the engine while it fails with a transient error.
func (w *Worker) runWithRetry(ctx context.Context, job *Job, paragraphs []string, log *slog.Logger) (*topictree.Tree, error) {
	var lastErr error
	for attempt := range MaxRetries {
		job.IncrAttempts()
		opts := job.Options
		opts.OnStage = func(stage string) {
			switch stage {
			case "enrich", "triples":
				job.SetStatus(StatusEnriching, stage)
			default:
				job.SetStatus(StatusClustering, stage)
			}
		}
		tree, err := w.engine.Run(ctx, paragraphs, opts)
		if err == nil {
			return tree, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		log.Warn("retryable build error", "attempt", attempt, "error", err)
		select {
		case <-time.After(w.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// checkDuplicate reports whether the course already holds a tree built
// from the same paragraphs.
func (w *Worker) checkDuplicate(ctx context.Context, job *Job) (bool, string, error) {
	if w.store == nil || job.Force {
		return false, "", nil
	}
	prefix := hashKey(CoursePrefix(w.cfg.StorePrefix, job.CourseID), job.ContentHash, "")
	children, err := w.store.ListChildren(ctx, strings.TrimSuffix(prefix, "/"), 1)
	if err != nil {
		return false, "", err
	}
	if len(children) > 0 {
		return true, lastSegment(children[0].Key), nil
	}
	return false, "", nil
}

func hashKey(coursePrefix, hash, jobID string) string {
	return coursePrefix + "/by_hash/" + hash + "/" + jobID
}

// lastSegment returns the final component of a key in either slash or
// dotted form.
func lastSegment(key string) string {
	if i := strings.LastIndexAny(key, "/."); i >= 0 {
		return key[i+1:]
	}
	return key
}
