package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/topictree/internal/chunker"
	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/metrics"
	"github.com/dgallion1/topictree/internal/pathstore"
	"github.com/dgallion1/topictree/internal/services"
	"github.com/dgallion1/topictree/internal/topictree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const sampleDoc = `# Cells

The cell membrane controls what enters and leaves the cell at all times.

Mitochondria convert nutrients into usable energy for the rest of the cell.

# Division

During mitosis a single cell divides into two identical daughter cells.
`

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	errs  []error // returned in order before succeeding
	got   []string
	opts  engine.Options
}

func (f *fakeRunner) Run(_ context.Context, paragraphs []string, opts engine.Options) (*topictree.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = paragraphs
	f.opts = opts
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	ids := make([]int, len(paragraphs))
	root := &topictree.Node{Level: opts.Level, Title: "Cells", Text: strings.Join(paragraphs, "\n")}
	for i := range paragraphs {
		ids[i] = i
		root.Children = append(root.Children, &topictree.Node{Level: opts.Level + 1, DocumentIDs: []int{i}, Text: paragraphs[i]})
	}
	root.DocumentIDs = ids
	return &topictree.Tree{Roots: []*topictree.Node{root}}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	nodes    map[string]any
	storeErr error
	failAt   int // when storeErr is set, nodes written before failing
	listErr  error
	delErr   error
	stored   int
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]any)}
}

func (s *fakeStore) StoreTree(_ context.Context, prefix, _ string, tree *topictree.Tree) (*pathstore.StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored++
	res := &pathstore.StoreResult{}
	tree.Walk(func(n, _ *topictree.Node) bool {
		if s.storeErr != nil && res.Nodes == s.failAt {
			return false
		}
		key := prefix + "/" + n.Level.String() + "/" + strings.Repeat("x", res.Nodes+1)
		s.nodes[key] = n.Title
		res.Keys = append(res.Keys, key)
		res.Nodes++
		return true
	})
	if s.storeErr != nil {
		return res, s.storeErr
	}
	res.RootKeys = res.Keys[:1]
	return res, nil
}

func (s *fakeStore) DeleteNode(_ context.Context, key string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.nodes, key)
	s.deleted = append(s.deleted, key)
	return nil
}

// nodeKeys returns stored keys outside the jobs and by_hash indexes.
func (s *fakeStore) nodeKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.nodes {
		if !strings.Contains(k, "/jobs/") && !strings.Contains(k, "/by_hash/") {
			out = append(out, k)
		}
	}
	return out
}

func (s *fakeStore) PutNode(_ context.Context, key string, req pathstore.NodeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[key] = req.Value
	return nil
}

func (s *fakeStore) ListChildren(_ context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []pathstore.ListChildrenResponse
	for k, v := range s.nodes {
		if strings.HasPrefix(k, key+"/") {
			out = append(out, pathstore.ListChildrenResponse{Key: k, Value: v})
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(r TreeRunner, s TreeStore, m *metrics.Metrics) *Worker {
	w := NewWorker(r, s, m, quietLogger(), WorkerConfig{
		Chunk:       chunker.Config{MaxTokens: 400, MinTokens: 3},
		StorePrefix: "topictree/",
	})
	w.backoff = func(int) time.Duration { return time.Millisecond }
	return w
}

func newJob(id, filename, body string) *Job {
	job := &Job{
		ID:        id,
		CourseID:  "bio101",
		Filename:  filename,
		Status:    StatusQueued,
		Options:   engine.Options{Level: topictree.LevelLearningObjective, CreateLearningUnits: true},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	job.SetFileData([]byte(body))
	return job
}

func TestWorker_ProcessStoresTree(t *testing.T) {
	runner := &fakeRunner{}
	store := newFakeStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w := newTestWorker(runner, store, m)

	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (errors %v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Progress.Paragraphs != 3 || len(runner.got) != 3 {
		t.Errorf("expected 3 paragraphs, got %d", snap.Progress.Paragraphs)
	}
	if runner.opts.Level != topictree.LevelLearningObjective {
		t.Errorf("job options not passed through: %+v", runner.opts)
	}
	if snap.Progress.Nodes != 4 || snap.Progress.NodesStored != 4 {
		t.Errorf("unexpected node counts %+v", snap.Progress)
	}
	if !strings.HasPrefix(snap.RootKeys[0], "topictree/bio101/") {
		t.Errorf("unexpected root key %q", snap.RootKeys[0])
	}
	if _, ok := store.nodes["topictree/bio101/jobs/job-1"]; !ok {
		t.Error("expected job metadata to be written")
	}
	if _, ok := store.nodes[hashKey("topictree/bio101", snap.ContentHash, "job-1")]; !ok {
		t.Error("expected hash index to be written")
	}
	if job.FileData() != nil {
		t.Error("expected upload to be released after parsing")
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed job metric, got %v", got)
	}
}

func TestWorker_DuplicateSkipped(t *testing.T) {
	runner := &fakeRunner{}
	store := newFakeStore()
	w := newTestWorker(runner, store, nil)

	w.Process(context.Background(), newJob("first", "cells.md", sampleDoc))
	second := newJob("second", "cells-copy.md", sampleDoc)
	w.Process(context.Background(), second)

	if s := second.CurrentStatus(); s != StatusDupSkipped {
		t.Fatalf("expected duplicate_skipped, got %s", s)
	}
	if runner.calls != 1 {
		t.Errorf("expected engine to run once, ran %d times", runner.calls)
	}

	forced := newJob("third", "cells.md", sampleDoc)
	forced.Force = true
	w.Process(context.Background(), forced)
	if s := forced.CurrentStatus(); s != StatusCompleted {
		t.Errorf("expected forced rebuild to complete, got %s", s)
	}
}

func TestWorker_DedupErrorProceeds(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("pathstore down")
	w := newTestWorker(&fakeRunner{}, store, nil)

	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)
	if s := job.CurrentStatus(); s != StatusCompleted {
		t.Fatalf("expected completed despite dedup error, got %s", s)
	}
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	transient := topictree.Fail("embed", &services.ConnectionError{Service: "embed", URL: "http://embed", Err: errors.New("refused")})
	runner := &fakeRunner{errs: []error{transient, transient}}
	w := newTestWorker(runner, nil, nil)

	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed after retries, got %s", snap.Status)
	}
	if snap.Progress.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", snap.Progress.Attempts)
	}
	if job.Tree() == nil {
		t.Error("expected tree kept in memory without a store")
	}
}

func TestWorker_FatalFailureNotRetried(t *testing.T) {
	fatal := topictree.Fail("titles", &services.StatusError{Service: "titles", StatusCode: 400, Body: "bad request"})
	runner := &fakeRunner{errs: []error{fatal}}
	w := newTestWorker(runner, newFakeStore(), nil)

	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Phase != "clustering" {
		t.Fatalf("expected failed in clustering, got %s/%s", snap.Status, snap.Phase)
	}
	if runner.calls != 1 {
		t.Errorf("expected a single attempt, got %d", runner.calls)
	}
	if len(snap.Progress.Errors) != 1 || !strings.Contains(snap.Progress.Errors[0], "titles") {
		t.Errorf("unexpected errors %v", snap.Progress.Errors)
	}
}

func TestWorker_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.storeErr = errors.New("disk full")
	store.failAt = 2
	w := newTestWorker(&fakeRunner{}, store, nil)

	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Phase != "storing" {
		t.Fatalf("expected failed in storing, got %s/%s", snap.Status, snap.Phase)
	}
	if job.Tree() == nil {
		t.Error("expected built tree to remain available")
	}
	if left := store.nodeKeys(); len(left) != 0 {
		t.Errorf("partial tree left in store: %v", left)
	}
	if len(store.deleted) != 2 {
		t.Fatalf("expected 2 rollback deletes, got %d", len(store.deleted))
	}
	// Children go before their parents.
	if !strings.HasSuffix(store.deleted[0], "/xx") || !strings.HasSuffix(store.deleted[1], "/x") {
		t.Errorf("unexpected rollback order: %v", store.deleted)
	}
	if len(snap.RootKeys) != 0 {
		t.Errorf("failed store should not report root keys, got %v", snap.RootKeys)
	}
}

func TestWorker_StoreFailureRollbackError(t *testing.T) {
	store := newFakeStore()
	store.storeErr = errors.New("disk full")
	store.failAt = 1
	store.delErr = errors.New("pathstore down")
	w := newTestWorker(&fakeRunner{}, store, nil)

	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)

	if s := job.CurrentStatus(); s != StatusFailed {
		t.Fatalf("expected failed, got %s", s)
	}
	var found bool
	for _, e := range job.Snapshot().Progress.Errors {
		if strings.Contains(e, "rollback") {
			found = true
		}
	}
	if !found {
		t.Error("expected rollback failure to be recorded on the job")
	}
}

type nilResultStore struct{ *fakeStore }

func (nilResultStore) StoreTree(context.Context, string, string, *topictree.Tree) (*pathstore.StoreResult, error) {
	return nil, errors.New("connection refused")
}

func TestWorker_StoreFailureNilResult(t *testing.T) {
	w := newTestWorker(&fakeRunner{}, nilResultStore{newFakeStore()}, nil)
	job := newJob("job-1", "cells.md", sampleDoc)
	w.Process(context.Background(), job)

	if s := job.CurrentStatus(); s != StatusFailed {
		t.Fatalf("expected failed, got %s", s)
	}
}

func TestWorker_UnsupportedAndEmpty(t *testing.T) {
	runner := &fakeRunner{}
	w := newTestWorker(runner, nil, nil)

	bad := newJob("bad", "slides.pptx", "whatever")
	w.Process(context.Background(), bad)
	if s := bad.CurrentStatus(); s != StatusFailed {
		t.Errorf("expected unsupported format to fail, got %s", s)
	}

	empty := newJob("empty", "notes.txt", "\n\n  \n")
	w.Process(context.Background(), empty)
	if s := empty.CurrentStatus(); s != StatusFailed {
		t.Errorf("expected empty document to fail, got %s", s)
	}
	if runner.calls != 0 {
		t.Errorf("engine should not run, ran %d times", runner.calls)
	}
}

func TestOrchestrator_SubmitAndProcess(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{
		Workers:      2,
		MaxQueueSize: 4,
		Worker:       WorkerConfig{Chunk: chunker.Config{MaxTokens: 400, MinTokens: 3}},
	}, &fakeRunner{}, nil, nil, quietLogger())
	o.Start(context.Background())
	defer o.Stop()

	job := newJob("job-1", "cells.md", sampleDoc)
	if err := o.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !job.CurrentStatus().Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, status %s", job.CurrentStatus())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := job.CurrentStatus(); s != StatusCompleted {
		t.Errorf("expected completed, got %s", s)
	}
	if o.GetJob("job-1") != job {
		t.Error("expected job to be tracked")
	}
	if len(o.ListJobs()) != 1 {
		t.Error("expected one listed job")
	}
	if !o.ForgetJob("job-1") || o.GetJob("job-1") != nil {
		t.Error("expected job to be forgotten")
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	o := NewOrchestrator(OrchestratorConfig{Workers: 1, MaxQueueSize: 1}, &fakeRunner{}, nil, nil, quietLogger())

	if err := o.Submit(newJob("a", "a.md", sampleDoc)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	overflow := newJob("b", "b.md", sampleDoc)
	if err := o.Submit(overflow); err == nil {
		t.Fatal("expected queue full error")
	}
	if s := overflow.CurrentStatus(); s != StatusFailed {
		t.Errorf("expected rejected job to be failed, got %s", s)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected depth 1, got %d", o.QueueDepth())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"connection", &services.ConnectionError{Service: "embed", Err: errors.New("eof")}, true},
		{"rate limited", &services.StatusError{Service: "titles", StatusCode: 429}, true},
		{"server error", topictree.Fail("titles", &services.StatusError{Service: "titles", StatusCode: 503}), true},
		{"bad request", &services.StatusError{Service: "titles", StatusCode: 400}, false},
		{"malformed", services.ErrMalformed, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestBackoff_Bounds(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt)
		base := min(time.Duration(1<<uint(attempt))*time.Second, 30*time.Second)
		if d < base || d >= base+base/2 {
			t.Errorf("attempt %d: backoff %s outside [%s, %s)", attempt, d, base, base+base/2)
		}
	}
}

func TestLastSegment(t *testing.T) {
	for in, want := range map[string]string{
		"topictree/bio/by_hash/abc/job-1": "job-1",
		"topictree.bio.by_hash.abc.job-2": "job-2",
		"plain":                           "plain",
	} {
		if got := lastSegment(in); got != want {
			t.Errorf("lastSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
