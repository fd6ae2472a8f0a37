package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/topictree"
)

// JobStatus represents the state of a tree-building job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusClustering JobStatus = "clustering"
	StatusEnriching  JobStatus = "enriching"
	StatusStoring    JobStatus = "storing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusDupSkipped JobStatus = "duplicate_skipped"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDupSkipped
}

// Job tracks the state of a single document-to-tree build.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	CourseID string `json:"course_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`

	Options  engine.Options `json:"-"`
	Force    bool           `json:"-"` // rebuild even if the content hash is known
	Progress Progress       `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	tree     *topictree.Tree
	rootKeys []string
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	Paragraphs  int            `json:"paragraphs"`
	Nodes       int            `json:"nodes"`
	NodesStored int            `json:"nodes_stored"`
	ByLevel     map[string]int `json:"by_level,omitempty"`
	Attempts    int            `json:"attempts"`
	Errors      []string       `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Delete drops a job. It reports whether the job existed.
func (s *JobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok
}

// List returns snapshots of all jobs, newest first.
func (s *JobStore) List() []JobSnapshot {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobSnapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// Cleanup removes finished jobs idle longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// CurrentStatus returns the status under the job lock.
func (j *Job) CurrentStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetContentHash records the hash of the parsed text.
func (j *Job) SetContentHash(h string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = h
}

// SetParagraphs records how many paragraphs were extracted.
func (j *Job) SetParagraphs(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Paragraphs = n
	j.UpdatedAt = time.Now()
}

// IncrAttempts counts one engine run.
func (j *Job) IncrAttempts() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Attempts++
	j.UpdatedAt = time.Now()
}

// SetTree attaches the built tree and records its node counts.
func (j *Job) SetTree(tree *topictree.Tree) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tree = tree
	j.Progress.Nodes = tree.Count()
	j.Progress.ByLevel = make(map[string]int)
	for l, n := range tree.CountByLevel() {
		j.Progress.ByLevel[l.String()] = n
	}
	j.UpdatedAt = time.Now()
}

// Tree returns the built tree, or nil before clustering finishes.
func (j *Job) Tree() *topictree.Tree {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tree
}

// SetStored records the persisted root keys and node count.
func (j *Job) SetStored(rootKeys []string, nodes int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rootKeys = rootKeys
	j.Progress.NodesStored = nodes
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// releaseFile drops the upload once it has been parsed.
func (j *Job) releaseFile() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	CourseID    string    `json:"course_id"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	Level       string    `json:"level"`
	ContentHash string    `json:"content_hash,omitempty"`
	RootKeys    []string  `json:"root_keys,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	var byLevel map[string]int
	if j.Progress.ByLevel != nil {
		byLevel = make(map[string]int, len(j.Progress.ByLevel))
		for k, v := range j.Progress.ByLevel {
			byLevel[k] = v
		}
	}
	return JobSnapshot{
		ID:          j.ID,
		CourseID:    j.CourseID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Title:       j.Title,
		Level:       j.Options.Level.String(),
		ContentHash: j.ContentHash,
		RootKeys:    append([]string(nil), j.rootKeys...),
		Progress: Progress{
			Paragraphs:  j.Progress.Paragraphs,
			Nodes:       j.Progress.Nodes,
			NodesStored: j.Progress.NodesStored,
			ByLevel:     byLevel,
			Attempts:    j.Progress.Attempts,
			Errors:      errs,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
