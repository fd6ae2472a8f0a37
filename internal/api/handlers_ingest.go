package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/parser"
	"github.com/dgallion1/topictree/internal/pipeline"
	"github.com/dgallion1/topictree/internal/topictree"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ingestForm holds the options shared by single and batch uploads.
type ingestForm struct {
	courseID string
	title    string
	force    bool
	opts     engine.Options
}

func (s *Server) readIngestForm(r *http.Request) (ingestForm, error) {
	f := ingestForm{
		courseID: strings.TrimSpace(r.FormValue("course_id")),
		title:    r.FormValue("title"),
	}
	if f.courseID == "" {
		return f, fmt.Errorf("course_id is required")
	}
	if strings.ContainsAny(f.courseID, "/.") {
		return f, fmt.Errorf("course_id must not contain '/' or '.'")
	}

	f.opts.Level = topictree.LevelCourse
	if v := r.FormValue("node_level"); v != "" {
		l, err := topictree.ParseLevel(v)
		if err != nil {
			return f, err
		}
		if l == topictree.LevelTriple {
			return f, fmt.Errorf("node_level %q cannot be a root level", v)
		}
		f.opts.Level = l
	}

	var err error
	if f.opts.CreateLearningUnits, err = formBool(r, "create_learning_units", true); err != nil {
		return f, err
	}
	if f.opts.CreateTriples, err = formBool(r, "create_triples", false); err != nil {
		return f, err
	}
	if f.opts.CreateTriples && !s.triples {
		return f, fmt.Errorf("create_triples requested but triple extraction is not configured")
	}
	if f.force, err = formBool(r, "force", false); err != nil {
		return f, err
	}
	return f, nil
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

// newJob builds a queued job for one uploaded file.
func newJob(form ingestForm, filename, title string, data []byte) *pipeline.Job {
	now := time.Now()
	job := &pipeline.Job{
		ID:        uuid.NewString(),
		CourseID:  form.courseID,
		Status:    pipeline.StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Title:     title,
		Options:   form.opts,
		Force:     form.force,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.SetFileData(data)
	return job
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	form, err := s.readIngestForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	job := newJob(form, filename, form.title, data)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(acceptedBody(job))
}

func acceptedBody(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"job_id":    snap.ID,
		"course_id": snap.CourseID,
		"filename":  snap.Filename,
		"status":    snap.Status,
		"poll_url":  fmt.Sprintf("/api/ingest/%s/status", snap.ID),
		"tree_url":  fmt.Sprintf("/api/trees/%s", snap.ID),
	}
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("course_id")
	jobs := []pipeline.JobSnapshot{}
	for _, snap := range s.orchestrator.ListJobs() {
		if courseID == "" || snap.CourseID == courseID {
			jobs = append(jobs, snap)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jobs": jobs})
}

func (s *Server) handleBatchIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	form, err := s.readIngestForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		data, err := s.readUpload(fh, filename)
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}

		job := newJob(form, filename, "", data)
		if err := s.orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}
		results = append(results, acceptedBody(job))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": results})
}

func (s *Server) readUpload(fh *multipart.FileHeader, filename string) ([]byte, error) {
	if !parser.IsSupportedExtension(filename) {
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil || int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("file too large or read error")
	}
	return data, nil
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
