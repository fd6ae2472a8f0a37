package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dgallion1/topictree/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// handleGetTree returns the tree built by a job still held in memory.
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	tree := job.Tree()
	if tree == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "tree not available",
			"status": snap.Status,
			"errors": snap.Progress.Errors,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":    snap.ID,
		"course_id": snap.CourseID,
		"status":    snap.Status,
		"level":     snap.Level,
		"root_keys": snap.RootKeys,
		"tree":      tree,
	})
}

// handleListTrees lists the stored tree metadata for a course.
func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("course_id")
	if courseID == "" {
		jsonError(w, "course_id query parameter is required", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		jsonError(w, "tree storage is not configured", http.StatusServiceUnavailable)
		return
	}

	prefix := pipeline.CoursePrefix(s.cfg.StorePrefix, courseID) + "/jobs"
	children, err := s.store.ListChildren(r.Context(), prefix, 200)
	if err != nil {
		jsonError(w, "failed to list trees: "+err.Error(), http.StatusInternalServerError)
		return
	}

	trees := make([]map[string]any, 0, len(children))
	for _, child := range children {
		trees = append(trees, map[string]any{
			"key":   child.Key,
			"value": child.Value,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"trees": trees})
}

// handleDeleteTree removes every stored node of a tree, its hash index
// entry and its metadata.
func (s *Server) handleDeleteTree(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	courseID := r.URL.Query().Get("course_id")
	if courseID == "" {
		jsonError(w, "course_id query parameter is required", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		jsonError(w, "tree storage is not configured", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	coursePrefix := pipeline.CoursePrefix(s.cfg.StorePrefix, courseID)
	metaKey := coursePrefix + "/jobs/" + jobID

	meta, err := s.store.GetNode(ctx, metaKey)
	if err != nil {
		jsonError(w, "failed to read tree metadata: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if meta == nil {
		jsonError(w, "tree not found", http.StatusNotFound)
		return
	}
	m, _ := meta.Value.(map[string]any)

	deleted, missing := 0, 0
	for _, key := range stringList(m["keys"]) {
		if err := s.store.DeleteNode(ctx, key, false); err != nil {
			missing++
		} else {
			deleted++
		}
	}

	if hash, _ := m["content_hash"].(string); hash != "" {
		s.deleteQuietly(ctx, coursePrefix+"/by_hash/"+hash+"/"+jobID)
	}
	metaDeleted := 0
	if err := s.store.DeleteNode(ctx, metaKey, false); err == nil {
		metaDeleted = 1
	}
	s.orchestrator.ForgetJob(jobID)

	s.log.Info("tree deleted", "job_id", jobID, "course_id", courseID, "nodes_deleted", deleted, "missing", missing)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"nodes_deleted": deleted,
		"missing_nodes": missing,
		"meta_deleted":  metaDeleted,
	})
}

func (s *Server) deleteQuietly(ctx context.Context, key string) {
	if err := s.store.DeleteNode(ctx, key, false); err != nil {
		s.log.Warn("delete failed", "key", key, "error", err)
	}
}

// stringList reads a JSON-decoded array of strings.
func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
