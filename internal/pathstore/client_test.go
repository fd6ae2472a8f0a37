package pathstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/topictree/internal/topictree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	nodes   map[string]NodeRecord
	order   []string
	links   []LinkRequest
	failPut string // key substring that triggers a 500
}

func newFakeStore(t *testing.T) (*fakeStore, *httptest.Server) {
	fs := &fakeStore{nodes: make(map[string]NodeRecord)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fs.mu.Lock()
		defer fs.mu.Unlock()
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/kv/"):
			key := strings.TrimPrefix(r.URL.Path, "/kv/")
			if fs.failPut != "" && strings.Contains(key, fs.failPut) {
				http.Error(w, "disk full", http.StatusInternalServerError)
				return
			}
			var body struct {
				Value NodeRecord `json:"value"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			fs.nodes[key] = body.Value
			fs.order = append(fs.order, key)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/links":
			var link LinkRequest
			json.NewDecoder(r.Body).Decode(&link)
			fs.links = append(fs.links, link)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/kv/"):
			key := strings.TrimPrefix(r.URL.Path, "/kv/")
			rec, ok := fs.nodes[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(NodeResponse{Key: key, Value: rec})
		case r.Method == http.MethodDelete:
			delete(fs.nodes, strings.TrimPrefix(r.URL.Path, "/kv/"))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func sampleTree() *topictree.Tree {
	unit := &topictree.Node{Level: topictree.LevelLearningUnit, Title: "Phases", DocumentIDs: []int{0}}
	obj := &topictree.Node{Level: topictree.LevelLearningObjective, Title: "Explain mitosis", DocumentIDs: []int{0}, Children: []*topictree.Node{unit}}
	other := &topictree.Node{Level: topictree.LevelLearningObjective, Title: "Describe membranes", DocumentIDs: []int{1}}
	root := &topictree.Node{Level: topictree.LevelSubCompetency, Title: "Cells", DocumentIDs: []int{0, 1}, Children: []*topictree.Node{obj, other}}
	return &topictree.Tree{Roots: []*topictree.Node{root}}
}

func TestStoreTree(t *testing.T) {
	fs, srv := newFakeStore(t)
	c := NewClient(srv.URL, "secret")

	res, err := c.StoreTree(context.Background(), "curricula/bio101", "cells.pdf", sampleTree())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Nodes)
	assert.Equal(t, 3, res.Links)
	assert.Len(t, res.Keys, 4)
	require.Len(t, res.RootKeys, 1)
	assert.Equal(t, res.RootKeys[0], res.Keys[0])
	assert.True(t, strings.HasPrefix(res.RootKeys[0], "curricula/bio101/sub_competencies/"))

	require.Len(t, fs.order, 4)
	assert.Contains(t, fs.order[1], "/learning_objectives/")
	assert.Contains(t, fs.order[2], "/learning_units/")

	root := fs.nodes[res.RootKeys[0]]
	assert.Equal(t, "Cells", root.Title)
	assert.Equal(t, "sub_competency", root.Level)
	assert.Empty(t, root.Parent)

	unit := fs.nodes[fs.order[2]]
	assert.Equal(t, fs.order[1], unit.Parent)
	assert.Equal(t, LinkRequest{From: fs.order[1], To: fs.order[2], Weight: 1, Summary: "Phases"}, fs.links[1])
}

func TestStoreTree_AbortsOnFailure(t *testing.T) {
	fs, srv := newFakeStore(t)
	fs.failPut = "learning_units"
	c := NewClient(srv.URL, "secret")

	res, err := c.StoreTree(context.Background(), "p", "", sampleTree())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, 2, res.Nodes, "nodes after the failure are not written")
}

func TestGetAndDeleteNode(t *testing.T) {
	fs, srv := newFakeStore(t)
	c := NewClient(srv.URL+"/", "secret")
	ctx := context.Background()

	require.NoError(t, c.PutNode(ctx, "a/b", NodeRequest{Value: NodeRecord{Title: "x"}}))
	got, err := c.GetNode(ctx, "a/b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a/b", got.Key)

	require.NoError(t, c.DeleteNode(ctx, "a/b", false))
	got, err = c.GetNode(ctx, "a/b")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, fs.nodes)
}

func TestUnauthorized(t *testing.T) {
	_, srv := newFakeStore(t)
	err := NewClient(srv.URL, "wrong").PutNode(context.Background(), "k", NodeRequest{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}
