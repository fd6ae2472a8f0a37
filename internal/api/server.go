package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgallion1/topictree/internal/config"
	"github.com/dgallion1/topictree/internal/latency"
	"github.com/dgallion1/topictree/internal/pathstore"
	"github.com/dgallion1/topictree/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TreeAdmin reads and removes persisted trees.
type TreeAdmin interface {
	GetNode(ctx context.Context, key string) (*pathstore.NodeResponse, error)
	DeleteNode(ctx context.Context, key string, recursive bool) error
	ListChildren(ctx context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error)
}

// Deps are the collaborators the HTTP layer talks to. Store, Stats and
// Gatherer may be nil.
type Deps struct {
	Orchestrator   *pipeline.Orchestrator
	Store          TreeAdmin
	Stats          *latency.Set
	Gatherer       prometheus.Gatherer
	TriplesEnabled bool
}

// Server is the HTTP API server for topictree.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        TreeAdmin
	stats        *latency.Set
	gatherer     prometheus.Gatherer
	triples      bool
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		stats:        deps.Stats,
		gatherer:     deps.Gatherer,
		triples:      deps.TriplesEnabled,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/ingest/batch", s.handleBatchIngest)
		r.Get("/api/ingest", s.handleListJobs)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)

		r.Get("/api/trees", s.handleListTrees)
		r.Get("/api/trees/{jobID}", s.handleGetTree)
		r.Delete("/api/trees/{jobID}", s.handleDeleteTree)

		r.Get("/api/stats/services", s.handleServiceStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
