package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgallion1/topictree/internal/cluster"
	"github.com/dgallion1/topictree/internal/engine"
	"github.com/dgallion1/topictree/internal/enrich"
	"github.com/dgallion1/topictree/internal/topictree"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string

	// Pathstore connection
	PathstoreURL    string
	PathstoreAPIKey string
	StorePrefix     string

	// Auth
	APIKey string

	// Model services
	EmbedURL       string
	EmbedModel     string
	SummaryURL     string
	TitlesURL      string
	ServiceTimeout time.Duration
	EmbedCachePath string

	// Claude triple extraction, optional
	AnthropicAPIKey string
	AnthropicModel  string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Paragraph splitting
	ParagraphMaxTokens int
	ParagraphMinTokens int

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool

	// Engine tunables, overridable from the TOPICTREE_CONFIG file
	Tuning Tuning
}

// Tuning holds the clustering and enrichment knobs. Zero values fall back
// to package defaults.
type Tuning struct {
	EmbedBatchSize int            `yaml:"embed_batch_size"`
	EmbedWorkers   int            `yaml:"embed_workers"`
	TripleWorkers  int            `yaml:"triple_workers"`
	TitleThreshold float64        `yaml:"title_threshold"`
	Divisors       map[string]int `yaml:"divisors"`
	Reduce         ReduceTuning   `yaml:"reduce"`
	ReduceFallback ReduceTuning   `yaml:"reduce_fallback"`

	TokenBudget    int `yaml:"token_budget"`
	TitleBatchSize int `yaml:"title_batch_size"`
	NumTitles      int `yaml:"num_titles"`
	MaxTitleLength int `yaml:"max_title_length"`
	TitleWorkers   int `yaml:"title_workers"`
	SummaryWorkers int `yaml:"summary_workers"`
}

type ReduceTuning struct {
	Neighbors int `yaml:"neighbors"`
	Dims      int `yaml:"dims"`
}

// Load reads the environment and, when TOPICTREE_CONFIG names a file,
// overlays its tuning section.
func Load() (Config, error) {
	cfg := Config{
		Port: envOr("PORT", "8091"),

		PathstoreURL:    envOr("PATHSTORE_URL", "http://localhost:8080"),
		PathstoreAPIKey: os.Getenv("PATHSTORE_API_KEY"),
		StorePrefix:     envOr("STORE_PREFIX", "topictree"),

		APIKey: os.Getenv("TOPICTREE_API_KEY"),

		EmbedURL:       envOr("EMBED_URL", "http://localhost:8001"),
		EmbedModel:     envOr("EMBED_MODEL", "all-MiniLM-L6-v2"),
		SummaryURL:     os.Getenv("SUMMARY_URL"),
		TitlesURL:      envOr("TITLES_URL", "http://localhost:8002"),
		ServiceTimeout: envDuration("SERVICE_TIMEOUT", 60*time.Second),
		EmbedCachePath: os.Getenv("EMBED_CACHE_PATH"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 50),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		ParagraphMaxTokens: envInt("PARAGRAPH_MAX_TOKENS", 400),
		ParagraphMinTokens: envInt("PARAGRAPH_MIN_TOKENS", 8),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.ParagraphMaxTokens <= 0 {
		cfg.ParagraphMaxTokens = 400
	}
	if cfg.ParagraphMinTokens < 0 {
		cfg.ParagraphMinTokens = 0
	}
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = 60 * time.Second
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	if path := os.Getenv("TOPICTREE_CONFIG"); path != "" {
		t, err := LoadTuning(path)
		if err != nil {
			return cfg, err
		}
		cfg.Tuning = t
	}
	return cfg, nil
}

// LoadTuning parses a YAML tuning file.
func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return t, nil
}

func (c Config) Validate() error {
	if c.PathstoreAPIKey == "" {
		return fmt.Errorf("PATHSTORE_API_KEY is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("TOPICTREE_API_KEY is required")
	}
	if c.EmbedURL == "" {
		return fmt.Errorf("EMBED_URL is required")
	}
	if c.TitlesURL == "" {
		return fmt.Errorf("TITLES_URL is required")
	}
	if c.ParagraphMinTokens >= c.ParagraphMaxTokens {
		return fmt.Errorf("PARAGRAPH_MIN_TOKENS (%d) must be below PARAGRAPH_MAX_TOKENS (%d)", c.ParagraphMinTokens, c.ParagraphMaxTokens)
	}
	return c.Tuning.Validate()
}

// Validate checks divisor level names and value ranges.
func (t Tuning) Validate() error {
	for name, d := range t.Divisors {
		if _, err := topictree.ParseLevel(name); err != nil {
			return fmt.Errorf("divisors: %w", err)
		}
		if d < 1 {
			return fmt.Errorf("divisors: %s must be at least 1, got %d", name, d)
		}
	}
	if t.TitleThreshold < 0 || t.TitleThreshold > 1 {
		return fmt.Errorf("title_threshold must be within [0, 1], got %g", t.TitleThreshold)
	}
	return nil
}

// Engine converts the tuning into an engine configuration. Divisor names
// must already have passed Validate.
func (t Tuning) Engine() engine.Config {
	cfg := engine.Config{
		EmbedBatchSize: t.EmbedBatchSize,
		EmbedWorkers:   t.EmbedWorkers,
		TripleWorkers:  t.TripleWorkers,
		TitleThreshold: t.TitleThreshold,
		Reduce:         cluster.ReduceConfig{Neighbors: t.Reduce.Neighbors, Dims: t.Reduce.Dims},
		ReduceFallback: cluster.ReduceConfig{Neighbors: t.ReduceFallback.Neighbors, Dims: t.ReduceFallback.Dims},
	}
	if len(t.Divisors) > 0 {
		cfg.Divisors = make(map[topictree.Level]int, len(t.Divisors))
		for name, d := range t.Divisors {
			if l, err := topictree.ParseLevel(name); err == nil {
				cfg.Divisors[l] = d
			}
		}
	}
	return cfg
}

// Enrich converts the tuning into an enrichment configuration.
func (t Tuning) Enrich() enrich.Config {
	return enrich.Config{
		TokenBudget:    t.TokenBudget,
		BatchSize:      t.TitleBatchSize,
		NumTitles:      t.NumTitles,
		MaxTitleLength: t.MaxTitleLength,
		TitleWorkers:   t.TitleWorkers,
		SummaryWorkers: t.SummaryWorkers,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
