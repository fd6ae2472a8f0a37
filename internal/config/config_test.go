package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/topictree/internal/topictree"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TOPICTREE_CONFIG", "")
	t.Setenv("WORKER_COUNT", "")
	t.Setenv("JOB_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.WorkerCount)
	}
	if cfg.JobTTL != time.Hour {
		t.Errorf("expected 1h TTL, got %s", cfg.JobTTL)
	}
	if cfg.ParagraphMaxTokens != 400 {
		t.Errorf("expected 400 max tokens, got %d", cfg.ParagraphMaxTokens)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOPICTREE_CONFIG", "")
	t.Setenv("WORKER_COUNT", "7")
	t.Setenv("JOB_TTL", "10m")
	t.Setenv("PDF_FALLBACK_PDFTOTEXT", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCount != 7 {
		t.Errorf("expected 7 workers, got %d", cfg.WorkerCount)
	}
	if cfg.JobTTL != 10*time.Minute {
		t.Errorf("expected 10m TTL, got %s", cfg.JobTTL)
	}
	if cfg.PDFFallbackPdftotext {
		t.Error("expected pdftotext fallback disabled")
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("TOPICTREE_CONFIG", "")
	t.Setenv("WORKER_COUNT", "-3")
	t.Setenv("MAX_QUEUE_SIZE", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("expected fallback of 2 workers, got %d", cfg.WorkerCount)
	}
	if cfg.MaxQueueSize != 50 {
		t.Errorf("expected fallback queue size 50, got %d", cfg.MaxQueueSize)
	}
}

func TestLoad_TuningOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := `
embed_batch_size: 16
title_threshold: 0.5
divisors:
  course: 4
  learning_unit: 2
reduce:
  neighbors: 10
  dims: 8
num_titles: 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOPICTREE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ec := cfg.Tuning.Engine()
	if ec.EmbedBatchSize != 16 {
		t.Errorf("expected batch 16, got %d", ec.EmbedBatchSize)
	}
	if ec.Divisors[topictree.LevelCourse] != 4 || ec.Divisors[topictree.LevelLearningUnit] != 2 {
		t.Errorf("unexpected divisors %v", ec.Divisors)
	}
	if ec.Reduce.Neighbors != 10 || ec.Reduce.Dims != 8 {
		t.Errorf("unexpected reduce config %+v", ec.Reduce)
	}
	if got := cfg.Tuning.Enrich().NumTitles; got != 3 {
		t.Errorf("expected 3 titles, got %d", got)
	}
}

func TestLoad_MissingTuningFile(t *testing.T) {
	t.Setenv("TOPICTREE_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing tuning file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		PathstoreAPIKey:    "ps",
		APIKey:             "tt",
		EmbedURL:           "http://embed",
		TitlesURL:          "http://titles",
		ParagraphMaxTokens: 400,
		ParagraphMinTokens: 8,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no pathstore key", func(c *Config) { c.PathstoreAPIKey = "" }, "PATHSTORE_API_KEY"},
		{"no api key", func(c *Config) { c.APIKey = "" }, "TOPICTREE_API_KEY"},
		{"no titles url", func(c *Config) { c.TitlesURL = "" }, "TITLES_URL"},
		{"min above max", func(c *Config) { c.ParagraphMinTokens = 500 }, "PARAGRAPH_MIN_TOKENS"},
		{"bad divisor level", func(c *Config) { c.Tuning.Divisors = map[string]int{"chapter": 2} }, "divisors"},
		{"zero divisor", func(c *Config) { c.Tuning.Divisors = map[string]int{"course": 0} }, "at least 1"},
		{"threshold range", func(c *Config) { c.Tuning.TitleThreshold = 1.5 }, "title_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
