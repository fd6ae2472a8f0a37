// Package services holds HTTP clients for the model services the engine
// depends on: embeddings, summarization and title generation.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/topictree/internal/latency"
	"github.com/dgallion1/topictree/internal/metrics"
)

// Options are shared by all service clients. Zero values are usable.
type Options struct {
	Timeout time.Duration
	Stats   *latency.Set
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// caller posts JSON to one service and records latency for it.
type caller struct {
	name       string
	baseURL    string
	httpClient *http.Client
	stats      *latency.Window
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func newCaller(name, baseURL string, opts Options) *caller {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Stats == nil {
		opts.Stats = latency.NewSet(time.Hour)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &caller{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		stats:      opts.Stats.Window(name),
		metrics:    opts.Metrics,
		log:        opts.Logger.With("service", name),
	}
}

// postJSON sends in to path and decodes the response into out. batch is
// the number of texts carried, for metrics.
func (c *caller) postJSON(ctx context.Context, path string, batch int, in, out any) (err error) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		c.stats.Record(elapsed)
		c.metrics.ObserveService(c.name, elapsed, batch)
		if err != nil {
			c.metrics.ServiceError(c.name, errorKind(err))
			c.log.Debug("service call failed", "path", path, "batch", batch, "error", err)
		}
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.name, err)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{Service: c.name, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return &ConnectionError{Service: c.name, URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: c.name, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, c.name, err)
	}
	return nil
}

func (c *caller) close() {
	c.httpClient.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
