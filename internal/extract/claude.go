package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/topictree/internal/latency"
	"github.com/dgallion1/topictree/internal/metrics"
	"github.com/dgallion1/topictree/internal/topictree"
)

const defaultBaseURL = "https://api.anthropic.com"

// ClaudeClient calls the Anthropic Messages API to pull triples out of
// learning-unit text.
type ClaudeClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	stats      *latency.Window
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// Option configures a ClaudeClient.
type Option func(*ClaudeClient)

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(c *ClaudeClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithStats records call latency into the "claude" window of s.
func WithStats(s *latency.Set) Option {
	return func(c *ClaudeClient) {
		if s != nil {
			c.stats = s.Window("claude")
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ClaudeClient) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *ClaudeClient) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClaudeClient(apiKey, model string, opts ...Option) *ClaudeClient {
	c := &ClaudeClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: latency.NewWindow(time.Hour),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractTriples asks Claude for the facts stated in text and returns the
// ones that pass ValidateTriple.
func (c *ClaudeClient) ExtractTriples(ctx context.Context, text string) ([]topictree.Triple, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, err := c.complete(ctx, BuildTriplePrompt(text))
	if err != nil {
		c.metrics.ServiceError("claude", "request")
		return nil, err
	}

	var triples []topictree.Triple
	if err := json.Unmarshal([]byte(stripCodeBlock(raw)), &triples); err != nil {
		c.metrics.ServiceError("claude", "malformed")
		return nil, fmt.Errorf("parse triples json: %w (raw: %s)", err, truncate(raw, 200))
	}

	valid := triples[:0]
	for i := range triples {
		if ValidateTriple(&triples[i]) {
			valid = append(valid, triples[i])
		}
	}
	if dropped := len(triples) - len(valid); dropped > 0 {
		c.log.Debug("dropped invalid triples", "dropped", dropped, "kept", len(valid))
	}
	return valid, nil
}

func (c *ClaudeClient) complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer func() {
		c.stats.Since(start)
		c.metrics.ObserveService("claude", time.Since(start), 1)
	}()

	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return apiResp.Content[0].Text, nil
}

func (c *ClaudeClient) Model() string { return c.model }

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases idle connections.
func (c *ClaudeClient) Close() {
	c.httpClient.CloseIdleConnections()
}
