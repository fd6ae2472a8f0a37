package services

import (
	"context"
	"fmt"
)

// SummaryClient calls the summarization service.
type SummaryClient struct {
	c *caller
}

func NewSummaryClient(baseURL string, opts Options) *SummaryClient {
	return &SummaryClient{c: newCaller("summary", baseURL, opts)}
}

type summaryRequest struct {
	Text  string  `json:"text"`
	Ratio float64 `json:"ratio"`
}

type summaryResponse struct {
	Summary *string `json:"summary"`
}

// Summarize compresses text to roughly ratio of its length.
func (s *SummaryClient) Summarize(ctx context.Context, text string, ratio float64) (string, error) {
	var resp summaryResponse
	if err := s.c.postJSON(ctx, "/summarize", 1, summaryRequest{Text: text, Ratio: ratio}, &resp); err != nil {
		return "", err
	}
	if resp.Summary == nil {
		return "", fmt.Errorf("%w: summary field missing", ErrMalformed)
	}
	return *resp.Summary, nil
}

func (s *SummaryClient) Close() { s.c.close() }
