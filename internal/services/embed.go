package services

import (
	"context"
	"fmt"
)

// EmbedClient calls the embedding service.
type EmbedClient struct {
	c     *caller
	model string
}

// NewEmbedClient returns a client for the embedding service at baseURL.
// model names the embedding model and is used as a cache namespace.
func NewEmbedClient(baseURL, model string, opts Options) *EmbedClient {
	return &EmbedClient{c: newCaller("embed", baseURL, opts), model: model}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns one vector per text. All vectors share a length.
func (e *EmbedClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedResponse
	if err := e.c.postJSON(ctx, "/embed", len(texts), embedRequest{Texts: texts, Model: e.model}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embed returned %d vectors for %d texts", ErrMalformed, len(resp.Embeddings), len(texts))
	}
	dim := len(resp.Embeddings[0])
	for i, v := range resp.Embeddings {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("%w: embedding %d has length %d, want %d", ErrMalformed, i, len(v), dim)
		}
	}
	return resp.Embeddings, nil
}

func (e *EmbedClient) Model() string { return e.model }

func (e *EmbedClient) Close() { e.c.close() }
