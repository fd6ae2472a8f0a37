package services

import (
	"context"
	"fmt"
)

// TitleClient calls the title generation service. Noun-phrase titles and
// Bloom's-taxonomy objective titles are served from separate endpoints.
type TitleClient struct {
	c *caller
}

func NewTitleClient(baseURL string, opts Options) *TitleClient {
	return &TitleClient{c: newCaller("titles", baseURL, opts)}
}

type titleRequest struct {
	Texts          []string `json:"texts"`
	MaxTitleLength int      `json:"max_title_length"`
	NTitles        int      `json:"n_titles"`
}

type titleResponse struct {
	Titles [][]string `json:"titles"`
}

// GenerateTitles returns up to n ranked candidates per text, best first.
func (t *TitleClient) GenerateTitles(ctx context.Context, texts []string, blooms bool, maxLen, n int) ([][]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	path := "/titles"
	if blooms {
		path = "/titles/blooms"
	}
	var resp titleResponse
	req := titleRequest{Texts: texts, MaxTitleLength: maxLen, NTitles: n}
	if err := t.c.postJSON(ctx, path, len(texts), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Titles) != len(texts) {
		return nil, fmt.Errorf("%w: titles returned %d lists for %d texts", ErrMalformed, len(resp.Titles), len(texts))
	}
	return resp.Titles, nil
}

func (t *TitleClient) Close() { t.c.close() }
