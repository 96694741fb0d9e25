package httprerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// Client talks to a cross-encoder rerank service (TEI-compatible wire shape:
// a query plus a list of texts in, indexed relevance scores out).
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

func (c *Client) Rerank(ctx context.Context, query string, hits []domain.SearchHit) ([]domain.SearchHit, error) {
	if len(hits) == 0 {
		return hits, nil
	}

	documents := make([]string, len(hits))
	for i, hit := range hits {
		text := hit.Snippet
		if text == "" {
			text = hit.Title
		}
		documents[i] = text
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "rerank request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank status: %s", resp.Status)
	}

	var response struct {
		Results []rerankResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(response.Results) != len(hits) {
		return nil, fmt.Errorf("rerank result count mismatch: %d/%d", len(response.Results), len(hits))
	}

	sort.SliceStable(response.Results, func(i, j int) bool {
		return response.Results[i].Score > response.Results[j].Score
	})

	out := make([]domain.SearchHit, 0, len(hits))
	for _, result := range response.Results {
		if result.Index < 0 || result.Index >= len(hits) {
			return nil, fmt.Errorf("rerank result index out of range: %d", result.Index)
		}
		hit := hits[result.Index]
		hit.Score = result.Score
		out = append(out, hit)
	}
	return out, nil
}
