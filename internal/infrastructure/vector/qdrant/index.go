package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// Index talks to qdrant over its HTTP API and serves both retrieval
// modalities: dense vector search and lexical full-text matching over the
// same points, with structured filters pushed down as hard pre-filters.
type Index struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Index {
	return &Index{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Index) IndexChunk(ctx context.Context, doc *domain.Document, chunkIndex int, text string, vector []float32) error {
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	payload := map[string]any{
		"doc_id":            doc.DocID,
		"version_number":    doc.VersionNumber,
		"chunk_index":       chunkIndex,
		"text":              text,
		"title":             doc.Title,
		"source_type":       string(doc.SourceType),
		"source_provider":   doc.SourceProvider,
		"content_timestamp": doc.ContentTimestamp.Format(time.RFC3339),
	}
	for key, value := range doc.Metadata {
		if strings.HasPrefix(key, "facet.") {
			payload[key] = value
		}
	}

	reqBody := map[string]any{
		"points": []map[string]any{{
			"id":      uuid.NewString(),
			"vector":  vector,
			"payload": payload,
		}},
	}

	var resp upsertResponse
	if err := c.call(ctx, http.MethodPut, "/points?wait=true", reqBody, &resp); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (c *Index) Search(ctx context.Context, queryVector []float32, limit int, filters []domain.FilterClause) ([]domain.Candidate, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := buildFilter(filters, nil, domain.KeywordAnd); filter != nil {
		reqBody["filter"] = filter
	}

	var resp searchResponse
	if err := c.call(ctx, http.MethodPost, "/points/search", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(resp.Result))
	for _, point := range resp.Result {
		candidate := candidateFromPayload(point.Payload)
		candidate.Score = point.Score
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// SearchKeyword scrolls points matching the term filter and scores them
// client-side by term coverage, which keeps ordering deterministic. Empty
// terms with filters present is a pure structured scan.
func (c *Index) SearchKeyword(
	ctx context.Context,
	terms []string,
	operator domain.KeywordOperator,
	limit int,
	filters []domain.FilterClause,
) ([]domain.Candidate, error) {
	reqBody := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if filter := buildFilter(filters, terms, operator); filter != nil {
		reqBody["filter"] = filter
	}

	var resp scrollResponse
	if err := c.call(ctx, http.MethodPost, "/points/scroll", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(resp.Result.Points))
	for _, point := range resp.Result.Points {
		candidate := candidateFromPayload(point.Payload)
		candidate.Score = termCoverage(terms, candidate.Text)
		candidates = append(candidates, candidate)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].ContentTimestamp.Equal(candidates[j].ContentTimestamp) {
			return candidates[i].ContentTimestamp.After(candidates[j].ContentTimestamp)
		}
		if candidates[i].DocumentID != candidates[j].DocumentID {
			return candidates[i].DocumentID < candidates[j].DocumentID
		}
		return candidates[i].ChunkIndex < candidates[j].ChunkIndex
	})
	return candidates, nil
}

func (c *Index) VectorByDocID(ctx context.Context, docID string) ([]float32, error) {
	reqBody := map[string]any{
		"limit":       1,
		"with_vector": true,
		"filter": map[string]any{
			"must": []map[string]any{{"key": "doc_id", "match": map[string]any{"value": docID}}},
		},
	}

	var resp scrollResponse
	if err := c.call(ctx, http.MethodPost, "/points/scroll", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("qdrant vector lookup: %w", err)
	}
	if len(resp.Result.Points) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "vector lookup", fmt.Errorf("no indexed chunks for doc %s", docID))
	}
	return resp.Result.Points[0].Vector, nil
}

func (c *Index) DeleteByDocIDs(ctx context.Context, docIDs []string) error {
	ids := make([]any, len(docIDs))
	for i, id := range docIDs {
		ids[i] = id
	}
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{{"key": "doc_id", "match": map[string]any{"any": ids}}},
		},
	}

	var resp upsertResponse
	if err := c.call(ctx, http.MethodPost, "/points/delete?wait=true", reqBody, &resp); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (c *Index) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()

	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		return nil
	}

	reqBody := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "qdrant ensure collection", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 409 means the collection already exists; both are fine.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}

	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func (c *Index) call(ctx context.Context, method, path string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "qdrant request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type upsertResponse struct {
	Status string `json:"status"`
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"points"`
	} `json:"result"`
}

// buildFilter maps structured clauses plus keyword terms onto a qdrant
// filter. Known fields hit their payload keys; anything else is a facet.
func buildFilter(filters []domain.FilterClause, terms []string, operator domain.KeywordOperator) map[string]any {
	var must, should []map[string]any

	for _, clause := range filters {
		key := payloadKey(clause.Field)
		switch {
		case clause.Range != nil:
			bounds := map[string]any{}
			if clause.Range.GTE != nil {
				bounds["gte"] = clause.Range.GTE
			}
			if clause.Range.LTE != nil {
				bounds["lte"] = clause.Range.LTE
			}
			must = append(must, map[string]any{"key": key, "range": bounds})
		default:
			must = append(must, map[string]any{"key": key, "match": map[string]any{"value": clause.Equals}})
		}
	}

	for _, term := range terms {
		condition := map[string]any{"key": "text", "match": map[string]any{"text": term}}
		if operator == domain.KeywordAnd {
			must = append(must, condition)
		} else {
			should = append(should, condition)
		}
	}

	if len(must) == 0 && len(should) == 0 {
		return nil
	}
	filter := map[string]any{}
	if len(must) > 0 {
		filter["must"] = must
	}
	if len(should) > 0 {
		filter["should"] = should
	}
	return filter
}

func payloadKey(field string) string {
	switch field {
	case "doc_id", "title", "source_type", "source_provider", "content_timestamp", "version_number":
		return field
	default:
		return "facet." + field
	}
}

func candidateFromPayload(payload map[string]any) domain.Candidate {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}

	candidate := domain.Candidate{
		DocumentID: str("doc_id"),
		Text:       str("text"),
		Title:      str("title"),
		ChunkIndex: -1,
	}
	if idx, ok := payload["chunk_index"].(float64); ok {
		candidate.ChunkIndex = int(idx)
	}
	if ts, err := time.Parse(time.RFC3339, str("content_timestamp")); err == nil {
		candidate.ContentTimestamp = ts
	}

	facets := map[string]string{}
	if v := str("source_type"); v != "" {
		facets["source_type"] = v
	}
	if v := str("source_provider"); v != "" {
		facets["source_provider"] = v
	}
	for key, value := range payload {
		if strings.HasPrefix(key, "facet.") {
			if s, ok := value.(string); ok {
				facets[strings.TrimPrefix(key, "facet.")] = s
			}
		}
	}
	if len(facets) > 0 {
		candidate.Facets = facets
	}
	return candidate
}

func termCoverage(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 1.0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
