package domain

import "time"

type KeywordOperator string

const (
	KeywordAnd KeywordOperator = "and"
	KeywordOr  KeywordOperator = "or"
)

// VectorSpec scopes semantic retrieval by free text or by similarity to an
// already-ingested document.
type VectorSpec struct {
	Text   string  `json:"text,omitempty"`
	DocID  string  `json:"doc_id,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

type KeywordSpec struct {
	Terms    []string        `json:"terms"`
	Operator KeywordOperator `json:"operator,omitempty"`
	Weight   float64         `json:"weight,omitempty"`
}

// RangeBound carries inclusive range endpoints; nil means unbounded.
type RangeBound struct {
	GTE any `json:"gte,omitempty"`
	LTE any `json:"lte,omitempty"`
}

// FilterClause is a hard pre-filter applied to every retrieval modality.
// Exactly one of Equals or Range is set.
type FilterClause struct {
	Field  string      `json:"field"`
	Equals any         `json:"equals,omitempty"`
	Range  *RangeBound `json:"range,omitempty"`
}

type RerankSpec struct {
	TopK      int `json:"top_k,omitempty"`
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// PageCursor is opaque to callers; Cursor encodes the fused-rank position.
type PageCursor struct {
	Cursor string `json:"cursor,omitempty"`
	Size   int    `json:"size,omitempty"`
}

type IncludeSpec struct {
	Snippet    bool `json:"snippet,omitempty"`
	Highlights bool `json:"highlights,omitempty"`
}

type SearchRequest struct {
	Query   string         `json:"query,omitempty"`
	Vector  *VectorSpec    `json:"vector,omitempty"`
	Keyword *KeywordSpec   `json:"keyword,omitempty"`
	Must    []FilterClause `json:"must,omitempty"`
	GroupBy string         `json:"group_by,omitempty"`
	Rerank  *RerankSpec    `json:"rerank,omitempty"`
	Page    PageCursor     `json:"page,omitempty"`
	Include IncludeSpec    `json:"include,omitempty"`
}

// Candidate is one modality-scored chunk before fusion.
type Candidate struct {
	DocumentID       string
	ChunkIndex       int
	Text             string
	Title            string
	ContentTimestamp time.Time
	Facets           map[string]string
	Score            float64
}

// SearchHit is one fused, optionally grouped result.
type SearchHit struct {
	DocumentID       string    `json:"document_id"`
	ChunkIndex       int       `json:"chunk_index"`
	Title            string    `json:"title,omitempty"`
	Score            float64   `json:"score"`
	ContentTimestamp time.Time `json:"content_timestamp"`
	Snippet          string    `json:"snippet,omitempty"`
	Highlights       []string  `json:"highlights,omitempty"`
	GroupValue       string    `json:"group_value,omitempty"`
	GroupCount       int       `json:"group_count,omitempty"`
}

type SearchResult struct {
	Hits           []SearchHit               `json:"hits"`
	FacetCounts    map[string]map[string]int `json:"facet_counts,omitempty"`
	NextCursor     string                    `json:"next_cursor,omitempty"`
	TotalEstimated int                       `json:"total_estimated"`
	Reranked       bool                      `json:"reranked"`
}

// DeleteSelector picks documents by id, by source id, or by query.
type DeleteSelector struct {
	DocIDs    []string       `json:"doc_ids,omitempty"`
	SourceIDs []string       `json:"source_ids,omitempty"`
	Query     *SearchRequest `json:"query,omitempty"`
}
