package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 200
	defaultRerankTopK  = 50
	defaultRerankWait  = 2 * time.Second
	defaultSnippetRune = 240
)

// SearchUseCase normalizes a request, fans out to the retrieval modalities,
// fuses the candidate sets and shapes the final page.
type SearchUseCase struct {
	vectorDB ports.VectorIndex
	keyword  ports.KeywordIndex
	embedder ports.Embedder
	reranker ports.Reranker
	logger   *slog.Logger

	candidateLimit  int
	modalityTimeout time.Duration
	rrfK            int
}

func NewSearchUseCase(
	vectorDB ports.VectorIndex,
	keyword ports.KeywordIndex,
	embedder ports.Embedder,
	reranker ports.Reranker,
	candidateLimit int,
	modalityTimeout time.Duration,
	rrfK int,
	logger *slog.Logger,
) *SearchUseCase {
	if candidateLimit <= 0 {
		candidateLimit = 200
	}
	if modalityTimeout <= 0 {
		modalityTimeout = 5 * time.Second
	}
	return &SearchUseCase{
		vectorDB:        vectorDB,
		keyword:         keyword,
		embedder:        embedder,
		reranker:        reranker,
		logger:          logger,
		candidateLimit:  candidateLimit,
		modalityTimeout: modalityTimeout,
		rrfK:            rrfK,
	}
}

func (uc *SearchUseCase) Execute(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	normalized, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	lists, err := uc.dispatch(ctx, normalized)
	if err != nil {
		return nil, err
	}

	fused := fuseWeightedRRF(lists, uc.rrfK)
	facets := aggregateFacets(fused)

	hits := hitsFromCandidates(fused)
	hits, reranked := uc.maybeRerank(ctx, normalized, hits, fused)

	if normalized.GroupBy != "" {
		hits = groupHits(hits, normalized.GroupBy, fused)
	}

	total := len(hits)
	page, nextCursor, err := paginate(hits, normalized.Page)
	if err != nil {
		return nil, err
	}

	shapeHits(page, fused, normalized)

	return &domain.SearchResult{
		Hits:           page,
		FacetCounts:    facets,
		NextCursor:     nextCursor,
		TotalEstimated: total,
		Reranked:       reranked,
	}, nil
}

// normalizeRequest canonicalizes the request and rejects unconstrained
// searches outright rather than degrading them into full scans.
func normalizeRequest(req domain.SearchRequest) (domain.SearchRequest, error) {
	hasQuery := strings.TrimSpace(req.Query) != ""
	hasVector := req.Vector != nil && (strings.TrimSpace(req.Vector.Text) != "" || req.Vector.DocID != "")
	hasKeyword := req.Keyword != nil && len(req.Keyword.Terms) > 0

	if !hasQuery && !hasVector && !hasKeyword && len(req.Must) == 0 {
		return req, domain.WrapError(domain.ErrInvalidInput, "normalize search",
			errors.New("request needs query text, a vector or keyword sub-query, or at least one filter"))
	}

	// Bare query text means hybrid: both modalities, equal weight.
	if hasQuery && !hasVector {
		req.Vector = &domain.VectorSpec{Text: req.Query, Weight: 1.0}
	}
	if hasQuery && !hasKeyword {
		req.Keyword = &domain.KeywordSpec{Terms: tokenize(req.Query), Operator: domain.KeywordOr, Weight: 1.0}
	}
	if req.Keyword != nil && req.Keyword.Operator == "" {
		req.Keyword.Operator = domain.KeywordOr
	}

	for _, clause := range req.Must {
		if clause.Field == "" {
			return req, domain.WrapError(domain.ErrInvalidInput, "normalize search", errors.New("filter clause missing field"))
		}
		if clause.Equals == nil && clause.Range == nil {
			return req, domain.WrapError(domain.ErrInvalidInput, "normalize search",
				fmt.Errorf("filter on %q needs equals or range", clause.Field))
		}
	}

	if req.Page.Size <= 0 {
		req.Page.Size = defaultPageSize
	}
	if req.Page.Size > maxPageSize {
		req.Page.Size = maxPageSize
	}
	return req, nil
}

// dispatch runs the requested modalities concurrently, each under its own
// timeout. Filters are passed down as hard pre-filters.
func (uc *SearchUseCase) dispatch(ctx context.Context, req domain.SearchRequest) ([]weightedCandidates, error) {
	var vectorOut, keywordOut []domain.Candidate

	group, groupCtx := errgroup.WithContext(ctx)

	if req.Vector != nil {
		group.Go(func() error {
			modalityCtx, cancel := context.WithTimeout(groupCtx, uc.modalityTimeout)
			defer cancel()

			queryVector, err := uc.queryVector(modalityCtx, req.Vector)
			if err != nil {
				return fmt.Errorf("resolve query vector: %w", err)
			}
			out, err := uc.vectorDB.Search(modalityCtx, queryVector, uc.candidateLimit, req.Must)
			if err != nil {
				return fmt.Errorf("vector search: %w", err)
			}
			vectorOut = out
			return nil
		})
	}

	// Keyword modality also serves filter-only requests: empty terms with a
	// non-empty filter set is a pure structured scan in the index.
	keywordRan := req.Keyword != nil || (req.Vector == nil && len(req.Must) > 0)
	if keywordRan {
		terms := []string{}
		operator := domain.KeywordOr
		if req.Keyword != nil {
			terms = req.Keyword.Terms
			operator = req.Keyword.Operator
		}
		group.Go(func() error {
			modalityCtx, cancel := context.WithTimeout(groupCtx, uc.modalityTimeout)
			defer cancel()

			out, err := uc.keyword.SearchKeyword(modalityCtx, terms, operator, uc.candidateLimit, req.Must)
			if err != nil {
				return fmt.Errorf("keyword search: %w", err)
			}
			keywordOut = out
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	lists := make([]weightedCandidates, 0, 2)
	if req.Vector != nil {
		lists = append(lists, weightedCandidates{candidates: vectorOut, weight: req.Vector.Weight})
	}
	if keywordRan {
		weight := 1.0
		if req.Keyword != nil {
			weight = req.Keyword.Weight
		}
		lists = append(lists, weightedCandidates{candidates: keywordOut, weight: weight})
	}
	return lists, nil
}

func (uc *SearchUseCase) queryVector(ctx context.Context, spec *domain.VectorSpec) ([]float32, error) {
	if spec.DocID != "" {
		return uc.vectorDB.VectorByDocID(ctx, spec.DocID)
	}
	return uc.embedder.EmbedQuery(ctx, spec.Text)
}

// maybeRerank reorders the fused head with the external model. Failure or
// timeout degrades to the fused order instead of failing the request.
func (uc *SearchUseCase) maybeRerank(ctx context.Context, req domain.SearchRequest, hits []domain.SearchHit, candidates []domain.Candidate) ([]domain.SearchHit, bool) {
	if req.Rerank == nil || uc.reranker == nil || len(hits) == 0 {
		return hits, false
	}

	topK := req.Rerank.TopK
	if topK <= 0 || topK > len(hits) {
		topK = min(defaultRerankTopK, len(hits))
	}
	wait := defaultRerankWait
	if req.Rerank.TimeoutMs > 0 {
		wait = time.Duration(req.Rerank.TimeoutMs) * time.Millisecond
	}

	rerankCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// The model scores chunk text, which hits do not carry. Feed it through
	// the snippet field on copies and strip it again afterwards; shapeHits
	// owns what the caller actually gets back.
	texts := make(map[string]string, len(candidates))
	for _, candidate := range candidates {
		texts[candidateKey(candidate)] = candidate.Text
	}
	head := make([]domain.SearchHit, topK)
	copy(head, hits[:topK])
	for i := range head {
		head[i].Snippet = texts[candidateKeyFor(head[i])]
	}

	reranked, err := uc.reranker.Rerank(rerankCtx, rerankQueryText(req), head)
	if err != nil || len(reranked) != topK {
		uc.logger.Warn("rerank_degraded", "error", err, "top_k", topK)
		return hits, false
	}
	for i := range reranked {
		reranked[i].Snippet = ""
	}

	out := make([]domain.SearchHit, 0, len(hits))
	out = append(out, reranked...)
	out = append(out, hits[topK:]...)
	return out, true
}

func rerankQueryText(req domain.SearchRequest) string {
	if strings.TrimSpace(req.Query) != "" {
		return req.Query
	}
	if req.Vector != nil && req.Vector.Text != "" {
		return req.Vector.Text
	}
	if req.Keyword != nil {
		return strings.Join(req.Keyword.Terms, " ")
	}
	return ""
}

func hitsFromCandidates(candidates []domain.Candidate) []domain.SearchHit {
	hits := make([]domain.SearchHit, 0, len(candidates))
	for _, candidate := range candidates {
		hits = append(hits, domain.SearchHit{
			DocumentID:       candidate.DocumentID,
			ChunkIndex:       candidate.ChunkIndex,
			Title:            candidate.Title,
			Score:            candidate.Score,
			ContentTimestamp: candidate.ContentTimestamp,
		})
	}
	return hits
}

// groupHits collapses hits sharing a group field value into the best-scoring
// representative plus a count. Applied after fusion/rerank, before paging.
func groupHits(hits []domain.SearchHit, groupBy string, candidates []domain.Candidate) []domain.SearchHit {
	values := groupValues(groupBy, candidates)

	type groupEntry struct {
		hit   domain.SearchHit
		count int
		order int
	}
	groups := make(map[string]*groupEntry)
	sequence := make([]string, 0)

	for _, hit := range hits {
		value := values[candidateKeyFor(hit)]
		if value == "" {
			value = hit.DocumentID
		}
		entry, ok := groups[value]
		if !ok {
			groups[value] = &groupEntry{hit: hit, count: 1, order: len(sequence)}
			sequence = append(sequence, value)
			continue
		}
		entry.count++
		if hit.Score > entry.hit.Score {
			entry.hit = hit
		}
	}

	out := make([]domain.SearchHit, 0, len(sequence))
	for _, value := range sequence {
		entry := groups[value]
		entry.hit.GroupValue = value
		entry.hit.GroupCount = entry.count
		out = append(out, entry.hit)
	}
	return out
}

func groupValues(groupBy string, candidates []domain.Candidate) map[string]string {
	values := make(map[string]string, len(candidates))
	for _, candidate := range candidates {
		var value string
		switch groupBy {
		case "document_id":
			value = candidate.DocumentID
		case "title":
			value = candidate.Title
		default:
			value = candidate.Facets[groupBy]
		}
		values[candidateKey(candidate)] = value
	}
	return values
}

func candidateKeyFor(hit domain.SearchHit) string {
	return fmt.Sprintf("%s:%d", hit.DocumentID, hit.ChunkIndex)
}

// aggregateFacets counts facet values over distinct matching documents.
func aggregateFacets(candidates []domain.Candidate) map[string]map[string]int {
	counts := make(map[string]map[string]int)
	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if seen[candidate.DocumentID] {
			continue
		}
		seen[candidate.DocumentID] = true
		for key, value := range candidate.Facets {
			if counts[key] == nil {
				counts[key] = make(map[string]int)
			}
			counts[key][value]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}

type cursorPayload struct {
	Offset int `json:"o"`
}

func paginate(hits []domain.SearchHit, page domain.PageCursor) ([]domain.SearchHit, string, error) {
	offset := 0
	if page.Cursor != "" {
		decoded, err := decodeCursor(page.Cursor)
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrInvalidInput, "decode cursor", err)
		}
		offset = decoded.Offset
	}
	if offset >= len(hits) {
		return []domain.SearchHit{}, "", nil
	}

	end := offset + page.Size
	if end > len(hits) {
		end = len(hits)
	}

	next := ""
	if end < len(hits) {
		next = encodeCursor(cursorPayload{Offset: end})
	}
	return hits[offset:end], next, nil
}

func encodeCursor(payload cursorPayload) string {
	raw, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (cursorPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return cursorPayload{}, fmt.Errorf("malformed cursor: %w", err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return cursorPayload{}, fmt.Errorf("malformed cursor: %w", err)
	}
	if payload.Offset < 0 {
		return cursorPayload{}, errors.New("negative cursor offset")
	}
	return payload, nil
}

// shapeHits fills snippet/highlights only when asked, so disabled fields are
// omitted from the response entirely.
func shapeHits(hits []domain.SearchHit, candidates []domain.Candidate, req domain.SearchRequest) {
	if !req.Include.Snippet && !req.Include.Highlights {
		return
	}

	texts := make(map[string]string, len(candidates))
	for _, candidate := range candidates {
		texts[candidateKey(candidate)] = candidate.Text
	}
	queryTerms := tokenize(rerankQueryText(req))

	for i := range hits {
		text := texts[candidateKeyFor(hits[i])]
		if text == "" {
			continue
		}
		if req.Include.Snippet {
			hits[i].Snippet = truncateRunes(text, defaultSnippetRune)
		}
		if req.Include.Highlights {
			hits[i].Highlights = matchedTerms(queryTerms, text)
		}
	}
}

func matchedTerms(terms []string, text string) []string {
	if len(terms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	for _, term := range terms {
		if strings.Contains(lower, term) {
			out = append(out, term)
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
