package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
)

// DeleteUseCase removes documents from active search visibility. Versions
// are retained for audit; only the active flag is cleared, then the vector
// points are purged so the modalities stop surfacing the chain.
type DeleteUseCase struct {
	docs     ports.DocumentStore
	vectorDB ports.VectorIndex
	searcher ports.Searcher
	logger   *slog.Logger
}

func NewDeleteUseCase(docs ports.DocumentStore, vectorDB ports.VectorIndex, searcher ports.Searcher, logger *slog.Logger) *DeleteUseCase {
	return &DeleteUseCase{docs: docs, vectorDB: vectorDB, searcher: searcher, logger: logger}
}

// Delete returns the count of logical documents affected, not versions.
func (uc *DeleteUseCase) Delete(ctx context.Context, sel domain.DeleteSelector) (int, error) {
	docIDs, err := uc.resolveSelector(ctx, sel)
	if err != nil {
		return 0, err
	}
	if len(docIDs) == 0 {
		return 0, nil
	}

	affected, err := uc.docs.DeactivateByDocIDs(ctx, docIDs)
	if err != nil {
		return 0, fmt.Errorf("deactivate documents: %w", err)
	}

	if err := uc.vectorDB.DeleteByDocIDs(ctx, docIDs); err != nil {
		// The store is authoritative; stale points are invisible to reads
		// that join on the active flag, so log rather than fail.
		uc.logger.Warn("vector_purge_failed", "doc_count", len(docIDs), "error", err)
	}
	return affected, nil
}

func (uc *DeleteUseCase) resolveSelector(ctx context.Context, sel domain.DeleteSelector) ([]string, error) {
	switch {
	case len(sel.DocIDs) > 0:
		return sel.DocIDs, nil
	case len(sel.SourceIDs) > 0:
		docIDs, err := uc.docs.DocIDsBySourceIDs(ctx, sel.SourceIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve source ids: %w", err)
		}
		return docIDs, nil
	case sel.Query != nil:
		return uc.resolveByQuery(ctx, *sel.Query)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "delete selector",
			errors.New("selector needs doc_ids, source_ids, or a query"))
	}
}

// resolveByQuery reuses the search engine, bounded to one max-size page.
func (uc *DeleteUseCase) resolveByQuery(ctx context.Context, query domain.SearchRequest) ([]string, error) {
	query.Page = domain.PageCursor{Size: 200}
	query.Rerank = nil
	query.GroupBy = "document_id"

	result, err := uc.searcher.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("resolve delete query: %w", err)
	}

	seen := make(map[string]bool, len(result.Hits))
	docIDs := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if !seen[hit.DocumentID] {
			seen[hit.DocumentID] = true
			docIDs = append(docIDs, hit.DocumentID)
		}
	}
	return docIDs, nil
}
