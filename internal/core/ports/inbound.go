package ports

import (
	"context"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// Ingestor is the inbound contract for submission admission.
type Ingestor interface {
	Ingest(ctx context.Context, item domain.IngestItem) (*domain.IngestReceipt, error)
}

// SubmissionProcessor is the inbound contract for asynchronous chunk processing.
type SubmissionProcessor interface {
	ProcessBySubmissionID(ctx context.Context, submissionID string) error
}

// StatusReader exposes read-only lifecycle snapshots.
type StatusReader interface {
	SubmissionStatus(ctx context.Context, submissionID string) (*domain.Submission, error)
	DocumentStatus(ctx context.Context, docID string) (*domain.DocumentStatus, error)
}

// Searcher executes a normalized hybrid search.
type Searcher interface {
	Execute(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)
}

// Deleter removes documents from active search visibility.
type Deleter interface {
	Delete(ctx context.Context, sel domain.DeleteSelector) (int, error)
}
