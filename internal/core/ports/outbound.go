package ports

import (
	"context"
	"time"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// DocumentStore persists the version chain. It is the sole writer of
// is_active_version, and every write method serializes on the external id
// so concurrent submissions for one logical document cannot interleave.
type DocumentStore interface {
	// ActiveByExternalID returns the active version, or ErrNotFound.
	ActiveByExternalID(ctx context.Context, externalID string) (*domain.Document, error)
	// CreateDocument inserts version 1 as the active version.
	CreateDocument(ctx context.Context, doc *domain.Document) error
	// CreateNextVersion inserts version N+1 active and flips N inactive in
	// one transaction. Returns the new version number.
	CreateNextVersion(ctx context.Context, doc *domain.Document) (int, error)
	// DeactivateByDocIDs clears the active flag on every version of the
	// given documents and returns the count of logical documents affected.
	DeactivateByDocIDs(ctx context.Context, docIDs []string) (int, error)
	// DocIDsBySourceIDs maps source ids to the doc ids of their chains.
	DocIDsBySourceIDs(ctx context.Context, sourceIDs []string) ([]string, error)
	GetByDocID(ctx context.Context, docID string) (*domain.Document, error)
}

// SubmissionStore tracks submission lifecycle. Chunk counters are mutated
// only through atomic in-database arithmetic, never read-modify-write.
type SubmissionStore interface {
	Create(ctx context.Context, sub *domain.Submission) error
	GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Submission, error)
	GetByIdempotencyKey(ctx context.Context, source, key string) (*domain.Submission, error)
	// MarkProcessing sets total/pending chunk counts and status=processing.
	MarkProcessing(ctx context.Context, submissionID string, totalChunks int) error
	// CompleteChunk atomically increments embedded and decrements pending,
	// flipping status to completed when pending reaches zero. Returns the
	// post-update snapshot.
	CompleteChunk(ctx context.Context, submissionID string) (*domain.Submission, error)
	// FailChunk records a terminal downstream failure.
	FailChunk(ctx context.Context, submissionID string, subErr domain.SubmissionError) error
	DocumentStatus(ctx context.Context, docID string) (*domain.DocumentStatus, error)
}

// RelationshipStore persists person/thread hints attached to a document.
// Identity is by (identifier, identifier_type) pair.
type RelationshipStore interface {
	AttachPeople(ctx context.Context, docID string, people []domain.PersonReference) error
	AttachThread(ctx context.Context, docID string, hint domain.ThreadHint) error
	Close(ctx context.Context) error
}

// VectorIndex is the semantic retrieval modality.
type VectorIndex interface {
	IndexChunk(ctx context.Context, doc *domain.Document, chunkIndex int, text string, vector []float32) error
	Search(ctx context.Context, queryVector []float32, limit int, filters []domain.FilterClause) ([]domain.Candidate, error)
	VectorByDocID(ctx context.Context, docID string) ([]float32, error)
	DeleteByDocIDs(ctx context.Context, docIDs []string) error
}

// KeywordIndex is the lexical retrieval modality.
type KeywordIndex interface {
	SearchKeyword(ctx context.Context, terms []string, operator domain.KeywordOperator, limit int, filters []domain.FilterClause) ([]domain.Candidate, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits normalized text into embeddable chunks.
type Chunker interface {
	Split(text string) []string
}

// Reranker reorders fused candidates with a pairwise relevance model.
// Callers degrade to the fused order when it errs or times out.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []domain.SearchHit) ([]domain.SearchHit, error)
}

// MessageQueue carries chunk-processing jobs from api to worker.
type MessageQueue interface {
	PublishSubmissionAccepted(ctx context.Context, submissionID string) error
	SubscribeSubmissionAccepted(ctx context.Context, handler func(context.Context, string) error) error
}

// FileStore is content-addressed: keys are the sha256 of the payload.
type FileStore interface {
	Put(ctx context.Context, sha256Hex string, data []byte) (string, error)
	Get(ctx context.Context, fileID string) ([]byte, error)
}

// TextExtractor pulls plain text out of an attachment payload.
type TextExtractor interface {
	Extract(ctx context.Context, att domain.Attachment) (string, error)
	Supports(mimeType string) bool
}

// Clock exists so version/monotonic timestamps are testable.
type Clock interface {
	Now() time.Time
}
