package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// SubmissionStore is the sole writer of submission status and chunk
// counters. Counter updates are single atomic statements so concurrent
// chunk-completion events from the worker pool never lose increments.
type SubmissionStore struct {
	db *sql.DB
}

func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

const submissionColumns = `submission_id, idempotency_key, source, doc_id, external_id, version_number,
status, duplicate, total_chunks, embedded_chunks, pending_chunks, error, created_at, updated_at`

func (s *SubmissionStore) Create(ctx context.Context, sub *domain.Submission) error {
	var errJSON any
	if sub.Error != nil {
		raw, err := json.Marshal(sub.Error)
		if err != nil {
			return fmt.Errorf("marshal submission error: %w", err)
		}
		errJSON = raw
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO submissions (
	submission_id, idempotency_key, source, doc_id, external_id, version_number,
	status, duplicate, total_chunks, embedded_chunks, pending_chunks, error, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		sub.SubmissionID, sub.IdempotencyKey, sub.Source, sub.DocID, sub.ExternalID, sub.VersionNumber,
		string(sub.Status), sub.Duplicate, sub.TotalChunks, sub.EmbeddedChunks, sub.PendingChunks,
		errJSON, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("insert submission", err)
	}
	return nil
}

func (s *SubmissionStore) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+submissionColumns+` FROM submissions WHERE submission_id = $1
`, submissionID)
	return scanSubmission(row)
}

func (s *SubmissionStore) GetByIdempotencyKey(ctx context.Context, source, key string) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+submissionColumns+` FROM submissions
WHERE source = $1 AND idempotency_key = $2 AND idempotency_key <> ''
ORDER BY created_at ASC
LIMIT 1
`, source, key)
	return scanSubmission(row)
}

// MarkProcessing sets the chunk budget. A zero-chunk submission completes
// immediately; there is nothing to wait for.
func (s *SubmissionStore) MarkProcessing(ctx context.Context, submissionID string, totalChunks int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE submissions
SET status = CASE WHEN $2 = 0 THEN 'completed' ELSE 'processing' END,
	total_chunks = $2,
	pending_chunks = $2,
	embedded_chunks = 0,
	updated_at = $3
WHERE submission_id = $1 AND status = 'accepted'
`, submissionID, totalChunks, time.Now().UTC())
	if err != nil {
		return mapWriteError("mark processing", err)
	}
	return requireRow(res, "mark processing", submissionID)
}

// CompleteChunk performs the increment/decrement and the completed flip in
// one statement; the WHERE guard makes over-reporting harmless.
func (s *SubmissionStore) CompleteChunk(ctx context.Context, submissionID string) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE submissions
SET embedded_chunks = embedded_chunks + 1,
	pending_chunks = pending_chunks - 1,
	status = CASE WHEN pending_chunks - 1 = 0 THEN 'completed' ELSE status END,
	updated_at = $2
WHERE submission_id = $1 AND status = 'processing' AND pending_chunks > 0
RETURNING `+submissionColumns+`
`, submissionID, time.Now().UTC())

	sub, err := scanSubmission(row)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.WrapError(domain.ErrConflict, "complete chunk",
				fmt.Errorf("submission %s is not processing or has no pending chunks", submissionID))
		}
		return nil, err
	}
	return sub, nil
}

func (s *SubmissionStore) FailChunk(ctx context.Context, submissionID string, subErr domain.SubmissionError) error {
	raw, err := json.Marshal(subErr)
	if err != nil {
		return fmt.Errorf("marshal submission error: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE submissions
SET status = 'failed', error = $2, updated_at = $3
WHERE submission_id = $1 AND status IN ('accepted', 'processing')
`, submissionID, raw, time.Now().UTC())
	if err != nil {
		return mapWriteError("fail submission", err)
	}
	return requireRow(res, "fail submission", submissionID)
}

func (s *SubmissionStore) DocumentStatus(ctx context.Context, docID string) (*domain.DocumentStatus, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(total_chunks), 0),
	COALESCE(SUM(embedded_chunks), 0),
	COALESCE(SUM(pending_chunks), 0)
FROM submissions
WHERE doc_id = $1 AND NOT duplicate
`, docID)

	status := domain.DocumentStatus{DocID: docID}
	if err := row.Scan(&status.Submissions, &status.TotalChunks, &status.EmbeddedChunks, &status.PendingChunks); err != nil {
		return nil, fmt.Errorf("scan document status: %w", err)
	}
	if status.Submissions == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "document status", fmt.Errorf("no submissions for doc %s", docID))
	}
	return &status, nil
}

func scanSubmission(row *sql.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var status string
	var errRaw []byte

	err := row.Scan(
		&sub.SubmissionID, &sub.IdempotencyKey, &sub.Source, &sub.DocID, &sub.ExternalID, &sub.VersionNumber,
		&status, &sub.Duplicate, &sub.TotalChunks, &sub.EmbeddedChunks, &sub.PendingChunks,
		&errRaw, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "lookup submission", err)
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}

	sub.Status = domain.SubmissionStatus(status)
	if len(errRaw) > 0 {
		var subErr domain.SubmissionError
		if err := json.Unmarshal(errRaw, &subErr); err != nil {
			return nil, fmt.Errorf("unmarshal submission error: %w", err)
		}
		sub.Error = &subErr
	}
	return &sub, nil
}

func requireRow(res sql.Result, operation, submissionID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: read affected rows: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("submission %s not in an updatable state", submissionID))
	}
	return nil
}
