package usecase

import (
	"context"
	"fmt"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
)

// TrackUseCase exposes read-only lifecycle snapshots plus the chunk
// completion boundary external embedding workers report against.
type TrackUseCase struct {
	subs ports.SubmissionStore
}

func NewTrackUseCase(subs ports.SubmissionStore) *TrackUseCase {
	return &TrackUseCase{subs: subs}
}

func (uc *TrackUseCase) SubmissionStatus(ctx context.Context, submissionID string) (*domain.Submission, error) {
	sub, err := uc.subs.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("fetch submission status: %w", err)
	}
	return sub, nil
}

func (uc *TrackUseCase) DocumentStatus(ctx context.Context, docID string) (*domain.DocumentStatus, error) {
	status, err := uc.subs.DocumentStatus(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("fetch document status: %w", err)
	}
	return status, nil
}

// ReportChunkCompleted is safe under concurrent calls from a worker pool; the
// store performs the increment/decrement atomically.
func (uc *TrackUseCase) ReportChunkCompleted(ctx context.Context, submissionID string) (*domain.Submission, error) {
	sub, err := uc.subs.CompleteChunk(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("complete chunk: %w", err)
	}
	return sub, nil
}

func (uc *TrackUseCase) ReportChunkFailed(ctx context.Context, submissionID string, chunkIndex int, stage, message string) error {
	err := uc.subs.FailChunk(ctx, submissionID, domain.SubmissionError{
		ChunkIndex: chunkIndex,
		Stage:      stage,
		Message:    message,
	})
	if err != nil {
		return fmt.Errorf("fail chunk: %w", err)
	}
	return nil
}
