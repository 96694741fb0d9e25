package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
)

// ProcessSubmissionUseCase runs the asynchronous half of ingestion: load the
// committed document, assemble its text, chunk it, then embed and index each
// chunk while reporting per-chunk completion to the submission tracker.
type ProcessSubmissionUseCase struct {
	subs       ports.SubmissionStore
	docs       ports.DocumentStore
	files      ports.FileStore
	extractors []ports.TextExtractor
	chunker    ports.Chunker
	embedder   ports.Embedder
	vectorDB   ports.VectorIndex
	logger     *slog.Logger

	chunkWorkers int
}

func NewProcessSubmissionUseCase(
	subs ports.SubmissionStore,
	docs ports.DocumentStore,
	files ports.FileStore,
	extractors []ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectorDB ports.VectorIndex,
	chunkWorkers int,
	logger *slog.Logger,
) *ProcessSubmissionUseCase {
	if chunkWorkers <= 0 {
		chunkWorkers = 4
	}
	return &ProcessSubmissionUseCase{
		subs:         subs,
		docs:         docs,
		files:        files,
		extractors:   extractors,
		chunker:      chunker,
		embedder:     embedder,
		vectorDB:     vectorDB,
		logger:       logger,
		chunkWorkers: chunkWorkers,
	}
}

func (uc *ProcessSubmissionUseCase) ProcessBySubmissionID(ctx context.Context, submissionID string) error {
	sub, err := uc.subs.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("fetch submission: %w", err)
	}
	if sub.Status != domain.SubmissionAccepted {
		// Queue redelivery after a crash mid-processing; the tracker state
		// is authoritative, so never double-count chunks.
		uc.logger.Info("skip_submission", "submission_id", submissionID, "status", sub.Status)
		return nil
	}

	doc, err := uc.docs.GetByDocID(ctx, sub.DocID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	text, err := uc.assembleText(ctx, doc)
	if err != nil {
		if failErr := uc.failSubmission(ctx, submissionID, -1, "extract", err); failErr != nil {
			return fmt.Errorf("%w; mark failed: %v", err, failErr)
		}
		return err
	}

	chunks := uc.chunker.Split(text)
	if err := uc.subs.MarkProcessing(ctx, submissionID, len(chunks)); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	if err := uc.embedAndIndex(ctx, submissionID, doc, chunks); err != nil {
		return err
	}
	return nil
}

// embedAndIndex fans chunks out over a bounded worker pool. Completion events
// land on the tracker concurrently; counter arithmetic is atomic in the store.
func (uc *ProcessSubmissionUseCase) embedAndIndex(
	ctx context.Context,
	submissionID string,
	doc *domain.Document,
	chunks []string,
) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.chunkWorkers)

	for i, chunk := range chunks {
		group.Go(func() error {
			if err := uc.handleChunk(groupCtx, doc, i, chunk); err != nil {
				if failErr := uc.failSubmission(groupCtx, submissionID, i, "embed", err); failErr != nil {
					uc.logger.Error("mark_chunk_failure", "submission_id", submissionID, "chunk", i, "error", failErr)
				}
				return err
			}
			if _, err := uc.subs.CompleteChunk(groupCtx, submissionID); err != nil {
				return fmt.Errorf("report chunk completion: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (uc *ProcessSubmissionUseCase) handleChunk(ctx context.Context, doc *domain.Document, index int, text string) error {
	vectors, err := uc.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed chunk %d: %w", index, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed chunk %d: got %d vectors", index, len(vectors))
	}
	if err := uc.vectorDB.IndexChunk(ctx, doc, index, text, vectors[0]); err != nil {
		return fmt.Errorf("index chunk %d: %w", index, err)
	}
	return nil
}

// assembleText joins the stored body with text extracted from attachments.
func (uc *ProcessSubmissionUseCase) assembleText(ctx context.Context, doc *domain.Document) (string, error) {
	var parts []string

	body, err := uc.files.Get(ctx, doc.ContentHash)
	if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		return "", fmt.Errorf("load body text: %w", err)
	}
	if len(body) > 0 {
		parts = append(parts, string(body))
	}

	for _, ref := range attachmentRefs(doc) {
		text, err := uc.extractAttachment(ctx, ref)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "assemble text", errors.New("no extractable content"))
	}
	return joinParts(parts), nil
}

func (uc *ProcessSubmissionUseCase) extractAttachment(ctx context.Context, ref attachmentRef) (string, error) {
	data, err := uc.files.Get(ctx, ref.FileID)
	if err != nil {
		return "", fmt.Errorf("load attachment %s: %w", ref.FileID, err)
	}
	att := domain.Attachment{Filename: ref.Filename, MimeType: ref.MimeType, SHA256: ref.FileID, Data: data}
	for _, extractor := range uc.extractors {
		if extractor.Supports(ref.MimeType) {
			return extractor.Extract(ctx, att)
		}
	}
	uc.logger.Warn("no_extractor", "mime_type", ref.MimeType, "file_id", ref.FileID)
	return "", nil
}

func (uc *ProcessSubmissionUseCase) failSubmission(ctx context.Context, submissionID string, chunk int, stage string, cause error) error {
	return uc.subs.FailChunk(ctx, submissionID, domain.SubmissionError{
		ChunkIndex: chunk,
		Stage:      stage,
		Message:    cause.Error(),
	})
}

type attachmentRef struct {
	FileID   string
	Filename string
	MimeType string
}

// attachmentRefs tolerates both the in-memory shape written at ingest time
// and the generic shape that comes back from JSONB scanning.
func attachmentRefs(doc *domain.Document) []attachmentRef {
	raw, ok := doc.Metadata["attachments"]
	if !ok {
		return nil
	}
	var out []attachmentRef
	switch typed := raw.(type) {
	case []map[string]any:
		for _, entry := range typed {
			out = append(out, refFromMap(entry))
		}
	case []any:
		for _, entry := range typed {
			if m, ok := entry.(map[string]any); ok {
				out = append(out, refFromMap(m))
			}
		}
	}
	return out
}

func refFromMap(m map[string]any) attachmentRef {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	return attachmentRef{FileID: str("file_id"), Filename: str("filename"), MimeType: str("mime_type")}
}

func joinParts(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n\n" + p
	}
	return out
}
