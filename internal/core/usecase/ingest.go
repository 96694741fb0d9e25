package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
)

type admitDecision int

const (
	admitNewDocument admitDecision = iota
	admitDuplicateNoOp
	admitNewVersion
)

const (
	conflictRetryAttempts = 3
	conflictRetryBackoff  = 50 * time.Millisecond
)

// IngestUseCase is the idempotency gate and version chain orchestrator.
// One call spans resolve -> admit -> version write as a single logical
// transaction serialized per idempotency key and per external id.
type IngestUseCase struct {
	docs   ports.DocumentStore
	subs   ports.SubmissionStore
	files  ports.FileStore
	queue  ports.MessageQueue
	rel    ports.RelationshipStore
	logger *slog.Logger

	locks *keyLock
	now   func() time.Time
}

func NewIngestUseCase(
	docs ports.DocumentStore,
	subs ports.SubmissionStore,
	files ports.FileStore,
	queue ports.MessageQueue,
	rel ports.RelationshipStore,
	logger *slog.Logger,
) *IngestUseCase {
	return &IngestUseCase{
		docs:   docs,
		subs:   subs,
		files:  files,
		queue:  queue,
		rel:    rel,
		logger: logger,
		locks:  newKeyLock(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestUseCase) Ingest(ctx context.Context, item domain.IngestItem) (*domain.IngestReceipt, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	identity := ResolveIdentity(item)
	source := ingestSource(item)

	// Lock order is fixed (idempotency key before external id) so two
	// submissions sharing both keys cannot deadlock.
	if item.IdempotencyKey != "" {
		idemKey := "idem:" + source + "/" + item.IdempotencyKey
		uc.locks.lock(idemKey)
		defer uc.locks.unlock(idemKey)
	}
	extKey := "ext:" + identity.ExternalID
	uc.locks.lock(extKey)
	defer uc.locks.unlock(extKey)

	if item.IdempotencyKey != "" {
		prior, err := uc.subs.GetByIdempotencyKey(ctx, source, item.IdempotencyKey)
		if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if prior != nil {
			return uc.receiptFromPrior(prior, identity), nil
		}
	}

	fileIDs, attachmentRefs, err := uc.storeAttachments(ctx, item)
	if err != nil {
		return nil, err
	}
	if item.Text != "" {
		if _, err := uc.files.Put(ctx, identity.ContentHash, []byte(item.Text)); err != nil {
			return nil, domain.WrapError(domain.ErrUnavailable, "store body text", err)
		}
	}

	decision, active, err := uc.admit(ctx, identity)
	if err != nil {
		return nil, err
	}

	switch decision {
	case admitDuplicateNoOp:
		return uc.recordDuplicate(ctx, item, identity, source, active, fileIDs)
	case admitNewDocument:
		return uc.recordNewDocument(ctx, item, identity, source, fileIDs, attachmentRefs)
	default:
		return uc.recordNewVersion(ctx, item, identity, source, active, fileIDs, attachmentRefs)
	}
}

// admit implements the lookup-then-decide sequence of the gate. It runs under
// the per-key locks taken by Ingest.
func (uc *IngestUseCase) admit(ctx context.Context, identity domain.ResolvedIdentity) (admitDecision, *domain.Document, error) {
	active, err := uc.docs.ActiveByExternalID(ctx, identity.ExternalID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return admitNewDocument, nil, nil
		}
		return 0, nil, fmt.Errorf("lookup active version: %w", err)
	}
	if active.ContentHash == identity.ContentHash {
		return admitDuplicateNoOp, active, nil
	}
	return admitNewVersion, active, nil
}

func (uc *IngestUseCase) recordNewDocument(
	ctx context.Context,
	item domain.IngestItem,
	identity domain.ResolvedIdentity,
	source string,
	fileIDs []string,
	attachmentRefs []map[string]any,
) (*domain.IngestReceipt, error) {
	doc := uc.buildDocument(item, identity, attachmentRefs)
	doc.DocID = uuid.NewString()
	doc.VersionNumber = 1
	doc.IsActiveVersion = true

	err := uc.retryOnConflict(ctx, func() error {
		return uc.docs.CreateDocument(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	return uc.finishAccepted(ctx, item, identity, source, doc, fileIDs)
}

func (uc *IngestUseCase) recordNewVersion(
	ctx context.Context,
	item domain.IngestItem,
	identity domain.ResolvedIdentity,
	source string,
	active *domain.Document,
	fileIDs []string,
	attachmentRefs []map[string]any,
) (*domain.IngestReceipt, error) {
	doc := uc.buildDocument(item, identity, attachmentRefs)
	doc.DocID = active.DocID

	err := uc.retryOnConflict(ctx, func() error {
		version, err := uc.docs.CreateNextVersion(ctx, doc)
		if err != nil {
			return err
		}
		doc.VersionNumber = version
		doc.IsActiveVersion = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create next version: %w", err)
	}

	return uc.finishAccepted(ctx, item, identity, source, doc, fileIDs)
}

func (uc *IngestUseCase) recordDuplicate(
	ctx context.Context,
	item domain.IngestItem,
	identity domain.ResolvedIdentity,
	source string,
	active *domain.Document,
	fileIDs []string,
) (*domain.IngestReceipt, error) {
	now := uc.now()
	sub := &domain.Submission{
		SubmissionID:   uuid.NewString(),
		IdempotencyKey: item.IdempotencyKey,
		Source:         source,
		DocID:          active.DocID,
		ExternalID:     identity.ExternalID,
		VersionNumber:  active.VersionNumber,
		Status:         domain.SubmissionCompleted,
		Duplicate:      true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("record duplicate submission: %w", err)
	}

	return &domain.IngestReceipt{
		SubmissionID:     sub.SubmissionID,
		DocID:            active.DocID,
		ExternalID:       identity.ExternalID,
		VersionNumber:    active.VersionNumber,
		Status:           domain.SubmissionCompleted,
		Duplicate:        true,
		FileIDs:          fileIDs,
		CollisionWarning: identity.EmptySeed,
	}, nil
}

func (uc *IngestUseCase) finishAccepted(
	ctx context.Context,
	item domain.IngestItem,
	identity domain.ResolvedIdentity,
	source string,
	doc *domain.Document,
	fileIDs []string,
) (*domain.IngestReceipt, error) {
	now := uc.now()
	sub := &domain.Submission{
		SubmissionID:   uuid.NewString(),
		IdempotencyKey: item.IdempotencyKey,
		Source:         source,
		DocID:          doc.DocID,
		ExternalID:     identity.ExternalID,
		VersionNumber:  doc.VersionNumber,
		Status:         domain.SubmissionAccepted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	uc.attachHints(ctx, doc.DocID, item)

	if err := uc.queue.PublishSubmissionAccepted(ctx, sub.SubmissionID); err != nil {
		dispatchErr := domain.SubmissionError{ChunkIndex: -1, Stage: "dispatch", Message: err.Error()}
		if failErr := uc.subs.FailChunk(ctx, sub.SubmissionID, dispatchErr); failErr != nil {
			uc.logger.Error("mark_dispatch_failure", "submission_id", sub.SubmissionID, "error", failErr)
		}
		return nil, fmt.Errorf("dispatch submission: %w", err)
	}

	return &domain.IngestReceipt{
		SubmissionID:     sub.SubmissionID,
		DocID:            doc.DocID,
		ExternalID:       identity.ExternalID,
		VersionNumber:    doc.VersionNumber,
		Status:           domain.SubmissionAccepted,
		FileIDs:          fileIDs,
		CollisionWarning: identity.EmptySeed,
	}, nil
}

func (uc *IngestUseCase) buildDocument(
	item domain.IngestItem,
	identity domain.ResolvedIdentity,
	attachmentRefs []map[string]any,
) *domain.Document {
	ts, ok := ParseContentTimestamp(item.ContentTimestamp)
	tsType := item.ContentTimestampType
	if !ok {
		ts = uc.now()
		tsType = domain.TimestampObserved
	}

	metadata := map[string]any{}
	for key, value := range item.FacetOverrides {
		metadata["facet."+key] = value
	}
	if len(attachmentRefs) > 0 {
		metadata["attachments"] = attachmentRefs
	}

	return &domain.Document{
		ExternalID:           identity.ExternalID,
		ContentHash:          identity.ContentHash,
		SourceType:           item.SourceType,
		SourceProvider:       item.SourceProvider,
		SourceID:             item.SourceID,
		Title:                item.Title,
		ContentTimestamp:     ts,
		ContentTimestampType: tsType,
		Metadata:             metadata,
		CreatedAt:            uc.now(),
	}
}

func (uc *IngestUseCase) storeAttachments(ctx context.Context, item domain.IngestItem) ([]string, []map[string]any, error) {
	if len(item.Attachments) == 0 {
		return []string{}, nil, nil
	}
	fileIDs := make([]string, 0, len(item.Attachments))
	refs := make([]map[string]any, 0, len(item.Attachments))
	for _, att := range item.Attachments {
		key := att.SHA256
		if key == "" {
			sum := sha256.Sum256(att.Data)
			key = hex.EncodeToString(sum[:])
		}
		fileID, err := uc.files.Put(ctx, key, att.Data)
		if err != nil {
			return nil, nil, domain.WrapError(domain.ErrUnavailable, "store attachment", err)
		}
		fileIDs = append(fileIDs, fileID)
		refs = append(refs, map[string]any{
			"file_id":   fileID,
			"filename":  att.Filename,
			"mime_type": att.MimeType,
		})
	}
	return fileIDs, refs, nil
}

// attachHints is best-effort: people and thread edges never gate the
// identity/version transaction.
func (uc *IngestUseCase) attachHints(ctx context.Context, docID string, item domain.IngestItem) {
	if uc.rel == nil {
		return
	}
	if len(item.People) > 0 {
		if err := uc.rel.AttachPeople(ctx, docID, item.People); err != nil {
			uc.logger.Warn("attach_people", "doc_id", docID, "error", err)
		}
	}
	if item.Thread != nil {
		if err := uc.rel.AttachThread(ctx, docID, *item.Thread); err != nil {
			uc.logger.Warn("attach_thread", "doc_id", docID, "error", err)
		}
	}
}

func (uc *IngestUseCase) retryOnConflict(ctx context.Context, fn func() error) error {
	backoff := conflictRetryBackoff
	var err error
	for attempt := 1; attempt <= conflictRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsKind(err, domain.ErrConflict) {
			return err
		}
		if attempt == conflictRetryAttempts {
			break
		}
		uc.logger.Warn("version_write_conflict", "attempt", attempt, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return domain.WrapError(domain.ErrTemporary, "version write", err)
}

func (uc *IngestUseCase) receiptFromPrior(prior *domain.Submission, identity domain.ResolvedIdentity) *domain.IngestReceipt {
	return &domain.IngestReceipt{
		SubmissionID:     prior.SubmissionID,
		DocID:            prior.DocID,
		ExternalID:       prior.ExternalID,
		VersionNumber:    prior.VersionNumber,
		Status:           prior.Status,
		Duplicate:        true,
		FileIDs:          []string{},
		CollisionWarning: identity.EmptySeed,
	}
}

func validateItem(item domain.IngestItem) error {
	if item.SourceType == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate submission", errors.New("source_type is required"))
	}
	if strings.TrimSpace(item.Text) == "" && item.ContentSHA256 == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate submission", errors.New("either text or content_sha256 is required"))
	}
	return nil
}

func ingestSource(item domain.IngestItem) string {
	if item.SourceProvider != "" {
		return string(item.SourceType) + "/" + item.SourceProvider
	}
	return string(item.SourceType)
}
