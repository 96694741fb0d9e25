package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

func newTestIngestUC(docs *docStoreFake, subs *subStoreFake, files *fileStoreFake, queue *queueFake, rel *relStoreFake) *IngestUseCase {
	return NewIngestUseCase(docs, subs, files, queue, rel, testLogger())
}

func emailItem() domain.IngestItem {
	return domain.IngestItem{
		SourceType:       domain.SourceEmail,
		SourceProvider:   "gmail",
		NativeID:         "<msg-1@example.com>",
		Text:             "quarterly numbers attached",
		Title:            "Q1 numbers",
		ContentTimestamp: "1704164645",
	}
}

func TestIngestNewDocumentCreatesVersionOne(t *testing.T) {
	docs := &docStoreFake{}
	subs := newSubStoreFake()
	files := newFileStoreFake()
	queue := &queueFake{}

	uc := newTestIngestUC(docs, subs, files, queue, nil)
	receipt, err := uc.Ingest(context.Background(), emailItem())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if receipt.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", receipt.VersionNumber)
	}
	if receipt.Status != domain.SubmissionAccepted {
		t.Fatalf("expected accepted status, got %s", receipt.Status)
	}
	if receipt.Duplicate {
		t.Fatalf("unexpected duplicate flag on first submission")
	}
	if len(docs.versions) != 1 || !docs.versions[0].IsActiveVersion {
		t.Fatalf("expected one active stored version, got %+v", docs.versions)
	}
	if len(queue.published) != 1 || queue.published[0] != receipt.SubmissionID {
		t.Fatalf("expected submission %s published, got %v", receipt.SubmissionID, queue.published)
	}

	identity := ResolveIdentity(emailItem())
	if _, err := files.Get(context.Background(), identity.ContentHash); err != nil {
		t.Fatalf("expected body stored under content hash: %v", err)
	}
}

func TestIngestDuplicateContentIsNoOp(t *testing.T) {
	docs := &docStoreFake{}
	subs := newSubStoreFake()
	files := newFileStoreFake()
	queue := &queueFake{}
	uc := newTestIngestUC(docs, subs, files, queue, nil)

	first, err := uc.Ingest(context.Background(), emailItem())
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	second, err := uc.Ingest(context.Background(), emailItem())
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on unchanged resubmission")
	}
	if second.Status != domain.SubmissionCompleted {
		t.Fatalf("expected completed status for duplicate, got %s", second.Status)
	}
	if second.DocID != first.DocID || second.VersionNumber != first.VersionNumber {
		t.Fatalf("duplicate receipt must reference the existing chain: %+v vs %+v", second, first)
	}
	if len(docs.versions) != 1 {
		t.Fatalf("duplicate must not create a version, have %d", len(docs.versions))
	}
	if len(queue.published) != 1 {
		t.Fatalf("duplicate must not enqueue processing, got %d publishes", len(queue.published))
	}
}

func TestIngestChangedContentCreatesNextVersion(t *testing.T) {
	docs := &docStoreFake{}
	subs := newSubStoreFake()
	queue := &queueFake{}
	uc := newTestIngestUC(docs, subs, newFileStoreFake(), queue, nil)

	first, err := uc.Ingest(context.Background(), emailItem())
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	changed := emailItem()
	changed.Text = "quarterly numbers attached, revised"
	second, err := uc.Ingest(context.Background(), changed)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if second.VersionNumber != 2 {
		t.Fatalf("expected version 2, got %d", second.VersionNumber)
	}
	if second.DocID != first.DocID {
		t.Fatalf("new version must keep the doc id, got %s vs %s", second.DocID, first.DocID)
	}

	active := 0
	for _, doc := range docs.versions {
		if doc.IsActiveVersion {
			active++
			if doc.VersionNumber != 2 {
				t.Fatalf("expected version 2 active, got %d", doc.VersionNumber)
			}
		}
	}
	if active != 1 {
		t.Fatalf("exactly one version may be active, got %d", active)
	}
}

func TestIngestIdempotencyKeyReturnsPriorReceipt(t *testing.T) {
	docs := &docStoreFake{}
	subs := newSubStoreFake()
	queue := &queueFake{}
	uc := newTestIngestUC(docs, subs, newFileStoreFake(), queue, nil)

	item := emailItem()
	item.IdempotencyKey = "batch-42/item-7"

	first, err := uc.Ingest(context.Background(), item)
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	replay, err := uc.Ingest(context.Background(), item)
	if err != nil {
		t.Fatalf("replay Ingest() error = %v", err)
	}

	if replay.SubmissionID != first.SubmissionID {
		t.Fatalf("replay must return the prior submission, got %s vs %s", replay.SubmissionID, first.SubmissionID)
	}
	if !replay.Duplicate {
		t.Fatalf("expected duplicate flag on idempotent replay")
	}
	if len(docs.versions) != 1 {
		t.Fatalf("replay must not write a version, have %d", len(docs.versions))
	}
	if len(queue.published) != 1 {
		t.Fatalf("replay must not re-enqueue, got %d publishes", len(queue.published))
	}
}

func TestIngestPublishFailureFailsSubmission(t *testing.T) {
	subs := newSubStoreFake()
	queue := &queueFake{publishErr: errors.New("nats down")}
	uc := newTestIngestUC(&docStoreFake{}, subs, newFileStoreFake(), queue, nil)

	_, err := uc.Ingest(context.Background(), emailItem())
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if !strings.Contains(err.Error(), "dispatch submission") {
		t.Fatalf("expected dispatch context in error, got %v", err)
	}

	sub := subs.only()
	if sub == nil {
		t.Fatalf("expected submission record")
	}
	if sub.Status != domain.SubmissionFailed {
		t.Fatalf("expected failed submission after publish error, got %s", sub.Status)
	}
	if sub.Error == nil || sub.Error.Stage != "dispatch" {
		t.Fatalf("expected dispatch stage on submission error, got %+v", sub.Error)
	}
}

func TestIngestValidatesInput(t *testing.T) {
	uc := newTestIngestUC(&docStoreFake{}, newSubStoreFake(), newFileStoreFake(), &queueFake{}, nil)

	_, err := uc.Ingest(context.Background(), domain.IngestItem{Text: "no source type"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing source_type, got %v", err)
	}

	_, err = uc.Ingest(context.Background(), domain.IngestItem{SourceType: domain.SourceEmail})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing content, got %v", err)
	}
}

func TestIngestEmptySeedSetsCollisionWarning(t *testing.T) {
	uc := newTestIngestUC(&docStoreFake{}, newSubStoreFake(), newFileStoreFake(), &queueFake{}, nil)

	receipt, err := uc.Ingest(context.Background(), domain.IngestItem{
		SourceType: domain.SourceMessage,
		Text:       "bare content with no identity fields",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !receipt.CollisionWarning {
		t.Fatalf("expected collision warning for empty derived seed")
	}
}

func TestIngestRetriesConflictThenSucceeds(t *testing.T) {
	docs := &docStoreFake{conflictsLeft: 1}
	uc := newTestIngestUC(docs, newSubStoreFake(), newFileStoreFake(), &queueFake{}, nil)

	receipt, err := uc.Ingest(context.Background(), emailItem())
	if err != nil {
		t.Fatalf("Ingest() error after retryable conflict = %v", err)
	}
	if receipt.VersionNumber != 1 {
		t.Fatalf("expected version 1 after retry, got %d", receipt.VersionNumber)
	}
}

func TestIngestExhaustedConflictsBecomeTemporary(t *testing.T) {
	docs := &docStoreFake{conflictsLeft: 10}
	uc := newTestIngestUC(docs, newSubStoreFake(), newFileStoreFake(), &queueFake{}, nil)

	_, err := uc.Ingest(context.Background(), emailItem())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary failure after retry exhaustion, got %v", err)
	}
}

func TestIngestAttachesHintsBestEffort(t *testing.T) {
	rel := newRelStoreFake()
	uc := newTestIngestUC(&docStoreFake{}, newSubStoreFake(), newFileStoreFake(), &queueFake{}, rel)

	item := emailItem()
	item.People = []domain.PersonReference{{Identifier: "bob@example.com", IdentifierType: "email", Role: "from"}}
	item.Thread = &domain.ThreadHint{ThreadKey: "thread-9", Position: 3}

	receipt, err := uc.Ingest(context.Background(), item)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(rel.people[receipt.DocID]) != 1 {
		t.Fatalf("expected person edge for %s", receipt.DocID)
	}
	if rel.threads[receipt.DocID].ThreadKey != "thread-9" {
		t.Fatalf("expected thread edge, got %+v", rel.threads[receipt.DocID])
	}

	// Graph failures never fail admission.
	rel.attachErr = errors.New("graph down")
	item2 := emailItem()
	item2.NativeID = "<msg-2@example.com>"
	item2.People = item.People
	if _, err := uc.Ingest(context.Background(), item2); err != nil {
		t.Fatalf("expected hint failure to be swallowed, got %v", err)
	}
}

func TestIngestConcurrentSameItemYieldsOneVersion(t *testing.T) {
	docs := &docStoreFake{}
	subs := newSubStoreFake()
	queue := &queueFake{}
	uc := newTestIngestUC(docs, subs, newFileStoreFake(), queue, nil)

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = uc.Ingest(context.Background(), emailItem())
		}()
	}
	wg.Wait()

	if len(docs.versions) != 1 {
		t.Fatalf("concurrent identical submissions must converge on one version, got %d", len(docs.versions))
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected exactly one processing dispatch, got %d", len(queue.published))
	}
}
