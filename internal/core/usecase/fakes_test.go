package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory fakes mirroring the store invariants closely enough to exercise
// the admission and tracking flows without a database.

type docStoreFake struct {
	mu       sync.Mutex
	versions []*domain.Document

	createErr error
	// conflictsLeft makes the first N writes fail with ErrConflict.
	conflictsLeft int
}

func (f *docStoreFake) ActiveByExternalID(_ context.Context, externalID string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.versions {
		if doc.ExternalID == externalID && doc.IsActiveVersion {
			copyDoc := *doc
			return &copyDoc, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "active lookup", errors.New("no active version"))
}

func (f *docStoreFake) CreateDocument(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return domain.WrapError(domain.ErrConflict, "create document", errors.New("duplicate key"))
	}
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.versions = append(f.versions, &copyDoc)
	return nil
}

func (f *docStoreFake) CreateNextVersion(_ context.Context, doc *domain.Document) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return 0, domain.WrapError(domain.ErrConflict, "create next version", errors.New("serialization failure"))
	}
	max := 0
	for _, existing := range f.versions {
		if existing.ExternalID == doc.ExternalID {
			if existing.VersionNumber > max {
				max = existing.VersionNumber
			}
			existing.IsActiveVersion = false
		}
	}
	if max == 0 {
		return 0, domain.WrapError(domain.ErrNotFound, "create next version", errors.New("no chain"))
	}
	copyDoc := *doc
	copyDoc.VersionNumber = max + 1
	copyDoc.IsActiveVersion = true
	f.versions = append(f.versions, &copyDoc)
	return copyDoc.VersionNumber, nil
}

func (f *docStoreFake) DeactivateByDocIDs(_ context.Context, docIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	affected := map[string]bool{}
	for _, doc := range f.versions {
		for _, id := range docIDs {
			if doc.DocID == id && doc.IsActiveVersion {
				doc.IsActiveVersion = false
				affected[id] = true
			}
		}
	}
	return len(affected), nil
}

func (f *docStoreFake) DocIDsBySourceIDs(_ context.Context, sourceIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, doc := range f.versions {
		for _, id := range sourceIDs {
			if doc.SourceID == id && !seen[doc.DocID] {
				seen[doc.DocID] = true
				out = append(out, doc.DocID)
			}
		}
	}
	return out, nil
}

func (f *docStoreFake) GetByDocID(_ context.Context, docID string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Document
	for _, doc := range f.versions {
		if doc.DocID != docID {
			continue
		}
		if best == nil || doc.IsActiveVersion || doc.VersionNumber > best.VersionNumber {
			best = doc
		}
	}
	if best == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", errors.New("unknown doc id"))
	}
	copyDoc := *best
	return &copyDoc, nil
}

type subStoreFake struct {
	mu   sync.Mutex
	subs map[string]*domain.Submission

	createErr error
}

func newSubStoreFake() *subStoreFake {
	return &subStoreFake{subs: map[string]*domain.Submission{}}
}

func (f *subStoreFake) Create(_ context.Context, sub *domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copySub := *sub
	f.subs[sub.SubmissionID] = &copySub
	return nil
}

func (f *subStoreFake) GetBySubmissionID(_ context.Context, submissionID string) (*domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get submission", errors.New("unknown submission"))
	}
	copySub := *sub
	return &copySub, nil
}

func (f *subStoreFake) GetByIdempotencyKey(_ context.Context, source, key string) (*domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.Source == source && sub.IdempotencyKey == key {
			copySub := *sub
			return &copySub, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "idempotency lookup", errors.New("no prior submission"))
}

func (f *subStoreFake) MarkProcessing(_ context.Context, submissionID string, totalChunks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "mark processing", errors.New("unknown submission"))
	}
	sub.TotalChunks = totalChunks
	sub.PendingChunks = totalChunks
	if totalChunks == 0 {
		sub.Status = domain.SubmissionCompleted
	} else {
		sub.Status = domain.SubmissionProcessing
	}
	return nil
}

func (f *subStoreFake) CompleteChunk(_ context.Context, submissionID string) (*domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok || sub.Status != domain.SubmissionProcessing || sub.PendingChunks <= 0 {
		return nil, domain.WrapError(domain.ErrConflict, "complete chunk", errors.New("no pending chunks"))
	}
	sub.EmbeddedChunks++
	sub.PendingChunks--
	if sub.PendingChunks == 0 {
		sub.Status = domain.SubmissionCompleted
	}
	copySub := *sub
	return &copySub, nil
}

func (f *subStoreFake) FailChunk(_ context.Context, submissionID string, subErr domain.SubmissionError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "fail chunk", errors.New("unknown submission"))
	}
	sub.Status = domain.SubmissionFailed
	failure := subErr
	sub.Error = &failure
	return nil
}

func (f *subStoreFake) DocumentStatus(_ context.Context, docID string) (*domain.DocumentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := &domain.DocumentStatus{DocID: docID}
	for _, sub := range f.subs {
		if sub.DocID != docID || sub.Duplicate {
			continue
		}
		status.Submissions++
		status.TotalChunks += sub.TotalChunks
		status.EmbeddedChunks += sub.EmbeddedChunks
		status.PendingChunks += sub.PendingChunks
	}
	if status.Submissions == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "document status", errors.New("no submissions"))
	}
	return status, nil
}

func (f *subStoreFake) bySubmissionID(id string) *domain.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[id]
}

func (f *subStoreFake) only() *domain.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		return sub
	}
	return nil
}

type fileStoreFake struct {
	mu    sync.Mutex
	blobs map[string][]byte

	putErr error
}

func newFileStoreFake() *fileStoreFake {
	return &fileStoreFake{blobs: map[string][]byte{}}
}

func (f *fileStoreFake) Put(_ context.Context, sha256Hex string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.blobs[sha256Hex] = append([]byte(nil), data...)
	return sha256Hex, nil
}

func (f *fileStoreFake) Get(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[fileID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get file", errors.New("unknown file"))
	}
	return append([]byte(nil), data...), nil
}

type queueFake struct {
	mu        sync.Mutex
	published []string

	publishErr error
}

func (f *queueFake) PublishSubmissionAccepted(_ context.Context, submissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, submissionID)
	return nil
}

func (f *queueFake) SubscribeSubmissionAccepted(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type relStoreFake struct {
	mu      sync.Mutex
	people  map[string][]domain.PersonReference
	threads map[string]domain.ThreadHint

	attachErr error
}

func newRelStoreFake() *relStoreFake {
	return &relStoreFake{people: map[string][]domain.PersonReference{}, threads: map[string]domain.ThreadHint{}}
}

func (f *relStoreFake) AttachPeople(_ context.Context, docID string, people []domain.PersonReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.people[docID] = append(f.people[docID], people...)
	return nil
}

func (f *relStoreFake) AttachThread(_ context.Context, docID string, hint domain.ThreadHint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.threads[docID] = hint
	return nil
}

func (f *relStoreFake) Close(context.Context) error { return nil }

type vectorIndexFake struct {
	mu      sync.Mutex
	indexed []indexedChunk
	deleted [][]string

	searchOut []domain.Candidate
	searchErr error
	vector    []float32
	indexErr  error
}

type indexedChunk struct {
	docID      string
	chunkIndex int
	text       string
}

func (f *vectorIndexFake) IndexChunk(_ context.Context, doc *domain.Document, chunkIndex int, text string, _ []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, indexedChunk{docID: doc.DocID, chunkIndex: chunkIndex, text: text})
	return nil
}

func (f *vectorIndexFake) Search(_ context.Context, _ []float32, _ int, _ []domain.FilterClause) ([]domain.Candidate, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchOut, nil
}

func (f *vectorIndexFake) VectorByDocID(context.Context, string) ([]float32, error) {
	if f.vector == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "vector lookup", errors.New("no points"))
	}
	return f.vector, nil
}

func (f *vectorIndexFake) DeleteByDocIDs(_ context.Context, docIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return f.searchErr
	}
	f.deleted = append(f.deleted, docIDs)
	return nil
}

type keywordIndexFake struct {
	mu        sync.Mutex
	gotTerms  []string
	gotOp     domain.KeywordOperator
	called    bool
	searchOut []domain.Candidate
	searchErr error
}

func (f *keywordIndexFake) SearchKeyword(_ context.Context, terms []string, operator domain.KeywordOperator, _ int, _ []domain.FilterClause) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.called = true
	f.gotTerms = terms
	f.gotOp = operator
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchOut, nil
}

type embedderFake struct {
	embedErr error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type rerankerFake struct {
	err     error
	reverse bool
	called  bool
}

func (f *rerankerFake) Rerank(_ context.Context, _ string, hits []domain.SearchHit) ([]domain.SearchHit, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.SearchHit, len(hits))
	copy(out, hits)
	if f.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

type chunkerFake struct {
	chunks []string
}

func (f *chunkerFake) Split(string) []string {
	return f.chunks
}

type extractorFake struct {
	mime string
	out  string
	err  error
}

func (f *extractorFake) Supports(mimeType string) bool {
	return mimeType == f.mime
}

func (f *extractorFake) Extract(_ context.Context, _ domain.Attachment) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}
