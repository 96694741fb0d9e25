package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

type ingestorFake struct {
	receipt *domain.IngestReceipt
	err     error
	got     domain.IngestItem
}

func (f *ingestorFake) Ingest(_ context.Context, item domain.IngestItem) (*domain.IngestReceipt, error) {
	f.got = item
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

type statusReaderFake struct {
	submission *domain.Submission
	docStatus  *domain.DocumentStatus
	err        error
	gotID      string
}

func (f *statusReaderFake) SubmissionStatus(_ context.Context, id string) (*domain.Submission, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return f.submission, nil
}

func (f *statusReaderFake) DocumentStatus(_ context.Context, id string) (*domain.DocumentStatus, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return f.docStatus, nil
}

type searcherStub struct {
	result *domain.SearchResult
	err    error
	got    domain.SearchRequest
}

func (f *searcherStub) Execute(_ context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type deleterFake struct {
	count int
	err   error
	got   domain.DeleteSelector
}

func (f *deleterFake) Delete(_ context.Context, sel domain.DeleteSelector) (int, error) {
	f.got = sel
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func newTestHandler(ingest *ingestorFake, status *statusReaderFake, search *searcherStub, deleter *deleterFake) http.Handler {
	rt := NewRouter(ingest, status, search, deleter, Options{Service: "test"})
	return rt.Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
	rec := doRequest(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIngestAccepted(t *testing.T) {
	ingest := &ingestorFake{receipt: &domain.IngestReceipt{
		SubmissionID:  "sub-1",
		DocID:         "doc-1",
		ExternalID:    "email:msg-1",
		VersionNumber: 1,
		Status:        domain.SubmissionAccepted,
	}}
	handler := newTestHandler(ingest, &statusReaderFake{}, &searcherStub{}, &deleterFake{})

	rec := doRequest(t, handler, http.MethodPost, "/v1/ingest", map[string]any{
		"source_type": "email",
		"native_id":   "<msg-1@example.com>",
		"text":        "hello",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var receipt domain.IngestReceipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.SubmissionID != "sub-1" || receipt.DocID != "doc-1" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if ingest.got.SourceType != domain.SourceEmail || ingest.got.NativeID != "<msg-1@example.com>" {
		t.Fatalf("request not mapped to domain item: %+v", ingest.got)
	}
}

func TestIngestDecodesAttachments(t *testing.T) {
	ingest := &ingestorFake{receipt: &domain.IngestReceipt{SubmissionID: "sub-1"}}
	handler := newTestHandler(ingest, &statusReaderFake{}, &searcherStub{}, &deleterFake{})

	rec := doRequest(t, handler, http.MethodPost, "/v1/ingest", map[string]any{
		"source_type": "email",
		"native_id":   "msg-2",
		"text":        "see attached",
		"attachments": []map[string]string{
			{"filename": "report.pdf", "mime_type": "application/pdf", "data": "JVBERg=="},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ingest.got.Attachments) != 1 || string(ingest.got.Attachments[0].Data) != "%PDF" {
		t.Fatalf("attachment not decoded: %+v", ingest.got.Attachments)
	}
}

func TestIngestRejectsBadBase64(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
	rec := doRequest(t, handler, http.MethodPost, "/v1/ingest", map[string]any{
		"source_type": "email",
		"attachments": []map[string]string{{"filename": "x", "data": "not base64 !!!"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestInvalidJSON(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rec.Code)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
	rec := doRequest(t, handler, http.MethodGet, "/v1/ingest", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestIngestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "ingest", domain.ErrInvalidInput), http.StatusBadRequest},
		{"conflict", domain.WrapError(domain.ErrConflict, "ingest", domain.ErrConflict), http.StatusConflict},
		{"temporary", domain.WrapError(domain.ErrTemporary, "ingest", domain.ErrTemporary), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(&ingestorFake{err: tc.err}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
			rec := doRequest(t, handler, http.MethodPost, "/v1/ingest", map[string]any{"source_type": "email", "text": "x"})
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestGetSubmission(t *testing.T) {
	status := &statusReaderFake{submission: &domain.Submission{SubmissionID: "sub-1", Status: domain.SubmissionCompleted}}
	handler := newTestHandler(&ingestorFake{}, status, &searcherStub{}, &deleterFake{})

	rec := doRequest(t, handler, http.MethodGet, "/v1/submissions/sub-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status.gotID != "sub-1" {
		t.Fatalf("expected path id forwarded, got %q", status.gotID)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	status := &statusReaderFake{err: domain.WrapError(domain.ErrNotFound, "submission", domain.ErrNotFound)}
	handler := newTestHandler(&ingestorFake{}, status, &searcherStub{}, &deleterFake{})
	rec := doRequest(t, handler, http.MethodGet, "/v1/submissions/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetSubmissionRejectsNestedPath(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
	rec := doRequest(t, handler, http.MethodGet, "/v1/submissions/a/b", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for nested path, got %d", rec.Code)
	}
}

func TestGetDocumentStatus(t *testing.T) {
	status := &statusReaderFake{docStatus: &domain.DocumentStatus{DocID: "doc-1", TotalChunks: 4, EmbeddedChunks: 4}}
	handler := newTestHandler(&ingestorFake{}, status, &searcherStub{}, &deleterFake{})

	rec := doRequest(t, handler, http.MethodGet, "/v1/documents/doc-1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if status.gotID != "doc-1" {
		t.Fatalf("expected doc id forwarded, got %q", status.gotID)
	}
}

func TestGetDocumentStatusUnknownPath(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})
	rec := doRequest(t, handler, http.MethodGet, "/v1/documents/doc-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without /status suffix, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	search := &searcherStub{result: &domain.SearchResult{
		Hits:           []domain.SearchHit{{DocumentID: "doc-1", ChunkIndex: 0, Score: 0.5}},
		TotalEstimated: 1,
	}}
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, search, &deleterFake{})

	rec := doRequest(t, handler, http.MethodPost, "/v1/search", map[string]any{"query": "quarterly report"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if search.got.Query != "quarterly report" {
		t.Fatalf("query not forwarded, got %+v", search.got)
	}

	var result domain.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSearchUnconstrainedRejected(t *testing.T) {
	search := &searcherStub{err: domain.WrapError(domain.ErrInvalidInput, "search", domain.ErrInvalidInput)}
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, search, &deleterFake{})
	rec := doRequest(t, handler, http.MethodPost, "/v1/search", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	deleter := &deleterFake{count: 3}
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, deleter)

	rec := doRequest(t, handler, http.MethodPost, "/v1/documents/delete", map[string]any{
		"doc_ids": []string{"doc-1", "doc-2", "doc-3"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(deleter.got.DocIDs) != 3 {
		t.Fatalf("selector not forwarded: %+v", deleter.got)
	}

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["deleted"] != 3 {
		t.Fatalf("expected deleted count 3, got %v", body)
	}
}

func TestRequestIDHeaderPropagates(t *testing.T) {
	handler := newTestHandler(&ingestorFake{}, &statusReaderFake{}, &searcherStub{}, &deleterFake{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}

	rec = doRequest(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id header")
	}
}
