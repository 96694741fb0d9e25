package httpadapter

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
	"github.com/ChrisPatten/haven-sub001/internal/observability/metrics"
)

type Options struct {
	Service          string
	RateLimitRPS     int
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	Metrics          *metrics.HTTPServerMetrics
	Logger           *slog.Logger
}

type Router struct {
	ingest  ports.Ingestor
	status  ports.StatusReader
	search  ports.Searcher
	deleter ports.Deleter

	opts Options
}

func NewRouter(
	ingest ports.Ingestor,
	status ports.StatusReader,
	search ports.Searcher,
	deleter ports.Deleter,
	opts Options,
) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 256
	}
	if opts.BackpressureWait <= 0 {
		opts.BackpressureWait = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		ingest:  ingest,
		status:  status,
		search:  search,
		deleter: deleter,
		opts:    opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/ingest", rt.ingestItem)
	mux.HandleFunc("/v1/submissions/", rt.getSubmission)
	mux.HandleFunc("/v1/documents/delete", rt.deleteDocuments)
	mux.HandleFunc("/v1/documents/", rt.getDocumentStatus)
	mux.HandleFunc("/v1/search", rt.searchDocuments)
	mux.HandleFunc("/v1/openapi.json", rt.openapiJSON)
	if rt.opts.Metrics != nil {
		mux.Handle("/metrics", rt.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type ingestRequest struct {
	IdempotencyKey       string                   `json:"idempotency_key,omitempty"`
	SourceType           string                   `json:"source_type"`
	SourceProvider       string                   `json:"source_provider,omitempty"`
	SourceID             string                   `json:"source_id,omitempty"`
	NativeID             string                   `json:"native_id,omitempty"`
	Text                 string                   `json:"text,omitempty"`
	ContentSHA256        string                   `json:"content_sha256,omitempty"`
	Title                string                   `json:"title,omitempty"`
	Sender               string                   `json:"sender,omitempty"`
	ContentTimestamp     string                   `json:"content_timestamp,omitempty"`
	ContentTimestampType string                   `json:"content_timestamp_type,omitempty"`
	People               []domain.PersonReference `json:"people,omitempty"`
	Thread               *domain.ThreadHint       `json:"thread,omitempty"`
	Attachments          []ingestAttachment       `json:"attachments,omitempty"`
	Facets               map[string]string        `json:"facets,omitempty"`
}

func (rt *Router) ingestItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	item, err := req.toDomain()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	receipt, err := rt.ingest.Ingest(r.Context(), item)
	if err != nil {
		rt.writeError(w, r, "ingest", err)
		return
	}

	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordIngestDecision(rt.opts.Service, string(item.SourceType), ingestDecision(receipt))
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (req ingestRequest) toDomain() (domain.IngestItem, error) {
	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			return domain.IngestItem{}, domain.WrapError(domain.ErrInvalidInput, "decode attachment", err)
		}
		attachments = append(attachments, domain.Attachment{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Data:     data,
		})
	}

	return domain.IngestItem{
		IdempotencyKey:       req.IdempotencyKey,
		SourceType:           domain.SourceType(req.SourceType),
		SourceProvider:       req.SourceProvider,
		SourceID:             req.SourceID,
		NativeID:             req.NativeID,
		Text:                 req.Text,
		ContentSHA256:        req.ContentSHA256,
		Title:                req.Title,
		Sender:               req.Sender,
		ContentTimestamp:     req.ContentTimestamp,
		ContentTimestampType: domain.TimestampType(req.ContentTimestampType),
		People:               req.People,
		Thread:               req.Thread,
		Attachments:          attachments,
		FacetOverrides:       req.Facets,
	}, nil
}

func ingestDecision(receipt *domain.IngestReceipt) string {
	switch {
	case receipt.Duplicate:
		return "duplicate"
	case receipt.VersionNumber > 1:
		return "new_version"
	default:
		return "new_document"
	}
}

func (rt *Router) getSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/submissions/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "submission id is required"})
		return
	}

	sub, err := rt.status.SubmissionStatus(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, "submission_status", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (rt *Router) getDocumentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	id, ok := strings.CutSuffix(rest, "/status")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	status, err := rt.status.DocumentStatus(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, "document_status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) searchDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	result, err := rt.search.Execute(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, "search", err)
		return
	}

	if rt.opts.Metrics != nil {
		degraded := req.Rerank != nil && !result.Reranked
		rt.opts.Metrics.RecordSearch(rt.opts.Service, searchMode(req), result.TotalEstimated, time.Since(start), degraded)
	}
	writeJSON(w, http.StatusOK, result)
}

func searchMode(req domain.SearchRequest) string {
	hasQuery := strings.TrimSpace(req.Query) != ""
	hasVector := req.Vector != nil
	hasKeyword := req.Keyword != nil
	switch {
	case hasQuery, hasVector && hasKeyword:
		return "hybrid"
	case hasVector:
		return "vector"
	case hasKeyword:
		return "keyword"
	default:
		return "filter"
	}
}

func (rt *Router) deleteDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var sel domain.DeleteSelector
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	count, err := rt.deleter.Delete(r.Context(), sel)
	if err != nil {
		rt.writeError(w, r, "delete", err)
		return
	}

	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordDeletedDocuments(rt.opts.Service, count)
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		rt.opts.Logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"op", op,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
