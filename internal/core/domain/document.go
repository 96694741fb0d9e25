package domain

import "time"

// SourceType classifies where content came from. It prefixes every
// external identifier so ids from different connectors never collide.
type SourceType string

const (
	SourceEmail    SourceType = "email"
	SourceMessage  SourceType = "message"
	SourceDocument SourceType = "document"
	SourceEntity   SourceType = "entity"
)

type TimestampType string

const (
	TimestampSent     TimestampType = "sent"
	TimestampReceived TimestampType = "received"
	TimestampModified TimestampType = "modified"
	TimestampObserved TimestampType = "observed"
)

// Document is one version of a logical content entity. All versions of the
// same entity share DocID; exactly one version per DocID is active.
type Document struct {
	DocID                string         `json:"doc_id"`
	ExternalID           string         `json:"external_id"`
	VersionNumber        int            `json:"version_number"`
	ContentHash          string         `json:"content_hash"`
	IsActiveVersion      bool           `json:"is_active_version"`
	SourceType           SourceType     `json:"source_type"`
	SourceProvider       string         `json:"source_provider,omitempty"`
	SourceID             string         `json:"source_id,omitempty"`
	Title                string         `json:"title,omitempty"`
	ContentTimestamp     time.Time      `json:"content_timestamp"`
	ContentTimestampType TimestampType  `json:"content_timestamp_type"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

type SubmissionStatus string

const (
	SubmissionAccepted   SubmissionStatus = "accepted"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionCompleted  SubmissionStatus = "completed"
	SubmissionFailed     SubmissionStatus = "failed"
)

// SubmissionError records the first unrecoverable downstream failure.
type SubmissionError struct {
	ChunkIndex int    `json:"chunk_index"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

// Submission is one ingestion attempt. Counters obey
// embedded+pending == total once TotalChunks is set.
type Submission struct {
	SubmissionID   string           `json:"submission_id"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Source         string           `json:"source"`
	DocID          string           `json:"doc_id"`
	ExternalID     string           `json:"external_id"`
	VersionNumber  int              `json:"version_number"`
	Status         SubmissionStatus `json:"status"`
	Duplicate      bool             `json:"duplicate"`
	TotalChunks    int              `json:"total_chunks"`
	EmbeddedChunks int              `json:"embedded_chunks"`
	PendingChunks  int              `json:"pending_chunks"`
	Error          *SubmissionError `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// PersonReference identifies a participant by (identifier, identifier_type),
// never by content hash.
type PersonReference struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
	DisplayName    string `json:"display_name,omitempty"`
	Role           string `json:"role,omitempty"`
}

// ThreadHint groups a document into a conversation.
type ThreadHint struct {
	ThreadKey string `json:"thread_key"`
	Position  int    `json:"position,omitempty"`
}

// Attachment is a content-addressed file carried with a submission.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Data     []byte `json:"-"`
}

// DocumentStatus aggregates submission counters at the document level.
type DocumentStatus struct {
	DocID          string `json:"doc_id"`
	TotalChunks    int    `json:"total_chunks"`
	EmbeddedChunks int    `json:"embedded_chunks"`
	PendingChunks  int    `json:"pending_chunks"`
	Submissions    int    `json:"submissions"`
}
