package domain

// IdentityStrategy tags how an external identifier was derived.
type IdentityStrategy string

const (
	// IdentityNativeID means the source supplied a stable identifier.
	IdentityNativeID IdentityStrategy = "native_id"
	// IdentityDerivedSeed means the identifier was hashed from
	// timestamp/subject/sender fallback fields.
	IdentityDerivedSeed IdentityStrategy = "derived_seed"
)

// ResolvedIdentity is the output of identity resolution. EmptySeed marks the
// documented collision risk: all fallback components were absent, so the
// derived identifier is not unique across distinct items.
type ResolvedIdentity struct {
	ExternalID  string
	ContentHash string
	Strategy    IdentityStrategy
	EmptySeed   bool
}

// IngestItem is the inbound payload identity resolution and ingestion work on.
type IngestItem struct {
	IdempotencyKey       string
	SourceType           SourceType
	SourceProvider       string
	SourceID             string
	NativeID             string
	Text                 string
	ContentSHA256        string
	Title                string
	Sender               string
	ContentTimestamp     string
	ContentTimestampType TimestampType
	People               []PersonReference
	Thread               *ThreadHint
	Attachments          []Attachment
	FacetOverrides       map[string]string
}

// IngestReceipt is returned synchronously from an accepted submission.
type IngestReceipt struct {
	SubmissionID     string           `json:"submission_id"`
	DocID            string           `json:"doc_id"`
	ExternalID       string           `json:"external_id"`
	VersionNumber    int              `json:"version_number"`
	Status           SubmissionStatus `json:"status"`
	Duplicate        bool             `json:"duplicate"`
	FileIDs          []string         `json:"file_ids"`
	CollisionWarning bool             `json:"collision_warning,omitempty"`
}
