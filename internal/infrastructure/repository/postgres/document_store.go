package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// DocumentStore owns the version chain. A partial unique index on
// (external_id) WHERE is_active_version makes "two actives" unrepresentable,
// and every write takes an advisory transaction lock on the external id so
// concurrent submissions serialize across processes.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "db ping", err)
	}
	return db, nil
}

func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT NOT NULL,
	version_number INT NOT NULL CHECK (version_number >= 1),
	external_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	is_active_version BOOLEAN NOT NULL DEFAULT false,
	source_type TEXT NOT NULL,
	source_provider TEXT NOT NULL DEFAULT '',
	source_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content_timestamp TIMESTAMPTZ NOT NULL,
	content_timestamp_type TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (doc_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_documents_active_external
	ON documents(external_id) WHERE is_active_version;
CREATE INDEX IF NOT EXISTS idx_documents_external_id ON documents(external_id);
CREATE INDEX IF NOT EXISTS idx_documents_source_id ON documents(source_id);

CREATE TABLE IF NOT EXISTS submissions (
	submission_id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	external_id TEXT NOT NULL,
	version_number INT NOT NULL,
	status TEXT NOT NULL,
	duplicate BOOLEAN NOT NULL DEFAULT false,
	total_chunks INT NOT NULL DEFAULT 0,
	embedded_chunks INT NOT NULL DEFAULT 0,
	pending_chunks INT NOT NULL DEFAULT 0,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_submissions_idempotency
	ON submissions(source, idempotency_key) WHERE idempotency_key <> '';
CREATE INDEX IF NOT EXISTS idx_submissions_doc_id ON submissions(doc_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `doc_id, version_number, external_id, content_hash, is_active_version,
source_type, source_provider, source_id, title, content_timestamp, content_timestamp_type, metadata, created_at`

func (s *DocumentStore) ActiveByExternalID(ctx context.Context, externalID string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE external_id = $1 AND is_active_version
`, externalID)
	return scanDocument(row)
}

func (s *DocumentStore) GetByDocID(ctx context.Context, docID string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE doc_id = $1
ORDER BY is_active_version DESC, version_number DESC
LIMIT 1
`, docID)
	return scanDocument(row)
}

func (s *DocumentStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockExternalID(ctx, tx, doc.ExternalID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (
	doc_id, version_number, external_id, content_hash, is_active_version,
	source_type, source_provider, source_id, title, content_timestamp, content_timestamp_type, metadata, created_at
) VALUES ($1,1,$2,$3,true,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		doc.DocID, doc.ExternalID, doc.ContentHash,
		string(doc.SourceType), doc.SourceProvider, doc.SourceID, doc.Title,
		doc.ContentTimestamp, string(doc.ContentTimestampType), metadataJSON, doc.CreatedAt,
	)
	if err != nil {
		return mapWriteError("insert document", err)
	}

	if err := tx.Commit(); err != nil {
		return mapWriteError("commit document", err)
	}
	doc.VersionNumber = 1
	doc.IsActiveVersion = true
	return nil
}

// CreateNextVersion inserts version N+1 active and flips N inactive in one
// transaction. Any failure rolls the whole flip back, so the chain never has
// zero actives or two.
func (s *DocumentStore) CreateNextVersion(ctx context.Context, doc *domain.Document) (int, error) {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapError(domain.ErrUnavailable, "begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockExternalID(ctx, tx, doc.ExternalID); err != nil {
		return 0, err
	}

	var maxVersion int
	err = tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(version_number), 0) FROM documents WHERE doc_id = $1
`, doc.DocID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("read max version: %w", err)
	}
	if maxVersion == 0 {
		return 0, domain.WrapError(domain.ErrNotFound, "read version chain", fmt.Errorf("doc %s has no versions", doc.DocID))
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET is_active_version = false WHERE doc_id = $1 AND is_active_version
`, doc.DocID); err != nil {
		return 0, mapWriteError("clear active version", err)
	}

	next := maxVersion + 1
	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (
	doc_id, version_number, external_id, content_hash, is_active_version,
	source_type, source_provider, source_id, title, content_timestamp, content_timestamp_type, metadata, created_at
) VALUES ($1,$2,$3,$4,true,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		doc.DocID, next, doc.ExternalID, doc.ContentHash,
		string(doc.SourceType), doc.SourceProvider, doc.SourceID, doc.Title,
		doc.ContentTimestamp, string(doc.ContentTimestampType), metadataJSON, doc.CreatedAt,
	)
	if err != nil {
		return 0, mapWriteError("insert next version", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, mapWriteError("commit next version", err)
	}
	return next, nil
}

func (s *DocumentStore) DeactivateByDocIDs(ctx context.Context, docIDs []string) (int, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(docIDs, 1)
	// One active row per chain, so affected rows == logical documents.
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET is_active_version = false
WHERE doc_id IN (`+placeholders+`) AND is_active_version
`, args...)
	if err != nil {
		return 0, mapWriteError("deactivate documents", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read affected rows: %w", err)
	}
	return int(affected), nil
}

func (s *DocumentStore) DocIDsBySourceIDs(ctx context.Context, sourceIDs []string) ([]string, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(sourceIDs, 1)
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT doc_id FROM documents WHERE source_id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("query doc ids by source: %w", err)
	}
	defer rows.Close()

	var docIDs []string
	for rows.Next() {
		var docID string
		if err := rows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("scan doc id: %w", err)
		}
		docIDs = append(docIDs, docID)
	}
	return docIDs, rows.Err()
}

// lockExternalID serializes the lookup-then-decide window across processes.
func lockExternalID(ctx context.Context, tx *sql.Tx, externalID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, externalID); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "acquire external id lock", err)
	}
	return nil
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var doc domain.Document
	var metadataRaw []byte
	var sourceType, tsType string

	err := row.Scan(
		&doc.DocID, &doc.VersionNumber, &doc.ExternalID, &doc.ContentHash, &doc.IsActiveVersion,
		&sourceType, &doc.SourceProvider, &doc.SourceID, &doc.Title,
		&doc.ContentTimestamp, &tsType, &metadataRaw, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "lookup document", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	doc.SourceType = domain.SourceType(sourceType)
	doc.ContentTimestampType = domain.TimestampType(tsType)
	return &doc, nil
}

// mapWriteError translates unique violations and serialization failures into
// the conflict kind the ingest gate retries on.
func mapWriteError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "55P03":
			return domain.WrapError(domain.ErrConflict, operation, err)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func inClause(values []string, start int) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}
