package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// Store keeps participant and thread edges in a graph. People are merged by
// (identifier, identifier_type), so the same address seen across documents
// resolves to one node.
type Store struct {
	driver neo4j.DriverWithContext
}

func New(ctx context.Context, uri, username, password string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "verify neo4j connectivity", err)
	}
	return &Store{driver: driver}, nil
}

func (s *Store) AttachPeople(ctx context.Context, docID string, people []domain.PersonReference) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, person := range people {
			_, err := tx.Run(ctx, `
MERGE (p:Person {identifier: $identifier, identifier_type: $identifierType})
ON CREATE SET p.display_name = $displayName
MERGE (d:Document {doc_id: $docID})
MERGE (p)-[r:PARTICIPANT_IN]->(d)
SET r.role = $role
`, map[string]any{
				"identifier":     person.Identifier,
				"identifierType": person.IdentifierType,
				"displayName":    person.DisplayName,
				"docID":          docID,
				"role":           person.Role,
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("attach people: %w", err)
	}
	return nil
}

func (s *Store) AttachThread(ctx context.Context, docID string, hint domain.ThreadHint) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
MERGE (t:Thread {thread_key: $threadKey})
MERGE (d:Document {doc_id: $docID})
MERGE (d)-[r:IN_THREAD]->(t)
SET r.position = $position
`, map[string]any{
			"threadKey": hint.ThreadKey,
			"docID":     docID,
			"position":  hint.Position,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("attach thread: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
