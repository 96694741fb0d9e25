package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// Storage is a content-addressed file store: keys are sha256 hex digests,
// sharded by the first two hex chars to keep directories small. Writing the
// same key twice is a no-op, which is what makes attachment ingestion
// naturally idempotent.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/files"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) Put(_ context.Context, sha256Hex string, data []byte) (string, error) {
	key := strings.ToLower(sha256Hex)
	if len(key) < 3 {
		return "", fmt.Errorf("invalid content key %q", sha256Hex)
	}

	path := s.pathFor(key)
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	// Write-then-rename so readers never observe a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish file: %w", err)
	}
	return key, nil
}

func (s *Storage) Get(_ context.Context, fileID string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(strings.ToLower(fileID)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "read file", err)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *Storage) pathFor(key string) string {
	return filepath.Join(s.basePath, key[:2], key)
}
