package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore keeps objects under a root directory on local disk.
type FSStore struct {
	root   string
	logger *slog.Logger
}

func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) Put(ctx context.Context, p string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	// write then rename so readers never see a partial file
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("commit blob: %w", err)
	}
	s.logger.Debug("blob.fs.put", "path", key, "bytes", len(data))
	return nil
}

func (s *FSStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return b, nil
}
