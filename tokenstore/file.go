package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DefaultFilePath is used when no token file is configured.
func DefaultFilePath() string {
	return filepath.Join(os.TempDir(), "meet", "token.json")
}

// FileStore keeps the record as one JSON object in a file. Writes go to a
// temporary file in the same directory which is then renamed over the
// target, so readers see either the previous or the new record.
type FileStore struct {
	path string
	log  *zap.Logger
}

// NewFileStore returns a store backed by path. An empty path selects
// DefaultFilePath.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	if path == "" {
		path = DefaultFilePath()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, log: log}
}

func (s *FileStore) Location() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*Record, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("token file unreadable, treating as absent",
				zap.String("path", s.path), zap.Error(err))
		}
		return nil, false
	}

	rec := decodeRecord(data)
	if rec == nil {
		s.log.Warn("token file corrupt, treating as absent", zap.String("path", s.path))
		return nil, false
	}
	return rec, true
}

func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer s.release(lock)

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Directory was never created, so nothing is stored.
			return nil
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer s.release(lock)

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (s *FileStore) release(lock *fileLock) {
	if err := lock.release(); err != nil {
		s.log.Warn("failed to release token file lock", zap.String("path", s.path), zap.Error(err))
	}
}
