package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, record Record) error
	Update(ctx context.Context, fn func(Record) (Record, error)) (Record, error)
	Delete(ctx context.Context) error
}

// FileStore keeps the record as a single JSON document. Every write replaces
// the file through a rename so readers never observe a partial document.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

func (s *FileStore) Save(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(record)
}

func (s *FileStore) Update(ctx context.Context, fn func(Record) (Record, error)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return Record{}, err
	}

	next, err := fn(current)
	if err != nil {
		return current, err
	}

	if err := s.write(next); err != nil {
		return current, err
	}

	return next.normalized(), nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove token file: %w", ErrPersistence, err)
	}

	return nil
}

func (s *FileStore) read() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: read token file: %w", ErrPersistence, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("%w: decode token file: %w", ErrPersistence, err)
	}

	return record, nil
}

func (s *FileStore) write(record Record) error {
	data, err := json.MarshalIndent(record.normalized(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode token record: %w", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: create token dir: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp token file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp token file: %w", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp token file: %w", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp token file: %w", ErrPersistence, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("%w: chmod temp token file: %w", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replace token file: %w", ErrPersistence, err)
	}

	return nil
}
