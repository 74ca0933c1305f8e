package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
	log "github.com/sirupsen/logrus"
)

// FileStore keeps the collection as an indented JSON array in a single file.
// Writes go to a temp file in the same directory and are renamed into place,
// so readers never observe a partially written array.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// EnsureDir creates the data file's directory if it does not exist yet.
func (s *FileStore) EnsureDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (models.Collection, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Collection{}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return models.Collection{}, nil
	}

	var cards models.Collection
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	return cards.Normalize(), nil
}

func (s *FileStore) Save(ctx context.Context, cards models.Collection) error {
	data, err := json.MarshalIndent(cards.Normalize(), "", "  ")
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := s.EnsureDir(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtomic(data); err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}

	log.Debugf("saved %d cards to %s", len(cards), s.path)
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
