package store

import (
	"context"
	"fmt"

	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
)

// CardStore persists the whole card collection as one document.
// Load on a store that has never been saved returns an empty collection.
type CardStore interface {
	Load(ctx context.Context) (models.Collection, error)
	Save(ctx context.Context, cards models.Collection) error
}

// StorageError reports a failed read or write against the backing storage.
type StorageError struct {
	Op   string // "load" or "save"
	Path string // file path, table or collection name
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
