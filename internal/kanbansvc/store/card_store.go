package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const cardsTable = "kanban_collections"

// PgCardStore keeps each named collection as one JSONB row, so several
// service instances can share a board.
type PgCardStore struct {
	db   *pgxpool.Pool
	name string
}

func NewPgCardStore(db *pgxpool.Pool, name string) *PgCardStore {
	return &PgCardStore{db: db, name: name}
}

// EnsureSchema creates the collections table when missing.
func (s *PgCardStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS kanban_collections (
			name       TEXT PRIMARY KEY,
			cards      JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return &StorageError{Op: "migrate", Path: cardsTable, Err: err}
	}
	return nil
}

func (s *PgCardStore) Load(ctx context.Context) (models.Collection, error) {
	query := `
		SELECT cards::text
		FROM kanban_collections
		WHERE name = $1
	`

	var raw string
	err := s.db.QueryRow(ctx, query, s.name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Collection{}, nil
		}
		return nil, &StorageError{Op: "load", Path: s.location(), Err: err}
	}

	var cards models.Collection
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, &StorageError{Op: "load", Path: s.location(), Err: err}
	}

	return cards.Normalize(), nil
}

func (s *PgCardStore) Save(ctx context.Context, cards models.Collection) error {
	data, err := json.Marshal(cards.Normalize())
	if err != nil {
		return &StorageError{Op: "save", Path: s.location(), Err: err}
	}

	query := `
		INSERT INTO kanban_collections (name, cards, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE
		SET cards = EXCLUDED.cards, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, s.name, string(data)); err != nil {
		return &StorageError{Op: "save", Path: s.location(), Err: err}
	}

	return nil
}

func (s *PgCardStore) location() string {
	return fmt.Sprintf("%s/%s", cardsTable, s.name)
}
