// Package pgstore keeps the authoritative galleryinfo records in Postgres.
// Each record is stored whole as JSONB keyed by id; the engine never queries
// inside the document, so no per-field columns exist.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/sunpetal/galmirror"
)

const schema = `
CREATE TABLE IF NOT EXISTS galleryinfo (
	id   BIGINT PRIMARY KEY,
	data JSONB NOT NULL
)`

// Store implements galmirror.GalleryinfoStore on Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := NewStore(db)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// NewStore wraps an existing connection without touching the schema.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Galleryinfo(ctx context.Context, id galmirror.ID) (*galmirror.Galleryinfo, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM galleryinfo WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("galleryinfo %d: %w", id, galmirror.ErrGalleryinfoNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading galleryinfo %d: %w", id, err)
	}

	var g galmirror.Galleryinfo
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decoding galleryinfo %d: %w", id, err)
	}
	return &g, nil
}

// Create stores g, replacing any record already present under its id.
func (s *Store) Create(ctx context.Context, g *galmirror.Galleryinfo) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding galleryinfo %d: %w", g.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO galleryinfo (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		int64(g.ID), data)
	if err != nil {
		return fmt.Errorf("storing galleryinfo %d: %w", g.ID, err)
	}
	return nil
}

// Delete removes the record for id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id galmirror.ID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM galleryinfo WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("deleting galleryinfo %d: %w", id, err)
	}
	return nil
}

func (s *Store) AllIDs(ctx context.Context) ([]galmirror.ID, error) {
	var ids []galmirror.ID
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM galleryinfo ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing galleryinfo ids: %w", err)
	}
	return ids, nil
}
