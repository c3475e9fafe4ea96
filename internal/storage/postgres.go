package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/gallery/internal/config"
	"github.com/your-org/gallery/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Venues ---

func (s *PostgresStore) ListVenues(ctx context.Context) ([]models.Venue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM venues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	defer rows.Close()

	var venues []models.Venue
	for rows.Next() {
		var v models.Venue
		if err := rows.Scan(&v.ID, &v.Name, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

// --- Pre-index mapping ---

// LoadMappingEntries returns every (photo, face) pair of the current mapping.
func (s *PostgresStore) LoadMappingEntries(ctx context.Context) ([]models.MappingEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT photo_key, face_id FROM preindex_entries ORDER BY photo_key, face_id`)
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	defer rows.Close()

	var entries []models.MappingEntry
	for rows.Next() {
		var e models.MappingEntry
		if err := rows.Scan(&e.PhotoKey, &e.FaceID); err != nil {
			return nil, fmt.Errorf("scan mapping entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceMappingEntries swaps the mapping rows of the given venues for entries
// in one transaction. An empty venues slice replaces the whole table.
func (s *PostgresStore) ReplaceMappingEntries(ctx context.Context, venues []string, entries []models.MappingEntry, venueOf func(string) string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(venues) == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM preindex_entries`)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM preindex_entries WHERE venue_id = ANY($1)`, venues)
	}
	if err != nil {
		return fmt.Errorf("clear mapping: %w", err)
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{venueOf(e.PhotoKey), e.PhotoKey, e.FaceID})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"preindex_entries"},
		[]string{"venue_id", "photo_key", "face_id"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy mapping: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mapping: %w", err)
	}
	return nil
}
