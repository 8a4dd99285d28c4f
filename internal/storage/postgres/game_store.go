// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avncodex/indexer/internal/indexer"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// GameStoreConfig controls the Postgres connection pool.
type GameStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// GameStore implements indexer.RecordStore on Postgres.
type GameStore struct {
	pool pgxPool
}

// NewGameStore connects a pool using the provided config.
func NewGameStore(ctx context.Context, cfg GameStoreConfig) (*GameStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &GameStore{pool: pool}, nil
}

// NewGameStoreWithPool constructs a store from an existing pool (primarily
// for testing with pgxmock).
func NewGameStoreWithPool(pool pgxPool) (*GameStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &GameStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *GameStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const bootstrapSQL = `
CREATE TABLE IF NOT EXISTS games (
	id                BIGINT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	creator           TEXT NOT NULL DEFAULT '',
	version           TEXT NOT NULL DEFAULT '',
	cover_url         TEXT NOT NULL DEFAULT '',
	status_label      TEXT NOT NULL DEFAULT '',
	status_code       INTEGER,
	engine_code       INTEGER,
	tags              JSONB,
	rating            DOUBLE PRECISION,
	likes             INTEGER,
	details           JSONB,
	tracked           BOOLEAN NOT NULL DEFAULT FALSE,
	remote_updated_at TIMESTAMPTZ,
	last_enriched_at  TIMESTAMPTZ,
	last_touched_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS games_name_idx ON games (lower(name));
CREATE INDEX IF NOT EXISTS games_pending_idx ON games (id) WHERE last_enriched_at IS NULL;
`

// Bootstrap creates the schema if it does not exist yet.
func (s *GameStore) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, bootstrapSQL); err != nil {
		return fmt.Errorf("bootstrap games schema: %w", err)
	}
	return nil
}

const upsertBasicSQL = `
INSERT INTO games (id, name, creator, version, cover_url, remote_updated_at, last_touched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE games.name END,
	creator = CASE WHEN EXCLUDED.creator <> '' THEN EXCLUDED.creator ELSE games.creator END,
	version = CASE WHEN EXCLUDED.version <> '' THEN EXCLUDED.version ELSE games.version END,
	cover_url = CASE WHEN EXCLUDED.cover_url <> '' THEN EXCLUDED.cover_url ELSE games.cover_url END,
	remote_updated_at = CASE
		WHEN EXCLUDED.remote_updated_at IS NOT NULL
			AND (games.remote_updated_at IS NULL OR EXCLUDED.remote_updated_at > games.remote_updated_at)
		THEN EXCLUDED.remote_updated_at
		ELSE games.remote_updated_at
	END,
	last_touched_at = EXCLUDED.last_touched_at;
`

// UpsertBasic writes listing-level fields only. Rich columns (status, tags,
// details) stay untouched so a listing refresh cannot clobber enrichment
// data.
func (s *GameStore) UpsertBasic(ctx context.Context, item indexer.ListingItem, now time.Time) error {
	cover := ""
	for _, c := range item.CoverCandidates {
		if c != "" {
			cover = c
			break
		}
	}
	if _, err := s.pool.Exec(ctx, upsertBasicSQL,
		item.ID, item.Title, item.Creator, item.Version, cover, item.UpdatedAt, now,
	); err != nil {
		return fmt.Errorf("upsert basic fields: %w", err)
	}
	return nil
}

const saveSQL = `
INSERT INTO games (
	id, name, creator, version, cover_url,
	status_label, status_code, engine_code, tags, rating, likes, details,
	tracked, remote_updated_at, last_enriched_at, last_touched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,'')::jsonb,$10,$11,NULLIF($12,'')::jsonb,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	creator = EXCLUDED.creator,
	version = EXCLUDED.version,
	cover_url = EXCLUDED.cover_url,
	status_label = EXCLUDED.status_label,
	status_code = EXCLUDED.status_code,
	engine_code = EXCLUDED.engine_code,
	tags = EXCLUDED.tags,
	rating = EXCLUDED.rating,
	likes = EXCLUDED.likes,
	details = EXCLUDED.details,
	tracked = EXCLUDED.tracked,
	remote_updated_at = EXCLUDED.remote_updated_at,
	last_enriched_at = EXCLUDED.last_enriched_at,
	last_touched_at = EXCLUDED.last_touched_at;
`

// Save replaces the whole record.
func (s *GameStore) Save(ctx context.Context, rec indexer.GameRecord) error {
	if _, err := s.pool.Exec(ctx, saveSQL,
		rec.ID, rec.Name, rec.Creator, rec.Version, rec.CoverURL,
		rec.StatusLabel, rec.StatusCode, rec.EngineCode, rec.TagsJSON,
		rec.Rating, rec.Likes, rec.DetailsJSON,
		rec.Tracked, rec.RemoteUpdatedAt, rec.LastEnrichedAt, rec.LastTouchedAt,
	); err != nil {
		return fmt.Errorf("save record %d: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `
	id, name, creator, version, cover_url,
	status_label, status_code, engine_code,
	COALESCE(tags::text, ''), rating, likes, COALESCE(details::text, ''),
	tracked, remote_updated_at, last_enriched_at, last_touched_at
`

// Get loads a single record or returns indexer.ErrNotFound.
func (s *GameStore) Get(ctx context.Context, id int64) (indexer.GameRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM games WHERE id = $1;`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return indexer.GameRecord{}, indexer.ErrNotFound
		}
		return indexer.GameRecord{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// ListUnenriched returns up to limit records awaiting enrichment.
func (s *GameStore) ListUnenriched(ctx context.Context, limit int) ([]indexer.GameRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM games WHERE last_enriched_at IS NULL LIMIT $1;`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountUnenriched returns the pending enrichment candidate count.
func (s *GameStore) CountUnenriched(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM games WHERE last_enriched_at IS NULL;`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unenriched: %w", err)
	}
	return count, nil
}

// Search runs a filtered, paginated scan ordered by name.
func (s *GameStore) Search(ctx context.Context, q indexer.SearchQuery) ([]indexer.GameRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM games
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		AND ($2::boolean IS NULL OR tracked = $2)
		AND ($3::integer IS NULL OR status_code = $3)
		AND ($4::integer IS NULL OR engine_code = $4)
		ORDER BY lower(name), id
		LIMIT $5 OFFSET $6;`
	rows, err := s.pool.Query(ctx, query, q.Text, q.Tracked, q.StatusCode, q.EngineCode, q.PageSize, q.Offset())
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SetTracked flips the tracked flag; a missing row is indexer.ErrNotFound.
func (s *GameStore) SetTracked(ctx context.Context, id int64, tracked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET tracked = $1, last_touched_at = NOW() WHERE id = $2;`,
		tracked, id,
	)
	if err != nil {
		return fmt.Errorf("set tracked %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrNotFound
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]indexer.GameRecord, error) {
	var out []indexer.GameRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (indexer.GameRecord, error) {
	var rec indexer.GameRecord
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Creator, &rec.Version, &rec.CoverURL,
		&rec.StatusLabel, &rec.StatusCode, &rec.EngineCode,
		&rec.TagsJSON, &rec.Rating, &rec.Likes, &rec.DetailsJSON,
		&rec.Tracked, &rec.RemoteUpdatedAt, &rec.LastEnrichedAt, &rec.LastTouchedAt,
	)
	if err != nil {
		return indexer.GameRecord{}, err
	}
	return rec, nil
}
