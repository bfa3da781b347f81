package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_cache (
	text_hash  TEXT NOT NULL,
	category   TEXT NOT NULL,
	fields     JSONB NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (text_hash, category)
);

CREATE TABLE IF NOT EXISTS records (
	document_id TEXT PRIMARY KEY,
	category    TEXT NOT NULL DEFAULT '',
	passed      BOOLEAN NOT NULL DEFAULT false,
	review      BOOLEAN NOT NULL DEFAULT false,
	record      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_extraction_cache_created_at ON extraction_cache(created_at);
CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
CREATE INDEX IF NOT EXISTS idx_records_review ON records(review);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetExtraction(ctx context.Context, textHash string, category model.Category) (*CachedExtraction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT text_hash, category, fields, model, elapsed_ms, created_at
		 FROM extraction_cache WHERE text_hash = $1 AND category = $2`,
		textHash, string(category),
	)

	var entry CachedExtraction
	var cat string
	var fieldsJSON []byte
	err := row.Scan(&entry.TextHash, &cat, &fieldsJSON, &entry.Model, &entry.ElapsedMS, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get extraction")
	}
	entry.Category = model.Category(cat)
	if err := json.Unmarshal(fieldsJSON, &entry.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached fields")
	}
	return &entry, nil
}

func (s *PostgresStore) PutExtraction(ctx context.Context, entry CachedExtraction) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_cache (text_hash, category, fields, model, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (text_hash, category) DO UPDATE SET
		   fields = EXCLUDED.fields, model = EXCLUDED.model,
		   elapsed_ms = EXCLUDED.elapsed_ms, created_at = EXCLUDED.created_at`,
		entry.TextHash, string(entry.Category), fieldsJSON, entry.Model, entry.ElapsedMS, createdAt,
	)
	return eris.Wrap(err, "postgres: put extraction")
}

func (s *PostgresStore) PurgeExtractions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM extraction_cache WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge extractions")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ExtractionStats(ctx context.Context) (*CacheStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM extraction_cache`,
	)
	var stats CacheStats
	var oldest, newest *time.Time
	if err := row.Scan(&stats.Entries, &oldest, &newest); err != nil {
		return nil, eris.Wrap(err, "postgres: extraction stats")
	}
	stats.OldestItem = oldest
	stats.NewestItem = newest
	return &stats, nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.Record) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	review := rec.QA != nil && rec.QA.RequiresHumanReview
	passed := rec.QA != nil && rec.QA.Passed

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (document_id, category, passed, review, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (document_id) DO UPDATE SET
		   category = EXCLUDED.category, passed = EXCLUDED.passed,
		   review = EXCLUDED.review, record = EXCLUDED.record`,
		rec.DocumentID, string(rec.Category), passed, review, recJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save record %s", rec.DocumentID)
}

func (s *PostgresStore) GetRecord(ctx context.Context, documentID string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM records WHERE document_id = $1`, documentID,
	)
	var recJSON []byte
	err := row.Scan(&recJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", documentID)
	}

	var rec model.Record
	if err := json.Unmarshal(recJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record")
	}
	return &rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT record FROM records WHERE 1=1`
	var args []any

	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += ` AND category = $1`
	}
	if filter.ReviewOnly {
		query += ` AND review = true`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.Record
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}
