package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docintel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_cache (
	text_hash  TEXT NOT NULL,
	category   TEXT NOT NULL,
	fields     TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (text_hash, category)
);

CREATE TABLE IF NOT EXISTS records (
	document_id TEXT PRIMARY KEY,
	category    TEXT NOT NULL DEFAULT '',
	passed      INTEGER NOT NULL DEFAULT 0,
	review      INTEGER NOT NULL DEFAULT 0,
	record      TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_extraction_cache_created_at ON extraction_cache(created_at);
CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
CREATE INDEX IF NOT EXISTS idx_records_review ON records(review);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, textHash string, category model.Category) (*CachedExtraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT text_hash, category, fields, model, elapsed_ms, created_at
		 FROM extraction_cache WHERE text_hash = ? AND category = ?`,
		textHash, string(category),
	)

	var entry CachedExtraction
	var cat, fieldsJSON string
	err := row.Scan(&entry.TextHash, &cat, &fieldsJSON, &entry.Model, &entry.ElapsedMS, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get extraction")
	}
	entry.Category = model.Category(cat)
	if err := json.Unmarshal([]byte(fieldsJSON), &entry.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached fields")
	}
	return &entry, nil
}

func (s *SQLiteStore) PutExtraction(ctx context.Context, entry CachedExtraction) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (text_hash, category, fields, model, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (text_hash, category) DO UPDATE SET
		   fields = excluded.fields, model = excluded.model,
		   elapsed_ms = excluded.elapsed_ms, created_at = excluded.created_at`,
		entry.TextHash, string(entry.Category), string(fieldsJSON), entry.Model, entry.ElapsedMS, createdAt,
	)
	return eris.Wrap(err, "sqlite: put extraction")
}

func (s *SQLiteStore) PurgeExtractions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_cache WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge extractions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) ExtractionStats(ctx context.Context) (*CacheStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM extraction_cache`,
	)
	var stats CacheStats
	var oldest, newest sql.NullTime
	if err := row.Scan(&stats.Entries, &oldest, &newest); err != nil {
		return nil, eris.Wrap(err, "sqlite: extraction stats")
	}
	if oldest.Valid {
		stats.OldestItem = &oldest.Time
	}
	if newest.Valid {
		stats.NewestItem = &newest.Time
	}
	return &stats, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *model.Record) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	review := 0
	if rec.QA != nil && rec.QA.RequiresHumanReview {
		review = 1
	}
	passed := 0
	if rec.QA != nil && rec.QA.Passed {
		passed = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (document_id, category, passed, review, record, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (document_id) DO UPDATE SET
		   category = excluded.category, passed = excluded.passed,
		   review = excluded.review, record = excluded.record`,
		rec.DocumentID, string(rec.Category), passed, review, string(recJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save record %s", rec.DocumentID)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, documentID string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM records WHERE document_id = ?`, documentID,
	)
	var recJSON string
	err := row.Scan(&recJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", documentID)
	}

	var rec model.Record
	if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT record FROM records WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.ReviewOnly {
		query += ` AND review = 1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}
