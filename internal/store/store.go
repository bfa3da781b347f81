// Package store persists extraction cache entries and completed processing
// records. Two backends are provided: SQLite for single-machine use and
// Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/sells-group/docintel/internal/model"
)

// CachedExtraction is one reusable extraction result, keyed by the hash of
// the normalized document text plus the category it was extracted as.
type CachedExtraction struct {
	TextHash  string                       `json:"text_hash"`
	Category  model.Category               `json:"category"`
	Fields    map[string]model.FieldResult `json:"fields"`
	Model     string                       `json:"model"`
	ElapsedMS int64                        `json:"elapsed_ms"`
	CreatedAt time.Time                    `json:"created_at"`
}

// CacheStats summarizes the extraction cache.
type CacheStats struct {
	Entries    int        `json:"entries"`
	OldestItem *time.Time `json:"oldest_item,omitempty"`
	NewestItem *time.Time `json:"newest_item,omitempty"`
}

// RecordFilter specifies criteria for listing processing records.
type RecordFilter struct {
	Category model.Category `json:"category,omitempty"`
	// ReviewOnly restricts results to records flagged for human review.
	ReviewOnly bool `json:"review_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
	Offset     int  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Extraction cache
	GetExtraction(ctx context.Context, textHash string, category model.Category) (*CachedExtraction, error)
	PutExtraction(ctx context.Context, entry CachedExtraction) error
	PurgeExtractions(ctx context.Context, olderThan time.Duration) (int, error)
	ExtractionStats(ctx context.Context) (*CacheStats, error)

	// Processing records
	SaveRecord(ctx context.Context, rec *model.Record) error
	GetRecord(ctx context.Context, documentID string) (*model.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
