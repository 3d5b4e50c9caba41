package storage

import (
	"context"
	"time"

	"newhome-tracker/models"
)

// ListingTx is the set of operations the ledger writer performs inside one
// transaction. Nothing written through it is visible to other readers until
// the transaction commits.
type ListingTx interface {
	GetListing(ctx context.Context, id string) (*models.CanonicalListing, error)
	FindByKeys(ctx context.Context, builderID, communityID string, keys []string) ([]*models.CanonicalListing, error)
	InsertListing(ctx context.Context, l *models.CanonicalListing) error
	UpdateListing(ctx context.Context, l *models.CanonicalListing) error
	OpenIntervals(ctx context.Context, listingID string) ([]*models.PriceHistoryInterval, error)
	CloseInterval(ctx context.Context, id string, endAt time.Time, daysActive int) error
	InsertInterval(ctx context.Context, iv *models.PriceHistoryInterval) error
	InsertPriceChange(ctx context.Context, ev *models.PriceChangeEvent) error
}

// ListingReader exposes the four persisted collections to readers.
type ListingReader interface {
	GetListing(ctx context.Context, id string) (*models.CanonicalListing, error)
	FindByKeys(ctx context.Context, builderID, communityID string, keys []string) ([]*models.CanonicalListing, error)
	ListListings(ctx context.Context, filter models.ListingFilter) ([]*models.CanonicalListing, error)
	ListPriceChanges(ctx context.Context, listingID string) ([]*models.PriceChangeEvent, error)
	ListIntervals(ctx context.Context, listingID string) ([]*models.PriceHistoryInterval, error)
	GetEvaluation(ctx context.Context, listingID string) (*models.MarketEvaluation, error)
}

// EvaluationWriter persists market evaluations.
type EvaluationWriter interface {
	UpsertEvaluation(ctx context.Context, ev *models.MarketEvaluation) error
}

// Sweeper is what the garbage collector needs from the store.
type Sweeper interface {
	RemovalCandidates(ctx context.Context, minMissed int, absentBefore time.Time) ([]*models.CanonicalListing, error)
	DeleteAbsentListing(ctx context.Context, id string, minMissed int, absentBefore time.Time) (bool, error)
	DeleteOrphans(ctx context.Context) (OrphanCounts, error)
}

// OrphanCounts reports rows removed because their listing no longer exists.
type OrphanCounts struct {
	Events      int
	Intervals   int
	Evaluations int
}

// Store is the full persistence surface of the engine.
type Store interface {
	ListingReader
	EvaluationWriter
	Sweeper
	WithTx(ctx context.Context, fn func(tx ListingTx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// RawBatchWriter archives unprocessed scraped batches.
type RawBatchWriter interface {
	WriteRaw(batch *models.Batch) error
}
