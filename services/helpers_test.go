package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"newhome-tracker/models"
	"newhome-tracker/storage"
	"newhome-tracker/storage/storagetest"
	"newhome-tracker/utils"
)

var epoch = time.Date(2025, 1, 6, 15, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type engine struct {
	store    *storage.SQLStore
	clock    *fakeClock
	locks    *utils.KeyedMutex
	ledger   *LedgerWriter
	ingestor *Ingestor
	gc       *GarbageCollector
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := storagetest.NewStore(t)
	clock := newFakeClock()
	locks := utils.NewKeyedMutex()
	log := zerolog.Nop()

	ledger := NewLedgerWriter(store, log).WithClock(clock.Now)
	return &engine{
		store:    store,
		clock:    clock,
		locks:    locks,
		ledger:   ledger,
		ingestor: NewIngestor(store, ledger, locks, nil, 4, log),
		gc:       NewGarbageCollector(store, locks, 3, log).WithClock(clock.Now),
	}
}

func (e *engine) ingest(t *testing.T, batch *models.Batch) models.BatchSummary {
	t.Helper()
	summary, err := e.ingestor.Ingest(context.Background(), batch)
	require.NoError(t, err)
	return summary
}

func (e *engine) listings(t *testing.T) []*models.CanonicalListing {
	t.Helper()
	all, err := e.store.ListListings(context.Background(), models.ListingFilter{})
	require.NoError(t, err)
	return all
}

func kbRaw(address, price string) models.RawListing {
	return models.RawListing{
		BuilderName: "KB Home",
		Community:   "Sheffield",
		ModelName:   "2486",
		Address:     address,
		City:        "Austin",
		State:       "TX",
		ZipCode:     "78744",
		RawPrice:    price,
		Bedrooms:    "4 bd",
		Bathrooms:   "2.5 ba",
		SquareFeet:  "2,486 sq ft",
		Status:      "Available",
	}
}

func batchOf(id string, full bool, listings ...models.RawListing) *models.Batch {
	return &models.Batch{ID: id, Source: "test", Full: full, ScrapedAt: epoch, Listings: listings}
}

// seedListing inserts a listing directly, bypassing the ledger.
func seedListing(t *testing.T, store *storage.SQLStore, l *models.CanonicalListing) *models.CanonicalListing {
	t.Helper()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.IdentityKey == "" {
		l.IdentityKey = "address:seed/" + l.ID
	}
	if l.Status == "" {
		l.Status = models.StatusAvailable
	}
	l.CreatedAt, l.UpdatedAt = epoch, epoch
	err := store.WithTx(context.Background(), func(tx storage.ListingTx) error {
		return tx.InsertListing(context.Background(), l)
	})
	require.NoError(t, err)
	return l
}
