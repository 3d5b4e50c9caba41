package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"newhome-tracker/models"
	"newhome-tracker/storage"
	"newhome-tracker/utils"
)

// GarbageCollector removes listings that stayed absent from several full
// batches, then any history rows left without a listing.
type GarbageCollector struct {
	store     storage.Sweeper
	locks     *utils.KeyedMutex
	minMissed int
	now       func() time.Time
	log       zerolog.Logger
}

// NewGarbageCollector creates a collector sharing the ingestor's key locks.
// minMissed below 1 is raised to 1: a listing is never removed without a miss.
func NewGarbageCollector(store storage.Sweeper, locks *utils.KeyedMutex, minMissed int, log zerolog.Logger) *GarbageCollector {
	if minMissed < 1 {
		minMissed = 1
	}
	return &GarbageCollector{
		store:     store,
		locks:     locks,
		minMissed: minMissed,
		now:       time.Now,
		log:       log.With().Str("component", "gc").Logger(),
	}
}

// WithClock replaces the clock, for tests.
func (gc *GarbageCollector) WithClock(now func() time.Time) *GarbageCollector {
	gc.now = now
	return gc
}

// Sweep runs one collection pass. Each removal is conditional on the listing
// still qualifying at delete time, so a listing that re-appears concurrently
// survives. A second sweep over a clean store removes nothing.
func (gc *GarbageCollector) Sweep(ctx context.Context) (models.SweepResult, error) {
	var result models.SweepResult
	snapshot := gc.now().UTC()

	candidates, err := gc.store.RemovalCandidates(ctx, gc.minMissed, snapshot)
	if err != nil {
		return result, fmt.Errorf("sweep: %w", err)
	}

	for _, l := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		removed, err := gc.remove(ctx, l, snapshot)
		if err != nil {
			return result, fmt.Errorf("sweep: %w", err)
		}
		if removed {
			result.RemovedListings++
			gc.log.Info().
				Str("listing_id", l.ID).
				Str("key", l.IdentityKey).
				Int("missed_batches", l.MissedBatches).
				Msg("Removed absent listing")
		}
	}

	orphans, err := gc.store.DeleteOrphans(ctx)
	if err != nil {
		return result, fmt.Errorf("sweep: %w", err)
	}
	result.RemovedEvents = orphans.Events
	result.RemovedIntervals = orphans.Intervals
	result.RemovedEvaluations = orphans.Evaluations

	gc.log.Info().
		Int("removed_listings", result.RemovedListings).
		Int("removed_events", result.RemovedEvents).
		Int("removed_intervals", result.RemovedIntervals).
		Int("removed_evaluations", result.RemovedEvaluations).
		Msg("Sweep complete")
	return result, nil
}

func (gc *GarbageCollector) remove(ctx context.Context, l *models.CanonicalListing, snapshot time.Time) (bool, error) {
	unlock := gc.locks.Lock(listingLockKeys(l)...)
	defer unlock()
	return gc.store.DeleteAbsentListing(ctx, l.ID, gc.minMissed, snapshot)
}
