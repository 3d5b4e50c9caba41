package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newhome-tracker/models"
)

func TestSweepRemovesOnlyStablyAbsentListings(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.ingest(t, sampleBatch("b-0", "400000", "410000", "420000"))
	e.clock.Advance(day)
	e.ingest(t, sampleBatch("b-0b", "400000", "415000", "420000"))

	for i := 1; i <= 3; i++ {
		e.clock.Advance(day)
		// 104 Main St disappears for three full batches, 102 Main St for one.
		if i == 1 {
			e.ingest(t, sampleBatch(fmt.Sprintf("b-%d", i), "400000"))
		} else {
			e.ingest(t, sampleBatch(fmt.Sprintf("b-%d", i), "400000", "415000"))
		}
	}

	byAddr := map[string]*models.CanonicalListing{}
	for _, l := range e.listings(t) {
		byAddr[l.Address] = l
	}
	require.Equal(t, 3, byAddr["104 Main St"].MissedBatches)
	require.Zero(t, byAddr["102 Main St"].MissedBatches)

	require.NoError(t, e.store.UpsertEvaluation(ctx, &models.MarketEvaluation{
		ListingID:      byAddr["104 Main St"].ID,
		Classification: models.Classification{Label: models.LabelFair, Confidence: 0.5},
		EvaluatedAt:    e.clock.Now(),
	}))

	e.clock.Advance(day)
	first, err := e.gc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RemovedListings)
	assert.Equal(t, 1, first.RemovedIntervals)
	assert.Equal(t, 1, first.RemovedEvaluations)
	assert.Zero(t, first.RemovedEvents)

	second, err := e.gc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Total(), "a second sweep must be a no-op")

	remaining := e.listings(t)
	assert.Len(t, remaining, 2)
	for _, l := range remaining {
		assert.NotEqual(t, "104 Main St", l.Address)
	}

	events, err := e.store.ListPriceChanges(ctx, byAddr["102 Main St"].ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "history of surviving listings is untouched")
}

func TestSweepSparesListingThatReappeared(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.ingest(t, sampleBatch("b-0", "400000", "410000"))
	for i := 1; i <= 3; i++ {
		e.clock.Advance(day)
		e.ingest(t, sampleBatch(fmt.Sprintf("b-%d", i), "400000"))
	}

	candidates, err := e.store.RemovalCandidates(ctx, 3, e.clock.Now())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	// Re-appears between the candidate scan and the delete.
	e.ingest(t, sampleBatch("b-4", "400000", "410000"))

	removed, err := e.gc.remove(ctx, candidates[0], e.clock.Now())
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, e.listings(t), 2)
}
