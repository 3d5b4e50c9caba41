package storage_test

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newhome-tracker/models"
	"newhome-tracker/storage"
	"newhome-tracker/storage/storagetest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newListing(key string, price int64) *models.CanonicalListing {
	return &models.CanonicalListing{
		ID:            uuid.NewString(),
		BuilderID:     "kb-home",
		BuilderName:   "KB Home",
		CommunityID:   "sheffield",
		CommunityName: "Sheffield",
		IdentityKey:   key,
		ModelName:     "2486",
		Address:       "100 Main St",
		City:          "Austin",
		ZipCode:       "78701",
		Price:         price,
		Bedrooms:      4,
		Bathrooms:     2.5,
		SquareFeet:    2486,
		Status:        models.StatusAvailable,
		Features:      []string{"patio", "study"},
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func insert(t *testing.T, s *storage.SQLStore, l *models.CanonicalListing) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx storage.ListingTx) error {
		return tx.InsertListing(context.Background(), l)
	})
	require.NoError(t, err)
}

func TestListingRoundTrip(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	l := newListing("addr:100 main st", 439990)
	insert(t, s, l)

	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.IdentityKey, got.IdentityKey)
	assert.Equal(t, int64(439990), got.Price)
	assert.Equal(t, 2.5, got.Bathrooms)
	assert.Equal(t, []string{"patio", "study"}, got.Features)
	assert.Equal(t, models.StatusAvailable, got.Status)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Nil(t, got.AbsentSince)

	_, err = s.GetListing(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFindByKeysMatchesAlias(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	l := newListing("addr:100 main st", 439990)
	l.AliasKey = "homesite:2486:12"
	insert(t, s, l)

	found, err := s.FindByKeys(ctx, "kb-home", "sheffield", []string{"homesite:2486:12"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, l.ID, found[0].ID)

	found, err = s.FindByKeys(ctx, "kb-home", "other", []string{"addr:100 main st"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestUniqueIdentityPerCommunity(t *testing.T) {
	s := storagetest.NewStore(t)
	insert(t, s, newListing("addr:100 main st", 1))

	err := s.WithTx(context.Background(), func(tx storage.ListingTx) error {
		return tx.InsertListing(context.Background(), newListing("addr:100 main st", 2))
	})
	assert.Error(t, err)
}

func TestWithTxRollsBack(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	l := newListing("addr:1 elm st", 300000)
	err := s.WithTx(ctx, func(tx storage.ListingTx) error {
		if err := tx.InsertListing(ctx, l); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetListing(ctx, l.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateAndFilter(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	a := newListing("addr:1 elm st", 300000)
	b := newListing("addr:2 elm st", 310000)
	b.BuilderID = "lennar"
	insert(t, s, a)
	insert(t, s, b)

	absent := t0.Add(time.Hour)
	a.Status = models.StatusSold
	a.MissedBatches = 1
	a.LastMissedBatch = "b-2"
	a.AbsentSince = &absent
	err := s.WithTx(ctx, func(tx storage.ListingTx) error { return tx.UpdateListing(ctx, a) })
	require.NoError(t, err)

	sold, err := s.ListListings(ctx, models.ListingFilter{Statuses: []models.Status{models.StatusSold}})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, a.ID, sold[0].ID)
	require.NotNil(t, sold[0].AbsentSince)
	assert.True(t, sold[0].AbsentSince.Equal(absent))

	lennar, err := s.ListListings(ctx, models.ListingFilter{BuilderIDs: []string{"lennar"}})
	require.NoError(t, err)
	require.Len(t, lennar, 1)
	assert.Equal(t, b.ID, lennar[0].ID)

	all, err := s.ListListings(ctx, models.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListCommunity(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	first := newListing("plan:kb-home/sheffield/2486/4bd#1", 300000)
	second := newListing("plan:kb-home/sheffield/2486/4bd#2", 310000)
	second.CreatedAt = t0.Add(time.Hour)
	elsewhere := newListing("plan:kb-home/riverside/2486/4bd#1", 320000)
	elsewhere.CommunityID = "riverside"
	other := newListing("plan:lennar/sheffield/2486/4bd#1", 330000)
	other.BuilderID = "lennar"
	for _, l := range []*models.CanonicalListing{second, first, elsewhere, other} {
		insert(t, s, l)
	}

	got, err := s.ListCommunity(ctx, "kb-home", "sheffield")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	none, err := s.ListCommunity(ctx, "kb-home", "mueller")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSingleOpenIntervalEnforced(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()
	l := newListing("addr:1 elm st", 300000)
	insert(t, s, l)

	open := func(price int64, at time.Time) *models.PriceHistoryInterval {
		return &models.PriceHistoryInterval{ID: uuid.NewString(), ListingID: l.ID, Price: price, StartAt: at, IsCurrent: true}
	}

	first := open(300000, t0)
	require.NoError(t, s.WithTx(ctx, func(tx storage.ListingTx) error { return tx.InsertInterval(ctx, first) }))

	err := s.WithTx(ctx, func(tx storage.ListingTx) error { return tx.InsertInterval(ctx, open(290000, t0.Add(time.Hour))) })
	assert.Error(t, err, "a second open interval must be rejected")

	later := t0.Add(72 * time.Hour)
	err = s.WithTx(ctx, func(tx storage.ListingTx) error {
		ivs, err := tx.OpenIntervals(ctx, l.ID)
		if err != nil {
			return err
		}
		if len(ivs) != 1 {
			return errors.New("expected exactly one open interval")
		}
		if err := tx.CloseInterval(ctx, ivs[0].ID, later, 3); err != nil {
			return err
		}
		return tx.InsertInterval(ctx, open(290000, later))
	})
	require.NoError(t, err)

	ivs, err := s.ListIntervals(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	assert.Equal(t, int64(300000), ivs[0].Price)
	require.NotNil(t, ivs[0].EndAt)
	assert.False(t, ivs[0].IsCurrent)
	assert.Equal(t, 3, ivs[0].DaysActive)
	assert.Nil(t, ivs[1].EndAt)
	assert.True(t, ivs[1].IsCurrent)

	err = s.WithTx(ctx, func(tx storage.ListingTx) error { return tx.CloseInterval(ctx, first.ID, later, 3) })
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
}

func TestPriceChangeRoundTrip(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	ev := &models.PriceChangeEvent{
		ID:                  uuid.NewString(),
		ListingID:           "l-1",
		OldPrice:            439990,
		NewPrice:            435000,
		ChangeAmount:        -4990,
		ChangePercentage:    -1.13,
		OldPriceStartedAt:   t0,
		ChangedAt:           t0.Add(48 * time.Hour),
		ChangeType:          models.ChangeDecrease,
		DaysSinceLastChange: 2,
	}
	require.NoError(t, s.WithTx(ctx, func(tx storage.ListingTx) error { return tx.InsertPriceChange(ctx, ev) }))

	events, err := s.ListPriceChanges(ctx, "l-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, *ev, *events[0])
}

func TestEvaluationUpsertReplaces(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	_, err := s.GetEvaluation(ctx, "l-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	ev := &models.MarketEvaluation{
		ListingID:       "l-1",
		Classification:  models.Classification{Label: models.LabelFair, Confidence: 0.7, Rationale: "in line"},
		Aggregates:      models.MarketAggregates{Count: 3, MeanPrice: 420000, MedianPrice: 415000},
		ComparableCount: 3,
		Model:           "gemini-2.5-flash",
		EvaluatedAt:     t0,
		Price:           439990,
	}
	require.NoError(t, s.UpsertEvaluation(ctx, ev))

	ev.Classification = models.Classification{Label: models.LabelOverpriced, Confidence: 0.9, Rationale: "above median"}
	ev.EvaluatedAt = t0.Add(24 * time.Hour)
	require.NoError(t, s.UpsertEvaluation(ctx, ev))

	got, err := s.GetEvaluation(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, models.LabelOverpriced, got.Classification.Label)
	assert.Equal(t, 0.9, got.Classification.Confidence)
	assert.Equal(t, 3, got.Aggregates.Count)
	assert.Equal(t, 415000.0, got.Aggregates.MedianPrice)
	assert.True(t, got.EvaluatedAt.Equal(t0.Add(24*time.Hour)))
}

func TestSweepQueries(t *testing.T) {
	s := storagetest.NewStore(t)
	ctx := context.Background()

	absent := t0
	gone := newListing("addr:1 elm st", 300000)
	gone.MissedBatches = 3
	gone.AbsentSince = &absent
	kept := newListing("addr:2 elm st", 300000)
	kept.MissedBatches = 1
	kept.AbsentSince = &absent
	insert(t, s, gone)
	insert(t, s, kept)

	require.NoError(t, s.WithTx(ctx, func(tx storage.ListingTx) error {
		return tx.InsertInterval(ctx, &models.PriceHistoryInterval{ID: uuid.NewString(), ListingID: gone.ID, Price: 300000, StartAt: t0, IsCurrent: true})
	}))
	require.NoError(t, s.UpsertEvaluation(ctx, &models.MarketEvaluation{ListingID: gone.ID, Classification: models.Classification{Label: models.LabelFair}, EvaluatedAt: t0}))

	snapshot := t0.Add(time.Hour)
	cands, err := s.RemovalCandidates(ctx, 3, snapshot)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, gone.ID, cands[0].ID)

	removed, err := s.DeleteAbsentListing(ctx, kept.ID, 3, snapshot)
	require.NoError(t, err)
	assert.False(t, removed, "listing below the miss threshold must survive")

	removed, err = s.DeleteAbsentListing(ctx, gone.ID, 3, snapshot)
	require.NoError(t, err)
	assert.True(t, removed)

	counts, err := s.DeleteOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.OrphanCounts{Intervals: 1, Evaluations: 1}, counts)

	counts, err = s.DeleteOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.OrphanCounts{}, counts)
}

func TestCSVArchive(t *testing.T) {
	archive, err := storage.NewCSVArchive(t.TempDir())
	require.NoError(t, err)

	batch := &models.Batch{
		ID:        "kb/2025-03-01",
		Source:    "kbhome.com",
		Full:      true,
		ScrapedAt: t0,
		Listings: []models.RawListing{
			{BuilderName: "KB Home", Community: "Sheffield", ModelName: "2486", RawPrice: "$439,990", Features: []string{"patio", "study"}},
			{BuilderName: "KB Home", Community: "Sheffield", ModelName: "1901", RawPrice: "$389,990"},
		},
	}
	require.NoError(t, archive.WriteRaw(batch))

	path := archive.PathFor(batch)
	assert.Contains(t, path, "20250301T120000Z_kb_2025-03-01.csv")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "batch_id", rows[0][0])
	assert.Equal(t, "$439,990", rows[1][12])
	assert.Equal(t, "patio|study", rows[1][19])
	assert.Equal(t, "true", rows[2][2])
}
