package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"newhome-tracker/models"
	"newhome-tracker/storage"
)

// TxRunner runs a function inside one store transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx storage.ListingTx) error) error
}

// LedgerWriter applies change-sets. Each change-set is one transaction: the
// listing row, the interval close, the interval open and the price event are
// committed together or not at all.
type LedgerWriter struct {
	store TxRunner
	now   func() time.Time
	log   zerolog.Logger
}

// NewLedgerWriter creates a LedgerWriter using the wall clock.
func NewLedgerWriter(store TxRunner, log zerolog.Logger) *LedgerWriter {
	return &LedgerWriter{
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

// WithClock replaces the clock, for tests and replays.
func (w *LedgerWriter) WithClock(now func() time.Time) *LedgerWriter {
	w.now = now
	return w
}

// Apply persists cs and returns the listing as stored afterwards.
// ErrStaleChangeSet means the row moved on since the diff was taken; the
// caller should re-read and re-diff.
func (w *LedgerWriter) Apply(ctx context.Context, cs ChangeSet) (*models.CanonicalListing, error) {
	if cs.Kind == ChangeUnchanged {
		return cs.Current, nil
	}

	now := w.now().UTC().Truncate(time.Second)
	var out *models.CanonicalListing

	err := w.store.WithTx(ctx, func(tx storage.ListingTx) error {
		var err error
		switch cs.Kind {
		case ChangeCreated:
			out, err = w.create(ctx, tx, cs, now)
		case ChangePriceChanged:
			out, err = w.changePrice(ctx, tx, cs, now)
		case ChangeAttributeChanged, ChangeDelisted:
			out, err = w.update(ctx, tx, cs, now)
		default:
			err = fmt.Errorf("unknown change kind %q", cs.Kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	w.log.Debug().
		Str("listing_id", out.ID).
		Str("key", out.IdentityKey).
		Str("change", string(cs.Kind)).
		Msg("Change applied")
	return out, nil
}

func (w *LedgerWriter) create(ctx context.Context, tx storage.ListingTx, cs ChangeSet, now time.Time) (*models.CanonicalListing, error) {
	existing, err := tx.FindByKeys(ctx, cs.Resolution.BuilderID, cs.Resolution.CommunityID, cs.Resolution.Keys())
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("create %s: listing already exists: %w", cs.Resolution.Key, models.ErrStaleChangeSet)
	}

	l := *cs.Next
	l.ID = uuid.NewString()
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	if err := tx.InsertListing(ctx, &l); err != nil {
		return nil, err
	}

	err = tx.InsertInterval(ctx, &models.PriceHistoryInterval{
		ID:        uuid.NewString(),
		ListingID: l.ID,
		Price:     l.Price,
		StartAt:   now,
		IsCurrent: true,
		Seq:       l.Version,
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (w *LedgerWriter) changePrice(ctx context.Context, tx storage.ListingTx, cs ChangeSet, now time.Time) (*models.CanonicalListing, error) {
	l, err := w.update(ctx, tx, cs, now)
	if err != nil {
		return nil, err
	}

	open, err := tx.OpenIntervals(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if len(open) != 1 {
		return nil, fmt.Errorf("listing %s has %d open price intervals: %w", l.ID, len(open), models.ErrInvariantViolation)
	}
	current := open[0]
	if current.Price != cs.OldPrice {
		return nil, fmt.Errorf("listing %s open interval price %d does not match listing price %d: %w",
			l.ID, current.Price, cs.OldPrice, models.ErrInvariantViolation)
	}
	if now.Before(current.StartAt) {
		return nil, fmt.Errorf("listing %s open interval starts after %s: %w",
			l.ID, now.Format(time.RFC3339), models.ErrInvariantViolation)
	}

	days := models.DaySpan(current.StartAt, now)
	if err := tx.CloseInterval(ctx, current.ID, now, days); err != nil {
		return nil, err
	}

	err = tx.InsertInterval(ctx, &models.PriceHistoryInterval{
		ID:        uuid.NewString(),
		ListingID: l.ID,
		Price:     cs.NewPrice,
		StartAt:   now,
		IsCurrent: true,
		Seq:       l.Version,
	})
	if err != nil {
		return nil, err
	}

	ev := NewPriceChangeEvent(l.ID, cs.OldPrice, cs.NewPrice, current.StartAt, now)
	ev.Seq = l.Version
	if err := tx.InsertPriceChange(ctx, ev); err != nil {
		return nil, err
	}
	return l, nil
}

// update writes cs.Next after checking the stored row is the one diffed against.
func (w *LedgerWriter) update(ctx context.Context, tx storage.ListingTx, cs ChangeSet, now time.Time) (*models.CanonicalListing, error) {
	if cs.Current == nil || cs.Next == nil {
		return nil, fmt.Errorf("%s change-set without listing state", cs.Kind)
	}

	stored, err := tx.GetListing(ctx, cs.Current.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("listing %s was removed: %w", cs.Current.ID, models.ErrStaleChangeSet)
	}
	if err != nil {
		return nil, err
	}
	if stored.Version != cs.Current.Version {
		return nil, fmt.Errorf("listing %s at version %d, diffed against %d: %w",
			stored.ID, stored.Version, cs.Current.Version, models.ErrStaleChangeSet)
	}

	l := *cs.Next
	l.Version = stored.Version + 1
	l.UpdatedAt = now
	if cs.Kind == ChangeDelisted && l.AbsentSince == nil {
		l.AbsentSince = &now
	}
	if err := tx.UpdateListing(ctx, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// NewPriceChangeEvent computes the derived fields of a price change. The
// percentage is relative to the old price, rounded to two decimals.
func NewPriceChangeEvent(listingID string, oldPrice, newPrice int64, oldStartedAt, changedAt time.Time) *models.PriceChangeEvent {
	amount := newPrice - oldPrice

	var pct float64
	if oldPrice != 0 {
		pct = decimal.NewFromInt(amount).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(oldPrice), 2).
			InexactFloat64()
	}

	changeType := models.ChangeDecrease
	if amount > 0 {
		changeType = models.ChangeIncrease
	}

	return &models.PriceChangeEvent{
		ID:                  uuid.NewString(),
		ListingID:           listingID,
		OldPrice:            oldPrice,
		NewPrice:            newPrice,
		ChangeAmount:        amount,
		ChangePercentage:    pct,
		OldPriceStartedAt:   oldStartedAt,
		ChangedAt:           changedAt,
		ChangeType:          changeType,
		DaysSinceLastChange: models.DaySpan(oldStartedAt, changedAt),
	}
}
