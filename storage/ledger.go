package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"newhome-tracker/models"
)

const intervalColumns = `id, listing_id, price, start_at, end_at, days_active, is_current, seq`

const priceChangeColumns = `id, listing_id, old_price, new_price, change_amount, change_percentage,
	old_price_started_at, changed_at, change_type, days_since_last_change, seq`

func queryIntervals(ctx context.Context, q queryer, d Dialect, query string, args ...any) ([]*models.PriceHistoryInterval, error) {
	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query intervals: %w", d, err)
	}
	defer rows.Close()

	var out []*models.PriceHistoryInterval
	for rows.Next() {
		var (
			iv    models.PriceHistoryInterval
			start int64
			end   sql.NullInt64
		)
		if err := rows.Scan(&iv.ID, &iv.ListingID, &iv.Price, &start, &end, &iv.DaysActive, &iv.IsCurrent, &iv.Seq); err != nil {
			return nil, fmt.Errorf("%s: scan interval: %w", d, err)
		}
		iv.StartAt = fromUnix(start)
		iv.EndAt = fromNullUnix(end)
		out = append(out, &iv)
	}
	return out, rows.Err()
}

// ListIntervals returns a listing's price history in chronological order.
// Intervals opened within the same second are ordered by sequence.
func (s *SQLStore) ListIntervals(ctx context.Context, listingID string) ([]*models.PriceHistoryInterval, error) {
	return queryIntervals(ctx, s.db, s.dialect,
		`SELECT `+intervalColumns+` FROM price_history_intervals WHERE listing_id = ? ORDER BY start_at, seq, id`,
		listingID)
}

// ListPriceChanges returns a listing's price-change events, oldest first.
func (s *SQLStore) ListPriceChanges(ctx context.Context, listingID string) ([]*models.PriceChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+priceChangeColumns+` FROM price_change_events WHERE listing_id = ? ORDER BY changed_at, seq, id`),
		listingID)
	if err != nil {
		return nil, fmt.Errorf("%s: query price changes: %w", s.dialect, err)
	}
	defer rows.Close()

	var out []*models.PriceChangeEvent
	for rows.Next() {
		var (
			ev         models.PriceChangeEvent
			started    int64
			changed    int64
			changeType string
		)
		if err := rows.Scan(&ev.ID, &ev.ListingID, &ev.OldPrice, &ev.NewPrice, &ev.ChangeAmount,
			&ev.ChangePercentage, &started, &changed, &changeType, &ev.DaysSinceLastChange, &ev.Seq); err != nil {
			return nil, fmt.Errorf("%s: scan price change: %w", s.dialect, err)
		}
		ev.OldPriceStartedAt = fromUnix(started)
		ev.ChangedAt = fromUnix(changed)
		ev.ChangeType = models.ChangeType(changeType)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (t *sqlTx) OpenIntervals(ctx context.Context, listingID string) ([]*models.PriceHistoryInterval, error) {
	query := `SELECT ` + intervalColumns + ` FROM price_history_intervals
		WHERE listing_id = ? AND end_at IS NULL ORDER BY start_at, seq, id` + t.dialect.forUpdate()
	return queryIntervals(ctx, t.q, t.dialect, query, listingID)
}

func (t *sqlTx) CloseInterval(ctx context.Context, id string, endAt time.Time, daysActive int) error {
	res, err := t.q.ExecContext(ctx, t.dialect.rebind(`
		UPDATE price_history_intervals
		SET end_at = ?, days_active = ?, is_current = ?
		WHERE id = ? AND end_at IS NULL`),
		unix(endAt), daysActive, false, id)
	if err != nil {
		return fmt.Errorf("%s: close interval %s: %w", t.dialect, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("close interval %s: already closed: %w", id, models.ErrInvariantViolation)
	}
	return nil
}

func (t *sqlTx) InsertInterval(ctx context.Context, iv *models.PriceHistoryInterval) error {
	_, err := t.q.ExecContext(ctx, t.dialect.rebind(`
		INSERT INTO price_history_intervals (`+intervalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		iv.ID, iv.ListingID, iv.Price, unix(iv.StartAt), nullUnix(iv.EndAt), iv.DaysActive, iv.IsCurrent, iv.Seq)
	if err != nil {
		return fmt.Errorf("%s: insert interval for %s: %w", t.dialect, iv.ListingID, err)
	}
	return nil
}

func (t *sqlTx) InsertPriceChange(ctx context.Context, ev *models.PriceChangeEvent) error {
	_, err := t.q.ExecContext(ctx, t.dialect.rebind(`
		INSERT INTO price_change_events (`+priceChangeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.ListingID, ev.OldPrice, ev.NewPrice, ev.ChangeAmount, ev.ChangePercentage,
		unix(ev.OldPriceStartedAt), unix(ev.ChangedAt), string(ev.ChangeType), ev.DaysSinceLastChange, ev.Seq)
	if err != nil {
		return fmt.Errorf("%s: insert price change for %s: %w", t.dialect, ev.ListingID, err)
	}
	return nil
}
