package storage

import (
	"context"
	"fmt"
	"time"

	"newhome-tracker/models"
)

// RemovalCandidates lists listings missing from at least minMissed full
// batches and absent since before the given instant.
func (s *SQLStore) RemovalCandidates(ctx context.Context, minMissed int, absentBefore time.Time) ([]*models.CanonicalListing, error) {
	return queryListings(ctx, s.db, s.dialect, `
		SELECT `+listingColumns+` FROM canonical_listings
		WHERE missed_batches >= ? AND absent_since IS NOT NULL AND absent_since <= ?
		ORDER BY absent_since, id`,
		minMissed, unix(absentBefore))
}

// DeleteAbsentListing removes a listing only if it still qualifies for removal.
// A listing that re-appeared since the candidates were read is left alone.
func (s *SQLStore) DeleteAbsentListing(ctx context.Context, id string, minMissed int, absentBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		DELETE FROM canonical_listings
		WHERE id = ? AND missed_batches >= ? AND absent_since IS NOT NULL AND absent_since <= ?`),
		id, minMissed, unix(absentBefore))
	if err != nil {
		return false, fmt.Errorf("%s: delete listing %s: %w", s.dialect, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: delete listing %s: %w", s.dialect, id, err)
	}
	return n > 0, nil
}

// DeleteOrphans removes ledger, history and evaluation rows whose listing no
// longer exists.
func (s *SQLStore) DeleteOrphans(ctx context.Context) (OrphanCounts, error) {
	var counts OrphanCounts

	targets := []struct {
		table string
		count *int
	}{
		{"price_change_events", &counts.Events},
		{"price_history_intervals", &counts.Intervals},
		{"market_evaluations", &counts.Evaluations},
	}

	for _, t := range targets {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM `+t.table+`
			WHERE NOT EXISTS (
				SELECT 1 FROM canonical_listings l WHERE l.id = `+t.table+`.listing_id
			)`)
		if err != nil {
			return counts, fmt.Errorf("%s: delete orphans from %s: %w", s.dialect, t.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return counts, fmt.Errorf("%s: delete orphans from %s: %w", s.dialect, t.table, err)
		}
		*t.count = int(n)
	}

	return counts, nil
}
