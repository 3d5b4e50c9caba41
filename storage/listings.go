package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"newhome-tracker/models"
)

const listingColumns = `id, builder_id, builder_name, community_id, community_name,
	identity_key, alias_key, model_name, address, city, state, zip_code, homesite,
	price, bedrooms, bathrooms, square_feet, garage_spaces, lot_size, status,
	features, url, missed_batches, last_missed_batch, absent_since, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.CanonicalListing, error) {
	var (
		l        models.CanonicalListing
		status   string
		features string
		absent   sql.NullInt64
		created  int64
		updated  int64
	)
	err := row.Scan(
		&l.ID, &l.BuilderID, &l.BuilderName, &l.CommunityID, &l.CommunityName,
		&l.IdentityKey, &l.AliasKey, &l.ModelName, &l.Address, &l.City, &l.State, &l.ZipCode, &l.Homesite,
		&l.Price, &l.Bedrooms, &l.Bathrooms, &l.SquareFeet, &l.GarageSpaces, &l.LotSize, &status,
		&features, &l.URL, &l.MissedBatches, &l.LastMissedBatch, &absent, &l.Version, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	l.Status = models.ParseStatus(status)
	if err := json.Unmarshal([]byte(features), &l.Features); err != nil {
		return nil, fmt.Errorf("decode features of %s: %w", l.ID, err)
	}
	l.AbsentSince = fromNullUnix(absent)
	l.CreatedAt = fromUnix(created)
	l.UpdatedAt = fromUnix(updated)
	return &l, nil
}

func encodeFeatures(features []string) (string, error) {
	if features == nil {
		features = []string{}
	}
	b, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}
	return string(b), nil
}

func getListing(ctx context.Context, q queryer, d Dialect, id string, lock bool) (*models.CanonicalListing, error) {
	query := `SELECT ` + listingColumns + ` FROM canonical_listings WHERE id = ?`
	if lock {
		query += d.forUpdate()
	}
	l, err := scanListing(q.QueryRowContext(ctx, d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get listing %s: %w", d, id, err)
	}
	return l, nil
}

// findByKeys returns every listing of (builder, community) whose identity or
// alias key is one of keys.
func findByKeys(ctx context.Context, q queryer, d Dialect, builderID, communityID string, keys []string) ([]*models.CanonicalListing, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	in := placeholders(len(keys))
	query := `SELECT ` + listingColumns + ` FROM canonical_listings
		WHERE builder_id = ? AND community_id = ?
		AND (identity_key IN (` + in + `) OR alias_key IN (` + in + `))
		ORDER BY created_at, id`

	args := make([]any, 0, 2+2*len(keys))
	args = append(args, builderID, communityID)
	for _, k := range keys {
		args = append(args, k)
	}
	for _, k := range keys {
		args = append(args, k)
	}

	return queryListings(ctx, q, d, query, args...)
}

func queryListings(ctx context.Context, q queryer, d Dialect, query string, args ...any) ([]*models.CanonicalListing, error) {
	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query listings: %w", d, err)
	}
	defer rows.Close()

	var listings []*models.CanonicalListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan listing: %w", d, err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func insertListing(ctx context.Context, q queryer, d Dialect, l *models.CanonicalListing) error {
	features, err := encodeFeatures(l.Features)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, d.rebind(`
		INSERT INTO canonical_listings (`+listingColumns+`)
		VALUES (`+placeholders(28)+`)`),
		l.ID, l.BuilderID, l.BuilderName, l.CommunityID, l.CommunityName,
		l.IdentityKey, l.AliasKey, l.ModelName, l.Address, l.City, l.State, l.ZipCode, l.Homesite,
		l.Price, l.Bedrooms, l.Bathrooms, l.SquareFeet, l.GarageSpaces, l.LotSize, string(l.Status),
		features, l.URL, l.MissedBatches, l.LastMissedBatch, nullUnix(l.AbsentSince), l.Version, unix(l.CreatedAt), unix(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("%s: insert listing %s: %w", d, l.IdentityKey, err)
	}
	return nil
}

func updateListing(ctx context.Context, q queryer, d Dialect, l *models.CanonicalListing) error {
	features, err := encodeFeatures(l.Features)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, d.rebind(`
		UPDATE canonical_listings SET
			builder_name = ?, community_name = ?, alias_key = ?, model_name = ?,
			address = ?, city = ?, state = ?, zip_code = ?, homesite = ?,
			price = ?, bedrooms = ?, bathrooms = ?, square_feet = ?, garage_spaces = ?, lot_size = ?,
			status = ?, features = ?, url = ?,
			missed_batches = ?, last_missed_batch = ?, absent_since = ?, version = ?, updated_at = ?
		WHERE id = ?`),
		l.BuilderName, l.CommunityName, l.AliasKey, l.ModelName,
		l.Address, l.City, l.State, l.ZipCode, l.Homesite,
		l.Price, l.Bedrooms, l.Bathrooms, l.SquareFeet, l.GarageSpaces, l.LotSize,
		string(l.Status), features, l.URL,
		l.MissedBatches, l.LastMissedBatch, nullUnix(l.AbsentSince), l.Version, unix(l.UpdatedAt),
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: update listing %s: %w", d, l.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("listing %s: %w", l.ID, models.ErrNotFound)
	}
	return nil
}

// GetListing returns one canonical listing by id.
func (s *SQLStore) GetListing(ctx context.Context, id string) (*models.CanonicalListing, error) {
	return getListing(ctx, s.db, s.dialect, id, false)
}

// FindByKeys returns listings of (builder, community) matching any key.
func (s *SQLStore) FindByKeys(ctx context.Context, builderID, communityID string, keys []string) ([]*models.CanonicalListing, error) {
	return findByKeys(ctx, s.db, s.dialect, builderID, communityID, keys)
}

// ListListings returns listings matching the filter, oldest first.
func (s *SQLStore) ListListings(ctx context.Context, filter models.ListingFilter) ([]*models.CanonicalListing, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.BuilderIDs) > 0 {
		where = append(where, "builder_id IN ("+placeholders(len(filter.BuilderIDs))+")")
		for _, b := range filter.BuilderIDs {
			args = append(args, b)
		}
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT ` + listingColumns + ` FROM canonical_listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	return queryListings(ctx, s.db, s.dialect, query, args...)
}

// ListCommunity returns every listing of one builder community, oldest first.
func (s *SQLStore) ListCommunity(ctx context.Context, builderID, communityID string) ([]*models.CanonicalListing, error) {
	return queryListings(ctx, s.db, s.dialect,
		`SELECT `+listingColumns+` FROM canonical_listings WHERE builder_id = ? AND community_id = ? ORDER BY created_at, id`,
		builderID, communityID)
}

func (t *sqlTx) GetListing(ctx context.Context, id string) (*models.CanonicalListing, error) {
	return getListing(ctx, t.q, t.dialect, id, true)
}

func (t *sqlTx) FindByKeys(ctx context.Context, builderID, communityID string, keys []string) ([]*models.CanonicalListing, error) {
	return findByKeys(ctx, t.q, t.dialect, builderID, communityID, keys)
}

func (t *sqlTx) InsertListing(ctx context.Context, l *models.CanonicalListing) error {
	return insertListing(ctx, t.q, t.dialect, l)
}

func (t *sqlTx) UpdateListing(ctx context.Context, l *models.CanonicalListing) error {
	return updateListing(ctx, t.q, t.dialect, l)
}
