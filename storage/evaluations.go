package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"newhome-tracker/models"
)

// UpsertEvaluation stores ev, replacing any earlier evaluation of the listing.
func (s *SQLStore) UpsertEvaluation(ctx context.Context, ev *models.MarketEvaluation) error {
	aggs, err := json.Marshal(ev.Aggregates)
	if err != nil {
		return fmt.Errorf("encode aggregates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO market_evaluations (
			listing_id, label, confidence, rationale, aggregates, comparable_count, model,
			evaluated_at, model_name, price, address, builder_name, community
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (listing_id) DO UPDATE SET
			label = excluded.label,
			confidence = excluded.confidence,
			rationale = excluded.rationale,
			aggregates = excluded.aggregates,
			comparable_count = excluded.comparable_count,
			model = excluded.model,
			evaluated_at = excluded.evaluated_at,
			model_name = excluded.model_name,
			price = excluded.price,
			address = excluded.address,
			builder_name = excluded.builder_name,
			community = excluded.community`),
		ev.ListingID, string(ev.Classification.Label), ev.Classification.Confidence, ev.Classification.Rationale,
		string(aggs), ev.ComparableCount, ev.Model, unix(ev.EvaluatedAt),
		ev.ModelName, ev.Price, ev.Address, ev.BuilderName, ev.Community,
	)
	if err != nil {
		return fmt.Errorf("%s: upsert evaluation %s: %w", s.dialect, ev.ListingID, err)
	}
	return nil
}

// GetEvaluation returns the current evaluation of a listing.
func (s *SQLStore) GetEvaluation(ctx context.Context, listingID string) (*models.MarketEvaluation, error) {
	var (
		ev        models.MarketEvaluation
		label     string
		aggs      string
		evaluated int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT listing_id, label, confidence, rationale, aggregates, comparable_count, model,
			evaluated_at, model_name, price, address, builder_name, community
		FROM market_evaluations WHERE listing_id = ?`), listingID).Scan(
		&ev.ListingID, &label, &ev.Classification.Confidence, &ev.Classification.Rationale,
		&aggs, &ev.ComparableCount, &ev.Model, &evaluated,
		&ev.ModelName, &ev.Price, &ev.Address, &ev.BuilderName, &ev.Community,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation %s: %w", listingID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get evaluation %s: %w", s.dialect, listingID, err)
	}

	ev.Classification.Label = models.Label(label)
	ev.EvaluatedAt = fromUnix(evaluated)
	if err := json.Unmarshal([]byte(aggs), &ev.Aggregates); err != nil {
		return nil, fmt.Errorf("decode aggregates of %s: %w", listingID, err)
	}
	return &ev, nil
}
