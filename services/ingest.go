package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"newhome-tracker/models"
	"newhome-tracker/storage"
	"newhome-tracker/utils"
)

// maxStaleRetries bounds how often one observation is re-diffed after losing
// a race with another writer.
const maxStaleRetries = 3

// IngestStore is what the ingestor needs from persistence.
type IngestStore interface {
	TxRunner
	GetListing(ctx context.Context, id string) (*models.CanonicalListing, error)
	FindByKeys(ctx context.Context, builderID, communityID string, keys []string) ([]*models.CanonicalListing, error)
	ListListings(ctx context.Context, filter models.ListingFilter) ([]*models.CanonicalListing, error)
	ListCommunity(ctx context.Context, builderID, communityID string) ([]*models.CanonicalListing, error)
	Ping(ctx context.Context) error
}

// BatchSweeper garbage-collects the store after a full batch.
type BatchSweeper interface {
	Sweep(ctx context.Context) (models.SweepResult, error)
}

// Ingestor reconciles scraped batches into the canonical store.
type Ingestor struct {
	store          IngestStore
	cleaner        *Cleaner
	resolver       *Resolver
	ledger         *LedgerWriter
	locks          *utils.KeyedMutex
	archive        storage.RawBatchWriter
	sweeper        BatchSweeper
	maxConcurrency int
	log            zerolog.Logger
}

// NewIngestor wires an ingestor. locks must be shared with the garbage
// collector; archive may be nil.
func NewIngestor(store IngestStore, ledger *LedgerWriter, locks *utils.KeyedMutex, archive storage.RawBatchWriter, maxConcurrency int, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:          store,
		cleaner:        NewCleaner(log),
		resolver:       NewResolver(),
		ledger:         ledger,
		locks:          locks,
		archive:        archive,
		maxConcurrency: maxConcurrency,
		log:            log.With().Str("component", "ingestor").Logger(),
	}
}

// WithSweeper chains a sweep after every full batch.
func (in *Ingestor) WithSweeper(s BatchSweeper) *Ingestor {
	in.sweeper = s
	return in
}

// outcome is the result of reconciling one observation.
type outcome struct {
	kind      ChangeKind
	listingID string
	err       error
}

// Ingest reconciles one batch. Per-listing failures are isolated and reported
// in the summary; only an unreachable store fails the whole run.
func (in *Ingestor) Ingest(ctx context.Context, batch *models.Batch) (models.BatchSummary, error) {
	summary := models.BatchSummary{BatchID: batch.ID, Received: len(batch.Listings)}
	log := in.log.With().Str("batch_id", batch.ID).Logger()

	if err := in.store.Ping(ctx); err != nil {
		return summary, fmt.Errorf("ingest %s: %w", batch.ID, err)
	}

	if in.archive != nil {
		if err := in.archive.WriteRaw(batch); err != nil {
			log.Warn().Err(err).Msg("Failed to archive raw batch")
		}
	}

	observations, dropped := in.cleaner.Clean(batch.Listings)
	summary.Skipped += len(dropped)
	summary.Errors = append(summary.Errors, dropped...)

	resolved, err := in.resolver.ResolveBatch(observations, func(builderID, communityID string) ([]*models.CanonicalListing, error) {
		return in.store.ListCommunity(ctx, builderID, communityID)
	})
	if err != nil {
		return summary, fmt.Errorf("ingest %s: %w", batch.ID, err)
	}

	builders := make(map[string]struct{})
	for _, o := range observations {
		if o.BuilderID != "" {
			builders[o.BuilderID] = struct{}{}
		}
	}

	// A builder with a record we could not reconcile is unsettled: its full
	// batch no longer proves which homes are gone.
	var (
		mu        sync.Mutex
		seen      = make(map[string]struct{})
		unsettled = make(map[string]struct{})
	)
	for _, e := range dropped {
		if e.Builder != "" {
			unsettled[e.Builder] = struct{}{}
		}
	}
	record := func(builderID string, o outcome, key string) {
		mu.Lock()
		defer mu.Unlock()
		if o.listingID != "" {
			seen[o.listingID] = struct{}{}
		}
		if o.err != nil {
			summary.Errored++
			summary.Errors = append(summary.Errors, models.ItemError{Key: key, Builder: builderID, Reason: o.err.Error()})
			unsettled[builderID] = struct{}{}
			return
		}
		countChange(&summary, o.kind)
	}

	keys := utils.NewKeySet()
	pool := utils.NewWorkerPool(in.maxConcurrency)

	for _, r := range resolved {
		if r.Err != nil {
			log.Warn().Err(r.Err).Int("position", r.Observation.Position).Str("model", r.Observation.ModelName).Msg("Skipping unresolvable listing")
			mu.Lock()
			summary.Skipped++
			summary.Errors = append(summary.Errors, models.ItemError{
				Key:     fmt.Sprintf("#%d %s %s", r.Observation.Position, r.Observation.BuilderName, r.Observation.ModelName),
				Builder: r.Observation.BuilderID,
				Reason:  r.Err.Error(),
			})
			if r.Observation.BuilderID != "" {
				unsettled[r.Observation.BuilderID] = struct{}{}
			}
			mu.Unlock()
			continue
		}
		if !keys.AddAll(r.Resolution.Keys()...) {
			log.Debug().Str("key", r.Resolution.Key).Msg("Duplicate listing in batch")
			mu.Lock()
			summary.Duplicates++
			mu.Unlock()
			continue
		}

		pool.Submit(func() {
			o := in.reconcile(ctx, r.Observation, r.Resolution)
			if o.err != nil {
				log.Error().Err(o.err).Str("key", r.Resolution.Key).Msg("Failed to reconcile listing")
			}
			record(r.Resolution.BuilderID, o, r.Resolution.Key)
		})
	}
	pool.Wait()

	if batch.Full {
		for b := range unsettled {
			log.Warn().Str("builder", b).Msg("Skipping delisting pass for builder with failed listings")
			delete(builders, b)
		}
		if err := in.delistMissing(ctx, batch.ID, builders, seen, &summary); err != nil {
			return summary, err
		}
		if in.sweeper != nil {
			res, err := in.sweeper.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Post-ingest sweep failed")
			}
			summary.Removed = res.RemovedListings
		}
	}

	if summary.Errored > 0 {
		if err := in.store.Ping(ctx); err != nil {
			return summary, fmt.Errorf("ingest %s: %w", batch.ID, err)
		}
	}

	log.Info().
		Int("received", summary.Received).
		Int("created", summary.Created).
		Int("price_changed", summary.PriceChanged).
		Int("attribute_changed", summary.AttributeChanged).
		Int("unchanged", summary.Unchanged).
		Int("delisted", summary.Delisted).
		Int("skipped", summary.Skipped).
		Int("duplicates", summary.Duplicates).
		Int("errored", summary.Errored).
		Int("removed", summary.Removed).
		Int("identities", keys.Size()).
		Msg("Batch ingested")

	return summary, nil
}

// reconcile diffs and applies one observation while holding the locks of all
// of its keys.
func (in *Ingestor) reconcile(ctx context.Context, obs models.Observation, res Resolution) outcome {
	unlock := in.locks.Lock(res.Keys()...)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome{err: err}
		}

		matches, err := in.store.FindByKeys(ctx, res.BuilderID, res.CommunityID, res.Keys())
		if err != nil {
			return outcome{err: err}
		}
		if len(matches) > 1 {
			return outcome{err: fmt.Errorf("keys %v match %d listings: %w", res.Keys(), len(matches), models.ErrInvariantViolation)}
		}

		var current *models.CanonicalListing
		if len(matches) == 1 {
			current = matches[0]
		}

		cs := Diff(current, obs, res)
		l, err := in.ledger.Apply(ctx, cs)
		if errors.Is(err, models.ErrStaleChangeSet) {
			lastErr = err
			continue
		}
		if err != nil {
			return outcome{err: err}
		}
		return outcome{kind: cs.Kind, listingID: l.ID}
	}
	return outcome{err: lastErr}
}

// delistMissing marks listings of the batch's builders that the full batch
// did not contain.
func (in *Ingestor) delistMissing(ctx context.Context, batchID string, builders, seen map[string]struct{}, summary *models.BatchSummary) error {
	if len(builders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(builders))
	for b := range builders {
		ids = append(ids, b)
	}

	listings, err := in.store.ListListings(ctx, models.ListingFilter{BuilderIDs: ids})
	if err != nil {
		return fmt.Errorf("delisting pass: %w", err)
	}

	for _, l := range listings {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		kind, err := in.markMissing(ctx, l, batchID)
		if err != nil {
			in.log.Error().Err(err).Str("listing_id", l.ID).Msg("Failed to mark listing missing")
			summary.Errored++
			summary.Errors = append(summary.Errors, models.ItemError{Key: l.IdentityKey, Reason: err.Error()})
			continue
		}
		if kind == ChangeDelisted {
			summary.Delisted++
		}
	}
	return nil
}

func (in *Ingestor) markMissing(ctx context.Context, l *models.CanonicalListing, batchID string) (ChangeKind, error) {
	unlock := in.locks.Lock(listingLockKeys(l)...)
	defer unlock()

	current, err := in.store.GetListing(ctx, l.ID)
	if errors.Is(err, models.ErrNotFound) {
		return ChangeUnchanged, nil
	}
	if err != nil {
		return "", err
	}

	cs := DiffMissing(current, batchID)
	if _, err := in.ledger.Apply(ctx, cs); err != nil {
		return "", err
	}
	return cs.Kind, nil
}

func listingLockKeys(l *models.CanonicalListing) []string {
	if l.AliasKey == "" {
		return []string{l.IdentityKey}
	}
	return []string{l.IdentityKey, l.AliasKey}
}

func countChange(s *models.BatchSummary, kind ChangeKind) {
	switch kind {
	case ChangeCreated:
		s.Created++
	case ChangePriceChanged:
		s.PriceChanged++
	case ChangeAttributeChanged:
		s.AttributeChanged++
	case ChangeUnchanged:
		s.Unchanged++
	case ChangeDelisted:
		s.Delisted++
	}
}
