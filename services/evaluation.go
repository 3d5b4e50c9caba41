package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"newhome-tracker/models"
	"newhome-tracker/reasoning"
	"newhome-tracker/utils"
)

// ErrInvalidClassification means the reasoning service answered with a label
// outside the known set or a confidence outside [0, 1].
var ErrInvalidClassification = errors.New("invalid classification")

// Reasoner is the external service that judges a subject against its market.
type Reasoner interface {
	Classify(ctx context.Context, req reasoning.Request) (reasoning.Response, error)
	Model() string
}

// EvaluationStore is what the orchestrator reads and writes.
type EvaluationStore interface {
	ListListings(ctx context.Context, filter models.ListingFilter) ([]*models.CanonicalListing, error)
	UpsertEvaluation(ctx context.Context, ev *models.MarketEvaluation) error
}

// EvaluationConfig tunes the orchestrator.
type EvaluationConfig struct {
	// MinSpacing is the minimum delay between two reasoning calls.
	MinSpacing        time.Duration
	Timeout           time.Duration
	MaxAttempts       int
	MaxAttemptsPerRun int
	Scope             models.ListingFilter
	Backoff           utils.RetryConfig
}

// Orchestrator runs market evaluations: comparables, aggregates, one
// rate-limited reasoning call per listing, then an upsert of the verdict.
type Orchestrator struct {
	store    EvaluationStore
	reasoner Reasoner
	selector *ComparableSelector
	limiter  *rate.Limiter
	cfg      EvaluationConfig
	now      func() time.Time
	log      zerolog.Logger
}

// NewOrchestrator creates an orchestrator. Calls are spaced by cfg.MinSpacing.
func NewOrchestrator(store EvaluationStore, reasoner Reasoner, selector *ComparableSelector, cfg EvaluationConfig, log zerolog.Logger) *Orchestrator {
	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		store:    store,
		reasoner: reasoner,
		selector: selector,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("component", "evaluator").Logger(),
	}
}

// WithClock replaces the clock used for evaluation timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Evaluate classifies one subject and replaces its stored evaluation.
func (o *Orchestrator) Evaluate(ctx context.Context, subject *models.CanonicalListing, comparables []*models.CanonicalListing, aggs models.MarketAggregates) (models.Classification, error) {
	if len(comparables) == 0 || len(comparables) < o.selector.criteria.MinCount {
		return models.Classification{}, fmt.Errorf("classify %s with %d comparables: %w",
			subject.ID, len(comparables), models.ErrInsufficientData)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return models.Classification{}, err
	}

	callCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	resp, err := o.reasoner.Classify(callCtx, reasoning.NewRequest(subject, comparables, aggs))
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !models.IsTransient(err) {
			err = models.Transient("reasoning", err)
		}
		return models.Classification{}, fmt.Errorf("classify %s: %w", subject.ID, err)
	}

	c := models.Classification{
		Label:      models.Label(resp.Label),
		Confidence: resp.Confidence,
		Rationale:  resp.Rationale,
	}
	if !c.Label.Valid() || c.Confidence < 0 || c.Confidence > 1 {
		return models.Classification{}, fmt.Errorf("classify %s: label %q confidence %v: %w",
			subject.ID, resp.Label, resp.Confidence, ErrInvalidClassification)
	}

	ev := &models.MarketEvaluation{
		ListingID:       subject.ID,
		Classification:  c,
		Aggregates:      aggs,
		ComparableCount: len(comparables),
		Model:           o.reasoner.Model(),
		EvaluatedAt:     o.now().UTC(),
		ModelName:       subject.ModelName,
		Price:           subject.Price,
		Address:         subject.Address,
		BuilderName:     subject.BuilderName,
		Community:       subject.CommunityName,
	}
	if err := o.store.UpsertEvaluation(ctx, ev); err != nil {
		return models.Classification{}, fmt.Errorf("store evaluation %s: %w", subject.ID, err)
	}
	return c, nil
}

// evalTask is one queued evaluation.
type evalTask struct {
	subject     *models.CanonicalListing
	comparables []*models.CanonicalListing
	aggs        models.MarketAggregates
	attempts    int
	notBefore   time.Time
}

// Run evaluates every listing in scope. Listings without enough comparables
// are skipped without touching their stored evaluation. Transient failures are
// re-queued with exponential backoff until the task or the run runs out of
// attempts; tasks left when the run cap is hit are reported as deferred.
// Only a failure to read the store fails the run.
func (o *Orchestrator) Run(ctx context.Context) (models.EvaluationSummary, error) {
	var summary models.EvaluationSummary

	subjects, err := o.store.ListListings(ctx, o.cfg.Scope)
	if err != nil {
		return summary, fmt.Errorf("evaluation run: %w", err)
	}
	pool, err := o.store.ListListings(ctx, models.ListingFilter{})
	if err != nil {
		return summary, fmt.Errorf("evaluation run: %w", err)
	}

	var queue []*evalTask
	for _, s := range subjects {
		summary.Considered++
		comps := o.selector.FindComparables(s, pool)
		aggs, err := Aggregate(comps)
		if err != nil {
			o.log.Debug().Str("listing_id", s.ID).Int("comparables", len(comps)).Msg("Skipping listing with insufficient comparables")
			summary.Skipped++
			continue
		}
		queue = append(queue, &evalTask{subject: s, comparables: comps, aggs: aggs})
	}

	for len(queue) > 0 {
		if o.cfg.MaxAttemptsPerRun > 0 && summary.Attempts >= o.cfg.MaxAttemptsPerRun {
			o.log.Warn().Int("deferred", len(queue)).Msg("Per-run attempt cap reached")
			summary.Deferred += len(queue)
			break
		}

		i := nextTask(queue)
		task := queue[i]
		queue = append(queue[:i], queue[i+1:]...)

		if err := sleepUntil(ctx, task.notBefore); err != nil {
			summary.Deferred += len(queue) + 1
			return summary, err
		}

		task.attempts++
		summary.Attempts++
		_, err := o.Evaluate(ctx, task.subject, task.comparables, task.aggs)
		switch {
		case err == nil:
			summary.Evaluated++
		case ctx.Err() != nil:
			summary.Deferred += len(queue) + 1
			return summary, ctx.Err()
		case models.IsTransient(err) && task.attempts < o.cfg.MaxAttempts:
			delay := o.cfg.Backoff.Backoff(task.attempts)
			o.log.Warn().Err(err).Str("listing_id", task.subject.ID).Int("attempt", task.attempts).Dur("retry_in", delay).Msg("Evaluation failed, re-queued")
			task.notBefore = time.Now().Add(delay)
			queue = append(queue, task)
		default:
			o.log.Error().Err(err).Str("listing_id", task.subject.ID).Int("attempt", task.attempts).Msg("Evaluation failed")
			summary.Failed++
			summary.Errors = append(summary.Errors, models.ItemError{Key: task.subject.ID, Reason: err.Error()})
		}
	}

	o.log.Info().
		Int("considered", summary.Considered).
		Int("evaluated", summary.Evaluated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("deferred", summary.Deferred).
		Int("attempts", summary.Attempts).
		Msg("Evaluation run complete")
	return summary, nil
}

// nextTask picks the task that becomes ready first, oldest on ties.
func nextTask(queue []*evalTask) int {
	best := 0
	for i, t := range queue[1:] {
		if t.notBefore.Before(queue[best].notBefore) {
			best = i + 1
		}
	}
	return best
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
