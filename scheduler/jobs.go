package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"newhome-tracker/models"
)

// BatchIngester reconciles one scraped batch.
type BatchIngester interface {
	Ingest(ctx context.Context, batch *models.Batch) (models.BatchSummary, error)
}

// EvaluationRunner runs one market evaluation pass.
type EvaluationRunner interface {
	Run(ctx context.Context) (models.EvaluationSummary, error)
}

// ListingSweeper runs one garbage-collection pass.
type ListingSweeper interface {
	Sweep(ctx context.Context) (models.SweepResult, error)
}

// LoadBatch decodes a batch file. A batch without an ID is named after its file.
func LoadBatch(path string) (*models.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", path, err)
	}

	var batch models.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", path, err)
	}
	if batch.ID == "" {
		batch.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &batch, nil
}

// IngestJob drains *.json batch files from an inbox directory in name order.
// Ingested files move to processed/, undecodable ones to failed/. A file whose
// ingest fails stays in the inbox for the next run.
type IngestJob struct {
	ctx      context.Context
	inbox    string
	ingester BatchIngester
	log      zerolog.Logger
}

// NewIngestJob creates an inbox ingest job.
func NewIngestJob(ctx context.Context, inbox string, ingester BatchIngester, log zerolog.Logger) *IngestJob {
	return &IngestJob{
		ctx:      ctx,
		inbox:    inbox,
		ingester: ingester,
		log:      log.With().Str("job", "ingest").Logger(),
	}
}

func (j *IngestJob) Name() string { return "ingest" }

func (j *IngestJob) Run() error {
	files, err := filepath.Glob(filepath.Join(j.inbox, "*.json"))
	if err != nil {
		return fmt.Errorf("scan inbox: %w", err)
	}
	if len(files) == 0 {
		j.log.Debug().Str("inbox", j.inbox).Msg("Inbox empty")
		return nil
	}
	sort.Strings(files)

	for _, path := range files {
		if err := j.ctx.Err(); err != nil {
			return err
		}

		batch, err := LoadBatch(path)
		if err != nil {
			j.log.Error().Err(err).Str("file", path).Msg("Rejecting batch file")
			if mvErr := j.move(path, "failed"); mvErr != nil {
				return mvErr
			}
			continue
		}

		summary, err := j.ingester.Ingest(j.ctx, batch)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", filepath.Base(path), err)
		}
		j.log.Info().
			Str("file", filepath.Base(path)).
			Str("batch_id", summary.BatchID).
			Int("created", summary.Created).
			Int("price_changed", summary.PriceChanged).
			Int("errored", summary.Errored).
			Msg("Batch file ingested")

		if err := j.move(path, "processed"); err != nil {
			return err
		}
	}
	return nil
}

func (j *IngestJob) move(path, sub string) error {
	dir := filepath.Join(j.inbox, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("move %s: %w", path, err)
	}
	return nil
}

// EvaluateJob runs the market evaluation orchestrator.
type EvaluateJob struct {
	ctx    context.Context
	runner EvaluationRunner
	log    zerolog.Logger
}

func NewEvaluateJob(ctx context.Context, runner EvaluationRunner, log zerolog.Logger) *EvaluateJob {
	return &EvaluateJob{ctx: ctx, runner: runner, log: log.With().Str("job", "evaluate").Logger()}
}

func (j *EvaluateJob) Name() string { return "evaluate" }

func (j *EvaluateJob) Run() error {
	summary, err := j.runner.Run(j.ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		j.log.Warn().Int("failed", summary.Failed).Msg("Some evaluations failed")
	}
	return nil
}

// SweepJob runs the garbage collector.
type SweepJob struct {
	ctx     context.Context
	sweeper ListingSweeper
	log     zerolog.Logger
}

func NewSweepJob(ctx context.Context, sweeper ListingSweeper, log zerolog.Logger) *SweepJob {
	return &SweepJob{ctx: ctx, sweeper: sweeper, log: log.With().Str("job", "sweep").Logger()}
}

func (j *SweepJob) Name() string { return "sweep" }

func (j *SweepJob) Run() error {
	_, err := j.sweeper.Sweep(j.ctx)
	return err
}
