// Package worker drives one ingestion cycle: every target is fetched, extracted,
// normalized, and applied to the store in turn, with a randomized pause between
// fetches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/normalize"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/upsert"
)

// Default pacing bounds between consecutive fetches.
const (
	DefaultPaceMin = time.Second
	DefaultPaceMax = 2 * time.Second
)

// Extractor pulls raw records out of a page.
type Extractor interface {
	Extract(page tracker.Page) ([]tracker.ExtractedRecord, string)
}

// Applier writes a batch of normalized records.
type Applier interface {
	Apply(ctx context.Context, records []tracker.Record) (upsert.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	PaceMin time.Duration
	PaceMax time.Duration
	// Topic receives change events; empty disables publishing.
	Topic string
}

// Report summarizes one cycle.
type Report struct {
	CycleID       string    `json:"cycle_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Targets       int       `json:"targets"`
	Fetched       int       `json:"fetched"`
	Failed        int       `json:"failed"`
	Empty         int       `json:"empty"`
	Records       int       `json:"records"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Unchanged     int       `json:"unchanged"`
	BatchFailures int       `json:"batch_failures"`
}

// Worker executes cycles. It is not safe for concurrent use; the scheduler runs
// one cycle at a time.
type Worker struct {
	fetcher   tracker.Fetcher
	extractor Extractor
	applier   Applier
	publisher tracker.Publisher
	clock     tracker.Clock
	sleeper   tracker.Sleeper
	ids       tracker.IDGenerator
	cfg       Config
	logger    *zap.Logger
	jitter    func(n int64) int64
}

// New constructs a Worker. publisher may be nil.
func New(
	fetcher tracker.Fetcher,
	extractor Extractor,
	applier Applier,
	publisher tracker.Publisher,
	clock tracker.Clock,
	sleeper tracker.Sleeper,
	ids tracker.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PaceMin <= 0 && cfg.PaceMax <= 0 {
		cfg.PaceMin, cfg.PaceMax = DefaultPaceMin, DefaultPaceMax
	}
	if cfg.PaceMax < cfg.PaceMin {
		cfg.PaceMax = cfg.PaceMin
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		applier:   applier,
		publisher: publisher,
		clock:     clock,
		sleeper:   sleeper,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.Named("worker"),
		jitter:    rand.Int64N,
	}
}

// RunCycle processes targets in order. Failures are isolated to the target that
// produced them; the returned error is non-nil only when ctx ends mid-cycle, in
// which case the partial report is still returned.
func (w *Worker) RunCycle(ctx context.Context, targets []tracker.Target) (Report, error) {
	cycleID, err := w.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("cycle id: %w", err)
	}
	report := Report{CycleID: cycleID, StartedAt: w.clock.Now(), Targets: len(targets)}
	logger := w.logger.With(zap.String("cycle_id", cycleID))
	logger.Info("cycle started", zap.Int("targets", len(targets)))

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return w.finish(logger, report), err
		}
		if i > 0 {
			if err := w.pace(ctx); err != nil {
				return w.finish(logger, report), err
			}
		}
		w.processTarget(ctx, logger, cycleID, target, &report)
	}

	if err := ctx.Err(); err != nil {
		return w.finish(logger, report), err
	}
	return w.finish(logger, report), nil
}

func (w *Worker) finish(logger *zap.Logger, report Report) Report {
	report.FinishedAt = w.clock.Now()
	logger.Info("cycle finished",
		zap.Int("targets", report.Targets),
		zap.Int("fetched", report.Fetched),
		zap.Int("failed", report.Failed),
		zap.Int("empty", report.Empty),
		zap.Int("records", report.Records),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("batch_failures", report.BatchFailures),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report
}

func (w *Worker) pace(ctx context.Context) error {
	delay := w.cfg.PaceMin
	if spread := w.cfg.PaceMax - w.cfg.PaceMin; spread > 0 {
		delay += time.Duration(w.jitter(int64(spread) + 1))
	}
	telemetry.ObservePacingDelay(delay)
	return w.sleeper.Sleep(ctx, delay)
}

// processTarget handles one target end to end. A panic anywhere in the pipeline
// is contained to this target.
func (w *Worker) processTarget(ctx context.Context, logger *zap.Logger, cycleID string, target tracker.Target, report *Report) {
	logger = logger.With(zap.String("label", target.Label), zap.String("url", target.URL))
	defer func() {
		if r := recover(); r != nil {
			report.Failed++
			logger.Error("target panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	resp, err := w.fetcher.Fetch(ctx, tracker.FetchRequest{URL: target.URL, Label: target.Label})
	if err != nil {
		report.Failed++
		kind := string(tracker.FailureTransport)
		var fetchErr *tracker.FetchError
		if errors.As(err, &fetchErr) {
			kind = string(fetchErr.Kind)
		}
		telemetry.ObserveFetch(target.URL, kind, 0)
		logger.Warn("fetch failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	report.Fetched++
	telemetry.ObserveFetch(target.URL, "ok", len(resp.Body))

	raw, strategy := w.extractor.Extract(tracker.Page{Label: target.Label, URL: resp.URL, Body: resp.Body})
	records := normalize.Records(raw)
	telemetry.ObserveExtraction(strategy, len(records))
	if len(records) == 0 {
		report.Empty++
		logger.Info("no records extracted")
		return
	}
	report.Records += len(records)

	res, err := w.applier.Apply(ctx, records)
	if err != nil {
		report.BatchFailures++
		telemetry.ObserveBatchFailure()
		logger.Error("upsert batch failed", zap.Int("records", len(records)), zap.Error(err))
		return
	}
	report.Inserted += res.Inserted
	report.Updated += res.Updated
	report.Unchanged += res.Unchanged
	telemetry.ObserveUpserts(res.Inserted, res.Updated, res.Unchanged, res.Skipped)
	logger.Debug("batch applied",
		zap.String("strategy", strategy),
		zap.Int("records", len(records)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated))

	w.publishChanges(ctx, logger, cycleID, res.Changes)
}

func (w *Worker) publishChanges(ctx context.Context, logger *zap.Logger, cycleID string, changes []upsert.Change) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	for _, change := range changes {
		if _, err := w.publisher.Publish(ctx, w.cfg.Topic, change.Event(cycleID)); err != nil {
			telemetry.ObservePublishFailure()
			logger.Warn("publish change event failed", zap.String("name", change.Listing.Name), zap.Error(err))
		}
	}
}
