// Package scheduler runs ingestion cycles back to back as a small state machine:
// active, then snapshot, then resting, and around again. Failures that escape a
// cycle move the machine to backoff before it retries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/source"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/worker"
)

// State is a scheduler phase.
type State string

// Scheduler phases.
const (
	StateActive   State = "active"
	StateSnapshot State = "snapshot"
	StateResting  State = "resting"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
)

// States lists every phase, used to reset the state gauge.
var States = []string{
	string(StateActive),
	string(StateSnapshot),
	string(StateResting),
	string(StateBackoff),
	string(StateStopped),
}

// Defaults for Config.
const (
	DefaultRestInterval = time.Minute
	DefaultBackoff      = 30 * time.Second
)

// CycleRunner executes one ingestion cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, targets []tracker.Target) (worker.Report, error)
}

// Exporter rewrites the snapshot.
type Exporter interface {
	Export(ctx context.Context) error
}

// Config controls the duty cycle.
type Config struct {
	Sources []tracker.Source
	// Years goes to source.Expand unchanged; below 1 means the current year only.
	Years        int
	RestInterval time.Duration
	Backoff      time.Duration
}

// Status is the externally visible scheduler state.
type Status struct {
	State      State          `json:"state"`
	Cycles     int            `json:"cycles"`
	LastReport *worker.Report `json:"last_report,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
}

// Scheduler owns the duty cycle. Cycles never overlap.
type Scheduler struct {
	cfg      Config
	runner   CycleRunner
	exporter Exporter
	clock    tracker.Clock
	sleeper  tracker.Sleeper
	logger   *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New constructs a Scheduler. exporter may be nil.
func New(
	cfg Config,
	runner CycleRunner,
	exporter Exporter,
	clock tracker.Clock,
	sleeper tracker.Sleeper,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RestInterval <= 0 {
		cfg.RestInterval = DefaultRestInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		exporter: exporter,
		clock:    clock,
		sleeper:  sleeper,
		logger:   logger.Named("scheduler"),
		status:   Status{State: StateStopped},
	}
}

// Run drives the machine until ctx ends and returns nil on a clean stop.
func (s *Scheduler) Run(ctx context.Context) error {
	state := StateActive
	for {
		if ctx.Err() != nil {
			state = StateStopped
		}
		s.setState(state)

		switch state {
		case StateActive:
			state = s.afterStep(ctx, s.guard(ctx, s.runActive), StateSnapshot)
		case StateSnapshot:
			state = s.afterStep(ctx, s.guard(ctx, s.runSnapshot), StateResting)
		case StateResting:
			state = s.wait(ctx, s.cfg.RestInterval)
		case StateBackoff:
			state = s.wait(ctx, s.cfg.Backoff)
		case StateStopped:
			s.logger.Info("scheduler stopped")
			return nil
		default:
			return fmt.Errorf("unknown scheduler state %q", state)
		}
	}
}

// RunOnce performs a single active and snapshot pass.
func (s *Scheduler) RunOnce(ctx context.Context) (worker.Report, error) {
	defer s.setState(StateStopped)

	s.setState(StateActive)
	if err := s.guard(ctx, s.runActive); err != nil {
		return s.lastReport(), err
	}
	s.setState(StateSnapshot)
	if err := s.guard(ctx, s.runSnapshot); err != nil {
		return s.lastReport(), err
	}
	return s.lastReport(), nil
}

// Status returns a copy of the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	if out.LastReport != nil {
		report := *out.LastReport
		out.LastReport = &report
	}
	return out
}

func (s *Scheduler) afterStep(ctx context.Context, err error, next State) State {
	if err == nil {
		return next
	}
	if ctx.Err() != nil {
		return StateStopped
	}
	s.logger.Error("cycle step failed; backing off", zap.Duration("backoff", s.cfg.Backoff), zap.Error(err))
	return StateBackoff
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) State {
	if err := s.sleeper.Sleep(ctx, d); err != nil {
		return StateStopped
	}
	return StateActive
}

// guard runs step and converts a panic into an error.
func (s *Scheduler) guard(ctx context.Context, step func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler step panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
			s.setError(err)
		}
	}()
	return step(ctx)
}

func (s *Scheduler) runActive(ctx context.Context) error {
	start := s.clock.Now()
	targets, skipped := source.Expand(s.cfg.Sources, start, s.cfg.Years)
	for _, skip := range skipped {
		s.logger.Warn("source skipped", zap.Error(skip))
	}

	report, err := s.runner.RunCycle(ctx, targets)
	duration := s.clock.Now().Sub(start)
	s.recordCycle(report, err)
	telemetry.ObserveCycle(err == nil, duration)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}
	return nil
}

func (s *Scheduler) runSnapshot(ctx context.Context) error {
	if s.exporter == nil {
		return nil
	}
	if err := s.exporter.Export(ctx); err != nil {
		s.setError(err)
		return fmt.Errorf("export snapshot: %w", err)
	}
	return nil
}

func (s *Scheduler) recordCycle(report worker.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Cycles++
	if report.CycleID != "" {
		s.status.LastReport = &report
	}
	s.status.LastError = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		s.status.LastError = err.Error()
	}
}

func (s *Scheduler) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
}

func (s *Scheduler) lastReport() worker.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status.LastReport == nil {
		return worker.Report{}
	}
	return *s.status.LastReport
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	prev := s.status.State
	s.status.State = state
	s.mu.Unlock()
	telemetry.SetSchedulerState(string(state), States)
	if prev != state {
		s.logger.Debug("scheduler state", zap.String("from", string(prev)), zap.String("to", string(state)))
	}
}
