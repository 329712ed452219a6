package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/worker"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// scriptedSleeper records waits and cancels ctx once limit waits have been made.
type scriptedSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (s *scriptedSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()
	if n >= s.limit {
		s.cancel()
	}
	return ctx.Err()
}

type step struct {
	err   error
	panic bool
}

type fakeRunner struct {
	mu      sync.Mutex
	steps   []step
	targets [][]tracker.Target
}

func (r *fakeRunner) RunCycle(_ context.Context, targets []tracker.Target) (worker.Report, error) {
	r.mu.Lock()
	n := len(r.targets)
	r.targets = append(r.targets, targets)
	r.mu.Unlock()
	var st step
	if n < len(r.steps) {
		st = r.steps[n]
	}
	if st.panic {
		panic("boom")
	}
	return worker.Report{CycleID: "c", Targets: len(targets)}, st.err
}

type fakeExporter struct {
	calls int
	err   error
}

func (e *fakeExporter) Export(context.Context) error {
	e.calls++
	return e.err
}

var testSources = []tracker.Source{
	{Name: "Chittorgarh", URL: "https://example.test/report", Partitioned: true},
	{Name: "Broken"},
}

func newScheduler(runner CycleRunner, exporter Exporter, sleeper tracker.Sleeper) *Scheduler {
	return New(
		Config{Sources: testSources, Years: 2, RestInterval: 45 * time.Second, Backoff: 10 * time.Second},
		runner,
		exporter,
		fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		sleeper,
		zap.NewNop(),
	)
}

// TestRunRestsBetweenCycles alternates active, snapshot, and resting.
func TestRunRestsBetweenCycles(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &scriptedSleeper{limit: 2, cancel: cancel}
	runner := &fakeRunner{}
	exporter := &fakeExporter{}
	s := newScheduler(runner, exporter, sleeper)

	require.NoError(t, s.Run(ctx))

	require.Len(t, runner.targets, 2)
	require.Len(t, runner.targets[0], 6)
	require.Equal(t, 2, exporter.calls)
	require.Equal(t, []time.Duration{45 * time.Second, 45 * time.Second}, sleeper.waits)

	status := s.Status()
	require.Equal(t, StateStopped, status.State)
	require.Equal(t, 2, status.Cycles)
	require.NotNil(t, status.LastReport)
	require.Equal(t, 6, status.LastReport.Targets)
}

// TestRunBacksOffAfterFailure waits the backoff after errors and panics.
func TestRunBacksOffAfterFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &scriptedSleeper{limit: 3, cancel: cancel}
	runner := &fakeRunner{steps: []step{{err: errors.New("id source down")}, {panic: true}}}
	s := newScheduler(runner, &fakeExporter{}, sleeper)

	require.NoError(t, s.Run(ctx))

	require.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 45 * time.Second}, sleeper.waits)
	require.Len(t, runner.targets, 3)
}

// TestRunBacksOffAfterSnapshotFailure treats export errors like cycle errors.
func TestRunBacksOffAfterSnapshotFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &scriptedSleeper{limit: 1, cancel: cancel}
	s := newScheduler(&fakeRunner{}, &fakeExporter{err: errors.New("disk full")}, sleeper)

	require.NoError(t, s.Run(ctx))
	require.Equal(t, []time.Duration{10 * time.Second}, sleeper.waits)
	require.Contains(t, s.Status().LastError, "disk full")
}

// TestRunStopsWhenAlreadyCanceled never starts a cycle.
func TestRunStopsWhenAlreadyCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	s := newScheduler(runner, nil, &scriptedSleeper{limit: 1, cancel: cancel})

	require.NoError(t, s.Run(ctx))
	require.Empty(t, runner.targets)
}

// TestRunStopsOnInterruptedCycle skips backoff when the cycle ends from cancellation.
func TestRunStopsOnInterruptedCycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancelingRunner{cancel: cancel}
	sleeper := &scriptedSleeper{limit: 1, cancel: cancel}
	exporter := &fakeExporter{}
	s := newScheduler(runner, exporter, sleeper)

	require.NoError(t, s.Run(ctx))
	require.Empty(t, sleeper.waits)
	require.Zero(t, exporter.calls)
	require.Empty(t, s.Status().LastError)
}

type cancelingRunner struct{ cancel context.CancelFunc }

func (r *cancelingRunner) RunCycle(ctx context.Context, _ []tracker.Target) (worker.Report, error) {
	r.cancel()
	return worker.Report{CycleID: "partial"}, ctx.Err()
}

// TestRunOnce runs one cycle and one export.
func TestRunOnce(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	exporter := &fakeExporter{}
	s := newScheduler(runner, exporter, nil)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, report.Targets)
	require.Equal(t, 1, exporter.calls)
	require.Equal(t, StateStopped, s.Status().State)

	runner.steps = []step{{}, {panic: true}}
	_, err = s.RunOnce(context.Background())
	require.ErrorContains(t, err, "panic: boom")
}

// TestNewDefaults fills in durations and leaves years alone.
func TestNewDefaults(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil, nil, nil, nil)
	require.Equal(t, DefaultRestInterval, s.cfg.RestInterval)
	require.Equal(t, DefaultBackoff, s.cfg.Backoff)
	require.Zero(t, s.cfg.Years)
}

// TestRunOnceZeroYearsExpandsCurrentYear runs only the current year's segments.
func TestRunOnceZeroYearsExpandsCurrentYear(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := New(
		Config{Sources: testSources, Years: 0},
		runner,
		&fakeExporter{},
		fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		nil,
		zap.NewNop(),
	)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Targets)
	require.Len(t, runner.targets, 1)
	for _, target := range runner.targets[0] {
		require.Contains(t, target.URL, "year=2026")
	}
}
