package upsert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/storage/memory"
	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleRecord() tracker.Record {
	return tracker.Record{
		Name:               "Acme Labs",
		PriceHigh:          dec("100"),
		IssueSize:          dec("1020.5"),
		GreyMarketPremium:  dec("12"),
		RetailSubscription: dec("2.3"),
		StatusText:         "Open",
		Status:             tracker.StatusOpen,
	}
}

func newEngine(store tracker.ListingStore) (*Engine, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return New(store, clock, zap.NewNop()), clock
}

// TestApplyIsIdempotent writes once and then leaves the row untouched.
func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewListingStore()
	engine, clock := newEngine(store)

	res, err := engine.Apply(ctx, []tracker.Record{sampleRecord()})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	first, err := store.All(ctx)
	require.NoError(t, err)
	require.Equal(t, tracker.StatusOpen, first[0].Status)

	clock.advance(time.Hour)
	res, err = engine.Apply(ctx, []tracker.Record{sampleRecord()})
	require.NoError(t, err)
	require.Equal(t, Result{Unchanged: 1}, res)

	second, err := store.All(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// TestApplyReportsOnlyChangedFields updates GMP alone and bumps the timestamp.
func TestApplyReportsOnlyChangedFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewListingStore()
	engine, clock := newEngine(store)

	_, err := engine.Apply(ctx, []tracker.Record{sampleRecord()})
	require.NoError(t, err)

	clock.advance(time.Hour)
	rec := sampleRecord()
	rec.Name = "ACME LABS"
	rec.GreyMarketPremium = dec("15")
	res, err := engine.Apply(ctx, []tracker.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, []tracker.Field{tracker.FieldGreyMarketPremium}, res.Changes[0].Fields)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Acme Labs", all[0].Name)
	require.True(t, all[0].GreyMarketPremium.Equal(dec("15")))
	require.Equal(t, clock.now, all[0].LastObservedAt)
	require.True(t, all[0].FirstSeenAt.Before(all[0].LastObservedAt))
}

// TestApplyIgnoresZeroSentinels keeps stored values when a source omits them.
func TestApplyIgnoresZeroSentinels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewListingStore()
	engine, _ := newEngine(store)

	listed := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	full := sampleRecord()
	full.BestCategory = "QIB"
	full.ListingDate = &listed
	full.ListingGain = dec("-4.5")
	_, err := engine.Apply(ctx, []tracker.Record{full})
	require.NoError(t, err)

	res, err := engine.Apply(ctx, []tracker.Record{{Name: "Acme Labs"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Unchanged)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Equal(t, "QIB", all[0].BestCategory)
	require.NotNil(t, all[0].ListingDate)
	require.True(t, all[0].ListingGain.Equal(dec("-4.5")))
	require.Equal(t, tracker.StatusListed, all[0].Status)
}

// TestApplyStatusFollowsMergedValues promotes a listing once it lists.
func TestApplyStatusFollowsMergedValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewListingStore()
	engine, _ := newEngine(store)

	_, err := engine.Apply(ctx, []tracker.Record{sampleRecord()})
	require.NoError(t, err)

	res, err := engine.Apply(ctx, []tracker.Record{{Name: "Acme Labs", ListingGain: dec("18.2")}})
	require.NoError(t, err)
	require.Equal(t, []tracker.Field{tracker.FieldListingGain, tracker.FieldStatus}, res.Changes[0].Fields)
	require.Equal(t, tracker.StatusListed, res.Changes[0].Listing.Status)
}

// TestApplyKeepsOpenStatusWithoutStatusText alternates a source with a status column
// and one without; the second never downgrades the listing.
func TestApplyKeepsOpenStatusWithoutStatusText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewListingStore()
	engine, clock := newEngine(store)

	_, err := engine.Apply(ctx, []tracker.Record{sampleRecord()})
	require.NoError(t, err)
	first, err := store.All(ctx)
	require.NoError(t, err)

	for range 3 {
		clock.advance(time.Hour)
		res, err := engine.Apply(ctx, []tracker.Record{sampleRecord()})
		require.NoError(t, err)
		require.Equal(t, Result{Unchanged: 1}, res)

		bare := sampleRecord()
		bare.StatusText = ""
		bare.Status = tracker.StatusUpcoming
		res, err = engine.Apply(ctx, []tracker.Record{bare})
		require.NoError(t, err)
		require.Equal(t, Result{Unchanged: 1}, res)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Equal(t, first, all)
	require.Equal(t, tracker.StatusOpen, all[0].Status)

	res, err := engine.Apply(ctx, []tracker.Record{{Name: "Acme Labs", ListingGain: dec("7")}})
	require.NoError(t, err)
	require.Equal(t, tracker.StatusListed, res.Changes[0].Listing.Status)
}

// TestApplyLastWriteWinsWithinBatch applies duplicate names in order.
func TestApplyLastWriteWinsWithinBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewListingStore()
	engine, _ := newEngine(store)

	later := sampleRecord()
	later.GreyMarketPremium = dec("20")
	res, err := engine.Apply(ctx, []tracker.Record{sampleRecord(), later, {Name: "  "}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Skipped)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].GreyMarketPremium.Equal(dec("20")))
}

type failingStore struct {
	*memory.ListingStore
	failOn string
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(tracker.ListingTx) error) error {
	return s.ListingStore.WithinTx(ctx, func(tx tracker.ListingTx) error {
		return fn(&failingTx{ListingTx: tx, failOn: s.failOn})
	})
}

type failingTx struct {
	tracker.ListingTx
	failOn string
}

func (tx *failingTx) Insert(ctx context.Context, l tracker.Listing) (tracker.Listing, error) {
	if l.Name == tx.failOn {
		return tracker.Listing{}, errors.New("disk full")
	}
	return tx.ListingTx.Insert(ctx, l)
}

// TestApplyRollsBackFailedBatch leaves no partial writes behind.
func TestApplyRollsBackFailedBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &failingStore{ListingStore: memory.NewListingStore(), failOn: "Broken"}
	engine, _ := newEngine(store)

	res, err := engine.Apply(ctx, []tracker.Record{sampleRecord(), {Name: "Broken", PriceHigh: dec("1")}})
	require.Error(t, err)
	require.Equal(t, Result{}, res)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	res, err = engine.Apply(ctx, []tracker.Record{sampleRecord()})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
}

// TestChangeEvent carries the change details.
func TestChangeEvent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := Change{
		Listing: tracker.Listing{Name: "Acme", Status: tracker.StatusOpen, LastObservedAt: ts},
		Fields:  []tracker.Field{tracker.FieldGreyMarketPremium},
	}.Event("cycle-1")
	require.Equal(t, tracker.ChangeEvent{
		CycleID:       "cycle-1",
		Name:          "Acme",
		Status:        tracker.StatusOpen,
		ChangedFields: []tracker.Field{tracker.FieldGreyMarketPremium},
		ObservedAt:    ts,
	}, ev)
}
