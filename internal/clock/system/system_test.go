// Package system exercises the real-time clock adapter.
package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

// TestSleepCompletes waits out a short duration.
func TestSleepCompletes(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, New().Sleep(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

// TestSleepInterrupted returns promptly when the context ends.
func TestSleepInterrupted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := New().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)

	require.ErrorIs(t, New().Sleep(ctx, 0), context.Canceled)
}
