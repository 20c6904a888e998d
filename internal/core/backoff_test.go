package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireWithinJitter(t *testing.T, d, center time.Duration) {
	t.Helper()
	delta := center / 5
	require.GreaterOrEqual(t, d, center-delta)
	require.LessOrEqual(t, d, center+delta)
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 10 * time.Second}

	requireWithinJitter(t, b.Next(), time.Second)
	requireWithinJitter(t, b.Next(), 2*time.Second)
	requireWithinJitter(t, b.Next(), 4*time.Second)
	requireWithinJitter(t, b.Next(), 8*time.Second)
	requireWithinJitter(t, b.Next(), 10*time.Second)
	requireWithinJitter(t, b.Next(), 10*time.Second)
}

func TestBackoffResetRestartsSchedule(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: time.Minute}
	b.Next()
	b.Next()
	b.Reset()
	requireWithinJitter(t, b.Next(), time.Second)
}

func TestBackoffZeroValueProducesZeroDelays(t *testing.T) {
	b := &Backoff{}
	require.Zero(t, b.Next())
	require.Zero(t, b.Next())
}

func TestSleepElapsesWithoutCancellation(t *testing.T) {
	require.True(t, Sleep(context.Background(), time.Millisecond))
	require.True(t, Sleep(context.Background(), 0))
}

func TestSleepReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, Sleep(ctx, 50*time.Millisecond))
	require.False(t, Sleep(ctx, 0))
}
