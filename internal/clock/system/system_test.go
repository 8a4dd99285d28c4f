package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowIsUTC(t *testing.T) {
	t.Parallel()

	now := New().Now()
	require.Equal(t, time.UTC, now.Location())
	require.WithinDuration(t, time.Now().UTC(), now, time.Second)
}

func TestSleeperPauseHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	NewSleeper().Pause(ctx, time.Minute)
	require.Less(t, time.Since(start), time.Second)
}

func TestSleeperPauseSkipsNonPositiveDelay(t *testing.T) {
	t.Parallel()

	start := time.Now()
	NewSleeper().Pause(context.Background(), 0)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
