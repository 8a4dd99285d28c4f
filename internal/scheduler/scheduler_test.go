package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingStarter struct {
	mu    sync.Mutex
	calls int
	reset bool
	err   error
}

func (c *countingStarter) StartCrawl(_ context.Context, reset bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.reset = reset
	return c.err
}

func (c *countingStarter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// TestTriggerStartsIncrementalCrawl always launches without reset.
func TestTriggerStartsIncrementalCrawl(t *testing.T) {
	t.Parallel()

	starter := &countingStarter{}
	s, err := New(context.Background(), starter, time.Hour, nil)
	require.NoError(t, err)

	s.trigger()
	require.Equal(t, 1, starter.count())
	require.False(t, starter.reset)
}

// TestTriggerSwallowsCrawlError logs and continues; a failed cycle must not
// kill the scheduler.
func TestTriggerSwallowsCrawlError(t *testing.T) {
	t.Parallel()

	starter := &countingStarter{err: errors.New("cycle failed")}
	s, err := New(context.Background(), starter, time.Hour, nil)
	require.NoError(t, err)

	require.NotPanics(t, s.trigger)
	require.Equal(t, 1, starter.count())
}

// TestSchedulerFiresOnInterval runs the cron loop with a short interval and
// waits for at least one trigger.
func TestSchedulerFiresOnInterval(t *testing.T) {
	t.Parallel()

	starter := &countingStarter{}
	s, err := New(context.Background(), starter, time.Second, nil)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return starter.count() >= 1
	}, 5*time.Second, 50*time.Millisecond)
}
