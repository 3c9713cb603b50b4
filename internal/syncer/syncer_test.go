package syncer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncerTicksAndStops(t *testing.T) {
	var calls int32
	s := New(20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	seen := atomic.LoadInt32(&calls)
	assert.GreaterOrEqual(t, seen, int32(2))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, atomic.LoadInt32(&calls))
}

func TestSyncerErrorDoesNotStopLoop(t *testing.T) {
	var calls int32
	s := New(15*time.Millisecond, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return assertErr
		}
		return nil
	})

	s.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestSyncerDefaultIntervalWhenZero(t *testing.T) {
	s := New(0, func(ctx context.Context) error { return nil })
	assert.Greater(t, s.interval, time.Duration(0))
}

var assertErr = &syncTestError{}

type syncTestError struct{}

func (e *syncTestError) Error() string { return "syncer: simulated failure" }
