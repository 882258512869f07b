package dncpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	var done atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			done.Add(1)
		}))
	}
	wg.Wait()
	require.Equal(t, int64(8), done.Load())

	c := p.Counters()
	require.Equal(t, int64(8), c.Submitted)
	require.Zero(t, c.Panicked)
}

func TestPoolSubmitAfterShutdownFails(t *testing.T) {
	p := New(1)
	p.Shutdown()
	err := p.Submit(context.Background(), func() {})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolSubmitHonorsContextCancellation(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	// Occupy the single worker and fill its one buffer slot so the next
	// Submit must block on the context.
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, p.Submit(context.Background(), func() { <-block }))
	require.NoError(t, p.Submit(context.Background(), func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, func() {})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPoolRecoversFromPanickingTask(t *testing.T) {
	p := New(1)
	defer p.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), func() {
		defer wg.Done()
		panic("subquery blew up")
	}))
	wg.Wait()

	// The worker survives and keeps executing.
	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), func() { wg.Done() }))
	wg.Wait()

	c := p.Counters()
	require.Equal(t, int64(1), c.Panicked)
	require.Error(t, c.LastErr)
	require.Equal(t, int64(1), c.Completed, "the panicking task does not count as completed")
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	p := New(2)
	p.Shutdown()
	p.Shutdown()
}

func TestWatchdogFlagsSilentSubquery(t *testing.T) {
	w := NewWatchdog(50 * time.Millisecond)
	defer w.Close()

	w.Watch("sq-1")
	select {
	case id := <-w.Stalled():
		require.Equal(t, "sq-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a stalled alert for sq-1")
	}
}

func TestWatchdogProgressSuppressesAlert(t *testing.T) {
	w := NewWatchdog(200 * time.Millisecond)
	defer w.Close()

	w.Watch("sq-2")
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case <-deadline:
			select {
			case id := <-w.Stalled():
				t.Fatalf("unexpected stalled alert for %s", id)
			default:
			}
			return
		case <-time.After(20 * time.Millisecond):
			w.Progress("sq-2")
		}
	}
}

func TestWatchdogDoneStopsTracking(t *testing.T) {
	w := NewWatchdog(50 * time.Millisecond)
	defer w.Close()

	w.Watch("sq-3")
	w.Done("sq-3")
	select {
	case id := <-w.Stalled():
		t.Fatalf("unexpected stalled alert for %s", id)
	case <-time.After(200 * time.Millisecond):
	}
}
