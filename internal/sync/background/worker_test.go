package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/classboard/observesync/internal/sync"
)

type fakeFlusher struct {
	calls  atomic.Int64
	result syncpkg.PassResult
	err    error
	block  chan struct{}
}

func (f *fakeFlusher) Flush(ctx context.Context) (syncpkg.PassResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return syncpkg.PassResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorker_WakeRunsFlushAndRelaysOutcome(t *testing.T) {
	t.Parallel()

	f := &fakeFlusher{result: syncpkg.PassResult{Delivered: 3}}
	w := NewWorker(f)
	startWorker(t, w)

	w.Wake()

	select {
	case outcome := <-w.Outcomes():
		assert.Equal(t, 3, outcome.Result.Delivered)
		assert.NoError(t, outcome.Err)
		assert.False(t, outcome.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("expected an outcome")
	}

	assert.Equal(t, int64(1), f.calls.Load())
}

func TestWorker_RelaysFlushError(t *testing.T) {
	t.Parallel()

	f := &fakeFlusher{err: errors.New("queue read failed")}
	w := NewWorker(f)
	startWorker(t, w)

	w.Wake()

	select {
	case outcome := <-w.Outcomes():
		assert.Error(t, outcome.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an outcome")
	}
}

func TestWorker_ProcessesWakesSequentially(t *testing.T) {
	t.Parallel()

	f := &fakeFlusher{block: make(chan struct{})}
	w := NewWorker(f)
	startWorker(t, w)

	w.Wake()
	w.Wake()

	// Only the first wake is in flight while the flusher blocks
	require.Eventually(t, func() bool {
		return f.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), f.calls.Load())

	close(f.block)

	require.Eventually(t, func() bool {
		return f.calls.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_WakeNeverBlocks(t *testing.T) {
	t.Parallel()

	// No Run loop draining the mailbox
	w := NewWorker(&fakeFlusher{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range mailboxSize * 3 {
			w.Wake()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake blocked on a full mailbox")
	}
}

func TestWorker_WakeTimeoutBoundsPass(t *testing.T) {
	t.Parallel()

	f := &fakeFlusher{block: make(chan struct{})}
	w := NewWorker(f, WithWakeTimeout(50*time.Millisecond))
	startWorker(t, w)

	w.Wake()

	select {
	case outcome := <-w.Outcomes():
		assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a timed-out outcome")
	}
}
