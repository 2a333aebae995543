// Package background runs flush passes on behalf of wake signals that
// arrive from outside the main application loop, such as a platform
// background-fetch slot or a deploy hook.
package background

import (
	"context"
	"log/slog"
	"time"

	syncpkg "github.com/classboard/observesync/internal/sync"
)

const (
	// DefaultWakeTimeout bounds the work done per wake. Background
	// execution slots are short; an unfinished flush resumes on the next
	// trigger.
	DefaultWakeTimeout = 25 * time.Second

	mailboxSize = 8
)

// Flusher runs one synchronous flush pass.
type Flusher interface {
	Flush(ctx context.Context) (syncpkg.PassResult, error)
}

// Outcome reports the result of one background wake.
type Outcome struct {
	Result syncpkg.PassResult
	Err    error
	At     time.Time
}

// Worker is a single-goroutine actor. Wake signals land in its mailbox
// and are processed strictly one at a time; a signal arriving during a
// pass queues behind it instead of starting a concurrent one. Outcomes
// are relayed on a channel rather than through shared state.
type Worker struct {
	flusher     Flusher
	wakeTimeout time.Duration

	mailbox chan struct{}
	out     chan Outcome
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithWakeTimeout overrides the per-wake time budget.
func WithWakeTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.wakeTimeout = d
	}
}

// NewWorker creates a background worker driving the given flusher.
func NewWorker(flusher Flusher, opts ...WorkerOption) *Worker {
	w := &Worker{
		flusher:     flusher,
		wakeTimeout: DefaultWakeTimeout,
		mailbox:     make(chan struct{}, mailboxSize),
		out:         make(chan Outcome, mailboxSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wake signals the worker to run a flush pass. It never blocks; with a
// full mailbox the signal is dropped, the queued wakes already cover it.
func (w *Worker) Wake() {
	select {
	case w.mailbox <- struct{}{}:
	default:
	}
}

// Outcomes returns the channel on which per-wake results are relayed.
// Delivery is best-effort; a slow reader loses the oldest outcome first.
func (w *Worker) Outcomes() <-chan Outcome {
	return w.out
}

// Run processes wake signals until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.mailbox:
			w.handleWake(ctx)
		}
	}
}

func (w *Worker) handleWake(ctx context.Context) {
	wakeCtx, cancel := context.WithTimeout(ctx, w.wakeTimeout)
	defer cancel()

	res, err := w.flusher.Flush(wakeCtx)
	if err != nil {
		slog.Warn("Background flush did not complete", "error", err)
	}

	outcome := Outcome{Result: res, Err: err, At: time.Now()}
	select {
	case w.out <- outcome:
	default:
		select {
		case <-w.out:
		default:
		}
		w.out <- outcome
	}
}
