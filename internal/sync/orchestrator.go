package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/classboard/observesync/internal/connectivity"
	"github.com/classboard/observesync/internal/queue"
	"github.com/classboard/observesync/internal/status"
	"github.com/classboard/observesync/internal/telemetry"
	"github.com/classboard/observesync/internal/transport"
)

const (
	// DefaultFlushInterval is the periodic flush cadence while online
	DefaultFlushInterval = 30 * time.Second

	// DefaultMaxRetries is the delivery retry budget per record
	DefaultMaxRetries = 3
)

// SubmitOutcome tells the caller what happened to a single write. The UI
// must always be able to distinguish "saved" from "queued offline"; a
// write is never silently dropped.
type SubmitOutcome int

const (
	// OutcomeSaved means the write reached the server directly
	OutcomeSaved SubmitOutcome = iota

	// OutcomeQueued means the write was captured for a later flush
	OutcomeQueued
)

// FailureEvent is emitted once per record whose retry budget is
// exhausted. It names the record's target and action so the UI can tell
// the user which write was lost.
type FailureEvent struct {
	TargetPath string
	Action     queue.Action
	LastError  string
}

// PassResult summarizes one flush pass.
type PassResult struct {
	// Delivered is the number of records acknowledged and removed
	Delivered int

	// Retried is the number of records left pending with a bumped
	// retry count
	Retried int

	// Evicted is the number of records removed after exhausting the
	// retry budget
	Evicted int
}

// Orchestrator coordinates the durable queue, the connectivity monitor,
// the delivery transport and the status publisher. It is constructed once
// at startup and injected wherever a trigger source lives; it holds no
// ambient global state.
type Orchestrator struct {
	store     queue.Store
	monitor   connectivity.Monitor
	publisher *status.Publisher
	deliverer transport.Deliverer
	lastSync  *status.LastSyncStore
	metrics   *telemetry.SyncMetrics

	userID     string
	interval   time.Duration
	maxRetries int

	// Trigger coalescing. pendingExplicit is sticky across coalesced
	// triggers so an explicit request keeps its empty-queue semantics;
	// pendingProbe marks a recovery attempt that may run while the
	// monitor reads offline.
	mu              sync.Mutex
	pending         bool
	pendingExplicit bool
	pendingProbe    bool
	waiters         []chan PassResult
	kick            chan struct{}

	failMu     sync.Mutex
	failNextID int
	failSubs   map[int]chan FailureEvent
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithFlushInterval overrides the periodic flush cadence. Zero disables
// the timer entirely (useful in tests).
func WithFlushInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.interval = d
	}
}

// WithMaxRetries overrides the per-record retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.maxRetries = n
	}
}

// WithLastSyncStore persists the last successful flush time across
// restarts.
func WithLastSyncStore(s *status.LastSyncStore) Option {
	return func(o *Orchestrator) {
		o.lastSync = s
	}
}

// WithMetrics enables sync metrics recording.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator for the given user's queue.
func NewOrchestrator(
	userID string,
	store queue.Store,
	monitor connectivity.Monitor,
	publisher *status.Publisher,
	deliverer transport.Deliverer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		monitor:    monitor,
		publisher:  publisher,
		deliverer:  deliverer,
		userID:     userID,
		interval:   DefaultFlushInterval,
		maxRetries: DefaultMaxRetries,
		kick:       make(chan struct{}, 1),
		failSubs:   make(map[int]chan FailureEvent),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Submit attempts a single write directly against the server. On failure
// due to unreachability the write is captured as a mutation record and
// queued for a later flush; that is reported as OutcomeQueued, not as an
// error. A server-side rejection of the write itself is an error.
func (o *Orchestrator) Submit(ctx context.Context, action queue.Action, targetPath string, payload []byte) (SubmitOutcome, error) {
	if !action.Valid() {
		return 0, fmt.Errorf("unrecognized action kind: %s", action)
	}

	rec := queue.MutationRecord{
		ID:         strconv.FormatInt(time.Now().UnixNano(), 10),
		TargetPath: targetPath,
		Action:     action,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	if !o.monitor.IsOnline() {
		return o.capture(ctx, rec)
	}

	results, err := o.deliverer.Deliver(ctx, o.userID, []queue.MutationRecord{rec})
	switch {
	case err == nil:
		if len(results) == 1 && results[0].Success {
			return OutcomeSaved, nil
		}
		msg := "no result returned"
		if len(results) == 1 {
			msg = results[0].Error
		}
		return 0, fmt.Errorf("server rejected write: %s", msg)

	case errors.Is(err, transport.ErrUnreachable):
		o.monitor.SetOnline(false)
		return o.capture(ctx, rec)

	default:
		var te *transport.TransientError
		if errors.As(err, &te) {
			// Server is up but struggling; the flush passes will retry
			return o.capture(ctx, rec)
		}
		return 0, err
	}
}

// capture appends the record to the durable queue and reports the queued
// outcome. With a degraded queue store the append fails visibly so the
// caller can tell the user the write was not saved.
func (o *Orchestrator) capture(ctx context.Context, rec queue.MutationRecord) (SubmitOutcome, error) {
	if _, err := o.store.Append(ctx, rec); err != nil {
		return 0, fmt.Errorf("write could not be queued: %w", err)
	}
	o.publishPending(ctx)
	return OutcomeQueued, nil
}

// RequestFlush asks for a flush pass. Explicit requests are user-initiated
// and update lastSync even when the queue turns out to be empty. Requests
// arriving while a pass is running coalesce into at most one follow-up
// pass.
func (o *Orchestrator) RequestFlush(explicit bool) {
	o.mu.Lock()
	o.pending = true
	o.pendingExplicit = o.pendingExplicit || explicit
	o.mu.Unlock()

	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// requestProbe schedules a recovery pass that ignores the offline guard.
func (o *Orchestrator) requestProbe() {
	o.mu.Lock()
	o.pending = true
	o.pendingProbe = true
	o.mu.Unlock()

	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Flush requests an explicit flush pass and waits for its result. It
// requires Run to be active.
func (o *Orchestrator) Flush(ctx context.Context) (PassResult, error) {
	waiter := make(chan PassResult, 1)

	o.mu.Lock()
	o.pending = true
	o.pendingExplicit = true
	o.waiters = append(o.waiters, waiter)
	o.mu.Unlock()

	select {
	case o.kick <- struct{}{}:
	default:
	}

	select {
	case res := <-waiter:
		return res, nil
	case <-ctx.Done():
		return PassResult{}, ctx.Err()
	}
}

// SubscribeFailures returns a channel receiving one event per permanently
// failed record, and an unsubscribe function. Delivery is best-effort.
func (o *Orchestrator) SubscribeFailures() (<-chan FailureEvent, func()) {
	o.failMu.Lock()
	defer o.failMu.Unlock()

	id := o.failNextID
	o.failNextID++

	ch := make(chan FailureEvent, 16)
	o.failSubs[id] = ch

	unsubscribe := func() {
		o.failMu.Lock()
		defer o.failMu.Unlock()
		delete(o.failSubs, id)
	}

	return ch, unsubscribe
}

// Run drives the orchestrator until ctx is cancelled: it reacts to
// connectivity transitions, the periodic timer, and explicit or
// background flush requests. Only one pass runs at a time.
func (o *Orchestrator) Run(ctx context.Context) error {
	connCh, unsubscribe := o.monitor.Subscribe()
	defer unsubscribe()

	// Seed the published status from durable state
	o.publishPending(ctx)
	o.publisher.SetOnline(o.monitor.IsOnline())
	if o.lastSync != nil {
		if at, err := o.lastSync.Load(); err == nil && at != nil {
			o.publisher.SetLastSync(*at)
		}
	}

	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	slog.Info("Sync orchestrator started",
		"flush_interval", o.interval,
		"max_retries", o.maxRetries)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sync orchestrator stopping")
			return nil

		case online := <-connCh:
			o.publisher.SetOnline(online)
			if online {
				o.RequestFlush(false)
			}

		case <-tick:
			if o.monitor.IsOnline() {
				o.RequestFlush(false)
			} else {
				// The offline state came from a failed dial, not from a
				// platform signal, so there is nothing to tell us when the
				// network returns. Probe on the timer; a dial that reaches
				// the server flips the monitor back online.
				o.requestProbe()
			}

		case <-o.kick:
			o.runScheduledPass(ctx)
		}
	}
}

// runScheduledPass consumes the pending trigger state and executes one
// flush pass, then notifies any synchronous waiters.
func (o *Orchestrator) runScheduledPass(ctx context.Context) {
	o.mu.Lock()
	if !o.pending {
		o.mu.Unlock()
		return
	}
	explicit := o.pendingExplicit
	probe := o.pendingProbe
	waiters := o.waiters
	o.pending = false
	o.pendingExplicit = false
	o.pendingProbe = false
	o.waiters = nil
	o.mu.Unlock()

	res := o.flushPass(ctx, explicit, probe)

	for _, w := range waiters {
		w <- res
	}
}

// flushPass executes one pass over the queue. A pass has no mid-pass
// cancellation: every record read at the start is driven to success,
// retry, or eviction. Per-record failures never abort the pass. A probe
// pass runs despite the offline guard so a dial-derived offline state
// can recover once the network is back.
func (o *Orchestrator) flushPass(ctx context.Context, explicit, probe bool) PassResult {
	start := time.Now()
	var res PassResult

	// Guard: nothing is touched while offline
	if !o.monitor.IsOnline() && !probe {
		return res
	}

	recs, err := o.store.List(ctx)
	if err != nil {
		slog.Error("Failed to read pending queue", "error", err)
		return res
	}

	if len(recs) == 0 {
		// With nothing to dial, a probe cannot verify reachability.
		// Assume online again; the next direct write fails fast and
		// requeues if the network is still down.
		if probe {
			o.monitor.SetOnline(true)
		}
		// Ambient passes with nothing to do are not a "sync"
		if explicit {
			o.markSynced(time.Now())
		}
		return res
	}

	slog.Info("Starting flush pass", "pending", len(recs), "explicit", explicit)

	results, err := o.deliverer.Deliver(ctx, o.userID, recs)
	if err == nil || !errors.Is(err, transport.ErrUnreachable) {
		// Any response, even a rejection, means the dial reached the
		// server: the dial-derived offline state is over.
		o.monitor.SetOnline(true)
	}
	switch {
	case err == nil:
		byID := make(map[string]transport.ItemResult, len(results))
		for _, r := range results {
			byID[r.ID] = r
		}
		for _, rec := range recs {
			r, ok := byID[rec.ID]
			switch {
			case ok && r.Success:
				if err := o.store.Delete(ctx, rec.ID); err != nil {
					slog.Error("Failed to remove delivered record", "id", rec.ID, "error", err)
					continue
				}
				res.Delivered++
			case ok:
				o.recordFailure(ctx, rec, r.Error, &res)
			default:
				o.recordFailure(ctx, rec, "no result returned for record", &res)
			}
		}

	case errors.Is(err, transport.ErrUnreachable):
		// No delivery attempt reached the server; leave every record
		// untouched and fail fast until connectivity returns.
		o.monitor.SetOnline(false)
		return res

	default:
		var pe *transport.PermanentError
		if errors.As(err, &pe) {
			// The batch itself is invalid; resubmitting the identical
			// content cannot succeed
			for _, rec := range recs {
				o.evict(ctx, rec, err.Error(), &res)
			}
		} else {
			for _, rec := range recs {
				o.recordFailure(ctx, rec, err.Error(), &res)
			}
		}
	}

	if res.Delivered > 0 {
		o.markSynced(time.Now())
	}
	o.publishPending(ctx)

	o.metrics.RecordFlushDuration(ctx, time.Since(start), res.Evicted == 0 && res.Retried == 0)
	o.metrics.AddDelivered(ctx, int64(res.Delivered))
	o.metrics.AddEvicted(ctx, int64(res.Evicted))

	slog.Info("Flush pass complete",
		"delivered", res.Delivered,
		"retried", res.Retried,
		"evicted", res.Evicted)

	return res
}

// recordFailure bumps the record's retry count, evicting it once the
// budget is exhausted. A record at the budget is never retried again.
func (o *Orchestrator) recordFailure(ctx context.Context, rec queue.MutationRecord, msg string, res *PassResult) {
	rec.RetryCount++
	rec.LastError = msg

	if rec.RetryCount >= o.maxRetries {
		o.evict(ctx, rec, msg, res)
		return
	}

	if err := o.store.Update(ctx, rec); err != nil {
		slog.Error("Failed to persist retry state", "id", rec.ID, "error", err)
		return
	}
	res.Retried++
}

// evict removes the record and surfaces exactly one permanent-failure
// event carrying its original target and action.
func (o *Orchestrator) evict(ctx context.Context, rec queue.MutationRecord, msg string, res *PassResult) {
	if err := o.store.Delete(ctx, rec.ID); err != nil {
		slog.Error("Failed to evict record", "id", rec.ID, "error", err)
		return
	}
	res.Evicted++

	slog.Warn("Record evicted after exhausting retry budget",
		"id", rec.ID,
		"target", rec.TargetPath,
		"action", rec.Action,
		"error", msg)

	event := FailureEvent{
		TargetPath: rec.TargetPath,
		Action:     rec.Action,
		LastError:  msg,
	}

	o.failMu.Lock()
	defer o.failMu.Unlock()
	for _, ch := range o.failSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (o *Orchestrator) markSynced(at time.Time) {
	if o.lastSync != nil {
		if err := o.lastSync.Save(at); err != nil {
			slog.Error("Failed to persist last-sync time", "error", err)
		}
	}
	o.publisher.SetLastSync(at)
}

func (o *Orchestrator) publishPending(ctx context.Context) {
	n, err := o.store.Count(ctx)
	if err != nil {
		slog.Error("Failed to count pending records", "error", err)
		return
	}
	o.publisher.SetPending(n)
	o.metrics.RecordPendingItems(ctx, int64(n))
}
