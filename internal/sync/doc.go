// Package sync contains the orchestration logic that decides when and how
// to flush the durable mutation queue to the reconciliation endpoint.
//
// A flush pass reads every pending record in enqueue order, submits the
// batch, and applies a per-record outcome: delete on success, retry-count
// bump on transient failure, eviction plus a surfaced permanent-failure
// event once the retry budget (3 attempts) is exhausted. Passes are
// coalesced: a trigger arriving while a pass is running schedules at most
// one follow-up pass, never one per trigger.
package sync
