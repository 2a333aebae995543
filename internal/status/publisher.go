package status

import (
	"sync"
	"time"
)

// Publisher maintains the current SyncStatus and fans it out to any number
// of subscribers. Delivery is best-effort with no ordering guarantee across
// subscribers, but each subscriber sees a monotonic sequence of snapshots:
// a slow subscriber's buffered snapshot is replaced by the newer one, never
// the other way around.
type Publisher struct {
	mu      sync.Mutex
	current SyncStatus
	nextID  int
	subs    map[int]chan SyncStatus
}

// NewPublisher creates a Publisher with the given initial status.
func NewPublisher(initial SyncStatus) *Publisher {
	return &Publisher{
		current: initial,
		subs:    make(map[int]chan SyncStatus),
	}
}

// Snapshot returns the current status.
func (p *Publisher) Snapshot() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe returns a channel receiving each new snapshot and an
// unsubscribe function. The current snapshot is delivered immediately.
func (p *Publisher) Subscribe() (<-chan SyncStatus, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++

	ch := make(chan SyncStatus, 1)
	ch <- p.current
	p.subs[id] = ch

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}

	return ch, unsubscribe
}

// SetPending updates the pending item count and publishes.
func (p *Publisher) SetPending(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current.PendingItems == n {
		return
	}
	p.current.PendingItems = n
	p.publishLocked()
}

// SetOnline updates the connectivity state and publishes.
func (p *Publisher) SetOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current.IsOnline == online {
		return
	}
	p.current.IsOnline = online
	p.publishLocked()
}

// SetLastSync updates the last successful flush time and publishes.
func (p *Publisher) SetLastSync(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current.LastSync = &at
	p.publishLocked()
}

func (p *Publisher) publishLocked() {
	for _, ch := range p.subs {
		select {
		case ch <- p.current:
		default:
			// Replace the stale buffered snapshot with the newer one
			select {
			case <-ch:
			default:
			}
			ch <- p.current
		}
	}
}
