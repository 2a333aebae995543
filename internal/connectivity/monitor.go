// Package connectivity tracks transitions between reachable and
// unreachable network state.
package connectivity

import (
	"log/slog"
	"sync"
)

// Monitor exposes the current reachability state and notifies subscribers
// on every transition. There is no active probing: the state is fed by the
// platform signal, or by the transport layer failing fast on a real
// network error. With no signal at all the monitor defaults to online so
// user writes are never silently suppressed.
type Monitor interface {
	// IsOnline returns the current reachability state.
	IsOnline() bool

	// SetOnline records a reachability observation. Subscribers are
	// notified only when the state actually changes.
	SetOnline(online bool)

	// Subscribe returns a channel receiving the new state on each
	// transition, and an unsubscribe function.
	Subscribe() (<-chan bool, func())
}

type monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan bool
}

// NewMonitor creates a Monitor that starts online.
func NewMonitor() Monitor {
	return &monitor{
		online: true,
		subs:   make(map[int]chan bool),
	}
}

func (m *monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return
	}
	m.online = online

	if online {
		slog.Info("Network connectivity restored")
	} else {
		slog.Info("Network connectivity lost")
	}

	for _, ch := range m.subs {
		// Keep only the latest state: a slow subscriber that missed an
		// intermediate transition still converges on the current one.
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

func (m *monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan bool, 1)
	m.subs[id] = ch

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}

	return ch, unsubscribe
}
