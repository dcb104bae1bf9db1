// Package join admits participants into events. The gate serializes
// concurrent join attempts per event so the lock and uniqueness checks stay
// atomic when several devices scan the same code at once.
package join

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned when the gate cannot be acquired within the timeout.
var ErrBusy = errors.New("too_many_requests")

type gateEntry struct {
	sem  chan struct{}
	refs int
}

// Gate is a per-event admission lock. Entries are evicted when no attempt
// references them.
type Gate struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*gateEntry
}

// NewGate builds an empty gate.
func NewGate() *Gate {
	return &Gate{entries: make(map[uuid.UUID]*gateEntry)}
}

// Acquire takes the event's admission lock, waiting at most timeout. The
// returned release function must be called exactly once.
func (g *Gate) Acquire(eventID uuid.UUID, timeout time.Duration) (func(), error) {
	g.mu.Lock()
	entry, ok := g.entries[eventID]
	if !ok {
		entry = &gateEntry{sem: make(chan struct{}, 1)}
		g.entries[eventID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			g.put(eventID, entry)
		}, nil
	case <-timer.C:
		g.put(eventID, entry)
		return nil, ErrBusy
	}
}

func (g *Gate) put(eventID uuid.UUID, entry *gateEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(g.entries, eventID)
	}
}

// Size reports how many events currently have gate entries.
func (g *Gate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
