package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// debouncer rejects repeated attempts on the same id inside the window. One
// instance guards event resumes, another segment resumes.
type debouncer struct {
	window time.Duration

	mu   sync.Mutex
	last map[uuid.UUID]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		last:   make(map[uuid.UUID]time.Time),
	}
}

// allow records the attempt and reports whether it falls outside the window.
func (d *debouncer) allow(id uuid.UUID, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.last[id]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[id] = now
	return true
}

// clear forgets an id so its next attempt is admitted immediately.
func (d *debouncer) clear(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, id)
}

// prune drops entries older than maxAge so the map cannot grow without
// bound.
func (d *debouncer) prune(now time.Time, maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, last := range d.last {
		if now.Sub(last) > maxAge {
			delete(d.last, id)
		}
	}
}
