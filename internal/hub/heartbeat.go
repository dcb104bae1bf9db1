package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Monitor tracks the last pong seen from each connection. A connection with
// no pong inside the grace period is stale; the session marks it temporarily
// disconnected rather than evicting the participant.
type Monitor struct {
	grace time.Duration

	mu       sync.Mutex
	lastPong map[uuid.UUID]time.Time
}

// NewMonitor builds a monitor with the given grace period.
func NewMonitor(grace time.Duration) *Monitor {
	return &Monitor{
		grace:    grace,
		lastPong: make(map[uuid.UUID]time.Time),
	}
}

// Track starts watching a connection, treating now as its first sign of life.
func (m *Monitor) Track(userID uuid.UUID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPong[userID] = now
}

// RecordPong notes a heartbeat reply.
func (m *Monitor) RecordPong(userID uuid.UUID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lastPong[userID]; ok {
		m.lastPong[userID] = now
	}
}

// Healthy reports whether the connection has ponged within grace.
func (m *Monitor) Healthy(userID uuid.UUID, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastPong[userID]
	if !ok {
		return false
	}
	return now.Sub(last) <= m.grace
}

// Stale returns every tracked connection whose last pong is older than grace.
func (m *Monitor) Stale(now time.Time) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []uuid.UUID
	for id, last := range m.lastPong {
		if now.Sub(last) > m.grace {
			stale = append(stale, id)
		}
	}
	return stale
}

// Drop stops watching a connection.
func (m *Monitor) Drop(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastPong, userID)
}
