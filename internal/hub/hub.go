// Package hub coordinates the live side of quiz events: one session actor
// per event, one connection per participant, fan-out broadcasts, heartbeats,
// answer admission, and the quiz state machine.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/config"
	"github.com/sjawhar/quizwire/internal/protocol"
)

const (
	janitorInterval = 30 * time.Second
	evictAfter      = 5 * time.Minute
)

// Hub is the registry of live event sessions. Sessions are created lazily on
// first activity and evicted once the event is over and everyone has left.
type Hub struct {
	store Store
	cfg   config.Config
	clock Clock

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// New builds a hub over the given store. A nil clock means the system clock.
func New(store Store, cfg config.Config, clock Clock) *Hub {
	if clock == nil {
		clock = SystemClock
	}
	return &Hub{
		store:    store,
		cfg:      cfg,
		clock:    clock,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// GetOrCreate returns the session for an event, creating it with a fresh
// initial state if absent. Fails when the event does not exist.
func (h *Hub) GetOrCreate(eventID uuid.UUID) (*Session, error) {
	h.mu.Lock()
	if sess, ok := h.sessions[eventID]; ok {
		h.mu.Unlock()
		return sess, nil
	}
	h.mu.Unlock()

	// Load outside the registry lock; the store call can block.
	event, err := h.store.EventByID(eventID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if sess, ok := h.sessions[eventID]; ok {
		return sess, nil
	}
	sess := NewSession(event, h.store, h.cfg, h.clock)
	h.sessions[eventID] = sess
	return sess, nil
}

// Get returns the live session for an event, if any.
func (h *Hub) Get(eventID uuid.UUID) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[eventID]
	return sess, ok
}

// Broadcast fans a frame out to every connection of an event, if its session
// is live. Used by the HTTP surface for lifecycle announcements.
func (h *Hub) Broadcast(eventID uuid.UUID, msg any) {
	sess, ok := h.Get(eventID)
	if !ok {
		return
	}
	sess.mu.Lock()
	conns := sess.connList()
	sess.mu.Unlock()
	sess.deliver(conns, []outbound{{msg: msg}})
}

// SendTo delivers a frame to a single participant of an event.
func (h *Hub) SendTo(eventID, userID uuid.UUID, msg any) {
	sess, ok := h.Get(eventID)
	if !ok {
		return
	}
	sess.mu.Lock()
	conn, ok := sess.conns[userID]
	sess.mu.Unlock()
	if ok {
		sess.sendTo(conn, msg)
	}
}

// Dispatch routes one decoded client frame to the session operation it
// names. join frames are handled by the read loop before dispatch.
func (h *Hub) Dispatch(sess *Session, conn *Conn, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.AnswerMessage:
		sess.Answer(conn, m)
	case protocol.StartGameMessage:
		sess.StartGame(conn)
	case protocol.NextQuestionMessage:
		sess.NextQuestion(conn)
	case protocol.RevealAnswerMessage:
		sess.RevealAnswer(conn)
	case protocol.ShowLeaderboardMessage:
		sess.ShowLeaderboard(conn)
	case protocol.EndGameMessage:
		sess.EndGame(conn)
	case protocol.PassPresenterMessage:
		sess.PassPresenter(conn, m)
	case protocol.AdminSelectPresenterMessage:
		sess.AdminSelectPresenter(conn, m)
	case protocol.SelectPresenterMessage:
		sess.SelectPresenter(conn, m)
	case protocol.StartPresentationMessage:
		sess.StartPresentation(conn, m)
	case protocol.ResumeSegmentMessage:
		sess.ResumeSegment(conn, m)
	case protocol.StartMegaQuizMessage:
		sess.StartMegaQuiz(conn, m)
	case protocol.SkipMegaQuizMessage:
		sess.SkipMegaQuiz(conn)
	case protocol.PongMessage:
		sess.Pong(conn)
	case protocol.JoinMessage:
		sess.Join(conn)
	default:
		sess.sendTo(conn, protocol.NewError(RejectInvalidMessage+": unsupported message"))
	}
}

// MidQuiz reports whether an event currently has a question cycle running.
// Arrivals during one are admitted as late joiners.
func (h *Hub) MidQuiz(eventID uuid.UUID) bool {
	sess, ok := h.Get(eventID)
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch sess.state.Phase {
	case protocol.PhaseShowingQuestion, protocol.PhaseRevealingAnswer,
		protocol.PhaseShowingLeaderboard, protocol.PhaseMegaQuiz:
		return true
	}
	return false
}

// Run sweeps stale connections and evicts dead sessions until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	now := h.clock.Now()

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.SweepStale(now)

		idle, since := sess.Idle(now)
		if idle && since >= evictAfter {
			h.mu.Lock()
			delete(h.sessions, sess.EventID())
			h.mu.Unlock()
			sess.CloseAll()
			log.Printf("evicted idle session for event %s", sess.EventID())
		}
	}
}

// Shutdown closes every connection of every session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.sessions = make(map[uuid.UUID]*Session)
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.CloseAll()
	}
}
