package hub

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/config"
	"github.com/sjawhar/quizwire/internal/protocol"
	"github.com/sjawhar/quizwire/internal/storage"
)

// participant is the in-memory view of one attendee. The store owns score
// totals; this view is authoritative only for presence and late-join state.
type participant struct {
	ID           uuid.UUID
	Name         string
	AvatarURL    string
	JoinStatus   string
	IsLateJoiner bool
	JoinedAt     time.Time
	Online       bool
}

type answerRecord struct {
	Selected       string
	Correct        bool
	Score          int
	ResponseTimeMS int64
}

// GameState is the per-event runtime state. All access goes through the
// session mutex.
type GameState struct {
	CurrentSegmentID   *uuid.UUID
	CurrentPresenterID *uuid.UUID
	Phase              protocol.QuizPhase
	PauseReason        string

	Questions         []storage.Question
	QuestionIndex     int
	QuestionStartedAt *time.Time
	PresentedAnswers  []string
	TimeLimitSeconds  int
	MegaQuiz          bool

	Participants    map[uuid.UUID]*participant
	Answers         map[uuid.UUID]answerRecord
	ScoredQuestions map[uuid.UUID]bool
	Disconnected    map[uuid.UUID]time.Time

	CompletedAt *time.Time
}

func (g *GameState) currentQuestion() (storage.Question, bool) {
	if len(g.Questions) == 0 || g.QuestionIndex < 0 || g.QuestionIndex >= len(g.Questions) {
		return storage.Question{}, false
	}
	return g.Questions[g.QuestionIndex], true
}

// outbound is one prepared frame: to == nil means broadcast to every
// connection in the snapshot taken when the mutex was released.
type outbound struct {
	to  *Conn
	msg any
}

// Session is the single-writer actor for one event. Inbound commands are
// serialized by the mutex; broadcasts are prepared under the mutex and
// dispatched after release so no lock is held during a network write.
type Session struct {
	eventID uuid.UUID
	hostID  uuid.UUID
	event   storage.Event

	store Store
	clock Clock
	cfg   config.Config

	monitor *Monitor

	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
	state GameState
}

// NewSession builds the session for one event with a fresh initial state.
func NewSession(event storage.Event, store Store, cfg config.Config, clock Clock) *Session {
	timeLimit := event.TimePerQuestion
	if timeLimit <= 0 {
		timeLimit = cfg.TimePerQuestion
	}
	return &Session{
		eventID: event.ID,
		hostID:  event.HostID,
		event:   event,
		store:   store,
		clock:   clock,
		cfg:     cfg,
		monitor: NewMonitor(cfg.GracePeriod()),
		conns:   make(map[uuid.UUID]*Conn),
		state: GameState{
			Phase:            protocol.PhaseNotStarted,
			TimeLimitSeconds: timeLimit,
			Participants:     make(map[uuid.UUID]*participant),
			Answers:          make(map[uuid.UUID]answerRecord),
			ScoredQuestions:  make(map[uuid.UUID]bool),
			Disconnected:     make(map[uuid.UUID]time.Time),
		},
	}
}

// EventID identifies the event this session serves.
func (s *Session) EventID() uuid.UUID { return s.eventID }

// Join registers a connection for a participant (or the host). Reconnects
// inside the reconnect window get state_restored and keep their joined_at;
// everyone else gets a fresh connected frame and the room learns about them.
func (s *Session) Join(conn *Conn) {
	now := s.clock.Now()
	userID := conn.UserID()

	s.mu.Lock()

	if old, ok := s.conns[userID]; ok && old != conn {
		old.Close()
	}
	s.conns[userID] = conn
	s.monitor.Track(userID, now)

	var frames []outbound

	p, known := s.state.Participants[userID]
	droppedAt, wasDisconnected := s.state.Disconnected[userID]
	delete(s.state.Disconnected, userID)

	if !known {
		row, err := s.store.ParticipantByID(userID)
		switch {
		case err == nil:
			p = &participant{
				ID:           row.ID,
				Name:         row.DisplayName,
				AvatarURL:    row.AvatarURL,
				JoinStatus:   row.JoinStatus,
				IsLateJoiner: row.IsLateJoiner,
				JoinedAt:     row.JoinedAt,
			}
			s.state.Participants[userID] = p
		case errors.Is(err, storage.ErrNotFound) && userID == s.hostID:
			// The host observes without a participant row.
		case errors.Is(err, storage.ErrNotFound):
			frames = append(frames, outbound{to: conn, msg: protocol.NewError(RejectNotFound + ": join the event before connecting")})
			conns := s.connList()
			s.mu.Unlock()
			s.deliver(conns, frames)
			return
		default:
			log.Printf("event %s: load participant %s: %v", s.eventID, userID, err)
		}
	}

	reconnecting := known && wasDisconnected && now.Sub(droppedAt) <= s.cfg.ReconnectWindow()
	if p != nil {
		p.Online = true
	}

	// Lift any pause this arrival satisfies before snapshotting, so a
	// reconnect snapshot carries the post-resume phase and question.
	resumeFrames := s.maybeResumeLocked(userID, now)

	if reconnecting {
		frames = append(frames, outbound{to: conn, msg: s.stateRestoredLocked(userID)})
		frames = append(frames, outbound{msg: protocol.ParticipantLeftMessage{
			Type:   protocol.TypeParticipantLeft,
			UserID: userID,
			Online: true,
		}})
	} else {
		frames = append(frames, outbound{to: conn, msg: protocol.ConnectedMessage{
			Type:         protocol.TypeConnected,
			Participants: s.participantInfosLocked(),
		}})
		if p != nil {
			frames = append(frames, outbound{msg: protocol.ParticipantJoinedMessage{
				Type: protocol.TypeParticipantJoined,
				User: s.participantInfoLocked(p),
			}})
		}
	}

	frames = append(frames, resumeFrames...)

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// Disconnect tears down a connection and updates presence. Closing the
// presenter's connection mid-quiz pauses the segment.
func (s *Session) Disconnect(conn *Conn) {
	now := s.clock.Now()
	userID := conn.UserID()

	s.mu.Lock()

	if current, ok := s.conns[userID]; !ok || current != conn {
		s.mu.Unlock()
		conn.Close()
		return
	}
	delete(s.conns, userID)
	s.monitor.Drop(userID)
	conn.Close()

	var frames []outbound

	if p, ok := s.state.Participants[userID]; ok {
		p.Online = false
		s.state.Disconnected[userID] = now
		frames = append(frames, outbound{msg: protocol.ParticipantLeftMessage{
			Type:   protocol.TypeParticipantLeft,
			UserID: userID,
			Online: false,
		}})
	}

	frames = append(frames, s.pauseOnDepartureLocked(userID)...)

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// Pong records a heartbeat reply and refreshes the durable heartbeat.
func (s *Session) Pong(conn *Conn) {
	now := s.clock.Now()
	s.monitor.RecordPong(conn.UserID(), now)

	err := s.store.TouchParticipant(conn.UserID(), "", now)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("event %s: touch participant %s: %v", s.eventID, conn.UserID(), err)
	}
}

// SweepStale disconnects every connection whose last pong is past the grace
// period. Called periodically by the hub janitor.
func (s *Session) SweepStale(now time.Time) {
	stale := s.monitor.Stale(now)

	s.mu.Lock()
	var conns []*Conn
	for _, id := range stale {
		if c, ok := s.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.Disconnect(c)
	}
}

// Idle reports whether the session has no connections and, when the event
// completed, how long ago that was.
func (s *Session) Idle(now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 {
		return false, 0
	}
	if s.state.CompletedAt == nil {
		return true, 0
	}
	return true, now.Sub(*s.state.CompletedAt)
}

// CloseAll closes every connection; used on shutdown and eviction.
func (s *Session) CloseAll() {
	s.mu.Lock()
	conns := s.connList()
	s.conns = make(map[uuid.UUID]*Conn)
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Session) connList() []*Conn {
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// deliver sends prepared frames with no lock held. A failed send marks that
// connection temporarily disconnected.
func (s *Session) deliver(conns []*Conn, frames []outbound) {
	var failed []*Conn
	for _, f := range frames {
		if f.to != nil {
			if !f.to.Send(f.msg) {
				failed = append(failed, f.to)
			}
			continue
		}
		for _, c := range conns {
			if !c.Send(f.msg) {
				failed = append(failed, c)
			}
		}
	}
	for _, c := range failed {
		s.Disconnect(c)
	}
}

func (s *Session) sendTo(conn *Conn, msg any) {
	if !conn.Send(msg) {
		s.Disconnect(conn)
	}
}

func (s *Session) participantInfoLocked(p *participant) protocol.ParticipantInfo {
	joined := p.JoinedAt
	return protocol.ParticipantInfo{
		UserID:       p.ID,
		Username:     p.Name,
		AvatarURL:    p.AvatarURL,
		JoinStatus:   p.JoinStatus,
		IsLateJoiner: p.IsLateJoiner,
		JoinedAt:     &joined,
		Online:       p.Online,
	}
}

func (s *Session) participantInfosLocked() []protocol.ParticipantInfo {
	infos := make([]protocol.ParticipantInfo, 0, len(s.state.Participants))
	for _, p := range s.state.Participants {
		infos = append(infos, s.participantInfoLocked(p))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].JoinedAt.Before(*infos[j].JoinedAt)
	})
	return infos
}

func (s *Session) stateRestoredLocked(userID uuid.UUID) protocol.StateRestoredMessage {
	msg := protocol.StateRestoredMessage{
		Type:         protocol.TypeStateRestored,
		EventID:      s.eventID,
		SegmentID:    s.state.CurrentSegmentID,
		CurrentPhase: s.state.Phase,
		Answers:      []string{},
		Participants: s.participantInfosLocked(),
	}

	if q, ok := s.state.currentQuestion(); ok && s.state.Phase == protocol.PhaseShowingQuestion {
		qid := q.ID
		msg.CurrentQuestionID = &qid
		msg.QuestionText = q.QuestionText
		msg.Answers = s.state.PresentedAnswers
		msg.TimeLimit = s.state.TimeLimitSeconds
		msg.QuestionStartedAt = s.state.QuestionStartedAt
	}

	if rec, ok := s.state.Answers[userID]; ok {
		msg.YourAnswer = rec.Selected
	}
	if row, err := s.store.ParticipantByID(userID); err == nil {
		msg.YourScore = row.TotalScore
	}

	return msg
}
