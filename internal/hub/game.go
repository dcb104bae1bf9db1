package hub

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/protocol"
	"github.com/sjawhar/quizwire/internal/scoring"
	"github.com/sjawhar/quizwire/internal/storage"
)

// Answer runs admission for a submitted answer and, when admitted, scores
// and persists it. Rejections go back to the caller only; the room sees
// answer_received on success.
func (s *Session) Answer(conn *Conn, msg protocol.AnswerMessage) {
	now := s.clock.Now()
	userID := conn.UserID()

	s.mu.Lock()

	reject := func(kind, detail string) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(kind+": "+detail))
	}

	q, active := s.state.currentQuestion()
	if !active || s.state.QuestionStartedAt == nil {
		reject(RejectNoQuestion, "no question is active")
		return
	}
	if q.ID != msg.QuestionID {
		reject(RejectStale, "that question is no longer active")
		return
	}
	if s.state.Phase == protocol.PhasePresenterPaused {
		reject(RejectPaused, "the quiz is paused")
		return
	}

	p, ok := s.state.Participants[userID]
	if !ok {
		reject(RejectNotFound, "unknown participant")
		return
	}
	if p.JoinedAt.After(*s.state.QuestionStartedAt) {
		reject(RejectLateJoin, "wait for the next question")
		return
	}
	if _, dup := s.state.Answers[userID]; dup {
		reject(RejectDuplicate, "answer already received")
		return
	}

	elapsedMS := now.Sub(*s.state.QuestionStartedAt).Milliseconds()
	limitMS := int64(s.state.TimeLimitSeconds) * 1000
	if elapsedMS >= limitMS+int64(s.cfg.AnswerTimeoutGraceMS) {
		reject(RejectTooLate, "time is up")
		return
	}

	responseMS := int64(msg.ResponseTimeMS)
	if responseMS <= 0 {
		responseMS = elapsedMS
	}

	correct := msg.SelectedAnswer == q.CorrectAnswer
	delta := 0
	if correct {
		delta = scoring.Speed(int(limitMS), int(responseMS))
	}

	err := s.store.ApplyAnswerScore(q.SegmentID, userID, delta, correct, responseMS, now)
	if err != nil {
		log.Printf("event %s: persist score for %s: %v", s.eventID, userID, err)
		reject(RejectInvalidMessage, "could not record the answer")
		return
	}

	s.state.Answers[userID] = answerRecord{
		Selected:       msg.SelectedAnswer,
		Correct:        correct,
		Score:          delta,
		ResponseTimeMS: responseMS,
	}
	if p.JoinStatus == storage.JoinWaitingForSegment || p.JoinStatus == storage.JoinJoined {
		s.setJoinStatusLocked(p, storage.JoinActiveInQuiz)
	}

	frames := []outbound{{msg: protocol.AnswerReceivedMessage{
		Type:   protocol.TypeAnswerReceived,
		UserID: userID,
	}}}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// StartGame begins the quiz for the current segment. With no audience beyond
// the presenter, the quiz opens paused.
func (s *Session) StartGame(conn *Conn) {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.isControllerLocked(conn.UserID()) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can start the quiz"))
		return
	}

	segID, err := s.resolveQuizSegmentLocked()
	if err != nil {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNotFound+": "+err.Error()))
		return
	}

	questions, err := s.store.QuestionsBySegment(segID)
	if err != nil {
		log.Printf("event %s: load questions for segment %s: %v", s.eventID, segID, err)
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNotFound+": could not load questions"))
		return
	}
	if len(questions) == 0 {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNotFound+": the segment has no questions"))
		return
	}

	if err := s.store.SetSegmentStatus(segID, storage.SegmentQuizzing, storage.SegmentQuizReady, storage.SegmentTimestamps{QuizStartedAt: &now}); err != nil {
		log.Printf("event %s: mark segment %s quizzing: %v", s.eventID, segID, err)
	}

	s.state.CurrentSegmentID = &segID
	s.state.Questions = questions
	s.state.MegaQuiz = false
	s.state.ScoredQuestions = make(map[uuid.UUID]bool)

	frames := []outbound{{msg: protocol.GameStartedMessage{Type: protocol.TypeGameStarted}}}

	if !s.hasAudienceLocked() {
		frames = append(frames, s.pauseLocked(protocol.PauseNoParticipants)...)
	} else {
		frames = append(frames, s.showQuestionLocked(0, now)...)
	}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// RevealAnswer zero-fills non-answerers and broadcasts the distribution plus
// both leaderboards.
func (s *Session) RevealAnswer(conn *Conn) {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.isControllerLocked(conn.UserID()) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can reveal"))
		return
	}

	q, active := s.state.currentQuestion()
	if !active {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNoQuestion+": no question is active"))
		return
	}

	s.zeroFillLocked(q, now)

	selections := make([]string, 0, len(s.state.Answers))
	for _, rec := range s.state.Answers {
		selections = append(selections, rec.Selected)
	}

	s.state.Phase = protocol.PhaseRevealingAnswer

	frames := []outbound{
		{msg: protocol.RevealMessage{
			Type:               protocol.TypeReveal,
			QuestionID:         q.ID,
			QuestionNumber:     s.state.QuestionIndex + 1,
			QuestionText:       q.QuestionText,
			CorrectAnswer:      q.CorrectAnswer,
			Distribution:       protocol.Distribution(selections),
			SegmentLeaderboard: s.segmentLeaderboardLocked(q.SegmentID),
			EventLeaderboard:   s.eventLeaderboardLocked(),
		}},
		{msg: protocol.NewPhaseChanged(s.state.Phase, s.state.QuestionIndex, len(s.state.Questions))},
	}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// NextQuestion zero-fills the current question and either advances or ends
// the segment.
func (s *Session) NextQuestion(conn *Conn) {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.isControllerLocked(conn.UserID()) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can advance"))
		return
	}

	q, active := s.state.currentQuestion()
	if !active {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNoQuestion+": no question is active"))
		return
	}

	s.zeroFillLocked(q, now)

	var frames []outbound
	if s.state.QuestionIndex+1 < len(s.state.Questions) {
		frames = s.showQuestionLocked(s.state.QuestionIndex+1, now)
	} else {
		frames = s.finishSegmentLocked(now)
	}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// ShowLeaderboard broadcasts the event leaderboard without advancing the
// question.
func (s *Session) ShowLeaderboard(conn *Conn) {
	s.mu.Lock()
	if !s.isControllerLocked(conn.UserID()) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can show the leaderboard"))
		return
	}

	s.state.Phase = protocol.PhaseShowingLeaderboard
	frames := []outbound{
		{msg: protocol.LeaderboardMessage{
			Type:     protocol.TypeLeaderboard,
			Rankings: s.eventLeaderboardLocked(),
		}},
		{msg: protocol.NewPhaseChanged(s.state.Phase, s.state.QuestionIndex, len(s.state.Questions))},
	}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// EndGame finishes the current segment early.
func (s *Session) EndGame(conn *Conn) {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.isControllerLocked(conn.UserID()) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can end the quiz"))
		return
	}

	if q, active := s.state.currentQuestion(); active {
		s.zeroFillLocked(q, now)
	}

	frames := append([]outbound{{msg: protocol.GameEndedMessage{Type: protocol.TypeGameEnded}}},
		s.finishSegmentLocked(now)...)

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// PassPresenter hands the presenter role to another online participant.
func (s *Session) PassPresenter(conn *Conn, msg protocol.PassPresenterMessage) {
	s.mu.Lock()
	callerID := conn.UserID()
	if !s.isControllerLocked(callerID) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can pass the role"))
		return
	}

	nextID := msg.NextPresenterUserID
	if s.state.CurrentPresenterID != nil && nextID == *s.state.CurrentPresenterID {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectInvalidMessage+": that participant already presents"))
		return
	}
	next, ok := s.state.Participants[nextID]
	if !ok || !next.Online {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNotFound+": the next presenter must be online"))
		return
	}

	frames := s.assignPresenterLocked(nextID, next.Name)

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// AdminSelectPresenter lets the host force a presenter onto a segment,
// resuming a quiz paused by a presenter disconnect.
func (s *Session) AdminSelectPresenter(conn *Conn, msg protocol.AdminSelectPresenterMessage) {
	now := s.clock.Now()

	s.mu.Lock()
	if conn.UserID() != s.hostID {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": host only"))
		return
	}

	name := "Presenter"
	if p, ok := s.state.Participants[msg.PresenterUserID]; ok {
		name = p.Name
	}
	if err := s.store.SetSegmentPresenter(msg.SegmentID, msg.PresenterUserID, name); err != nil {
		log.Printf("event %s: set presenter for segment %s: %v", s.eventID, msg.SegmentID, err)
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNotFound+": no such segment"))
		return
	}

	var frames []outbound
	prev := uuid.Nil
	if s.state.CurrentPresenterID != nil {
		prev = *s.state.CurrentPresenterID
	}
	if s.state.CurrentSegmentID == nil || *s.state.CurrentSegmentID == msg.SegmentID {
		id := msg.PresenterUserID
		s.state.CurrentPresenterID = &id
	}
	frames = append(frames, outbound{msg: protocol.PresenterChangedMessage{
		Type:                protocol.TypePresenterChanged,
		PreviousPresenterID: prev,
		NewPresenterID:      msg.PresenterUserID,
		NewPresenterName:    name,
		SegmentID:           msg.SegmentID,
	}})

	if s.state.Phase == protocol.PhasePresenterPaused && s.state.PauseReason == protocol.PausePresenterDisconnected {
		frames = append(frames, s.resumeLocked(now)...)
	}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// SelectPresenter marks who presents next while the room waits between
// segments.
func (s *Session) SelectPresenter(conn *Conn, msg protocol.SelectPresenterMessage) {
	s.mu.Lock()
	if conn.UserID() != s.hostID {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": host only"))
		return
	}

	name := "Presenter"
	if p, ok := s.state.Participants[msg.PresenterUserID]; ok {
		name = p.Name
	}
	first := s.state.CurrentSegmentID == nil
	id := msg.PresenterUserID
	s.state.CurrentPresenterID = &id

	frames := []outbound{{msg: protocol.PresenterSelectedMessage{
		Type:             protocol.TypePresenterSelected,
		PresenterID:      msg.PresenterUserID,
		PresenterName:    name,
		IsFirstPresenter: first,
	}}}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// StartPresentation opens a new segment for the current presenter and starts
// its recording window.
func (s *Session) StartPresentation(conn *Conn, msg protocol.StartPresentationMessage) {
	now := s.clock.Now()

	s.mu.Lock()
	callerID := conn.UserID()
	if !s.isControllerLocked(callerID) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can start presenting"))
		return
	}

	presenterID := callerID
	if s.state.CurrentPresenterID != nil {
		presenterID = *s.state.CurrentPresenterID
	}
	name := "Presenter"
	if p, ok := s.state.Participants[presenterID]; ok {
		name = p.Name
	}

	segments, err := s.store.SegmentsByEvent(s.eventID)
	if err != nil {
		log.Printf("event %s: list segments: %v", s.eventID, err)
	}

	seg := storage.Segment{
		ID:              uuid.New(),
		EventID:         s.eventID,
		PresenterName:   name,
		PresenterUserID: &presenterID,
		Title:           msg.Title,
		OrderIndex:      len(segments),
		Status:          storage.SegmentRecording,
		CreatedAt:       now,
	}
	if err := s.store.CreateSegment(seg); err != nil {
		log.Printf("event %s: create segment: %v", s.eventID, err)
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectInvalidMessage+": could not start the presentation"))
		return
	}
	if err := s.store.SetSegmentStatus(seg.ID, storage.SegmentRecording, storage.SegmentPending, storage.SegmentTimestamps{RecordingStartedAt: &now}); err != nil {
		log.Printf("event %s: mark segment %s recording: %v", s.eventID, seg.ID, err)
	}

	segID := seg.ID
	s.state.CurrentSegmentID = &segID
	s.state.CurrentPresenterID = &presenterID
	s.state.Phase = protocol.PhaseNotStarted
	s.state.Questions = nil
	s.state.Answers = make(map[uuid.UUID]answerRecord)

	frames := []outbound{{msg: protocol.PresentationStartedMessage{
		Type:          protocol.TypePresentationStarted,
		SegmentID:     seg.ID,
		PresenterID:   presenterID,
		PresenterName: name,
	}}}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// ResumeSegment points the session back at a previously interrupted segment
// and tells the room its quiz can be restarted.
func (s *Session) ResumeSegment(conn *Conn, msg protocol.ResumeSegmentMessage) {
	s.mu.Lock()
	if !s.isControllerLocked(conn.UserID()) {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": only the host or presenter can resume a segment"))
		return
	}

	seg, err := s.store.SegmentByID(msg.SegmentID)
	if err != nil {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectNotFound+": no such segment"))
		return
	}

	questions, err := s.store.QuestionsBySegment(seg.ID)
	if err != nil {
		log.Printf("event %s: load questions for segment %s: %v", s.eventID, seg.ID, err)
	}

	status := seg.PreviousStatus
	if status == "" || status == storage.SegmentCompleted {
		status = storage.SegmentQuizReady
	}
	if err := s.store.SetSegmentStatus(seg.ID, status, seg.Status, storage.SegmentTimestamps{}); err != nil {
		log.Printf("event %s: restore segment %s status: %v", s.eventID, seg.ID, err)
	}

	segID := seg.ID
	s.state.CurrentSegmentID = &segID
	s.state.CurrentPresenterID = seg.PresenterUserID
	s.state.Phase = protocol.PhaseNotStarted
	s.state.Questions = nil
	s.state.Answers = make(map[uuid.UUID]answerRecord)

	frames := []outbound{{msg: protocol.QuizReadyMessage{
		Type:           protocol.TypeQuizReady,
		SegmentID:      seg.ID,
		QuestionsCount: len(questions),
	}}}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// StartMegaQuiz aggregates shuffled questions across all segments and runs
// them as a final round.
func (s *Session) StartMegaQuiz(conn *Conn, msg protocol.StartMegaQuizMessage) {
	now := s.clock.Now()

	s.mu.Lock()
	if conn.UserID() != s.hostID {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": host only"))
		return
	}

	questions, err := s.store.AggregateEventQuestions(s.eventID, msg.QuestionCount)
	if err != nil {
		log.Printf("event %s: aggregate questions: %v", s.eventID, err)
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectInvalidMessage+": could not build the mega quiz"))
		return
	}

	var frames []outbound
	if len(questions) == 0 {
		frames = s.completeEventLocked(now)
	} else {
		s.state.MegaQuiz = true
		s.state.Questions = questions
		s.state.ScoredQuestions = make(map[uuid.UUID]bool)
		s.state.Phase = protocol.PhaseMegaQuiz

		frames = []outbound{
			{msg: protocol.MegaQuizStartedMessage{
				Type:          protocol.TypeMegaQuizStarted,
				EventID:       s.eventID,
				QuestionCount: len(questions),
			}},
			{msg: protocol.NewPhaseChanged(protocol.PhaseMegaQuiz, 0, len(questions))},
		}
		frames = append(frames, s.showQuestionLocked(0, now)...)
	}

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

// SkipMegaQuiz finalizes the event with the current standings.
func (s *Session) SkipMegaQuiz(conn *Conn) {
	now := s.clock.Now()

	s.mu.Lock()
	if conn.UserID() != s.hostID {
		s.mu.Unlock()
		s.sendTo(conn, protocol.NewError(RejectUnauthorized+": host only"))
		return
	}

	frames := s.completeEventLocked(now)

	conns := s.connList()
	s.mu.Unlock()
	s.deliver(conns, frames)
}

func (s *Session) isControllerLocked(userID uuid.UUID) bool {
	if userID == s.hostID {
		return true
	}
	return s.state.CurrentPresenterID != nil && userID == *s.state.CurrentPresenterID
}

func (s *Session) hasAudienceLocked() bool {
	for id, p := range s.state.Participants {
		if !p.Online {
			continue
		}
		if s.state.CurrentPresenterID != nil && id == *s.state.CurrentPresenterID {
			continue
		}
		return true
	}
	return false
}

// resolveQuizSegmentLocked picks the segment whose quiz should run: the
// session's current segment, else the first segment ready to quiz.
func (s *Session) resolveQuizSegmentLocked() (uuid.UUID, error) {
	if s.state.CurrentSegmentID != nil {
		return *s.state.CurrentSegmentID, nil
	}

	segments, err := s.store.SegmentsByEvent(s.eventID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("could not load segments")
	}
	for _, seg := range segments {
		if seg.Status == storage.SegmentQuizReady || seg.Status == storage.SegmentQuizzing {
			if seg.PresenterUserID != nil && s.state.CurrentPresenterID == nil {
				id := *seg.PresenterUserID
				s.state.CurrentPresenterID = &id
			}
			return seg.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("no segment is ready to quiz")
}

func (s *Session) showQuestionLocked(index int, now time.Time) []outbound {
	q := s.state.Questions[index]

	answers := make([]string, 0, len(q.FakeAnswers)+1)
	answers = append(answers, q.FakeAnswers...)
	answers = append(answers, q.CorrectAnswer)
	rand.Shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
	})

	s.state.QuestionIndex = index
	s.state.QuestionStartedAt = &now
	s.state.PresentedAnswers = answers
	s.state.Answers = make(map[uuid.UUID]answerRecord)
	s.state.Phase = protocol.PhaseShowingQuestion

	return []outbound{
		{msg: protocol.QuestionMessage{
			Type:           protocol.TypeQuestion,
			QuestionID:     q.ID,
			QuestionNumber: index + 1,
			TotalQuestions: len(s.state.Questions),
			Text:           q.QuestionText,
			Answers:        answers,
			TimeLimit:      s.state.TimeLimitSeconds,
		}},
		{msg: protocol.NewPhaseChanged(s.state.Phase, index, len(s.state.Questions))},
	}
}

// zeroFillLocked records a missed question for every participant who is
// still in the quiz and did not answer. Idempotent per question.
func (s *Session) zeroFillLocked(q storage.Question, now time.Time) {
	if s.state.ScoredQuestions[q.ID] {
		return
	}
	s.state.ScoredQuestions[q.ID] = true

	for id, p := range s.state.Participants {
		if p.JoinStatus == storage.JoinSegmentComplete {
			continue
		}
		if _, answered := s.state.Answers[id]; answered {
			if p.JoinStatus != storage.JoinActiveInQuiz {
				s.setJoinStatusLocked(p, storage.JoinActiveInQuiz)
			}
			continue
		}
		if err := s.store.ApplyZeroFill(q.SegmentID, id, now); err != nil {
			log.Printf("event %s: zero-fill %s for question %s: %v", s.eventID, id, q.ID, err)
			continue
		}
		if p.JoinStatus != storage.JoinActiveInQuiz {
			s.setJoinStatusLocked(p, storage.JoinActiveInQuiz)
		}
	}
}

func (s *Session) setJoinStatusLocked(p *participant, status string) {
	p.JoinStatus = status
	if err := s.store.SetParticipantJoinStatus(p.ID, status); err != nil {
		log.Printf("event %s: set join status for %s: %v", s.eventID, p.ID, err)
	}
}

func (s *Session) assignPresenterLocked(nextID uuid.UUID, name string) []outbound {
	prev := uuid.Nil
	if s.state.CurrentPresenterID != nil {
		prev = *s.state.CurrentPresenterID
	}
	id := nextID
	s.state.CurrentPresenterID = &id

	segID := uuid.Nil
	if s.state.CurrentSegmentID != nil {
		segID = *s.state.CurrentSegmentID
		if err := s.store.SetSegmentPresenter(segID, nextID, name); err != nil {
			log.Printf("event %s: persist presenter for segment %s: %v", s.eventID, segID, err)
		}
	}

	return []outbound{{msg: protocol.PresenterChangedMessage{
		Type:                protocol.TypePresenterChanged,
		PreviousPresenterID: prev,
		NewPresenterID:      nextID,
		NewPresenterName:    name,
		SegmentID:           segID,
	}}}
}

func (s *Session) activeQuizLocked() bool {
	switch s.state.Phase {
	case protocol.PhaseShowingQuestion, protocol.PhaseRevealingAnswer,
		protocol.PhaseShowingLeaderboard, protocol.PhaseBetweenQuestions,
		protocol.PhaseMegaQuiz:
		return true
	}
	return false
}

// pauseOnDepartureLocked decides whether a disconnect pauses the quiz.
func (s *Session) pauseOnDepartureLocked(userID uuid.UUID) []outbound {
	if !s.activeQuizLocked() {
		return nil
	}

	if s.state.CurrentPresenterID != nil && userID == *s.state.CurrentPresenterID {
		segID := uuid.Nil
		if s.state.CurrentSegmentID != nil {
			segID = *s.state.CurrentSegmentID
		}
		name := "Presenter"
		if p, ok := s.state.Participants[userID]; ok {
			name = p.Name
		}
		frames := []outbound{{msg: protocol.PresenterDisconnectedMessage{
			Type:          protocol.TypePresenterDisconnected,
			PresenterID:   userID,
			PresenterName: name,
			SegmentID:     segID,
		}}}
		return append(frames, s.pauseLocked(protocol.PausePresenterDisconnected)...)
	}

	for _, p := range s.state.Participants {
		if p.Online {
			return nil
		}
	}
	return s.pauseLocked(protocol.PauseAllDisconnected)
}

// pauseLocked enters presenter_paused without touching the question index.
func (s *Session) pauseLocked(reason string) []outbound {
	s.state.Phase = protocol.PhasePresenterPaused
	s.state.PauseReason = reason

	presenterID := uuid.Nil
	name := ""
	if s.state.CurrentPresenterID != nil {
		presenterID = *s.state.CurrentPresenterID
		if p, ok := s.state.Participants[presenterID]; ok {
			name = p.Name
		}
	}
	segID := uuid.Nil
	if s.state.CurrentSegmentID != nil {
		segID = *s.state.CurrentSegmentID
	}

	return []outbound{
		{msg: protocol.PresenterPausedMessage{
			Type:           protocol.TypePresenterPaused,
			PresenterID:    presenterID,
			PresenterName:  name,
			SegmentID:      segID,
			QuestionIndex:  s.state.QuestionIndex,
			TotalQuestions: len(s.state.Questions),
			Reason:         reason,
		}},
		{msg: protocol.NewPhaseChanged(protocol.PhasePresenterPaused, s.state.QuestionIndex, len(s.state.Questions))},
	}
}

// maybeResumeLocked resumes a paused quiz when the arrival satisfies the
// pause cause. The question keeps its index; its clock restarts at now.
func (s *Session) maybeResumeLocked(userID uuid.UUID, now time.Time) []outbound {
	if s.state.Phase != protocol.PhasePresenterPaused {
		return nil
	}

	switch s.state.PauseReason {
	case protocol.PausePresenterDisconnected:
		if s.state.CurrentPresenterID == nil || userID != *s.state.CurrentPresenterID {
			return nil
		}
	case protocol.PauseNoParticipants, protocol.PauseAllDisconnected:
		if !s.hasAudienceLocked() {
			return nil
		}
	default:
		return nil
	}

	return s.resumeLocked(now)
}

func (s *Session) resumeLocked(now time.Time) []outbound {
	if _, ok := s.state.currentQuestion(); !ok {
		s.state.Phase = protocol.PhaseNotStarted
		s.state.PauseReason = ""
		return nil
	}

	s.state.PauseReason = ""
	// A quiz that opened paused never showed its question; give it a fresh
	// presentation instead of replaying an empty answer list.
	if len(s.state.PresentedAnswers) == 0 {
		return s.showQuestionLocked(s.state.QuestionIndex, now)
	}
	return s.showQuestionResumeLocked(now)
}

// showQuestionResumeLocked re-broadcasts the current question with the same
// answer order it was first shown with, restarting its clock.
func (s *Session) showQuestionResumeLocked(now time.Time) []outbound {
	q := s.state.Questions[s.state.QuestionIndex]

	s.state.QuestionStartedAt = &now
	s.state.Phase = protocol.PhaseShowingQuestion

	return []outbound{
		{msg: protocol.QuestionMessage{
			Type:           protocol.TypeQuestion,
			QuestionID:     q.ID,
			QuestionNumber: s.state.QuestionIndex + 1,
			TotalQuestions: len(s.state.Questions),
			Text:           q.QuestionText,
			Answers:        s.state.PresentedAnswers,
			TimeLimit:      s.state.TimeLimitSeconds,
		}},
		{msg: protocol.NewPhaseChanged(s.state.Phase, s.state.QuestionIndex, len(s.state.Questions))},
	}
}
