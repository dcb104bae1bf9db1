package hub

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/protocol"
	"github.com/sjawhar/quizwire/internal/storage"
)

// entriesLocked maps persisted leaderboard rows to wire entries, attaching
// ranks and the live presence flag the store cannot know.
func (s *Session) entriesLocked(rows []storage.LeaderboardRow) []protocol.LeaderboardEntry {
	entries := make([]protocol.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		present := false
		if p, ok := s.state.Participants[row.ParticipantID]; ok {
			present = p.Online
		}
		entries = append(entries, protocol.LeaderboardEntry{
			Rank:           i + 1,
			UserID:         row.ParticipantID,
			Username:       row.DisplayName,
			AvatarURL:      row.AvatarURL,
			Score:          row.Score,
			IsLateJoiner:   row.IsLateJoiner,
			ResponseTimeMS: row.TotalResponseTimeMS,
			IsPresent:      present,
		})
	}
	return entries
}

func (s *Session) segmentLeaderboardLocked(segmentID uuid.UUID) []protocol.LeaderboardEntry {
	rows, err := s.store.SegmentLeaderboard(segmentID)
	if err != nil {
		log.Printf("event %s: segment leaderboard %s: %v", s.eventID, segmentID, err)
		return []protocol.LeaderboardEntry{}
	}
	return s.entriesLocked(rows)
}

func (s *Session) eventLeaderboardLocked() []protocol.LeaderboardEntry {
	rows, err := s.store.EventLeaderboard(s.eventID)
	if err != nil {
		log.Printf("event %s: event leaderboard: %v", s.eventID, err)
		return []protocol.LeaderboardEntry{}
	}
	return s.entriesLocked(rows)
}

// finishSegmentLocked completes the current segment (or the whole event when
// the mega quiz just ran) and projects the completion payloads.
func (s *Session) finishSegmentLocked(now time.Time) []outbound {
	if s.state.MegaQuiz {
		return s.completeEventLocked(now)
	}

	segID := uuid.Nil
	if s.state.CurrentSegmentID != nil {
		segID = *s.state.CurrentSegmentID
	}

	var seg storage.Segment
	if segID != uuid.Nil {
		var err error
		seg, err = s.store.SegmentByID(segID)
		if err != nil {
			log.Printf("event %s: load segment %s: %v", s.eventID, segID, err)
		}
		if err := s.store.SetSegmentStatus(segID, storage.SegmentCompleted, storage.SegmentQuizzing, storage.SegmentTimestamps{EndedAt: &now}); err != nil {
			log.Printf("event %s: complete segment %s: %v", s.eventID, segID, err)
		}
	}

	for _, p := range s.state.Participants {
		if p.JoinStatus != storage.JoinSegmentComplete {
			s.setJoinStatusLocked(p, storage.JoinSegmentComplete)
		}
	}

	segmentBoard := s.segmentLeaderboardLocked(segID)
	eventBoard := s.eventLeaderboardLocked()

	msg := protocol.SegmentCompleteMessage{
		Type:               protocol.TypeSegmentComplete,
		SegmentID:          segID,
		SegmentTitle:       seg.Title,
		PresenterName:      seg.PresenterName,
		SegmentLeaderboard: segmentBoard,
		EventLeaderboard:   eventBoard,
	}
	if len(segmentBoard) > 0 {
		winner := segmentBoard[0]
		msg.SegmentWinner = &winner
	}
	if len(eventBoard) > 0 {
		leader := eventBoard[0]
		msg.EventLeader = &leader
	}

	s.state.Phase = protocol.PhaseSegmentComplete
	s.state.QuestionStartedAt = nil

	frames := []outbound{
		{msg: msg},
		{msg: protocol.NewPhaseChanged(s.state.Phase, s.state.QuestionIndex, len(s.state.Questions))},
	}

	return append(frames, s.afterSegmentLocked(now, eventBoard)...)
}

// afterSegmentLocked runs the end-of-event decision: when every segment is
// completed, offer the mega quiz if any questions exist, otherwise finish
// the event.
func (s *Session) afterSegmentLocked(now time.Time, eventBoard []protocol.LeaderboardEntry) []outbound {
	segments, err := s.store.SegmentsByEvent(s.eventID)
	if err != nil {
		log.Printf("event %s: list segments: %v", s.eventID, err)
		return nil
	}
	if len(segments) == 0 {
		return nil
	}
	for _, seg := range segments {
		if seg.Status != storage.SegmentCompleted {
			return nil
		}
	}

	available, err := s.store.CountEventQuestions(s.eventID)
	if err != nil {
		log.Printf("event %s: count questions: %v", s.eventID, err)
		return nil
	}
	if available == 0 {
		return s.completeEventLocked(now)
	}

	s.state.Phase = protocol.PhaseMegaQuizReady
	return []outbound{
		{msg: protocol.MegaQuizReadyMessage{
			Type:               protocol.TypeMegaQuizReady,
			EventID:            s.eventID,
			AvailableQuestions: available,
			CurrentLeaderboard: eventBoard,
			IsSingleSegment:    len(segments) == 1,
			SingleSegmentMode:  s.cfg.MegaQuizSingleSegment,
		}},
		{msg: protocol.NewPhaseChanged(s.state.Phase, s.state.QuestionIndex, len(s.state.Questions))},
	}
}

// completeEventLocked finalizes the event: durable status, final standings,
// winner, and per-segment winners.
func (s *Session) completeEventLocked(now time.Time) []outbound {
	prev := s.event.Status
	if prev == "" {
		prev = storage.EventActive
	}
	if err := s.store.SetEventStatus(s.eventID, storage.EventFinished, prev, &now); err != nil {
		log.Printf("event %s: mark finished: %v", s.eventID, err)
	}

	board := s.eventLeaderboardLocked()

	winners, err := s.store.SegmentWinners(s.eventID)
	if err != nil {
		log.Printf("event %s: segment winners: %v", s.eventID, err)
	}
	wire := make([]protocol.SegmentWinner, 0, len(winners))
	for _, w := range winners {
		wire = append(wire, protocol.SegmentWinner{
			SegmentID:    w.SegmentID,
			SegmentTitle: w.SegmentTitle,
			WinnerName:   w.DisplayName,
			WinnerScore:  w.Score,
		})
	}

	msg := protocol.EventCompleteMessage{
		Type:             protocol.TypeEventComplete,
		EventID:          s.eventID,
		FinalLeaderboard: board,
		SegmentWinners:   wire,
	}
	if len(board) > 0 {
		winner := board[0]
		msg.Winner = &winner
	}

	s.state.Phase = protocol.PhaseEventComplete
	s.state.QuestionStartedAt = nil
	s.state.CompletedAt = &now

	return []outbound{
		{msg: msg},
		{msg: protocol.NewPhaseChanged(s.state.Phase, s.state.QuestionIndex, len(s.state.Questions))},
	}
}
