package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/storage"
)

// Store is the persistence surface the hub consumes. *storage.Store
// satisfies it; tests substitute a mock. Each call is one transactional
// unit; scoring methods never split their row updates.
type Store interface {
	EventByID(id uuid.UUID) (storage.Event, error)
	SetEventStatus(id uuid.UUID, status, previousStatus string, endedAt *time.Time) error

	SegmentByID(id uuid.UUID) (storage.Segment, error)
	SegmentsByEvent(eventID uuid.UUID) ([]storage.Segment, error)
	SetSegmentStatus(id uuid.UUID, status, previousStatus string, ts storage.SegmentTimestamps) error
	SetSegmentPresenter(id, presenterUserID uuid.UUID, presenterName string) error
	CreateSegment(seg storage.Segment) error

	QuestionsBySegment(segmentID uuid.UUID) ([]storage.Question, error)
	CountEventQuestions(eventID uuid.UUID) (int, error)
	AggregateEventQuestions(eventID uuid.UUID, max int) ([]storage.Question, error)

	ParticipantByID(id uuid.UUID) (storage.Participant, error)
	ParticipantsByEvent(eventID uuid.UUID) ([]storage.Participant, error)
	SetParticipantJoinStatus(id uuid.UUID, joinStatus string) error
	TouchParticipant(id uuid.UUID, sessionToken string, at time.Time) error

	ApplyAnswerScore(segmentID, participantID uuid.UUID, delta int, correct bool, responseTimeMS int64, at time.Time) error
	ApplyZeroFill(segmentID, participantID uuid.UUID, at time.Time) error
	SegmentLeaderboard(segmentID uuid.UUID) ([]storage.LeaderboardRow, error)
	EventLeaderboard(eventID uuid.UUID) ([]storage.LeaderboardRow, error)
	SegmentWinners(eventID uuid.UUID) ([]storage.SegmentWinner, error)
}
