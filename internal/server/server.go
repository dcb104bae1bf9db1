// Package server is the HTTP surface: the websocket endpoint the hub speaks
// through plus the REST routes for event and segment lifecycle, joins, and
// leaderboards.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/config"
	"github.com/sjawhar/quizwire/internal/hub"
	"github.com/sjawhar/quizwire/internal/join"
	"github.com/sjawhar/quizwire/internal/questiongen"
	"github.com/sjawhar/quizwire/internal/storage"
)

// Store is the persistence surface the HTTP handlers consume.
// *storage.Store satisfies it.
type Store interface {
	CreateEvent(ev storage.Event) error
	EventByID(id uuid.UUID) (storage.Event, error)
	EventByCode(code string) (storage.Event, error)
	SetEventStatus(id uuid.UUID, status, previousStatus string, endedAt *time.Time) error
	SetEventJoinLock(id uuid.UUID, locked bool, lockedAt *time.Time) error

	CreateSegment(seg storage.Segment) error
	SegmentByID(id uuid.UUID) (storage.Segment, error)
	SegmentsByEvent(eventID uuid.UUID) ([]storage.Segment, error)
	SetSegmentStatus(id uuid.UUID, status, previousStatus string, ts storage.SegmentTimestamps) error

	QuestionsBySegment(segmentID uuid.UUID) ([]storage.Question, error)
	CreateQuestions(questions []storage.Question) error
	AppendTranscript(segmentID uuid.UUID, chunkIndex int, text string, at time.Time) error
	SegmentTranscript(segmentID uuid.UUID) (string, error)

	ParticipantByID(id uuid.UUID) (storage.Participant, error)
	ParticipantByName(eventID uuid.UUID, displayName string) (storage.Participant, error)
	UpdateParticipantName(id uuid.UUID, displayName string) error
	ReassignDevice(id, deviceID uuid.UUID, sessionToken string, at time.Time) error

	SegmentLeaderboard(segmentID uuid.UUID) ([]storage.LeaderboardRow, error)
	EventLeaderboard(eventID uuid.UUID) ([]storage.LeaderboardRow, error)
}

// Generator produces quiz questions from a transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string, count, fakeAnswers int) ([]questiongen.Generated, error)
}

// Server wires the routes to the hub, store, and join flow.
type Server struct {
	store     Store
	hub       *hub.Hub
	join      *join.Service
	generator Generator
	cfg       config.Config

	eventResume   *debouncer
	segmentResume *debouncer
}

// New builds the server. generator may be nil when no API key is configured.
func New(store Store, h *hub.Hub, joinSvc *join.Service, generator Generator, cfg config.Config) *Server {
	return &Server{
		store:         store,
		hub:           h,
		join:          joinSvc,
		generator:     generator,
		cfg:           cfg,
		eventResume:   newDebouncer(cfg.EventResumeDebounce()),
		segmentResume: newDebouncer(cfg.SegmentResumeDebounce()),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerWSRoute(mux)
	s.registerAPIRoutes(mux)
	return mux
}

// PruneDebounce drops stale debounce entries. The hub janitor is the usual
// caller.
func (s *Server) PruneDebounce(now time.Time) {
	maxAge := 10 * s.cfg.EventResumeDebounce()
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	s.eventResume.prune(now, maxAge)
	s.segmentResume.prune(now, maxAge)
}
