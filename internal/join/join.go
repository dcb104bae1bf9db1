package join

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/sjawhar/quizwire/internal/storage"
)

const (
	acquireTimeout = 3 * time.Second

	codeAlphabet  = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength    = 6
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 32
)

// Typed rejections the HTTP surface maps onto status codes.
var (
	ErrNotFound = errors.New("event not found")
	ErrLocked   = errors.New("the event is locked")
)

// ConflictError rejects a device that is already inside another live event.
type ConflictError struct {
	EventTitle string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("device already participates in %q", e.EventTitle)
}

// Store is the persistence surface the join flow consumes.
type Store interface {
	EventByCode(code string) (storage.Event, error)
	EventByID(id uuid.UUID) (storage.Event, error)
	FindActiveEventForDevice(deviceID, excludeEventID uuid.UUID) (storage.Event, error)
	ParticipantByDevice(eventID, deviceID uuid.UUID) (storage.Participant, error)
	CreateParticipant(p storage.Participant) error
	TouchParticipant(id uuid.UUID, sessionToken string, at time.Time) error
	DisplayNames(eventID uuid.UUID) (map[string]bool, error)
	CreateJoinAttempt(a storage.JoinAttempt) error
	FinishJoinAttempt(id uuid.UUID, status string, at time.Time) error
}

// Clock abstracts wall-clock reads for the lock grace window.
type Clock interface {
	Now() time.Time
}

// PhaseSource answers whether an event currently has a question cycle
// running; arrivals during one become late joiners.
type PhaseSource interface {
	MidQuiz(eventID uuid.UUID) bool
}

// Request is one device's attempt to enter an event.
type Request struct {
	JoinCode    string
	DeviceID    uuid.UUID
	DisplayName string
	AvatarURL   string
}

// Result is a successful admission.
type Result struct {
	Event        storage.Event
	Participant  storage.Participant
	SessionToken string
	IsRejoining  bool
}

// Service runs the admission flow behind the per-event gate.
type Service struct {
	store     Store
	gate      *Gate
	phases    PhaseSource
	clock     Clock
	lockGrace time.Duration
}

// NewService wires the join flow. phases may be nil when no hub is running
// (new arrivals are then never late joiners).
func NewService(store Store, gate *Gate, phases PhaseSource, clock Clock, lockGrace time.Duration) *Service {
	return &Service{
		store:     store,
		gate:      gate,
		phases:    phases,
		clock:     clock,
		lockGrace: lockGrace,
	}
}

// Join admits one device into an event. Rejections are ErrNotFound,
// ErrLocked, ErrBusy, or a ConflictError naming the other event.
func (s *Service) Join(req Request) (Result, error) {
	event, err := s.store.EventByCode(req.JoinCode)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("look up event: %w", err)
	}

	release, err := s.gate.Acquire(event.ID, acquireTimeout)
	if err != nil {
		return Result{}, err
	}
	defer release()

	// Re-read under the gate so the lock state seen by admission cannot be
	// stale relative to other admissions of the same event.
	event, err = s.store.EventByID(event.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("reload event: %w", err)
	}

	startedAt := s.clock.Now()
	attemptID := uuid.New()
	err = s.store.CreateJoinAttempt(storage.JoinAttempt{
		ID:        attemptID,
		EventID:   event.ID,
		DeviceID:  req.DeviceID,
		Status:    storage.JoinAttemptInProgress,
		StartedAt: startedAt,
	})
	if err != nil {
		log.Printf("record join attempt for event %s: %v", event.ID, err)
		attemptID = uuid.Nil
	}

	result, err := s.admit(event, req, startedAt)

	if attemptID != uuid.Nil {
		status := storage.JoinAttemptCompleted
		if err != nil {
			status = storage.JoinAttemptRejected
		}
		if ferr := s.store.FinishJoinAttempt(attemptID, status, s.clock.Now()); ferr != nil {
			log.Printf("finish join attempt %s: %v", attemptID, ferr)
		}
	}

	return result, err
}

func (s *Service) admit(event storage.Event, req Request, startedAt time.Time) (Result, error) {
	// Attempts that began shortly after the lock engaged are still admitted.
	if event.JoinLocked {
		lockedAt := event.CreatedAt
		if event.JoinLockedAt != nil {
			lockedAt = *event.JoinLockedAt
		}
		if startedAt.Sub(lockedAt) > s.lockGrace {
			return Result{}, ErrLocked
		}
	}

	other, err := s.store.FindActiveEventForDevice(req.DeviceID, event.ID)
	if err == nil {
		return Result{}, ConflictError{EventTitle: other.Title}
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("check device exclusivity: %w", err)
	}

	token, err := gonanoid.Generate(tokenAlphabet, tokenLength)
	if err != nil {
		return Result{}, fmt.Errorf("generate session token: %w", err)
	}

	existing, err := s.store.ParticipantByDevice(event.ID, req.DeviceID)
	if err == nil {
		if err := s.store.TouchParticipant(existing.ID, token, startedAt); err != nil {
			return Result{}, fmt.Errorf("refresh participant: %w", err)
		}
		existing.SessionToken = token
		return Result{Event: event, Participant: existing, SessionToken: token, IsRejoining: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("look up participant: %w", err)
	}

	name, err := s.uniqueName(event.ID, req.DisplayName)
	if err != nil {
		return Result{}, err
	}

	joinStatus := storage.JoinJoined
	lateJoiner := false
	if s.phases != nil && s.phases.MidQuiz(event.ID) {
		joinStatus = storage.JoinWaitingForSegment
		lateJoiner = true
	}

	p := storage.Participant{
		ID:            uuid.New(),
		EventID:       event.ID,
		DeviceID:      req.DeviceID,
		DisplayName:   name,
		AvatarURL:     req.AvatarURL,
		SessionToken:  token,
		IsLateJoiner:  lateJoiner,
		JoinStatus:    joinStatus,
		JoinedAt:      startedAt,
		JoinStartedAt: &startedAt,
		LastHeartbeat: &startedAt,
	}
	if err := s.store.CreateParticipant(p); err != nil {
		return Result{}, fmt.Errorf("create participant: %w", err)
	}

	return Result{Event: event, Participant: p, SessionToken: token}, nil
}

// uniqueName trims the requested name and suffixes " 2", " 3", ... until it
// is unused within the event. Comparison is case-sensitive.
func (s *Service) uniqueName(eventID uuid.UUID, requested string) (string, error) {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = "Guest"
	}

	taken, err := s.store.DisplayNames(eventID)
	if err != nil {
		return "", fmt.Errorf("list display names: %w", err)
	}

	if !taken[base] {
		return base, nil
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d", base, i)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// UniqueName re-runs the uniquing rule for an existing participant's rename.
func (s *Service) UniqueName(eventID uuid.UUID, requested string) (string, error) {
	return s.uniqueName(eventID, requested)
}

// NewCode generates a short join code from an unambiguous alphabet.
func NewCode() (string, error) {
	return gonanoid.Generate(codeAlphabet, codeLength)
}

// NewToken generates a fresh participant session token.
func NewToken() (string, error) {
	return gonanoid.Generate(tokenAlphabet, tokenLength)
}
