package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Join attempt outcomes.
const (
	JoinAttemptInProgress = "in_progress"
	JoinAttemptCompleted  = "completed"
	JoinAttemptRejected   = "rejected"
)

// JoinAttempt is a transient audit record of one device's attempt to enter an
// event. Kept for debugging join races; never read on the hot path.
type JoinAttempt struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	DeviceID    uuid.UUID
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// CreateJoinAttempt records the start of a join.
func (s *Store) CreateJoinAttempt(a JoinAttempt) error {
	_, err := s.db.Exec(
		`INSERT INTO join_attempts (id, event_id, device_id, status, started_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(),
		a.EventID.String(),
		a.DeviceID.String(),
		a.Status,
		formatTime(a.StartedAt),
		formatTime(a.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("create join attempt %s: %w", a.ID, err)
	}
	return nil
}

// FinishJoinAttempt records the attempt's outcome.
func (s *Store) FinishJoinAttempt(id uuid.UUID, status string, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE join_attempts SET status = ?, completed_at = ? WHERE id = ?`,
		status,
		formatTime(at),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish join attempt %s: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}
