package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant join statuses.
const (
	JoinJoined            = "joined"
	JoinWaitingForSegment = "waiting_for_segment"
	JoinActiveInQuiz      = "active_in_quiz"
	JoinSegmentComplete   = "segment_complete"
)

// Participant is one attendee of an event, keyed by (event_id, device_id).
type Participant struct {
	ID                  uuid.UUID
	EventID             uuid.UUID
	UserID              *uuid.UUID
	DeviceID            uuid.UUID
	DisplayName         string
	AvatarURL           string
	SessionToken        string
	TotalScore          int
	TotalResponseTimeMS int64
	IsLateJoiner        bool
	JoinStatus          string
	JoinedAt            time.Time
	JoinStartedAt       *time.Time
	LastHeartbeat       *time.Time
}

const participantColumns = `id, event_id, user_id, device_id, display_name,
	COALESCE(avatar_url, ''), COALESCE(session_token, ''), total_score,
	total_response_time_ms, is_late_joiner, join_status, joined_at,
	join_started_at, last_heartbeat`

// CreateParticipant inserts a new participant row.
func (s *Store) CreateParticipant(p Participant) error {
	var userID any
	if p.UserID != nil {
		userID = p.UserID.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO event_participants (id, event_id, user_id, device_id, display_name,
			avatar_url, session_token, total_score, total_response_time_ms, is_late_joiner,
			join_status, joined_at, join_started_at, last_heartbeat)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(),
		p.EventID.String(),
		userID,
		p.DeviceID.String(),
		p.DisplayName,
		nullIfEmpty(p.AvatarURL),
		nullIfEmpty(p.SessionToken),
		p.TotalScore,
		p.TotalResponseTimeMS,
		boolToInt(p.IsLateJoiner),
		p.JoinStatus,
		formatTime(p.JoinedAt),
		formatTimePtr(p.JoinStartedAt),
		formatTimePtr(p.LastHeartbeat),
	)
	if err != nil {
		return fmt.Errorf("create participant %s: %w", p.ID, err)
	}
	return nil
}

// ParticipantByID fetches one participant, or ErrNotFound.
func (s *Store) ParticipantByID(id uuid.UUID) (Participant, error) {
	row := s.db.QueryRow(`SELECT `+participantColumns+` FROM event_participants WHERE id = ?`, id.String())
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("query participant %s: %w", id, err)
	}
	return p, nil
}

// ParticipantByDevice fetches the participant of an event for one device, or
// ErrNotFound.
func (s *Store) ParticipantByDevice(eventID, deviceID uuid.UUID) (Participant, error) {
	row := s.db.QueryRow(
		`SELECT `+participantColumns+` FROM event_participants WHERE event_id = ? AND device_id = ?`,
		eventID.String(),
		deviceID.String(),
	)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("query participant for device %s: %w", deviceID, err)
	}
	return p, nil
}

// ParticipantByName fetches an event's participant by exact display name, or
// ErrNotFound. Used by the recovery flow.
func (s *Store) ParticipantByName(eventID uuid.UUID, displayName string) (Participant, error) {
	row := s.db.QueryRow(
		`SELECT `+participantColumns+` FROM event_participants WHERE event_id = ? AND display_name = ?`,
		eventID.String(),
		displayName,
	)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("query participant by name %q: %w", displayName, err)
	}
	return p, nil
}

// ParticipantsByEvent lists an event's participants ordered by join time.
func (s *Store) ParticipantsByEvent(eventID uuid.UUID) ([]Participant, error) {
	rows, err := s.db.Query(
		`SELECT `+participantColumns+` FROM event_participants WHERE event_id = ? ORDER BY joined_at`,
		eventID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query participants for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// DisplayNames returns the set of names already taken within an event.
func (s *Store) DisplayNames(eventID uuid.UUID) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT display_name FROM event_participants WHERE event_id = ?`,
		eventID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query display names for event %s: %w", eventID, err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan display name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// UpdateParticipantName renames a participant.
func (s *Store) UpdateParticipantName(id uuid.UUID, displayName string) error {
	res, err := s.db.Exec(
		`UPDATE event_participants SET display_name = ? WHERE id = ?`,
		displayName,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("rename participant %s: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// TouchParticipant refreshes the heartbeat timestamp and issues a new session
// token (empty token leaves the current one in place).
func (s *Store) TouchParticipant(id uuid.UUID, sessionToken string, at time.Time) error {
	var res sql.Result
	var err error
	if sessionToken == "" {
		res, err = s.db.Exec(
			`UPDATE event_participants SET last_heartbeat = ? WHERE id = ?`,
			formatTime(at),
			id.String(),
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE event_participants SET last_heartbeat = ?, session_token = ? WHERE id = ?`,
			formatTime(at),
			sessionToken,
			id.String(),
		)
	}
	if err != nil {
		return fmt.Errorf("touch participant %s: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// SetParticipantJoinStatus updates a single participant's join status.
func (s *Store) SetParticipantJoinStatus(id uuid.UUID, joinStatus string) error {
	res, err := s.db.Exec(
		`UPDATE event_participants SET join_status = ? WHERE id = ?`,
		joinStatus,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("set participant %s join status: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// ReassignDevice re-links a participant to a new device fingerprint and
// session token. Used by the recovery flow when a device loses its identity.
func (s *Store) ReassignDevice(id, deviceID uuid.UUID, sessionToken string, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE event_participants SET device_id = ?, session_token = ?, last_heartbeat = ? WHERE id = ?`,
		deviceID.String(),
		sessionToken,
		formatTime(at),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("reassign device for participant %s: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	var id, eventID, deviceID, joinedAt string
	var userID, joinStartedAt, lastHeartbeat sql.NullString
	var lateJoiner int

	err := row.Scan(
		&id, &eventID, &userID, &deviceID, &p.DisplayName,
		&p.AvatarURL, &p.SessionToken, &p.TotalScore,
		&p.TotalResponseTimeMS, &lateJoiner, &p.JoinStatus, &joinedAt,
		&joinStartedAt, &lastHeartbeat,
	)
	if err != nil {
		return Participant{}, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return Participant{}, fmt.Errorf("parse participant id: %w", err)
	}
	if p.EventID, err = uuid.Parse(eventID); err != nil {
		return Participant{}, fmt.Errorf("parse participant event id: %w", err)
	}
	if p.DeviceID, err = uuid.Parse(deviceID); err != nil {
		return Participant{}, fmt.Errorf("parse participant device id: %w", err)
	}
	if userID.Valid {
		parsed, err := uuid.Parse(userID.String)
		if err != nil {
			return Participant{}, fmt.Errorf("parse participant user id: %w", err)
		}
		p.UserID = &parsed
	}
	p.IsLateJoiner = lateJoiner != 0
	if p.JoinedAt, err = parseTime(joinedAt); err != nil {
		return Participant{}, err
	}
	if p.JoinStartedAt, err = parseTimePtr(joinStartedAt); err != nil {
		return Participant{}, err
	}
	if p.LastHeartbeat, err = parseTimePtr(lastHeartbeat); err != nil {
		return Participant{}, err
	}

	return p, nil
}
