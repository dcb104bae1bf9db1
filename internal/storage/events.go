package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event statuses.
const (
	EventWaiting  = "waiting"
	EventActive   = "active"
	EventFinished = "finished"
)

// Event modes.
const (
	ModeListenOnly = "listen_only"
	ModeNormal     = "normal"
)

// Event is one live quiz instance.
type Event struct {
	ID              uuid.UUID
	HostID          uuid.UUID
	Title           string
	Description     string
	JoinCode        string
	Mode            string
	Status          string
	PreviousStatus  string
	NumFakeAnswers  int
	TimePerQuestion int
	JoinLocked      bool
	JoinLockedAt    *time.Time
	EndedAt         *time.Time
	CreatedAt       time.Time
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// eventColumns builds the select list for scanEvent, qualifying bare column
// names with alias so joined queries stay unambiguous.
func eventColumns(alias string) string {
	col := qualify(alias)
	return strings.Join([]string{
		col("id"), col("host_id"), col("title"),
		"COALESCE(" + col("description") + ", '')",
		col("join_code"), col("mode"), col("status"),
		"COALESCE(" + col("previous_status") + ", '')",
		col("num_fake_answers"), col("time_per_question"), col("join_locked"),
		col("join_locked_at"), col("ended_at"), col("created_at"),
	}, ", ")
}

func qualify(alias string) func(string) string {
	return func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
}

// CreateEvent inserts a new event row.
func (s *Store) CreateEvent(ev Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (id, host_id, title, description, join_code, mode, status,
			num_fake_answers, time_per_question, join_locked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(),
		ev.HostID.String(),
		ev.Title,
		ev.Description,
		strings.ToUpper(ev.JoinCode),
		ev.Mode,
		ev.Status,
		ev.NumFakeAnswers,
		ev.TimePerQuestion,
		boolToInt(ev.JoinLocked),
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create event %s: %w", ev.ID, err)
	}
	return nil
}

// EventByID fetches one event, or ErrNotFound.
func (s *Store) EventByID(id uuid.UUID) (Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns("")+` FROM events WHERE id = ?`, id.String())
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("query event %s: %w", id, err)
	}
	return ev, nil
}

// EventByCode fetches an event by its join code (case-insensitive), or
// ErrNotFound.
func (s *Store) EventByCode(code string) (Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns("")+` FROM events WHERE join_code = ?`, strings.ToUpper(strings.TrimSpace(code)))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("query event by code %q: %w", code, err)
	}
	return ev, nil
}

// SetEventStatus updates the lifecycle status. previousStatus and endedAt are
// written as-is; pass empty/nil to clear them (resume does exactly that).
func (s *Store) SetEventStatus(id uuid.UUID, status, previousStatus string, endedAt *time.Time) error {
	res, err := s.db.Exec(
		`UPDATE events SET status = ?, previous_status = ?, ended_at = ? WHERE id = ?`,
		status,
		nullIfEmpty(previousStatus),
		formatTimePtr(endedAt),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("set event %s status: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// SetEventJoinLock toggles the join lock, recording when it engaged.
func (s *Store) SetEventJoinLock(id uuid.UUID, locked bool, lockedAt *time.Time) error {
	res, err := s.db.Exec(
		`UPDATE events SET join_locked = ?, join_locked_at = ? WHERE id = ?`,
		boolToInt(locked),
		formatTimePtr(lockedAt),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("set event %s join lock: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// FindActiveEventForDevice returns an event with status waiting or active in
// which the device already participates, excluding excludeEventID. Returns
// ErrNotFound when the device is free.
func (s *Store) FindActiveEventForDevice(deviceID, excludeEventID uuid.UUID) (Event, error) {
	row := s.db.QueryRow(
		`SELECT `+eventColumns("e")+`
		 FROM events e
		 JOIN event_participants p ON p.event_id = e.id
		 WHERE p.device_id = ? AND e.id != ? AND e.status IN (?, ?)
		 LIMIT 1`,
		deviceID.String(),
		excludeEventID.String(),
		EventWaiting,
		EventActive,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("find active event for device %s: %w", deviceID, err)
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var id, hostID, createdAt string
	var joinLocked int
	var joinLockedAt, endedAt sql.NullString

	err := row.Scan(
		&id, &hostID, &ev.Title, &ev.Description, &ev.JoinCode, &ev.Mode, &ev.Status,
		&ev.PreviousStatus, &ev.NumFakeAnswers, &ev.TimePerQuestion, &joinLocked,
		&joinLockedAt, &endedAt, &createdAt,
	)
	if err != nil {
		return Event{}, err
	}

	if ev.ID, err = uuid.Parse(id); err != nil {
		return Event{}, fmt.Errorf("parse event id: %w", err)
	}
	if ev.HostID, err = uuid.Parse(hostID); err != nil {
		return Event{}, fmt.Errorf("parse event host id: %w", err)
	}
	ev.JoinLocked = joinLocked != 0
	if ev.JoinLockedAt, err = parseTimePtr(joinLockedAt); err != nil {
		return Event{}, err
	}
	if ev.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return Event{}, err
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return Event{}, err
	}

	return ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func requireRow(res sql.Result, missing error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return missing
	}
	return nil
}
