// Package storage is the durable record behind the event hub: events,
// segments, questions, participants, and scores live here. The hub is
// authoritative for runtime state only while an event is live; this store
// is the source of truth for identity and score totals across reconnects.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed repository.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and ensures the schema.
func New(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "quizwire.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			host_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			join_code TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'waiting',
			previous_status TEXT,
			num_fake_answers INTEGER NOT NULL DEFAULT 3,
			time_per_question INTEGER NOT NULL DEFAULT 30,
			join_locked INTEGER NOT NULL DEFAULT 0,
			join_locked_at TEXT,
			ended_at TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			presenter_name TEXT NOT NULL,
			presenter_user_id TEXT,
			title TEXT,
			order_index INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			previous_status TEXT,
			recording_started_at TEXT,
			recording_ended_at TEXT,
			quiz_started_at TEXT,
			ended_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(event_id) REFERENCES events(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			segment_id TEXT NOT NULL,
			question_text TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			fake_answers TEXT,
			order_index INTEGER NOT NULL DEFAULT 0,
			is_ai_generated INTEGER,
			source_transcript TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(segment_id) REFERENCES segments(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS event_participants (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			user_id TEXT,
			device_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			avatar_url TEXT,
			session_token TEXT,
			total_score INTEGER NOT NULL DEFAULT 0,
			total_response_time_ms INTEGER NOT NULL DEFAULT 0,
			is_late_joiner INTEGER NOT NULL DEFAULT 0,
			join_status TEXT NOT NULL DEFAULT 'joined',
			joined_at TEXT NOT NULL,
			join_started_at TEXT,
			last_heartbeat TEXT,
			UNIQUE(event_id, device_id),
			FOREIGN KEY(event_id) REFERENCES events(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS segment_scores (
			id TEXT PRIMARY KEY,
			segment_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			questions_answered INTEGER NOT NULL DEFAULT 0,
			questions_correct INTEGER NOT NULL DEFAULT 0,
			total_response_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(segment_id, participant_id),
			FOREIGN KEY(segment_id) REFERENCES segments(id) ON DELETE CASCADE,
			FOREIGN KEY(participant_id) REFERENCES event_participants(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS join_attempts (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'in_progress',
			started_at TEXT NOT NULL,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(event_id) REFERENCES events(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS presentation_transcripts (
			id TEXT PRIMARY KEY,
			segment_id TEXT NOT NULL,
			chunk_text TEXT NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY(segment_id) REFERENCES segments(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_segments_event ON segments(event_id, order_index);`,
		`CREATE INDEX IF NOT EXISTS idx_questions_segment ON questions(segment_id, order_index);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_event ON event_participants(event_id);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_device ON event_participants(device_id);`,
		`CREATE INDEX IF NOT EXISTS idx_segment_scores_segment ON segment_scores(segment_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_segment ON presentation_transcripts(segment_id, chunk_index);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for integration tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
