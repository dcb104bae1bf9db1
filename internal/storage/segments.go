package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Segment statuses.
const (
	SegmentPending        = "pending"
	SegmentRecording      = "recording"
	SegmentRecordingPause = "recording_paused"
	SegmentQuizReady      = "quiz_ready"
	SegmentQuizzing       = "quizzing"
	SegmentCompleted      = "completed"
)

// Segment is one presenter's slice of an event.
type Segment struct {
	ID                 uuid.UUID
	EventID            uuid.UUID
	PresenterName      string
	PresenterUserID    *uuid.UUID
	Title              string
	OrderIndex         int
	Status             string
	PreviousStatus     string
	RecordingStartedAt *time.Time
	RecordingEndedAt   *time.Time
	QuizStartedAt      *time.Time
	EndedAt            *time.Time
	CreatedAt          time.Time
}

// Question is one multiple-choice question of a segment. FakeAnswers is the
// ordered wrong-answer list; the hub shuffles it together with the correct
// answer when presenting.
type Question struct {
	ID               uuid.UUID
	SegmentID        uuid.UUID
	QuestionText     string
	CorrectAnswer    string
	FakeAnswers      []string
	OrderIndex       int
	IsAIGenerated    bool
	SourceTranscript string
	CreatedAt        time.Time
}

// SegmentTimestamps carries the optional timestamps a status transition may
// set. Nil fields are left untouched.
type SegmentTimestamps struct {
	RecordingStartedAt *time.Time
	RecordingEndedAt   *time.Time
	QuizStartedAt      *time.Time
	EndedAt            *time.Time
}

const segmentColumns = `id, event_id, presenter_name, presenter_user_id, COALESCE(title, ''),
	order_index, status, COALESCE(previous_status, ''), recording_started_at,
	recording_ended_at, quiz_started_at, ended_at, created_at`

// CreateSegment inserts a new segment row.
func (s *Store) CreateSegment(seg Segment) error {
	var presenterID any
	if seg.PresenterUserID != nil {
		presenterID = seg.PresenterUserID.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO segments (id, event_id, presenter_name, presenter_user_id, title,
			order_index, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ID.String(),
		seg.EventID.String(),
		seg.PresenterName,
		presenterID,
		nullIfEmpty(seg.Title),
		seg.OrderIndex,
		seg.Status,
		formatTime(seg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", seg.ID, err)
	}
	return nil
}

// SegmentByID fetches one segment, or ErrNotFound.
func (s *Store) SegmentByID(id uuid.UUID) (Segment, error) {
	row := s.db.QueryRow(`SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id.String())
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Segment{}, ErrNotFound
	}
	if err != nil {
		return Segment{}, fmt.Errorf("query segment %s: %w", id, err)
	}
	return seg, nil
}

// SegmentsByEvent lists an event's segments in presentation order.
func (s *Store) SegmentsByEvent(eventID uuid.UUID) ([]Segment, error) {
	rows, err := s.db.Query(
		`SELECT `+segmentColumns+` FROM segments WHERE event_id = ? ORDER BY order_index, created_at`,
		eventID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// SetSegmentStatus updates status, previous_status, and any timestamps the
// transition sets.
func (s *Store) SetSegmentStatus(id uuid.UUID, status, previousStatus string, ts SegmentTimestamps) error {
	query := `UPDATE segments SET status = ?, previous_status = ?`
	args := []any{status, nullIfEmpty(previousStatus)}

	if ts.RecordingStartedAt != nil {
		query += `, recording_started_at = ?`
		args = append(args, formatTime(*ts.RecordingStartedAt))
	}
	if ts.RecordingEndedAt != nil {
		query += `, recording_ended_at = ?`
		args = append(args, formatTime(*ts.RecordingEndedAt))
	}
	if ts.QuizStartedAt != nil {
		query += `, quiz_started_at = ?`
		args = append(args, formatTime(*ts.QuizStartedAt))
	}
	if ts.EndedAt != nil {
		query += `, ended_at = ?`
		args = append(args, formatTime(*ts.EndedAt))
	}

	query += ` WHERE id = ?`
	args = append(args, id.String())

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("set segment %s status: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// SetSegmentPresenter reassigns who presents the segment.
func (s *Store) SetSegmentPresenter(id, presenterUserID uuid.UUID, presenterName string) error {
	res, err := s.db.Exec(
		`UPDATE segments SET presenter_user_id = ?, presenter_name = ? WHERE id = ?`,
		presenterUserID.String(),
		presenterName,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("set segment %s presenter: %w", id, err)
	}
	return requireRow(res, ErrNotFound)
}

// CreateQuestions inserts a batch of questions in one transaction.
func (s *Store) CreateQuestions(questions []Question) error {
	if len(questions) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin questions tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO questions (id, segment_id, question_text, correct_answer, fake_answers,
			order_index, is_ai_generated, source_transcript, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare question insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		fakes, err := json.Marshal(q.FakeAnswers)
		if err != nil {
			return fmt.Errorf("encode fake answers for question %s: %w", q.ID, err)
		}
		_, err = stmt.Exec(
			q.ID.String(),
			q.SegmentID.String(),
			q.QuestionText,
			q.CorrectAnswer,
			string(fakes),
			q.OrderIndex,
			boolToInt(q.IsAIGenerated),
			nullIfEmpty(q.SourceTranscript),
			formatTime(q.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit questions: %w", err)
	}
	return nil
}

// QuestionsBySegment lists a segment's questions in order.
func (s *Store) QuestionsBySegment(segmentID uuid.UUID) ([]Question, error) {
	rows, err := s.db.Query(
		`SELECT `+questionColumns("")+` FROM questions WHERE segment_id = ? ORDER BY order_index, created_at`,
		segmentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query questions for segment %s: %w", segmentID, err)
	}
	defer rows.Close()
	return collectQuestions(rows)
}

// CountEventQuestions counts all questions across an event's segments.
func (s *Store) CountEventQuestions(eventID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM questions q JOIN segments s ON s.id = q.segment_id WHERE s.event_id = ?`,
		eventID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count questions for event %s: %w", eventID, err)
	}
	return count, nil
}

// AggregateEventQuestions unions all questions of all segments of an event,
// shuffles them, and caps the result at max (max <= 0 means no cap).
func (s *Store) AggregateEventQuestions(eventID uuid.UUID, max int) ([]Question, error) {
	rows, err := s.db.Query(
		`SELECT `+questionColumns("q")+`
		 FROM questions q JOIN segments s ON s.id = q.segment_id
		 WHERE s.event_id = ?`,
		eventID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate questions for event %s: %w", eventID, err)
	}
	defer rows.Close()

	questions, err := collectQuestions(rows)
	if err != nil {
		return nil, err
	}

	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	if max > 0 && len(questions) > max {
		questions = questions[:max]
	}
	return questions, nil
}

// AppendTranscript stores one transcript chunk for a segment.
func (s *Store) AppendTranscript(segmentID uuid.UUID, chunkIndex int, text string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO presentation_transcripts (id, segment_id, chunk_text, chunk_index, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(),
		segmentID.String(),
		text,
		chunkIndex,
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("append transcript for segment %s: %w", segmentID, err)
	}
	return nil
}

// SegmentTranscript concatenates a segment's transcript chunks in order.
func (s *Store) SegmentTranscript(segmentID uuid.UUID) (string, error) {
	rows, err := s.db.Query(
		`SELECT chunk_text FROM presentation_transcripts WHERE segment_id = ? ORDER BY chunk_index`,
		segmentID.String(),
	)
	if err != nil {
		return "", fmt.Errorf("query transcript for segment %s: %w", segmentID, err)
	}
	defer rows.Close()

	var transcript string
	for rows.Next() {
		var chunk string
		if err := rows.Scan(&chunk); err != nil {
			return "", fmt.Errorf("scan transcript chunk: %w", err)
		}
		if transcript != "" {
			transcript += " "
		}
		transcript += chunk
	}
	return transcript, rows.Err()
}

// questionColumns builds the select list for scanQuestion, qualifying bare
// column names with alias for joined queries.
func questionColumns(alias string) string {
	col := qualify(alias)
	return strings.Join([]string{
		col("id"), col("segment_id"), col("question_text"), col("correct_answer"),
		col("fake_answers"), col("order_index"),
		"COALESCE(" + col("is_ai_generated") + ", 0)",
		"COALESCE(" + col("source_transcript") + ", '')",
		col("created_at"),
	}, ", ")
}

func collectQuestions(rows *sql.Rows) ([]Question, error) {
	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func scanQuestion(row rowScanner) (Question, error) {
	var q Question
	var id, segmentID, createdAt string
	var fakes sql.NullString
	var isAI int

	err := row.Scan(
		&id, &segmentID, &q.QuestionText, &q.CorrectAnswer, &fakes,
		&q.OrderIndex, &isAI, &q.SourceTranscript, &createdAt,
	)
	if err != nil {
		return Question{}, err
	}

	if q.ID, err = uuid.Parse(id); err != nil {
		return Question{}, fmt.Errorf("parse question id: %w", err)
	}
	if q.SegmentID, err = uuid.Parse(segmentID); err != nil {
		return Question{}, fmt.Errorf("parse question segment id: %w", err)
	}
	q.IsAIGenerated = isAI != 0
	if fakes.Valid && fakes.String != "" {
		if err := json.Unmarshal([]byte(fakes.String), &q.FakeAnswers); err != nil {
			return Question{}, fmt.Errorf("decode fake answers: %w", err)
		}
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return Question{}, err
	}

	return q, nil
}

func scanSegment(row rowScanner) (Segment, error) {
	var seg Segment
	var id, eventID, createdAt string
	var presenterID sql.NullString
	var recStart, recEnd, quizStart, endedAt sql.NullString

	err := row.Scan(
		&id, &eventID, &seg.PresenterName, &presenterID, &seg.Title,
		&seg.OrderIndex, &seg.Status, &seg.PreviousStatus, &recStart,
		&recEnd, &quizStart, &endedAt, &createdAt,
	)
	if err != nil {
		return Segment{}, err
	}

	if seg.ID, err = uuid.Parse(id); err != nil {
		return Segment{}, fmt.Errorf("parse segment id: %w", err)
	}
	if seg.EventID, err = uuid.Parse(eventID); err != nil {
		return Segment{}, fmt.Errorf("parse segment event id: %w", err)
	}
	if presenterID.Valid {
		parsed, err := uuid.Parse(presenterID.String)
		if err != nil {
			return Segment{}, fmt.Errorf("parse segment presenter id: %w", err)
		}
		seg.PresenterUserID = &parsed
	}
	if seg.RecordingStartedAt, err = parseTimePtr(recStart); err != nil {
		return Segment{}, err
	}
	if seg.RecordingEndedAt, err = parseTimePtr(recEnd); err != nil {
		return Segment{}, err
	}
	if seg.QuizStartedAt, err = parseTimePtr(quizStart); err != nil {
		return Segment{}, err
	}
	if seg.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return Segment{}, err
	}
	if seg.CreatedAt, err = parseTime(createdAt); err != nil {
		return Segment{}, err
	}

	return seg, nil
}
