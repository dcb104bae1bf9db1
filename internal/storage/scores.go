package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SegmentScore is one participant's running tally for one segment.
type SegmentScore struct {
	ID                  uuid.UUID
	SegmentID           uuid.UUID
	ParticipantID       uuid.UUID
	Score               int
	QuestionsAnswered   int
	QuestionsCorrect    int
	TotalResponseTimeMS int64
	CreatedAt           time.Time
}

// LeaderboardRow is one ranked entry of a segment or event leaderboard.
// Ordering is score descending, then total response time ascending.
type LeaderboardRow struct {
	ParticipantID       uuid.UUID
	DisplayName         string
	AvatarURL           string
	Score               int
	TotalResponseTimeMS int64
	IsLateJoiner        bool
}

// ApplyAnswerScore records one admitted answer in a single transaction:
// the segment tally gains delta points, one answered question, optionally one
// correct question, and the response time; the participant's event totals gain
// the same delta and response time.
func (s *Store) ApplyAnswerScore(segmentID, participantID uuid.UUID, delta int, correct bool, responseTimeMS int64, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin score tx: %w", err)
	}
	defer tx.Rollback()

	correctInc := 0
	if correct {
		correctInc = 1
	}

	_, err = tx.Exec(
		`INSERT INTO segment_scores (id, segment_id, participant_id, score, questions_answered,
			questions_correct, total_response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(segment_id, participant_id) DO UPDATE SET
			score = score + excluded.score,
			questions_answered = questions_answered + 1,
			questions_correct = questions_correct + excluded.questions_correct,
			total_response_time_ms = total_response_time_ms + excluded.total_response_time_ms`,
		uuid.NewString(),
		segmentID.String(),
		participantID.String(),
		delta,
		correctInc,
		responseTimeMS,
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("upsert segment score: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE event_participants
		 SET total_score = total_score + ?, total_response_time_ms = total_response_time_ms + ?
		 WHERE id = ?`,
		delta,
		responseTimeMS,
		participantID.String(),
	)
	if err != nil {
		return fmt.Errorf("update participant totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score: %w", err)
	}
	return nil
}

// ApplyZeroFill records a missed question for one participant: the segment
// tally gains one answered question and nothing else. Event totals are
// untouched because the delta is zero.
func (s *Store) ApplyZeroFill(segmentID, participantID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO segment_scores (id, segment_id, participant_id, score, questions_answered,
			questions_correct, total_response_time_ms, created_at)
		 VALUES (?, ?, ?, 0, 1, 0, 0, ?)
		 ON CONFLICT(segment_id, participant_id) DO UPDATE SET
			questions_answered = questions_answered + 1`,
		uuid.NewString(),
		segmentID.String(),
		participantID.String(),
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("zero-fill segment score: %w", err)
	}
	return nil
}

// SegmentScoreFor fetches one participant's tally for a segment, or
// ErrNotFound.
func (s *Store) SegmentScoreFor(segmentID, participantID uuid.UUID) (SegmentScore, error) {
	var sc SegmentScore
	var id, segID, partID, createdAt string
	err := s.db.QueryRow(
		`SELECT id, segment_id, participant_id, score, questions_answered, questions_correct,
			total_response_time_ms, created_at
		 FROM segment_scores WHERE segment_id = ? AND participant_id = ?`,
		segmentID.String(),
		participantID.String(),
	).Scan(&id, &segID, &partID, &sc.Score, &sc.QuestionsAnswered, &sc.QuestionsCorrect,
		&sc.TotalResponseTimeMS, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SegmentScore{}, ErrNotFound
	}
	if err != nil {
		return SegmentScore{}, fmt.Errorf("query segment score: %w", err)
	}

	if sc.ID, err = uuid.Parse(id); err != nil {
		return SegmentScore{}, fmt.Errorf("parse score id: %w", err)
	}
	if sc.SegmentID, err = uuid.Parse(segID); err != nil {
		return SegmentScore{}, fmt.Errorf("parse score segment id: %w", err)
	}
	if sc.ParticipantID, err = uuid.Parse(partID); err != nil {
		return SegmentScore{}, fmt.Errorf("parse score participant id: %w", err)
	}
	if sc.CreatedAt, err = parseTime(createdAt); err != nil {
		return SegmentScore{}, err
	}
	return sc, nil
}

// SegmentLeaderboard ranks one segment's tallies.
func (s *Store) SegmentLeaderboard(segmentID uuid.UUID) ([]LeaderboardRow, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.display_name, COALESCE(p.avatar_url, ''), ss.score,
			ss.total_response_time_ms, p.is_late_joiner
		 FROM segment_scores ss
		 JOIN event_participants p ON p.id = ss.participant_id
		 WHERE ss.segment_id = ?
		 ORDER BY ss.score DESC, ss.total_response_time_ms ASC, p.joined_at ASC`,
		segmentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query segment leaderboard %s: %w", segmentID, err)
	}
	defer rows.Close()
	return collectLeaderboard(rows)
}

// EventLeaderboard ranks all of an event's participants by their event totals.
func (s *Store) EventLeaderboard(eventID uuid.UUID) ([]LeaderboardRow, error) {
	rows, err := s.db.Query(
		`SELECT id, display_name, COALESCE(avatar_url, ''), total_score,
			total_response_time_ms, is_late_joiner
		 FROM event_participants
		 WHERE event_id = ?
		 ORDER BY total_score DESC, total_response_time_ms ASC, joined_at ASC`,
		eventID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query event leaderboard %s: %w", eventID, err)
	}
	defer rows.Close()
	return collectLeaderboard(rows)
}

// SegmentWinner is the top scorer of one completed segment.
type SegmentWinner struct {
	SegmentID     uuid.UUID
	SegmentTitle  string
	PresenterName string
	LeaderboardRow
}

// SegmentWinners returns the top scorer of each completed segment of an
// event, in segment order. Segments with no scores are skipped.
func (s *Store) SegmentWinners(eventID uuid.UUID) ([]SegmentWinner, error) {
	segments, err := s.SegmentsByEvent(eventID)
	if err != nil {
		return nil, err
	}

	var winners []SegmentWinner
	for _, seg := range segments {
		if seg.Status != SegmentCompleted {
			continue
		}
		board, err := s.SegmentLeaderboard(seg.ID)
		if err != nil {
			return nil, err
		}
		if len(board) == 0 {
			continue
		}
		winners = append(winners, SegmentWinner{
			SegmentID:      seg.ID,
			SegmentTitle:   seg.Title,
			PresenterName:  seg.PresenterName,
			LeaderboardRow: board[0],
		})
	}
	return winners, nil
}

func collectLeaderboard(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]LeaderboardRow, error) {
	var board []LeaderboardRow
	for rows.Next() {
		var row LeaderboardRow
		var id string
		var lateJoiner int
		err := rows.Scan(&id, &row.DisplayName, &row.AvatarURL, &row.Score,
			&row.TotalResponseTimeMS, &lateJoiner)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		if row.ParticipantID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse leaderboard participant id: %w", err)
		}
		row.IsLateJoiner = lateJoiner != 0
		board = append(board, row)
	}
	return board, rows.Err()
}
