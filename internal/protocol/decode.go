package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownType is returned when a frame's "type" is not a recognized
// client message kind.
var ErrUnknownType = errors.New("unknown message type")

type envelope struct {
	Type string `json:"type"`
}

// DecodeClient parses one client→server frame. Unknown types and frames
// missing required fields yield an error; the caller answers with an error
// frame and keeps the connection open.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeJoin:
		var m JoinMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode join: %w", err)
		}
		if m.UserID == uuid.Nil {
			return nil, errors.New("join: user_id is required")
		}
		return m, nil

	case TypeAnswer:
		var m AnswerMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		if m.QuestionID == uuid.Nil {
			return nil, errors.New("answer: question_id is required")
		}
		if strings.TrimSpace(m.SelectedAnswer) == "" {
			return nil, errors.New("answer: selected_answer is required")
		}
		return m, nil

	case TypeStartGame:
		return StartGameMessage{Type: env.Type}, nil
	case TypeNextQuestion:
		return NextQuestionMessage{Type: env.Type}, nil
	case TypeRevealAnswer:
		return RevealAnswerMessage{Type: env.Type}, nil
	case TypeShowLeaderboard:
		return ShowLeaderboardMessage{Type: env.Type}, nil
	case TypeEndGame:
		return EndGameMessage{Type: env.Type}, nil
	case TypeSkipMegaQuiz:
		return SkipMegaQuizMessage{Type: env.Type}, nil
	case TypePong:
		return PongMessage{Type: env.Type}, nil

	case TypePassPresenter:
		var m PassPresenterMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode pass_presenter: %w", err)
		}
		if m.NextPresenterUserID == uuid.Nil {
			return nil, errors.New("pass_presenter: next_presenter_user_id is required")
		}
		return m, nil

	case TypeAdminSelectPresenter:
		var m AdminSelectPresenterMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode admin_select_presenter: %w", err)
		}
		if m.PresenterUserID == uuid.Nil || m.SegmentID == uuid.Nil {
			return nil, errors.New("admin_select_presenter: presenter_user_id and segment_id are required")
		}
		return m, nil

	case TypeStartMegaQuiz:
		var m StartMegaQuizMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode start_mega_quiz: %w", err)
		}
		if m.QuestionCount < 0 {
			return nil, errors.New("start_mega_quiz: question_count must not be negative")
		}
		return m, nil

	case TypeSelectPresenter:
		var m SelectPresenterMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode select_presenter: %w", err)
		}
		if m.PresenterUserID == uuid.Nil {
			return nil, errors.New("select_presenter: presenter_user_id is required")
		}
		return m, nil

	case TypeStartPresentation:
		var m StartPresentationMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode start_presentation: %w", err)
		}
		return m, nil

	case TypeResumeSegment:
		var m ResumeSegmentMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode resume_segment: %w", err)
		}
		if m.SegmentID == uuid.Nil {
			return nil, errors.New("resume_segment: segment_id is required")
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// Distribution buckets the received answers into counts and percentages.
// Buckets are ordered by count descending, then answer ascending, so the
// reveal payload is stable across broadcasts.
func Distribution(answers []string) []AnswerDistribution {
	if len(answers) == 0 {
		return []AnswerDistribution{}
	}

	counts := make(map[string]int, len(answers))
	for _, answer := range answers {
		counts[answer]++
	}

	total := len(answers)
	dist := make([]AnswerDistribution, 0, len(counts))
	for answer, count := range counts {
		dist = append(dist, AnswerDistribution{
			Answer:     answer,
			Count:      count,
			Percentage: float64(count) / float64(total) * 100,
		})
	}

	sort.Slice(dist, func(i, j int) bool {
		if dist[i].Count != dist[j].Count {
			return dist[i].Count > dist[j].Count
		}
		return dist[i].Answer < dist[j].Answer
	})

	return dist
}
