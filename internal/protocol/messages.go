// Package protocol defines the JSON frames exchanged over the event
// websocket. Every frame carries a "type" discriminator; the remaining
// fields depend on the type.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// QuizPhase is the authoritative state of an in-progress segment quiz.
type QuizPhase string

const (
	PhaseNotStarted         QuizPhase = "not_started"
	PhaseShowingQuestion    QuizPhase = "showing_question"
	PhaseRevealingAnswer    QuizPhase = "revealing_answer"
	PhaseShowingLeaderboard QuizPhase = "showing_leaderboard"
	PhaseBetweenQuestions   QuizPhase = "between_questions"
	PhaseSegmentComplete    QuizPhase = "segment_complete"
	PhaseMegaQuizReady      QuizPhase = "mega_quiz_ready"
	PhaseMegaQuiz           QuizPhase = "mega_quiz"
	PhaseEventComplete      QuizPhase = "event_complete"
	PhasePresenterPaused    QuizPhase = "presenter_paused"
)

// Pause reasons carried on presenter_paused frames.
const (
	PauseNoParticipants        = "no_participants"
	PausePresenterDisconnected = "presenter_disconnected"
	PauseAllDisconnected       = "all_disconnected"
)

// Client→server message types.
const (
	TypeJoin                 = "join"
	TypeAnswer               = "answer"
	TypeStartGame            = "start_game"
	TypeNextQuestion         = "next_question"
	TypeRevealAnswer         = "reveal_answer"
	TypeShowLeaderboard      = "show_leaderboard"
	TypeEndGame              = "end_game"
	TypePassPresenter        = "pass_presenter"
	TypeAdminSelectPresenter = "admin_select_presenter"
	TypeStartMegaQuiz        = "start_mega_quiz"
	TypeSkipMegaQuiz         = "skip_mega_quiz"
	TypeSelectPresenter      = "select_presenter"
	TypeStartPresentation    = "start_presentation"
	TypeResumeSegment        = "resume_segment"
	TypePong                 = "pong"
)

// Server→client message types.
const (
	TypeConnected               = "connected"
	TypeParticipantJoined       = "participant_joined"
	TypeParticipantLeft         = "participant_left"
	TypeGameStarted             = "game_started"
	TypeGameEnded               = "game_ended"
	TypeQuestion                = "question"
	TypeAnswerReceived          = "answer_received"
	TypeReveal                  = "reveal"
	TypeLeaderboard             = "leaderboard"
	TypePhaseChanged            = "phase_changed"
	TypeSegmentComplete         = "segment_complete"
	TypeEventComplete           = "event_complete"
	TypeMegaQuizReady           = "mega_quiz_ready"
	TypeMegaQuizStarted         = "mega_quiz_started"
	TypePresenterChanged        = "presenter_changed"
	TypePresenterDisconnected   = "presenter_disconnected"
	TypePresenterPaused         = "presenter_paused"
	TypePresenterOverrideNeeded = "presenter_override_needed"
	TypePresenterSelected       = "presenter_selected"
	TypePresentationStarted     = "presentation_started"
	TypeWaitingForPresenter     = "waiting_for_presenter"
	TypeNoQuestionsGenerated    = "no_questions_generated"
	TypeQuizGenerating          = "quiz_generating"
	TypeQuizReady               = "quiz_ready"
	TypeStateRestored           = "state_restored"
	TypeJoinLockStatusChanged   = "join_lock_status_changed"
	TypeParticipantNameChanged  = "participant_name_changed"
	TypeError                   = "error"
	TypePing                    = "ping"
)

// ClientMessage is the decoded form of a client→server frame.
type ClientMessage interface {
	clientMessage()
}

type JoinMessage struct {
	Type        string    `json:"type"`
	UserID      uuid.UUID `json:"user_id"`
	SessionCode string    `json:"session_code"`
	Username    string    `json:"username,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

type AnswerMessage struct {
	Type           string    `json:"type"`
	QuestionID     uuid.UUID `json:"question_id"`
	SelectedAnswer string    `json:"selected_answer"`
	ResponseTimeMS int       `json:"response_time_ms"`
}

type StartGameMessage struct {
	Type string `json:"type"`
}

type NextQuestionMessage struct {
	Type string `json:"type"`
}

type RevealAnswerMessage struct {
	Type string `json:"type"`
}

type ShowLeaderboardMessage struct {
	Type string `json:"type"`
}

type EndGameMessage struct {
	Type string `json:"type"`
}

type PassPresenterMessage struct {
	Type                string    `json:"type"`
	NextPresenterUserID uuid.UUID `json:"next_presenter_user_id"`
}

type AdminSelectPresenterMessage struct {
	Type            string    `json:"type"`
	PresenterUserID uuid.UUID `json:"presenter_user_id"`
	SegmentID       uuid.UUID `json:"segment_id"`
}

type StartMegaQuizMessage struct {
	Type          string `json:"type"`
	QuestionCount int    `json:"question_count,omitempty"`
}

type SkipMegaQuizMessage struct {
	Type string `json:"type"`
}

type SelectPresenterMessage struct {
	Type            string    `json:"type"`
	PresenterUserID uuid.UUID `json:"presenter_user_id"`
}

type StartPresentationMessage struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

type ResumeSegmentMessage struct {
	Type      string    `json:"type"`
	SegmentID uuid.UUID `json:"segment_id"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (JoinMessage) clientMessage()                 {}
func (AnswerMessage) clientMessage()               {}
func (StartGameMessage) clientMessage()            {}
func (NextQuestionMessage) clientMessage()         {}
func (RevealAnswerMessage) clientMessage()         {}
func (ShowLeaderboardMessage) clientMessage()      {}
func (EndGameMessage) clientMessage()              {}
func (PassPresenterMessage) clientMessage()        {}
func (AdminSelectPresenterMessage) clientMessage() {}
func (StartMegaQuizMessage) clientMessage()        {}
func (SkipMegaQuizMessage) clientMessage()         {}
func (SelectPresenterMessage) clientMessage()      {}
func (StartPresentationMessage) clientMessage()    {}
func (ResumeSegmentMessage) clientMessage()        {}
func (PongMessage) clientMessage()                 {}

// ParticipantInfo is the in-session view of one participant, carried on
// connected and participant_joined frames.
type ParticipantInfo struct {
	UserID       uuid.UUID  `json:"user_id"`
	Username     string     `json:"username"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	JoinStatus   string     `json:"join_status,omitempty"`
	IsLateJoiner bool       `json:"is_late_joiner"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
	Online       bool       `json:"online"`
}

// LeaderboardEntry is one row of a segment or event leaderboard.
type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	Score          int       `json:"score"`
	IsLateJoiner   bool      `json:"is_late_joiner"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	IsPresent      bool      `json:"is_present"`
}

// AnswerDistribution is one bucket of the reveal distribution. Percentages
// across buckets sum to 100 when at least one answer exists.
type AnswerDistribution struct {
	Answer     string  `json:"answer"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type ConnectedMessage struct {
	Type         string            `json:"type"`
	Participants []ParticipantInfo `json:"participants"`
}

type ParticipantJoinedMessage struct {
	Type string          `json:"type"`
	User ParticipantInfo `json:"user"`
}

type ParticipantLeftMessage struct {
	Type   string    `json:"type"`
	UserID uuid.UUID `json:"user_id"`
	Online bool      `json:"online"`
}

type GameStartedMessage struct {
	Type string `json:"type"`
}

type GameEndedMessage struct {
	Type string `json:"type"`
}

type QuestionMessage struct {
	Type           string    `json:"type"`
	QuestionID     uuid.UUID `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
	TotalQuestions int       `json:"total_questions"`
	Text           string    `json:"text"`
	Answers        []string  `json:"answers"`
	TimeLimit      int       `json:"time_limit"`
}

type AnswerReceivedMessage struct {
	Type   string    `json:"type"`
	UserID uuid.UUID `json:"user_id"`
}

type RevealMessage struct {
	Type               string               `json:"type"`
	QuestionID         uuid.UUID            `json:"question_id"`
	QuestionNumber     int                  `json:"question_number"`
	QuestionText       string               `json:"question_text"`
	CorrectAnswer      string               `json:"correct_answer"`
	Distribution       []AnswerDistribution `json:"distribution"`
	SegmentLeaderboard []LeaderboardEntry   `json:"segment_leaderboard"`
	EventLeaderboard   []LeaderboardEntry   `json:"event_leaderboard"`
}

type LeaderboardMessage struct {
	Type     string             `json:"type"`
	Rankings []LeaderboardEntry `json:"rankings"`
}

type PhaseChangedMessage struct {
	Type           string    `json:"type"`
	Phase          QuizPhase `json:"phase"`
	QuestionIndex  int       `json:"question_index"`
	TotalQuestions int       `json:"total_questions"`
}

type SegmentCompleteMessage struct {
	Type               string             `json:"type"`
	SegmentID          uuid.UUID          `json:"segment_id"`
	SegmentTitle       string             `json:"segment_title"`
	PresenterName      string             `json:"presenter_name"`
	SegmentLeaderboard []LeaderboardEntry `json:"segment_leaderboard"`
	EventLeaderboard   []LeaderboardEntry `json:"event_leaderboard"`
	SegmentWinner      *LeaderboardEntry  `json:"segment_winner,omitempty"`
	EventLeader        *LeaderboardEntry  `json:"event_leader,omitempty"`
}

// SegmentWinner names the top scorer of one completed segment.
type SegmentWinner struct {
	SegmentID    uuid.UUID `json:"segment_id"`
	SegmentTitle string    `json:"segment_title"`
	WinnerName   string    `json:"winner_name"`
	WinnerScore  int       `json:"winner_score"`
}

type EventCompleteMessage struct {
	Type             string             `json:"type"`
	EventID          uuid.UUID          `json:"event_id"`
	FinalLeaderboard []LeaderboardEntry `json:"final_leaderboard"`
	Winner           *LeaderboardEntry  `json:"winner,omitempty"`
	SegmentWinners   []SegmentWinner    `json:"segment_winners"`
}

type MegaQuizReadyMessage struct {
	Type               string             `json:"type"`
	EventID            uuid.UUID          `json:"event_id"`
	AvailableQuestions int                `json:"available_questions"`
	CurrentLeaderboard []LeaderboardEntry `json:"current_leaderboard"`
	IsSingleSegment    bool               `json:"is_single_segment"`
	SingleSegmentMode  string             `json:"single_segment_mode,omitempty"`
}

type MegaQuizStartedMessage struct {
	Type          string    `json:"type"`
	EventID       uuid.UUID `json:"event_id"`
	QuestionCount int       `json:"question_count"`
}

type PresenterChangedMessage struct {
	Type                string    `json:"type"`
	PreviousPresenterID uuid.UUID `json:"previous_presenter_id"`
	NewPresenterID      uuid.UUID `json:"new_presenter_id"`
	NewPresenterName    string    `json:"new_presenter_name"`
	SegmentID           uuid.UUID `json:"segment_id"`
}

type PresenterDisconnectedMessage struct {
	Type          string    `json:"type"`
	PresenterID   uuid.UUID `json:"presenter_id"`
	PresenterName string    `json:"presenter_name"`
	SegmentID     uuid.UUID `json:"segment_id"`
}

type PresenterPausedMessage struct {
	Type           string    `json:"type"`
	PresenterID    uuid.UUID `json:"presenter_id"`
	PresenterName  string    `json:"presenter_name"`
	SegmentID      uuid.UUID `json:"segment_id"`
	QuestionIndex  int       `json:"question_index"`
	TotalQuestions int       `json:"total_questions"`
	Reason         string    `json:"reason,omitempty"`
}

type PresenterOverrideNeededMessage struct {
	Type          string    `json:"type"`
	PresenterID   uuid.UUID `json:"presenter_id"`
	PresenterName string    `json:"presenter_name"`
	SegmentID     uuid.UUID `json:"segment_id"`
}

type PresenterSelectedMessage struct {
	Type             string    `json:"type"`
	PresenterID      uuid.UUID `json:"presenter_id"`
	PresenterName    string    `json:"presenter_name"`
	IsFirstPresenter bool      `json:"is_first_presenter"`
}

type PresentationStartedMessage struct {
	Type          string    `json:"type"`
	SegmentID     uuid.UUID `json:"segment_id"`
	PresenterID   uuid.UUID `json:"presenter_id"`
	PresenterName string    `json:"presenter_name"`
}

type WaitingForPresenterMessage struct {
	Type             string    `json:"type"`
	EventID          uuid.UUID `json:"event_id"`
	ParticipantCount int       `json:"participant_count"`
}

type NoQuestionsGeneratedMessage struct {
	Type          string    `json:"type"`
	SegmentID     uuid.UUID `json:"segment_id"`
	SegmentTitle  string    `json:"segment_title,omitempty"`
	PresenterName string    `json:"presenter_name"`
	Reason        string    `json:"reason"`
}

type QuizGeneratingMessage struct {
	Type      string    `json:"type"`
	SegmentID uuid.UUID `json:"segment_id"`
}

type QuizReadyMessage struct {
	Type           string    `json:"type"`
	SegmentID      uuid.UUID `json:"segment_id"`
	QuestionsCount int       `json:"questions_count"`
	AutoStart      bool      `json:"auto_start"`
}

type StateRestoredMessage struct {
	Type              string            `json:"type"`
	EventID           uuid.UUID         `json:"event_id"`
	SegmentID         *uuid.UUID        `json:"segment_id,omitempty"`
	CurrentPhase      QuizPhase         `json:"current_phase"`
	CurrentQuestionID *uuid.UUID        `json:"current_question_id,omitempty"`
	QuestionText      string            `json:"question_text,omitempty"`
	Answers           []string          `json:"answers"`
	TimeLimit         int               `json:"time_limit,omitempty"`
	QuestionStartedAt *time.Time        `json:"question_started_at,omitempty"`
	YourScore         int               `json:"your_score"`
	YourAnswer        string            `json:"your_answer,omitempty"`
	Participants      []ParticipantInfo `json:"participants"`
}

type JoinLockStatusChangedMessage struct {
	Type       string     `json:"type"`
	EventID    uuid.UUID  `json:"event_id"`
	JoinLocked bool       `json:"join_locked"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	Message    string     `json:"message"`
}

type ParticipantNameChangedMessage struct {
	Type    string    `json:"type"`
	UserID  uuid.UUID `json:"user_id"`
	OldName string    `json:"old_name"`
	NewName string    `json:"new_name"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PingMessage struct {
	Type string `json:"type"`
}

// NewError builds an error frame for the given human-readable message.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewPhaseChanged builds the phase_changed frame that accompanies every
// state-machine transition.
func NewPhaseChanged(phase QuizPhase, questionIndex, totalQuestions int) PhaseChangedMessage {
	return PhaseChangedMessage{
		Type:           TypePhaseChanged,
		Phase:          phase,
		QuestionIndex:  questionIndex,
		TotalQuestions: totalQuestions,
	}
}
