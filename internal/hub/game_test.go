package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/protocol"
	"github.com/sjawhar/quizwire/internal/storage"
)

func TestStartGameShowsFirstQuestion(t *testing.T) {
	f := newFixture(t, 2)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)

	frames := drainFrames(alice)
	requireFrame(t, frames, protocol.TypeGameStarted)
	data := requireFrame(t, frames, protocol.TypeQuestion)

	var q protocol.QuestionMessage
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatal(err)
	}
	if q.QuestionID != f.question(0).ID {
		t.Errorf("question id = %s, want %s", q.QuestionID, f.question(0).ID)
	}
	if q.QuestionNumber != 1 || q.TotalQuestions != 2 {
		t.Errorf("numbering = %d/%d", q.QuestionNumber, q.TotalQuestions)
	}
	if len(q.Answers) != 4 {
		t.Errorf("answers = %v, want the correct answer and three fakes", q.Answers)
	}
	if q.TimeLimit != 30 {
		t.Errorf("time limit = %d", q.TimeLimit)
	}

	data = requireFrame(t, frames, protocol.TypePhaseChanged)
	var phase protocol.PhaseChangedMessage
	if err := json.Unmarshal(data, &phase); err != nil {
		t.Fatal(err)
	}
	if phase.Phase != protocol.PhaseShowingQuestion {
		t.Errorf("phase = %q", phase.Phase)
	}
}

func TestStartGameUnauthorized(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(alice)

	requireError(t, drainFrames(alice), RejectUnauthorized)
	requireNoFrame(t, drainFrames(f.host), protocol.TypeGameStarted)
}

func TestStartGameWithoutAudienceOpensPaused(t *testing.T) {
	f := newFixture(t, 1)

	f.sess.StartGame(f.host)

	frames := drainFrames(f.host)
	requireFrame(t, frames, protocol.TypeGameStarted)
	requireNoFrame(t, frames, protocol.TypeQuestion)
	data := requireFrame(t, frames, protocol.TypePresenterPaused)

	var paused protocol.PresenterPausedMessage
	if err := json.Unmarshal(data, &paused); err != nil {
		t.Fatal(err)
	}
	if paused.Reason != protocol.PauseNoParticipants {
		t.Errorf("pause reason = %q", paused.Reason)
	}

	// The first arrival lifts the pause and finally shows the question.
	alice := f.addParticipant("Alice")
	frames = drainFrames(alice)
	data = requireFrame(t, frames, protocol.TypeQuestion)
	var q protocol.QuestionMessage
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatal(err)
	}
	if len(q.Answers) != 4 {
		t.Errorf("answers = %v", q.Answers)
	}
}

func TestAnswerScoresBySpeed(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	drainFrames(alice)
	drainFrames(f.host)

	f.clock.advance(2 * time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})

	calls := f.store.scoreCalls()
	if len(calls) != 1 {
		t.Fatalf("score calls = %d, want 1", len(calls))
	}
	if calls[0].delta != 933 || !calls[0].correct || calls[0].responseMS != 2000 {
		t.Errorf("score call: %+v", calls[0])
	}
	if calls[0].segmentID != f.seg.ID || calls[0].participantID != alice.UserID() {
		t.Errorf("score call keys: %+v", calls[0])
	}

	requireFrame(t, drainFrames(f.host), protocol.TypeAnswerReceived)

	if got := f.store.joinStatus(alice.UserID()); got != storage.JoinActiveInQuiz {
		t.Errorf("join status = %q, want %q", got, storage.JoinActiveInQuiz)
	}
}

func TestAnswerWrongScoresZero(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	f.clock.advance(5 * time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "B"})

	calls := f.store.scoreCalls()
	if len(calls) != 1 {
		t.Fatalf("score calls = %d", len(calls))
	}
	if calls[0].delta != 0 || calls[0].correct {
		t.Errorf("wrong answer scored: %+v", calls[0])
	}
}

func TestAnswerDuplicateRejected(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	drainFrames(alice)

	msg := protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"}
	f.sess.Answer(alice, msg)
	drainFrames(alice)

	f.sess.Answer(alice, msg)
	requireError(t, drainFrames(alice), RejectDuplicate)

	if calls := f.store.scoreCalls(); len(calls) != 1 {
		t.Errorf("score calls = %d, want 1", len(calls))
	}
}

func TestAnswerTimingBoundary(t *testing.T) {
	f := newFixture(t, 2)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	drainFrames(alice)

	// 29.9s elapsed with a 30s limit and 500ms grace is still admitted.
	f.clock.advance(29900 * time.Millisecond)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	frames := drainFrames(alice)
	requireNoFrame(t, frames, protocol.TypeError)
	requireFrame(t, frames, protocol.TypeAnswerReceived)

	f.sess.NextQuestion(f.host)
	drainFrames(alice)

	// 30.6s elapsed is past the grace window.
	f.clock.advance(30600 * time.Millisecond)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(1).ID, SelectedAnswer: "A"})
	requireError(t, drainFrames(alice), RejectTooLate)

	if calls := f.store.scoreCalls(); len(calls) != 1 {
		t.Errorf("score calls = %d, want 1", len(calls))
	}
}

func TestAnswerNoQuestionAndStale(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	requireError(t, drainFrames(alice), RejectNoQuestion)

	f.sess.StartGame(f.host)
	drainFrames(alice)

	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: uuid.New(), SelectedAnswer: "A"})
	requireError(t, drainFrames(alice), RejectStale)
}

func TestLateJoinerMustWait(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	f.clock.advance(time.Second)

	bob := f.addParticipant("Bob")
	drainFrames(bob)

	f.sess.Answer(bob, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	requireError(t, drainFrames(bob), RejectLateJoin)

	if calls := f.store.scoreCalls(); len(calls) != 0 {
		t.Errorf("score calls = %d, want 0", len(calls))
	}
}

func TestZeroFillOncePerQuestion(t *testing.T) {
	f := newFixture(t, 2)
	alice := f.addParticipant("Alice")
	bob := f.addParticipant("Bob")
	drainFrames(alice)
	drainFrames(bob)

	f.sess.StartGame(f.host)
	f.clock.advance(2 * time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})

	f.sess.RevealAnswer(f.host)
	if got := f.store.zeroFillCount(bob.UserID()); got != 1 {
		t.Errorf("bob zero fills after reveal = %d, want 1", got)
	}
	if got := f.store.zeroFillCount(alice.UserID()); got != 0 {
		t.Errorf("alice zero fills = %d, want 0", got)
	}

	// Advancing re-runs the sweep for the same question; it must not double.
	f.sess.NextQuestion(f.host)
	if got := f.store.zeroFillCount(bob.UserID()); got != 1 {
		t.Errorf("bob zero fills after next = %d, want 1", got)
	}

	if got := f.store.joinStatus(bob.UserID()); got != storage.JoinActiveInQuiz {
		t.Errorf("bob join status = %q, want %q", got, storage.JoinActiveInQuiz)
	}
}

func TestPresenterDisconnectPausesAndResumes(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	bob := f.addParticipant("Bob")
	drainFrames(alice)
	drainFrames(bob)

	f.sess.SelectPresenter(f.host, protocol.SelectPresenterMessage{PresenterUserID: alice.UserID()})
	drainFrames(alice)
	drainFrames(bob)

	f.sess.StartGame(f.host)
	data := requireFrame(t, drainFrames(bob), protocol.TypeQuestion)
	var shown protocol.QuestionMessage
	if err := json.Unmarshal(data, &shown); err != nil {
		t.Fatal(err)
	}

	f.clock.advance(20 * time.Second)
	f.sess.Disconnect(alice)

	frames := drainFrames(bob)
	requireFrame(t, frames, protocol.TypePresenterDisconnected)
	data = requireFrame(t, frames, protocol.TypePresenterPaused)
	var paused protocol.PresenterPausedMessage
	if err := json.Unmarshal(data, &paused); err != nil {
		t.Fatal(err)
	}
	if paused.Reason != protocol.PausePresenterDisconnected {
		t.Errorf("pause reason = %q", paused.Reason)
	}

	f.sess.Answer(bob, protocol.AnswerMessage{QuestionID: shown.QuestionID, SelectedAnswer: "A"})
	requireError(t, drainFrames(bob), RejectPaused)

	// Only the presenter's return lifts this pause.
	charlie := f.addParticipant("Charlie")
	drainFrames(charlie)
	requireNoFrame(t, drainFrames(bob), protocol.TypeQuestion)

	f.clock.advance(50 * time.Second)
	again := NewConn(alice.UserID(), nil)
	f.sess.Join(again)

	data = requireFrame(t, drainFrames(bob), protocol.TypeQuestion)
	var resumed protocol.QuestionMessage
	if err := json.Unmarshal(data, &resumed); err != nil {
		t.Fatal(err)
	}
	if resumed.QuestionID != shown.QuestionID || resumed.QuestionNumber != shown.QuestionNumber {
		t.Errorf("resume changed the question: %+v vs %+v", resumed, shown)
	}
	for i, a := range shown.Answers {
		if resumed.Answers[i] != a {
			t.Fatalf("resume reshuffled the answers: %v vs %v", resumed.Answers, shown.Answers)
		}
	}

	// The question clock restarted at the resume, so a prompt answer is
	// admitted even though the original deadline has long passed.
	f.clock.advance(2 * time.Second)
	f.sess.Answer(bob, protocol.AnswerMessage{QuestionID: shown.QuestionID, SelectedAnswer: "A"})
	frames = drainFrames(bob)
	requireNoFrame(t, frames, protocol.TypeError)
	requireFrame(t, frames, protocol.TypeAnswerReceived)
}

func TestSegmentCompletionOffersMegaQuiz(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	f.clock.advance(2 * time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	drainFrames(alice)

	f.sess.NextQuestion(f.host)

	frames := drainFrames(alice)
	requireFrame(t, frames, protocol.TypeSegmentComplete)
	data := requireFrame(t, frames, protocol.TypeMegaQuizReady)

	var ready protocol.MegaQuizReadyMessage
	if err := json.Unmarshal(data, &ready); err != nil {
		t.Fatal(err)
	}
	if ready.AvailableQuestions != 1 {
		t.Errorf("available questions = %d", ready.AvailableQuestions)
	}
	if !ready.IsSingleSegment || ready.SingleSegmentMode != "remix" {
		t.Errorf("single segment fields: %+v", ready)
	}

	if got := f.store.joinStatus(alice.UserID()); got != storage.JoinSegmentComplete {
		t.Errorf("join status = %q, want %q", got, storage.JoinSegmentComplete)
	}
}

func TestSkipMegaQuizCompletesEvent(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.store.mu.Lock()
	f.store.eventBoard = []storage.LeaderboardRow{{
		ParticipantID: alice.UserID(),
		DisplayName:   "Alice",
		Score:         933,
	}}
	f.store.winners = []storage.SegmentWinner{{
		SegmentID:    f.seg.ID,
		SegmentTitle: "First Talk",
		LeaderboardRow: storage.LeaderboardRow{
			ParticipantID: alice.UserID(),
			DisplayName:   "Alice",
			Score:         933,
		},
	}}
	f.store.mu.Unlock()

	f.sess.SkipMegaQuiz(f.host)

	data := requireFrame(t, drainFrames(alice), protocol.TypeEventComplete)
	var done protocol.EventCompleteMessage
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatal(err)
	}
	if done.Winner == nil || done.Winner.Username != "Alice" {
		t.Errorf("winner: %+v", done.Winner)
	}
	if len(done.SegmentWinners) != 1 || done.SegmentWinners[0].WinnerName != "Alice" {
		t.Errorf("segment winners: %+v", done.SegmentWinners)
	}

	f.store.mu.Lock()
	status := f.store.eventStatus
	f.store.mu.Unlock()
	if status != storage.EventFinished {
		t.Errorf("event status = %q, want %q", status, storage.EventFinished)
	}
}

func TestSkipMegaQuizHostOnly(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.SkipMegaQuiz(alice)
	requireError(t, drainFrames(alice), RejectUnauthorized)
}

func TestStartMegaQuizWithNoQuestionsCompletesEvent(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartMegaQuiz(f.host, protocol.StartMegaQuizMessage{})

	frames := drainFrames(alice)
	requireNoFrame(t, frames, protocol.TypeMegaQuizStarted)
	requireFrame(t, frames, protocol.TypeEventComplete)
}

func TestMegaQuizReplaysSegmentQuestions(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	f.clock.advance(2 * time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	f.sess.NextQuestion(f.host)
	drainFrames(alice)

	f.store.mu.Lock()
	f.store.aggregate = f.store.questions[f.seg.ID]
	f.store.mu.Unlock()

	f.sess.StartMegaQuiz(f.host, protocol.StartMegaQuizMessage{})

	frames := drainFrames(alice)
	data := requireFrame(t, frames, protocol.TypeMegaQuizStarted)
	var started protocol.MegaQuizStartedMessage
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatal(err)
	}
	if started.QuestionCount != 1 {
		t.Errorf("question count = %d", started.QuestionCount)
	}
	requireFrame(t, frames, protocol.TypeQuestion)

	// A question reused from the segment round scores again in the remix.
	before := len(f.store.scoreCalls())
	f.clock.advance(3 * time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	frames = drainFrames(alice)
	requireNoFrame(t, frames, protocol.TypeError)
	if got := len(f.store.scoreCalls()); got != before+1 {
		t.Errorf("score calls = %d, want %d", got, before+1)
	}

	// Finishing the mega quiz finishes the event.
	f.sess.NextQuestion(f.host)
	requireFrame(t, drainFrames(alice), protocol.TypeEventComplete)
}

func TestPassPresenter(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	bob := f.addParticipant("Bob")
	drainFrames(alice)
	drainFrames(bob)

	f.sess.SelectPresenter(f.host, protocol.SelectPresenterMessage{PresenterUserID: alice.UserID()})
	drainFrames(alice)
	drainFrames(bob)

	f.sess.PassPresenter(f.host, protocol.PassPresenterMessage{NextPresenterUserID: bob.UserID()})
	data := requireFrame(t, drainFrames(alice), protocol.TypePresenterChanged)
	var changed protocol.PresenterChangedMessage
	if err := json.Unmarshal(data, &changed); err != nil {
		t.Fatal(err)
	}
	if changed.NewPresenterID != bob.UserID() || changed.PreviousPresenterID != alice.UserID() {
		t.Errorf("presenter_changed: %+v", changed)
	}

	// Passing to the current presenter is rejected.
	f.sess.PassPresenter(f.host, protocol.PassPresenterMessage{NextPresenterUserID: bob.UserID()})
	requireError(t, drainFrames(f.host), RejectInvalidMessage)

	// The target must be online.
	f.sess.Disconnect(alice)
	drainFrames(f.host)
	f.sess.PassPresenter(f.host, protocol.PassPresenterMessage{NextPresenterUserID: alice.UserID()})
	requireError(t, drainFrames(f.host), RejectNotFound)
}

func TestRevealBroadcastsDistribution(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.addParticipant("Alice")
	bob := f.addParticipant("Bob")
	drainFrames(alice)
	drainFrames(bob)

	f.sess.StartGame(f.host)
	f.clock.advance(time.Second)
	f.sess.Answer(alice, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "A"})
	f.clock.advance(time.Second)
	f.sess.Answer(bob, protocol.AnswerMessage{QuestionID: f.question(0).ID, SelectedAnswer: "B"})
	drainFrames(alice)

	f.sess.RevealAnswer(f.host)

	data := requireFrame(t, drainFrames(alice), protocol.TypeReveal)
	var reveal protocol.RevealMessage
	if err := json.Unmarshal(data, &reveal); err != nil {
		t.Fatal(err)
	}
	if reveal.CorrectAnswer != "A" {
		t.Errorf("correct answer = %q", reveal.CorrectAnswer)
	}
	if len(reveal.Distribution) != 2 {
		t.Errorf("distribution = %+v", reveal.Distribution)
	}
}

func TestEndGameFinishesSegmentEarly(t *testing.T) {
	f := newFixture(t, 3)
	alice := f.addParticipant("Alice")
	drainFrames(alice)

	f.sess.StartGame(f.host)
	drainFrames(alice)

	f.sess.EndGame(f.host)

	frames := drainFrames(alice)
	requireFrame(t, frames, protocol.TypeGameEnded)
	requireFrame(t, frames, protocol.TypeSegmentComplete)

	// The unanswered question was swept before the segment closed.
	if got := f.store.zeroFillCount(alice.UserID()); got != 1 {
		t.Errorf("zero fills = %d, want 1", got)
	}
}
