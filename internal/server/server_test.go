package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/config"
	"github.com/sjawhar/quizwire/internal/hub"
	"github.com/sjawhar/quizwire/internal/join"
	"github.com/sjawhar/quizwire/internal/questiongen"
	"github.com/sjawhar/quizwire/internal/storage"
)

type generatorStub struct {
	questions []questiongen.Generated
	err       error
}

func (g generatorStub) Generate(ctx context.Context, transcript string, count, fakeAnswers int) ([]questiongen.Generated, error) {
	return g.questions, g.err
}

func testServerConfig() config.Config {
	return config.Config{
		TimePerQuestion:        30,
		AnswerTimeoutGraceMS:   500,
		HeartbeatIntervalS:     15,
		GracePeriodS:           30,
		ReconnectWindowS:       60,
		JoinLockGraceS:         5,
		EventResumeDebounceS:   2,
		SegmentResumeDebounceS: 2,
		MegaQuizSingleSegment:  "remix",
	}
}

func newTestServer(t *testing.T, gen Generator) (*httptest.Server, *storage.Store) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "quizwire.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := testServerConfig()
	h := hub.New(store, cfg, nil)
	joinSvc := join.NewService(store, join.NewGate(), h, hub.SystemClock, cfg.JoinLockGrace())

	srv := New(store, h, joinSvc, gen, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createEvent(t *testing.T, ts *httptest.Server, title string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/events", map[string]any{
		"host_id": uuid.NewString(),
		"title":   title,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create event: status %d, body %v", resp.StatusCode, body)
	}
	return body
}

func TestCreateAndGetEvent(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	code, _ := created["join_code"].(string)
	if len(code) != 6 {
		t.Fatalf("join code = %q", code)
	}
	if created["status"] != storage.EventWaiting {
		t.Errorf("status = %v", created["status"])
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/events/"+code, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get event: status %d", resp.StatusCode)
	}
	if body["title"] != "Demo Night" {
		t.Errorf("title = %v", body["title"])
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/events/NOSUCH", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown code: status %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events", map[string]any{"host_id": uuid.NewString()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing title: status %d, want 400", resp.StatusCode)
	}
}

func TestJoinRouteStatusMapping(t *testing.T) {
	ts, store := newTestServer(t, nil)

	created := createEvent(t, ts, "First Event")
	eventID := created["event_id"].(string)

	device := uuid.New()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/join", map[string]any{
		"device_id":    device,
		"display_name": "Alex",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d, body %v", resp.StatusCode, body)
	}
	if body["display_name"] != "Alex" || body["is_rejoining"] != false {
		t.Errorf("join body: %v", body)
	}
	token, _ := body["session_token"].(string)
	if token == "" {
		t.Error("missing session token")
	}

	// The same device in a second live event is a conflict naming the first.
	other := createEvent(t, ts, "Second Event")
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+other["event_id"].(string)+"/join", map[string]any{
		"device_id":    device,
		"display_name": "Alex",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("conflict: status %d, want 409", resp.StatusCode)
	}
	if body["event_title"] != "First Event" {
		t.Errorf("conflict body: %v", body)
	}

	// A lock older than the grace window rejects with 423.
	lockedAt := time.Now().UTC().Add(-10 * time.Second)
	evID := uuid.MustParse(eventID)
	if err := store.SetEventJoinLock(evID, true, &lockedAt); err != nil {
		t.Fatal(err)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/join", map[string]any{
		"device_id":    uuid.New(),
		"display_name": "Blair",
	})
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("locked: status %d, want 423", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+uuid.NewString()+"/join", map[string]any{
		"device_id":    uuid.New(),
		"display_name": "Casey",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown event: status %d, want 404", resp.StatusCode)
	}
}

func TestEventResumeDebounce(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	eventID := created["event_id"].(string)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first resume: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/resume", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second resume: status %d, want 429", resp.StatusCode)
	}

	// clear-resume lifts the debounce immediately.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/clear-resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear-resume: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("resume after clear: status %d", resp.StatusCode)
	}
}

func TestRecoverParticipant(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	eventID := created["event_id"].(string)

	resp, first := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/join", map[string]any{
		"device_id":    uuid.New(),
		"display_name": "Alex",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatal(resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/recover", map[string]any{
		"display_name": "Alex",
		"device_id":    uuid.New(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recover: status %d, body %v", resp.StatusCode, body)
	}
	if body["is_rejoining"] != true {
		t.Errorf("recover body: %v", body)
	}
	if body["participant_id"] != first["participant_id"] {
		t.Errorf("recover found %v, want %v", body["participant_id"], first["participant_id"])
	}
	if body["session_token"] == first["session_token"] {
		t.Error("recovery must rotate the session token")
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/recover", map[string]any{
		"display_name": "Nobody",
		"device_id":    uuid.New(),
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown name: status %d, want 404", resp.StatusCode)
	}
}

func TestRenameParticipantUniquing(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	eventID := created["event_id"].(string)

	resp, alex := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/join", map[string]any{
		"device_id":    uuid.New(),
		"display_name": "Alex",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join Alex: status %d, body %v", resp.StatusCode, alex)
	}
	resp, blair := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/join", map[string]any{
		"device_id":    uuid.New(),
		"display_name": "Blair",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join Blair: status %d, body %v", resp.StatusCode, blair)
	}
	blairID, ok := blair["participant_id"].(string)
	if !ok {
		t.Fatalf("join body missing participant_id: %v", blair)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/participants/"+blairID+"/name", map[string]any{
		"display_name": "Alex",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename: status %d, body %v", resp.StatusCode, body)
	}
	if body["display_name"] != "Alex 2" {
		t.Errorf("renamed to %v, want Alex 2", body["display_name"])
	}
}

func TestCompleteSegmentWithoutQuestions(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	eventID := created["event_id"].(string)

	resp, seg := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/segments", map[string]any{
		"presenter_name": "Alex",
		"title":          "Opening Talk",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create segment: status %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/segments/"+seg["segment_id"].(string)+"/complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete segment: status %d", resp.StatusCode)
	}
	if body["questions"] != float64(0) {
		t.Errorf("questions = %v, want 0", body["questions"])
	}
}

func TestGenerateQuestions(t *testing.T) {
	gen := generatorStub{questions: []questiongen.Generated{
		{Question: "Q1", Correct: "A", FakeAnswers: []string{"B", "C", "D"}},
		{Question: "Q2", Correct: "X", FakeAnswers: []string{"Y", "Z", "W"}},
	}}
	ts, store := newTestServer(t, gen)

	created := createEvent(t, ts, "Demo Night")
	eventID := created["event_id"].(string)

	_, seg := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/segments", map[string]any{
		"presenter_name": "Alex",
		"title":          "Opening Talk",
	})
	segmentID := seg["segment_id"].(string)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/segments/"+segmentID+"/transcript", map[string]any{
		"chunk_index": 0,
		"text":        "a transcript chunk",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript: status %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/segments/"+segmentID+"/questions/generate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: status %d, body %v", resp.StatusCode, body)
	}
	if body["questions"] != float64(2) {
		t.Errorf("questions = %v, want 2", body["questions"])
	}

	stored, err := store.QuestionsBySegment(uuid.MustParse(segmentID))
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[0].QuestionText != "Q1" {
		t.Errorf("stored questions: %+v", stored)
	}

	got, err := store.SegmentByID(uuid.MustParse(segmentID))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.SegmentQuizReady {
		t.Errorf("segment status = %q, want %q", got.Status, storage.SegmentQuizReady)
	}
}

func TestGenerateQuestionsUnconfigured(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	eventID := created["event_id"].(string)
	_, seg := doJSON(t, http.MethodPost, ts.URL+"/api/events/"+eventID+"/segments", map[string]any{
		"presenter_name": "Alex",
	})

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/segments/"+seg["segment_id"].(string)+"/questions/generate", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestEventLeaderboardRoute(t *testing.T) {
	ts, store := newTestServer(t, nil)

	created := createEvent(t, ts, "Demo Night")
	eventID := uuid.MustParse(created["event_id"].(string))

	seg := storage.Segment{
		ID:            uuid.New(),
		EventID:       eventID,
		PresenterName: "Alex",
		Status:        storage.SegmentQuizzing,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.CreateSegment(seg); err != nil {
		t.Fatal(err)
	}

	p := storage.Participant{
		ID:          uuid.New(),
		EventID:     eventID,
		DeviceID:    uuid.New(),
		DisplayName: "Alex",
		JoinStatus:  storage.JoinActiveInQuiz,
		JoinedAt:    time.Now().UTC(),
	}
	if err := store.CreateParticipant(p); err != nil {
		t.Fatal(err)
	}
	if err := store.ApplyAnswerScore(seg.ID, p.ID, 900, true, 3000, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/events/"+eventID.String()+"/leaderboard", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard: status %d", resp.StatusCode)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["rank"] != float64(1) || rows[0]["username"] != "Alex" || rows[0]["score"] != float64(900) {
		t.Errorf("row: %v", rows[0])
	}
}

func TestDebouncerWindow(t *testing.T) {
	d := newDebouncer(2 * time.Second)
	id := uuid.New()
	now := time.Now()

	if !d.allow(id, now) {
		t.Fatal("first attempt should pass")
	}
	if d.allow(id, now.Add(time.Second)) {
		t.Error("attempt inside the window should be debounced")
	}
	if !d.allow(id, now.Add(3*time.Second)) {
		t.Error("attempt past the window should pass")
	}

	d.clear(id)
	if !d.allow(id, now.Add(3100*time.Millisecond)) {
		t.Error("cleared entries should pass immediately")
	}

	d.prune(now.Add(time.Hour), time.Minute)
	if !d.allow(id, now.Add(time.Hour)) {
		t.Error("pruned entries should pass")
	}
}
