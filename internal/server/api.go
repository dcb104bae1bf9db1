package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/quizwire/internal/join"
	"github.com/sjawhar/quizwire/internal/protocol"
	"github.com/sjawhar/quizwire/internal/storage"
)

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("GET /api/events/{code}", s.handleGetEventByCode)
	mux.HandleFunc("POST /api/events/{id}/join", s.handleJoin)
	mux.HandleFunc("POST /api/events/{id}/complete", s.handleCompleteEvent)
	mux.HandleFunc("POST /api/events/{id}/resume", s.handleResumeEvent)
	mux.HandleFunc("POST /api/events/{id}/clear-resume", s.handleClearResume)
	mux.HandleFunc("POST /api/events/{id}/lock", s.handleLockEvent)
	mux.HandleFunc("POST /api/events/{id}/recover", s.handleRecoverParticipant)
	mux.HandleFunc("GET /api/events/{id}/leaderboard", s.handleEventLeaderboard)
	mux.HandleFunc("POST /api/events/{id}/segments", s.handleCreateSegment)
	mux.HandleFunc("POST /api/segments/{id}/complete", s.handleCompleteSegment)
	mux.HandleFunc("POST /api/segments/{id}/resume", s.handleResumeSegment)
	mux.HandleFunc("POST /api/segments/{id}/transcript", s.handleAppendTranscript)
	mux.HandleFunc("POST /api/segments/{id}/questions/generate", s.handleGenerateQuestions)
	mux.HandleFunc("GET /api/segments/{id}/leaderboard", s.handleSegmentLeaderboard)
	mux.HandleFunc("POST /api/participants/{id}/name", s.handleRenameParticipant)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func eventJSON(ev storage.Event) map[string]any {
	return map[string]any{
		"event_id":          ev.ID,
		"host_id":           ev.HostID,
		"title":             ev.Title,
		"description":       ev.Description,
		"join_code":         ev.JoinCode,
		"mode":              ev.Mode,
		"status":            ev.Status,
		"time_per_question": ev.TimePerQuestion,
		"num_fake_answers":  ev.NumFakeAnswers,
		"join_locked":       ev.JoinLocked,
		"created_at":        ev.CreatedAt,
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID          uuid.UUID `json:"host_id"`
		Title           string    `json:"title"`
		Description     string    `json:"description"`
		Mode            string    `json:"mode"`
		TimePerQuestion int       `json:"time_per_question"`
		NumFakeAnswers  int       `json:"num_fake_answers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.HostID == uuid.Nil || strings.TrimSpace(req.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "host_id and title are required")
		return
	}

	code, err := join.NewCode()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not generate a join code")
		return
	}

	mode := req.Mode
	if mode != storage.ModeListenOnly {
		mode = storage.ModeNormal
	}
	timePerQuestion := req.TimePerQuestion
	if timePerQuestion <= 0 {
		timePerQuestion = s.cfg.TimePerQuestion
	}
	numFake := req.NumFakeAnswers
	if numFake <= 0 {
		numFake = 3
	}

	ev := storage.Event{
		ID:              uuid.New(),
		HostID:          req.HostID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		JoinCode:        code,
		Mode:            mode,
		Status:          storage.EventWaiting,
		NumFakeAnswers:  numFake,
		TimePerQuestion: timePerQuestion,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateEvent(ev); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create event: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, eventJSON(ev))
}

func (s *Server) handleGetEventByCode(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.EventByCode(r.PathValue("code"))
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no event with that code")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get event: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, eventJSON(ev))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	ev, err := s.store.EventByID(eventID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such event")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get event: %v", err))
		return
	}

	var req struct {
		DeviceID    uuid.UUID `json:"device_id"`
		DisplayName string    `json:"display_name"`
		AvatarURL   string    `json:"avatar_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == uuid.Nil {
		writeJSONError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	result, err := s.join.Join(join.Request{
		JoinCode:    ev.JoinCode,
		DeviceID:    req.DeviceID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		var conflict join.ConflictError
		switch {
		case errors.Is(err, join.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "no such event")
		case errors.Is(err, join.ErrLocked):
			writeJSONError(w, http.StatusLocked, "the event is locked")
		case errors.Is(err, join.ErrBusy):
			writeJSONError(w, http.StatusTooManyRequests, "try again in a moment")
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":       "device already participates in another event",
				"event_title": conflict.EventTitle,
			})
		default:
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("join: %v", err))
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participant_id": result.Participant.ID,
		"display_name":   result.Participant.DisplayName,
		"session_token":  result.SessionToken,
		"is_rejoining":   result.IsRejoining,
		"is_late_joiner": result.Participant.IsLateJoiner,
		"join_status":    result.Participant.JoinStatus,
		"event_id":       result.Event.ID,
		"event_title":    result.Event.Title,
	})
}

func (s *Server) handleCompleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	ev, err := s.store.EventByID(eventID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such event")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get event: %v", err))
		return
	}

	now := time.Now().UTC()
	if err := s.store.SetEventStatus(eventID, storage.EventFinished, ev.Status, &now); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("complete event: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":        eventID,
		"status":          storage.EventFinished,
		"previous_status": ev.Status,
	})
}

func (s *Server) handleResumeEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if !s.eventResume.allow(eventID, time.Now()) {
		writeJSONError(w, http.StatusTooManyRequests, "resume already in progress")
		return
	}

	ev, err := s.store.EventByID(eventID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such event")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get event: %v", err))
		return
	}

	status := ev.PreviousStatus
	if status == "" || status == storage.EventFinished {
		status = storage.EventActive
	}
	if err := s.store.SetEventStatus(eventID, status, "", nil); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("resume event: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"status":   status,
	})
}

func (s *Server) handleClearResume(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	s.eventResume.clear(eventID)
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID})
}

func (s *Server) handleLockEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Locked bool `json:"locked"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	var lockedAt *time.Time
	if req.Locked {
		lockedAt = &now
	}
	if err := s.store.SetEventJoinLock(eventID, req.Locked, lockedAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "no such event")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("lock event: %v", err))
		return
	}

	message := "Joining is open again."
	if req.Locked {
		message = "The host locked joining."
	}
	s.hub.Broadcast(eventID, protocol.JoinLockStatusChangedMessage{
		Type:       protocol.TypeJoinLockStatusChanged,
		EventID:    eventID,
		JoinLocked: req.Locked,
		LockedAt:   lockedAt,
		Message:    message,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":    eventID,
		"join_locked": req.Locked,
	})
}

func (s *Server) handleRecoverParticipant(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		DisplayName string    `json:"display_name"`
		DeviceID    uuid.UUID `json:"device_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == uuid.Nil || strings.TrimSpace(req.DisplayName) == "" {
		writeJSONError(w, http.StatusBadRequest, "display_name and device_id are required")
		return
	}

	p, err := s.store.ParticipantByName(eventID, strings.TrimSpace(req.DisplayName))
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no participant with that name")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("look up participant: %v", err))
		return
	}

	token, err := join.NewToken()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not issue a session token")
		return
	}
	if err := s.store.ReassignDevice(p.ID, req.DeviceID, token, time.Now().UTC()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("recover participant: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participant_id": p.ID,
		"display_name":   p.DisplayName,
		"session_token":  token,
		"is_rejoining":   true,
	})
}

func (s *Server) handleEventLeaderboard(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rows, err := s.store.EventLeaderboard(eventID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("event leaderboard: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, leaderboardJSON(rows))
}

func (s *Server) handleSegmentLeaderboard(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rows, err := s.store.SegmentLeaderboard(segmentID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("segment leaderboard: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, leaderboardJSON(rows))
}

func leaderboardJSON(rows []storage.LeaderboardRow) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		out = append(out, map[string]any{
			"rank":             i + 1,
			"user_id":          row.ParticipantID,
			"username":         row.DisplayName,
			"avatar_url":       row.AvatarURL,
			"score":            row.Score,
			"response_time_ms": row.TotalResponseTimeMS,
			"is_late_joiner":   row.IsLateJoiner,
		})
	}
	return out
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.store.EventByID(eventID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "no such event")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get event: %v", err))
		return
	}

	var req struct {
		PresenterName   string     `json:"presenter_name"`
		PresenterUserID *uuid.UUID `json:"presenter_user_id"`
		Title           string     `json:"title"`
		OrderIndex      *int       `json:"order_index"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PresenterName) == "" {
		writeJSONError(w, http.StatusBadRequest, "presenter_name is required")
		return
	}

	orderIndex := 0
	if req.OrderIndex != nil {
		orderIndex = *req.OrderIndex
	} else if segments, err := s.store.SegmentsByEvent(eventID); err == nil {
		orderIndex = len(segments)
	}

	seg := storage.Segment{
		ID:              uuid.New(),
		EventID:         eventID,
		PresenterName:   strings.TrimSpace(req.PresenterName),
		PresenterUserID: req.PresenterUserID,
		Title:           req.Title,
		OrderIndex:      orderIndex,
		Status:          storage.SegmentPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateSegment(seg); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create segment: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"segment_id":     seg.ID,
		"event_id":       seg.EventID,
		"presenter_name": seg.PresenterName,
		"title":          seg.Title,
		"order_index":    seg.OrderIndex,
		"status":         seg.Status,
	})
}

// handleCompleteSegment closes the recording window. A segment that ends
// with zero questions triggers an informational broadcast; it keeps waiting
// for the host rather than skipping to completed.
func (s *Server) handleCompleteSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	seg, err := s.store.SegmentByID(segmentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such segment")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get segment: %v", err))
		return
	}

	now := time.Now().UTC()
	if err := s.store.SetSegmentStatus(segmentID, storage.SegmentCompleted, seg.Status, storage.SegmentTimestamps{
		RecordingEndedAt: &now,
		EndedAt:          &now,
	}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("complete segment: %v", err))
		return
	}

	questions, err := s.store.QuestionsBySegment(segmentID)
	if err == nil && len(questions) == 0 {
		s.hub.Broadcast(seg.EventID, protocol.NoQuestionsGeneratedMessage{
			Type:          protocol.TypeNoQuestionsGenerated,
			SegmentID:     segmentID,
			SegmentTitle:  seg.Title,
			PresenterName: seg.PresenterName,
			Reason:        "the recording produced no questions",
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segment_id": segmentID,
		"status":     storage.SegmentCompleted,
		"questions":  len(questions),
	})
}

func (s *Server) handleResumeSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if !s.segmentResume.allow(segmentID, time.Now()) {
		writeJSONError(w, http.StatusTooManyRequests, "resume already in progress")
		return
	}

	seg, err := s.store.SegmentByID(segmentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such segment")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get segment: %v", err))
		return
	}

	status := seg.PreviousStatus
	if status == "" || status == storage.SegmentCompleted {
		status = storage.SegmentQuizReady
	}
	if err := s.store.SetSegmentStatus(segmentID, status, seg.Status, storage.SegmentTimestamps{}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("resume segment: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segment_id": segmentID,
		"status":     status,
	})
}

func (s *Server) handleAppendTranscript(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ChunkIndex int    `json:"chunk_index"`
		Text       string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := s.store.AppendTranscript(segmentID, req.ChunkIndex, req.Text, time.Now().UTC()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("append transcript: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"segment_id": segmentID})
}

func (s *Server) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if s.generator == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "question generation is not configured")
		return
	}

	seg, err := s.store.SegmentByID(segmentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such segment")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get segment: %v", err))
		return
	}

	var req struct {
		Count int `json:"count"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	transcript, err := s.store.SegmentTranscript(segmentID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load transcript: %v", err))
		return
	}

	ev, err := s.store.EventByID(seg.EventID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get event: %v", err))
		return
	}

	s.hub.Broadcast(seg.EventID, protocol.QuizGeneratingMessage{
		Type:      protocol.TypeQuizGenerating,
		SegmentID: segmentID,
	})

	generated, err := s.generator.Generate(r.Context(), transcript, req.Count, ev.NumFakeAnswers)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("generate questions: %v", err))
		return
	}

	if len(generated) == 0 {
		s.hub.Broadcast(seg.EventID, protocol.NoQuestionsGeneratedMessage{
			Type:          protocol.TypeNoQuestionsGenerated,
			SegmentID:     segmentID,
			SegmentTitle:  seg.Title,
			PresenterName: seg.PresenterName,
			Reason:        "the transcript was too short to quiz on",
		})
		writeJSON(w, http.StatusOK, map[string]any{"segment_id": segmentID, "questions": 0})
		return
	}

	now := time.Now().UTC()
	questions := make([]storage.Question, 0, len(generated))
	for i, g := range generated {
		questions = append(questions, storage.Question{
			ID:               uuid.New(),
			SegmentID:        segmentID,
			QuestionText:     g.Question,
			CorrectAnswer:    g.Correct,
			FakeAnswers:      g.FakeAnswers,
			OrderIndex:       i,
			IsAIGenerated:    true,
			SourceTranscript: transcript,
			CreatedAt:        now,
		})
	}
	if err := s.store.CreateQuestions(questions); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("store questions: %v", err))
		return
	}
	if err := s.store.SetSegmentStatus(segmentID, storage.SegmentQuizReady, seg.Status, storage.SegmentTimestamps{}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("mark segment ready: %v", err))
		return
	}

	s.hub.Broadcast(seg.EventID, protocol.QuizReadyMessage{
		Type:           protocol.TypeQuizReady,
		SegmentID:      segmentID,
		QuestionsCount: len(questions),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"segment_id": segmentID,
		"questions":  len(questions),
	})
}

func (s *Server) handleRenameParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		DisplayName string `json:"display_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		writeJSONError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	p, err := s.store.ParticipantByID(participantID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no such participant")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get participant: %v", err))
		return
	}

	name, err := s.join.UniqueName(p.EventID, req.DisplayName)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("unique name: %v", err))
		return
	}
	if err := s.store.UpdateParticipantName(participantID, name); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("rename participant: %v", err))
		return
	}

	s.hub.Broadcast(p.EventID, protocol.ParticipantNameChangedMessage{
		Type:    protocol.TypeParticipantNameChanged,
		UserID:  participantID,
		OldName: p.DisplayName,
		NewName: name,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"participant_id": participantID,
		"display_name":   name,
	})
}
