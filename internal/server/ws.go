package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sjawhar/quizwire/internal/hub"
	"github.com/sjawhar/quizwire/internal/protocol"
	"github.com/sjawhar/quizwire/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const joinDeadline = 10 * time.Second

func (s *Server) registerWSRoute(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		s.serveWS(ws, r.URL.Query().Get("event_id"))
	})
}

// serveWS waits for the join frame, registers the connection with the
// event's session, and pumps inbound frames until the socket closes.
func (s *Server) serveWS(ws *websocket.Conn, eventIDParam string) {
	ws.SetReadDeadline(time.Now().Add(joinDeadline))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	msg, err := protocol.DecodeClient(data)
	if err != nil {
		writeWSError(ws, "invalid_message: expected a join frame first")
		_ = ws.Close()
		return
	}
	joinMsg, ok := msg.(protocol.JoinMessage)
	if !ok {
		writeWSError(ws, "invalid_message: expected a join frame first")
		_ = ws.Close()
		return
	}

	eventID, err := s.resolveEventID(eventIDParam, joinMsg.SessionCode)
	if err != nil {
		writeWSError(ws, "not_found: "+err.Error())
		_ = ws.Close()
		return
	}

	sess, err := s.hub.GetOrCreate(eventID)
	if err != nil {
		writeWSError(ws, "not_found: no such event")
		_ = ws.Close()
		return
	}

	conn := hub.NewConn(joinMsg.UserID, ws)
	go conn.WritePump(s.cfg.HeartbeatInterval())
	sess.Join(conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			sess.Disconnect(conn)
			return
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			conn.Send(protocol.NewError("invalid_message: " + err.Error()))
			continue
		}
		s.hub.Dispatch(sess, conn, msg)
	}
}

func (s *Server) resolveEventID(eventIDParam, sessionCode string) (uuid.UUID, error) {
	if eventIDParam != "" {
		id, err := uuid.Parse(eventIDParam)
		if err != nil {
			return uuid.Nil, errors.New("invalid event id")
		}
		return id, nil
	}
	if sessionCode != "" {
		event, err := s.store.EventByCode(sessionCode)
		if errors.Is(err, storage.ErrNotFound) {
			return uuid.Nil, errors.New("no event with that code")
		}
		if err != nil {
			return uuid.Nil, err
		}
		return event.ID, nil
	}
	return uuid.Nil, errors.New("event_id or session_code is required")
}

func writeWSError(ws *websocket.Conn, message string) {
	frame := protocol.NewError(message)
	_ = ws.WriteJSON(frame)
}
