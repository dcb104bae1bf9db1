package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sjawhar/quizwire/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Conn owns one websocket for one participant. Outbound frames go through a
// bounded channel drained by a single write pump, so concurrent broadcasts
// never interleave on the wire. A full buffer means the peer is too slow;
// the send fails instead of blocking the broadcaster.
type Conn struct {
	userID uuid.UUID
	ws     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket for the given participant.
func NewConn(userID uuid.UUID, ws *websocket.Conn) *Conn {
	return &Conn{
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// UserID identifies the participant this connection belongs to.
func (c *Conn) UserID() uuid.UUID { return c.userID }

// Send marshals v and enqueues it for delivery. Returns false when the
// connection is closed or its buffer is full; the caller marks the
// participant temporarily disconnected.
func (c *Conn) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal outbound frame for %s: %v", c.userID, err)
		return true
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// WritePump drains the send channel onto the wire and emits a ping frame
// every pingInterval. It returns when the connection closes or a write
// fails. Run it in its own goroutine.
func (c *Conn) WritePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(protocol.PingMessage{Type: protocol.TypePing})

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, ping); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadMessage blocks for the next inbound frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// Done is closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }
