package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 16
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// Conn is one live websocket connection with an authenticated identity.
// Outbound events are queued onto a buffered channel and written by a
// single goroutine, so events handed to the hub for this connection keep
// their order.
type Conn struct {
	ID     string
	UserID string
	Admin  bool

	socket *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an upgraded websocket with its authenticated identity.
func NewConn(id, userID string, admin bool, socket *websocket.Conn) *Conn {
	return &Conn{
		ID:     id,
		UserID: userID,
		Admin:  admin,
		socket: socket,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// enqueue offers a frame to the connection's outbound queue. Delivery is
// best effort: a full queue or a closed connection drops the frame.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.socket != nil {
			_ = c.socket.Close()
		}
	})
}

// WritePump drains the outbound queue onto the socket until the connection
// closes. It must run in its own goroutine, one per connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// ReadMessage blocks for the next client frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, payload, err := c.socket.ReadMessage()
	return payload, err
}
