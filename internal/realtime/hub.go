package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is the room abstraction the router fans out through. It exposes
// connection sets per channel without tying the router to any particular
// connection bookkeeping.
type Registry interface {
	Connection(connectionID string) (*Conn, bool)
	UserConnections(userID string) []*Conn
	AdminConnections() []*Conn
}

// Hub tracks live connections and their user/admin rooms. It implements
// Registry for the router and owns connection lifecycle bookkeeping.
type Hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn
	users  map[string]map[string]*Conn
	admins map[string]*Conn
}

// NewHub constructs an empty connection hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]*Conn),
		users:  make(map[string]map[string]*Conn),
		admins: make(map[string]*Conn),
	}
}

// Register adds an authenticated connection to its rooms.
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn.ID] = conn
	if _, ok := h.users[conn.UserID]; !ok {
		h.users[conn.UserID] = make(map[string]*Conn)
	}
	h.users[conn.UserID][conn.ID] = conn
	if conn.Admin {
		h.admins[conn.ID] = conn
	}
	h.logger.Debug("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.UserID),
		zap.Bool("admin", conn.Admin))
}

// Unregister removes the connection from every room and closes it. Safe to
// call for connections that were never registered.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	conn, ok := h.conns[connectionID]
	if ok {
		delete(h.conns, connectionID)
		if siblings := h.users[conn.UserID]; siblings != nil {
			delete(siblings, connectionID)
			if len(siblings) == 0 {
				delete(h.users, conn.UserID)
			}
		}
		delete(h.admins, connectionID)
	}
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.logger.Debug("connection unregistered", zap.String("connection_id", connectionID))
	}
}

// Connection looks up a live connection by id.
func (h *Hub) Connection(connectionID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connectionID]
	return conn, ok
}

// UserConnections returns every live connection belonging to the user.
func (h *Hub) UserConnections(userID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.users[userID]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// AdminConnections returns every connected administrator.
func (h *Hub) AdminConnections() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.admins) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(h.admins))
	for _, conn := range h.admins {
		out = append(out, conn)
	}
	return out
}
