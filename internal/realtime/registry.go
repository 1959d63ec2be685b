// Package realtime keeps the in-process registry of live WebSocket connections and the
// per-socket lifecycle that feeds it.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
)

var (
	// ErrConnectionClosed is returned when sending on a connection that already closed.
	ErrConnectionClosed = errors.New("realtime: connection closed")
	// ErrSendQueueFull is returned when a slow peer has not drained its outbound queue.
	ErrSendQueueFull = errors.New("realtime: send queue full")
)

// Connection is one live, message-framed channel to a client.
type Connection interface {
	ID() uint64
	// Send enqueues a text frame without waiting for the peer.
	Send(frame []byte) error
	Close(code int, reason string) error
}

// Registry maps identities to their live connections. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	connections map[auth.Identity]map[uint64]Connection
	logger      *zap.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[auth.Identity]map[uint64]Connection),
		logger:      logger,
	}
}

// Register adds the connection under identity.
func (r *Registry) Register(identity auth.Identity, conn Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.connections[identity]
	if !ok {
		entry = make(map[uint64]Connection)
		r.connections[identity] = entry
	}
	entry[conn.ID()] = conn
}

// Unregister removes the connection and drops the identity once it has none left.
// Unregistering an absent connection is a no-op.
func (r *Registry) Unregister(identity auth.Identity, conn Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(identity, conn)
}

// Send serializes payload and delivers it to every connection of identity.
// It returns the number of connections that accepted the frame; it never fails.
func (r *Registry) Send(identity auth.Identity, payload interface{}) int {
	frame, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("realtime payload encoding failed", zap.Int64("user_id", identity.Int64()), zap.Error(err))
		return 0
	}
	return r.SendFrame(identity, frame)
}

// SendFrame delivers an already serialized frame. Connections whose send fails are pruned
// and closed.
func (r *Registry) SendFrame(identity auth.Identity, frame []byte) int {
	r.mu.RLock()
	entry := r.connections[identity]
	if len(entry) == 0 {
		r.mu.RUnlock()
		return 0
	}
	targets := make([]Connection, 0, len(entry))
	for _, conn := range entry {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			r.logger.Warn("pruning dead connection",
				zap.Int64("user_id", identity.Int64()),
				zap.Uint64("connection_id", conn.ID()),
				zap.Error(err))
			r.Unregister(identity, conn)
			_ = conn.Close(websocket.CloseGoingAway, "send failed")
			continue
		}
		delivered++
	}
	return delivered
}

// IsConnected reports whether identity has at least one live connection.
func (r *Registry) IsConnected(identity auth.Identity) bool {
	return r.ConnectionCount(identity) > 0
}

// ConnectionCount returns the number of live connections of identity.
func (r *Registry) ConnectionCount(identity auth.Identity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[identity])
}

// Identities returns the identities that currently have live connections.
func (r *Registry) Identities() []auth.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identities := make([]auth.Identity, 0, len(r.connections))
	for identity := range r.connections {
		identities = append(identities, identity)
	}
	return identities
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	all := r.connections
	r.connections = make(map[auth.Identity]map[uint64]Connection)
	r.mu.Unlock()

	for _, entry := range all {
		for _, conn := range entry {
			_ = conn.Close(code, reason)
		}
	}
}

func (r *Registry) removeLocked(identity auth.Identity, conn Connection) {
	entry := r.connections[identity]
	if entry == nil {
		return
	}
	if current, ok := entry[conn.ID()]; !ok || current != conn {
		return
	}
	delete(entry, conn.ID())
	if len(entry) == 0 {
		delete(r.connections, identity)
	}
}
