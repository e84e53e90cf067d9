package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/rideline/realtime/internal/monitoring"
)

// Register records a live, already-authenticated connection for an identity
// and returns its ID. Transports must resolve the credential before calling
// this; a connection that fails authentication is closed and never
// registered.
func (h *Hub) Register(identity string, handle PushHandle) ConnectionID {
	conn := &connection{
		id:       ConnectionID(uuid.NewString()),
		identity: identity,
		handle:   handle,
		openedAt: time.Now(),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	set := h.byIdentity[identity]
	if set == nil {
		set = make(map[ConnectionID]*connection)
		h.byIdentity[identity] = set
	}
	set[conn.id] = conn
	h.mu.Unlock()

	monitoring.ConnectionOpened(handle.Transport())
	h.logger.Info().
		Str("connection_id", string(conn.id)).
		Str("identity", identity).
		Str("transport", handle.Transport()).
		Msg("Connection registered")

	return conn.id
}

// Deregister removes a connection and purges its identity from every
// subscription entry so later broadcasts cannot fan out to a dead handle.
// Idempotent: deregistering an unknown ID is a no-op.
func (h *Hub) Deregister(id ConnectionID) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, id)
	if set := h.byIdentity[conn.identity]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(h.byIdentity, conn.identity)
		}
	}
	h.mu.Unlock()

	h.UnsubscribeAll(conn.identity)

	monitoring.ConnectionClosed(conn.handle.Transport())
	h.logger.Info().
		Str("connection_id", string(id)).
		Str("identity", conn.identity).
		Str("transport", conn.handle.Transport()).
		Dur("connection_duration", time.Since(conn.openedAt)).
		Msg("Connection deregistered")
}

// HandlesFor returns the active push handles of an identity, one per open
// connection. The returned slice is a snapshot.
func (h *Hub) HandlesFor(identity string) []PushHandle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.byIdentity[identity]
	if len(set) == 0 {
		return nil
	}
	handles := make([]PushHandle, 0, len(set))
	for _, conn := range set {
		handles = append(handles, conn.handle)
	}
	return handles
}

// CloseAll force-closes every registered connection whose handle supports
// closing. Used when the shutdown grace period expires with connections
// still live; each close makes the transport deregister itself.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	handles := make([]PushHandle, 0, len(h.conns))
	for _, conn := range h.conns {
		handles = append(handles, conn.handle)
	}
	h.mu.RUnlock()

	for _, handle := range handles {
		if closer, ok := handle.(interface{ Close() error }); ok {
			closer.Close()
		}
	}
}

// lookup returns the connection for an ID, or nil if it has been
// deregistered.
func (h *Hub) lookup(id ConnectionID) *connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}
