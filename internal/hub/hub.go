// Package hub holds the process-local realtime state: which connections are
// live for which identity, and which identities are subscribed to which
// booking. It routes inbound envelopes and fans outbound ones out to
// subscribers. All state is owned by a single Hub value constructed once per
// process and injected into the transports, so tests can run isolated
// instances instead of sharing globals.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rideline/realtime/internal/protocol"
)

// ErrDenied is returned by Subscribe when the ownership check rejects the
// identity for the booking.
var ErrDenied = errors.New("not a party to booking")

// BookingDirectory is the external ownership check: it answers whether an
// identity is the rider, driver, or another party to a booking. Calls may
// perform I/O and must honor the context.
type BookingDirectory interface {
	IsPartyToBooking(ctx context.Context, identity string, bookingID int64) (bool, error)
}

// Message is one outbound envelope, pre-encoded once per fan-out. Transports
// pick the representation they need: the WebSocket transport writes Encoded
// verbatim, the SSE transport frames Type and Payload itself.
type Message struct {
	Type    string // envelope type tag
	Payload []byte // payload JSON
	Encoded []byte // full envelope JSON
}

// PushHandle is a live connection as seen by the hub. Push must not block:
// transports queue into a buffered channel and report failure when the
// buffer is full or the connection is gone. Delivery is best-effort; a push
// error is logged and never retried.
type PushHandle interface {
	Push(msg Message) error
	Transport() string
}

// ConnectionID identifies one registered connection. One identity may hold
// several (one per browser tab).
type ConnectionID string

type connection struct {
	id       ConnectionID
	identity string
	handle   PushHandle
	openedAt time.Time
}

// Hub is the connection registry, subscription index, message router and
// broadcast API in one injectable service.
type Hub struct {
	logger    zerolog.Logger
	directory BookingDirectory

	mu         sync.RWMutex
	conns      map[ConnectionID]*connection
	byIdentity map[string]map[ConnectionID]*connection

	subMu sync.RWMutex
	subs  map[int64]map[string]struct{} // bookingID -> subscriber identities
}

// New creates an empty hub. The directory is consulted on every subscribe
// and chat request; it is the only collaborator the hub talks to.
func New(directory BookingDirectory, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger.With().Str("component", "hub").Logger(),
		directory:  directory,
		conns:      make(map[ConnectionID]*connection),
		byIdentity: make(map[string]map[ConnectionID]*connection),
		subs:       make(map[int64]map[string]struct{}),
	}
}

// Stats is the snapshot served by the control endpoint and health checks.
type Stats struct {
	TotalConnections    int `json:"totalConnections"`
	ActiveSubscriptions int `json:"activeSubscriptions"`
	TotalSubscriptions  int `json:"totalSubscriptions"`
}

// StatsSnapshot returns current connection and subscription counts.
func (h *Hub) StatsSnapshot() Stats {
	h.mu.RLock()
	conns := len(h.conns)
	h.mu.RUnlock()

	h.subMu.RLock()
	bookings := len(h.subs)
	pairs := 0
	for _, set := range h.subs {
		pairs += len(set)
	}
	h.subMu.RUnlock()

	return Stats{
		TotalConnections:    conns,
		ActiveSubscriptions: bookings,
		TotalSubscriptions:  pairs,
	}
}

// encode turns an envelope into the shared fan-out representation.
func encode(env protocol.Envelope) (Message, error) {
	data, err := env.Encode()
	if err != nil {
		return Message{}, err
	}
	return Message{Type: string(env.Type), Payload: env.Payload, Encoded: data}, nil
}
