package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/rideline/realtime/internal/monitoring"
	"github.com/rideline/realtime/internal/protocol"
)

// BroadcastStatus pushes a booking status change to every active connection
// of every subscriber. An identity with two open tabs receives the update
// twice, once per handle. Delivery is fire-and-forget: a failed push is
// logged and the fan-out continues; there is no acknowledgement or retry.
func (h *Hub) BroadcastStatus(bookingID int64, update protocol.StatusUpdate) {
	start := time.Now()
	update.BookingID = bookingID

	msg, err := encode(protocol.NewBookingUpdate(update))
	if err != nil {
		h.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("Failed to encode status update")
		return
	}

	subscribers := h.SubscribersOf(bookingID)
	if len(subscribers) == 0 {
		return
	}

	delivered := 0
	for _, identity := range subscribers {
		delivered += h.pushToIdentity(identity, msg)
	}

	monitoring.ObserveBroadcast(time.Since(start))
	h.logger.Debug().
		Int64("booking_id", bookingID).
		Str("status", update.Status).
		Int("subscribers", len(subscribers)).
		Int("handles_delivered", delivered).
		Msg("Status update broadcast")
}

// BroadcastNotification pushes a notification to every active connection of
// one identity. A missing notification ID is filled in.
func (h *Hub) BroadcastNotification(identity string, n protocol.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	msg, err := encode(protocol.NewNotification(n))
	if err != nil {
		h.logger.Error().Err(err).Str("identity", identity).Msg("Failed to encode notification")
		return
	}
	h.pushToIdentity(identity, msg)
}

// pushToIdentity pushes a message to all of an identity's handles and
// returns how many pushes succeeded.
func (h *Hub) pushToIdentity(identity string, msg Message) int {
	ok := 0
	for _, handle := range h.HandlesFor(identity) {
		if h.push(handle, identity, msg) {
			ok++
		}
	}
	return ok
}

// push delivers one message to one handle. Failures are logged and counted,
// never propagated: a stale or saturated handle must not abort delivery to
// the remaining subscribers.
func (h *Hub) push(handle PushHandle, identity string, msg Message) bool {
	if err := handle.Push(msg); err != nil {
		monitoring.PushDropped(handle.Transport(), "push_error")
		h.logger.Warn().
			Err(err).
			Str("identity", identity).
			Str("transport", handle.Transport()).
			Str("type", msg.Type).
			Msg("Push to connection failed")
		return false
	}
	monitoring.PushDelivered(handle.Transport())
	return true
}
