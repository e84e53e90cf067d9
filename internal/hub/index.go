package hub

import (
	"context"
	"fmt"

	"github.com/rideline/realtime/internal/monitoring"
)

// Subscribe adds the identity to the subscriber set of a booking after the
// ownership check passes. On denial it returns ErrDenied and mutates
// nothing; there is no partial subscription state.
func (h *Hub) Subscribe(ctx context.Context, identity string, bookingID int64) error {
	allowed, err := h.directory.IsPartyToBooking(ctx, identity, bookingID)
	if err != nil {
		return fmt.Errorf("ownership check for booking %d: %w", bookingID, err)
	}
	if !allowed {
		monitoring.SubscriptionDenied()
		h.logger.Warn().
			Str("identity", identity).
			Int64("booking_id", bookingID).
			Msg("Subscription denied by ownership check")
		return ErrDenied
	}

	h.subMu.Lock()
	set := h.subs[bookingID]
	if set == nil {
		set = make(map[string]struct{})
		h.subs[bookingID] = set
	}
	set[identity] = struct{}{}
	pairs := h.countPairsLocked()
	h.subMu.Unlock()

	monitoring.SetActiveSubscriptions(pairs)
	h.logger.Info().
		Str("identity", identity).
		Int64("booking_id", bookingID).
		Msg("Identity subscribed to booking")
	return nil
}

// UnsubscribeAll removes the identity from every booking's subscriber set,
// deleting sets that become empty. Called during deregistration.
func (h *Hub) UnsubscribeAll(identity string) {
	h.subMu.Lock()
	for bookingID, set := range h.subs {
		if _, ok := set[identity]; !ok {
			continue
		}
		delete(set, identity)
		if len(set) == 0 {
			delete(h.subs, bookingID)
		}
	}
	pairs := h.countPairsLocked()
	h.subMu.Unlock()

	monitoring.SetActiveSubscriptions(pairs)
}

// SubscribersOf returns a snapshot of the identities subscribed to a
// booking.
func (h *Hub) SubscribersOf(bookingID int64) []string {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	set := h.subs[bookingID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for identity := range set {
		out = append(out, identity)
	}
	return out
}

// isSubscriber reports whether the identity is currently in the booking's
// subscriber set.
func (h *Hub) isSubscriber(identity string, bookingID int64) bool {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	_, ok := h.subs[bookingID][identity]
	return ok
}

// countPairsLocked counts (booking, identity) pairs. Caller holds subMu.
func (h *Hub) countPairsLocked() int {
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
