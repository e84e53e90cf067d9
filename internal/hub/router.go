package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rideline/realtime/internal/monitoring"
	"github.com/rideline/realtime/internal/protocol"
)

// Route is the single entry point for inbound envelopes. The sender is
// identified by its connection ID so replies (pong, acks, errors) reach only
// the connection that sent the request, not the identity's other tabs.
//
// Dispatch policy:
//   - ping: reply pong to the sender, no state change
//   - subscribe_booking: ownership-checked subscribe; success notification
//     or error envelope back to the sender
//   - chat_message: ownership-checked; delivered to every other subscriber
//     of the booking, never echoed to the sender
//   - malformed bytes: error envelope back to the sender
//   - unrecognized type: logged and silently dropped
func (h *Hub) Route(ctx context.Context, sender ConnectionID, raw []byte) {
	conn := h.lookup(sender)
	if conn == nil {
		// Connection lost the race with its own deregistration.
		h.logger.Debug().
			Str("connection_id", string(sender)).
			Msg("Dropping message from deregistered connection")
		return
	}

	env, err := protocol.Decode(raw)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		// Silent-drop policy: not a user-visible failure.
		monitoring.MessageRouted("unknown")
		h.logger.Warn().
			Str("identity", conn.identity).
			Str("message_type", string(env.Type)).
			Msg("Unrecognized message type dropped")
		return
	case err != nil:
		monitoring.MessageRouted("malformed")
		h.reply(conn, protocol.NewError(protocol.ErrCodeInvalidFormat, "invalid message format"))
		return
	}

	monitoring.MessageRouted(string(env.Type))

	switch env.Type {
	case protocol.TypePing:
		h.reply(conn, protocol.NewPong())

	case protocol.TypeSubscribeBooking:
		h.handleSubscribe(ctx, conn, env)

	case protocol.TypeChatMessage:
		h.handleChat(ctx, conn, env)

	case protocol.TypePong:
		// Client answered a server keepalive; nothing to do.

	default:
		// Server-to-client types arriving inbound (booking_update,
		// notification, error) get the same silent-drop treatment as
		// unknown tags.
		h.logger.Warn().
			Str("identity", conn.identity).
			Str("message_type", string(env.Type)).
			Msg("Server-only message type received from client, dropped")
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, conn *connection, env protocol.Envelope) {
	req, err := env.SubscribeBooking()
	if err != nil {
		h.reply(conn, protocol.NewError(protocol.ErrCodeInvalidFormat, "invalid message format"))
		return
	}

	if err := h.Subscribe(ctx, conn.identity, req.BookingID); err != nil {
		if errors.Is(err, ErrDenied) {
			h.reply(conn, protocol.NewError(protocol.ErrCodeAccessDenied,
				fmt.Sprintf("not a party to booking %d", req.BookingID)))
			return
		}
		h.logger.Error().
			Err(err).
			Str("identity", conn.identity).
			Int64("booking_id", req.BookingID).
			Msg("Ownership check failed")
		h.reply(conn, protocol.NewError(protocol.ErrCodeAccessDenied,
			fmt.Sprintf("could not verify access to booking %d", req.BookingID)))
		return
	}

	h.reply(conn, protocol.NewNotification(protocol.Notification{
		ID:       uuid.NewString(),
		Severity: protocol.SeveritySuccess,
		Title:    "Subscribed",
		Message:  fmt.Sprintf("Receiving updates for booking %d", req.BookingID),
	}))
}

func (h *Hub) handleChat(ctx context.Context, conn *connection, env protocol.Envelope) {
	msg, err := env.ChatMessage()
	if err != nil {
		h.reply(conn, protocol.NewError(protocol.ErrCodeInvalidFormat, "invalid message format"))
		return
	}
	// The sender field is stamped server-side; clients cannot spoof it.
	msg.From = conn.identity

	allowed, err := h.directory.IsPartyToBooking(ctx, conn.identity, msg.BookingID)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("identity", conn.identity).
			Int64("booking_id", msg.BookingID).
			Msg("Ownership check failed for chat message")
		allowed = false
	}
	if !allowed {
		h.reply(conn, protocol.NewError(protocol.ErrCodeAccessDenied,
			fmt.Sprintf("not a party to booking %d", msg.BookingID)))
		return
	}

	// Deliver to every other current subscriber of the booking. Excluding
	// the sender is a hard invariant: the sender's own tabs never receive
	// an echo of the message.
	out, err := encode(protocol.NewChatMessage(msg))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode chat message")
		return
	}
	for _, identity := range h.SubscribersOf(msg.BookingID) {
		if identity == conn.identity {
			continue
		}
		h.pushToIdentity(identity, out)
	}
}

// reply pushes an envelope to the sending connection only.
func (h *Hub) reply(conn *connection, env protocol.Envelope) {
	msg, err := encode(env)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(env.Type)).Msg("Failed to encode reply")
		return
	}
	h.push(conn.handle, conn.identity, msg)
}
