// Package protocol defines the wire envelope exchanged between the realtime
// hub and its clients. Every message on the WebSocket channel, the SSE
// fallback channel, and the NATS ingest is one of the envelope types below;
// the payload shape is fully determined by the type tag.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the envelope routing tag. The set is closed: the router handles
// every known type explicitly and silently drops anything else.
type Type string

const (
	TypeBookingUpdate    Type = "booking_update"
	TypeChatMessage      Type = "chat_message"
	TypeNotification     Type = "notification"
	TypePing             Type = "ping"
	TypePong             Type = "pong"
	TypeError            Type = "error"
	TypeSubscribeBooking Type = "subscribe_booking"
)

// Known reports whether t is part of the closed type set.
func (t Type) Known() bool {
	switch t {
	case TypeBookingUpdate, TypeChatMessage, TypeNotification,
		TypePing, TypePong, TypeError, TypeSubscribeBooking:
		return true
	}
	return false
}

var (
	// ErrMalformed indicates the bytes did not parse as an envelope, or the
	// payload did not match the shape its type tag requires.
	ErrMalformed = errors.New("invalid message format")

	// ErrUnknownType indicates a structurally valid envelope whose type tag
	// is outside the closed set. The router logs and drops these without
	// replying; they are not user-visible failures.
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the wire message. Payload is kept raw so a broadcast can be
// encoded once and fanned out to every subscriber without re-marshaling.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Identity  string          `json:"identity,omitempty"`
	BookingID int64           `json:"bookingId,omitempty"`
}

// Decode parses raw bytes into an envelope. A parse failure or a missing type
// tag returns ErrMalformed; a well-formed envelope with an unrecognized tag
// returns the envelope together with ErrUnknownType so the caller can apply
// the silent-drop policy.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type tag", ErrMalformed)
	}
	if !env.Type.Known() {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// Encode serializes the envelope for transmission.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// decodePayload unmarshals the payload into dst, enforcing the tagged-union
// invariant that a payload must match its type.
func (e Envelope) decodePayload(want Type, dst any) error {
	if e.Type != want {
		return fmt.Errorf("%w: payload requested as %q but envelope is %q", ErrMalformed, want, e.Type)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %q envelope has no payload", ErrMalformed, want)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: bad %q payload: %v", ErrMalformed, want, err)
	}
	return nil
}

// StatusUpdate returns the payload of a booking_update envelope.
func (e Envelope) StatusUpdate() (StatusUpdate, error) {
	var p StatusUpdate
	err := e.decodePayload(TypeBookingUpdate, &p)
	return p, err
}

// ChatMessage returns the payload of a chat_message envelope.
func (e Envelope) ChatMessage() (ChatMessage, error) {
	var p ChatMessage
	if err := e.decodePayload(TypeChatMessage, &p); err != nil {
		return p, err
	}
	if p.BookingID == 0 || p.Message == "" {
		return p, fmt.Errorf("%w: chat message requires bookingId and message", ErrMalformed)
	}
	return p, nil
}

// SubscribeBooking returns the payload of a subscribe_booking envelope.
func (e Envelope) SubscribeBooking() (SubscribeBooking, error) {
	var p SubscribeBooking
	if err := e.decodePayload(TypeSubscribeBooking, &p); err != nil {
		return p, err
	}
	if p.BookingID == 0 {
		return p, fmt.Errorf("%w: subscribe request requires bookingId", ErrMalformed)
	}
	return p, nil
}

// Notification returns the payload of a notification envelope.
func (e Envelope) Notification() (Notification, error) {
	var p Notification
	err := e.decodePayload(TypeNotification, &p)
	return p, err
}

// ErrorPayload returns the payload of an error envelope.
func (e Envelope) ErrorPayload() (ErrorPayload, error) {
	var p ErrorPayload
	err := e.decodePayload(TypeError, &p)
	return p, err
}

func now() int64 { return time.Now().UnixMilli() }

func mustWrap(t Type, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are plain structs; marshaling them cannot fail.
		panic(fmt.Sprintf("protocol: marshal %q payload: %v", t, err))
	}
	return Envelope{Type: t, Payload: data, Timestamp: now()}
}

// NewBookingUpdate wraps a status update for broadcast to a booking's
// subscribers.
func NewBookingUpdate(p StatusUpdate) Envelope {
	env := mustWrap(TypeBookingUpdate, p)
	env.BookingID = p.BookingID
	return env
}

// NewChatMessage wraps a chat message for delivery to the other subscribers
// of the booking.
func NewChatMessage(p ChatMessage) Envelope {
	if p.Timestamp == 0 {
		p.Timestamp = now()
	}
	env := mustWrap(TypeChatMessage, p)
	env.BookingID = p.BookingID
	return env
}

// NewNotification wraps a notification addressed to a single identity.
func NewNotification(p Notification) Envelope {
	return mustWrap(TypeNotification, p)
}

// NewPing builds a keepalive ping. Clients send these on a fixed interval
// while connected.
func NewPing() Envelope {
	return Envelope{Type: TypePing, Timestamp: now()}
}

// NewPong builds the reply to a keepalive ping.
func NewPong() Envelope {
	return Envelope{Type: TypePong, Timestamp: now()}
}

// NewSubscribeBooking builds a client-side subscription request.
func NewSubscribeBooking(bookingID int64) Envelope {
	env := mustWrap(TypeSubscribeBooking, SubscribeBooking{BookingID: bookingID})
	env.BookingID = bookingID
	return env
}

// NewError builds a request-level failure reply to the sending connection.
func NewError(code, message string) Envelope {
	return mustWrap(TypeError, ErrorPayload{Code: code, Message: message})
}
