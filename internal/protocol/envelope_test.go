package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_KnownTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Type
	}{
		{"ping", `{"type":"ping","timestamp":1}`, TypePing},
		{"subscribe", `{"type":"subscribe_booking","payload":{"bookingId":42},"timestamp":1}`, TypeSubscribeBooking},
		{"chat", `{"type":"chat_message","payload":{"bookingId":7,"fromIdentity":"u1","message":"hi","messageId":"m1"},"timestamp":1}`, TypeChatMessage},
		{"update", `{"type":"booking_update","payload":{"bookingId":42,"status":"dispatched"},"timestamp":1}`, TypeBookingUpdate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.raw))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if env.Type != tc.want {
				t.Fatalf("expected type %q, got %q", tc.want, env.Type)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"empty object", `{}`},
		{"missing type", `{"payload":{"bookingId":1},"timestamp":1}`},
		{"type wrong kind", `{"type":42}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecode_UnknownTypeIsDistinctFromMalformed(t *testing.T) {
	env, err := Decode([]byte(`{"type":"presence_update","payload":{},"timestamp":1}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Fatalf("unknown type must not be classified as malformed")
	}
	if env.Type != "presence_update" {
		t.Fatalf("envelope should carry the unrecognized tag for logging, got %q", env.Type)
	}
}

func TestPayloadMustMatchTag(t *testing.T) {
	env, err := Decode([]byte(`{"type":"subscribe_booking","payload":{"bookingId":42},"timestamp":1}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, err := env.ChatMessage(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("reading subscribe payload as chat should fail, got %v", err)
	}
	sub, err := env.SubscribeBooking()
	if err != nil {
		t.Fatalf("subscribe payload: %v", err)
	}
	if sub.BookingID != 42 {
		t.Fatalf("expected bookingId 42, got %d", sub.BookingID)
	}
}

func TestChatMessage_RequiredFields(t *testing.T) {
	env, err := Decode([]byte(`{"type":"chat_message","payload":{"bookingId":7,"fromIdentity":"u1","messageId":"m1"},"timestamp":1}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, err := env.ChatMessage(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("chat without message text should be malformed, got %v", err)
	}
}

func TestSubscribeBooking_MissingBookingID(t *testing.T) {
	env, err := Decode([]byte(`{"type":"subscribe_booking","payload":{},"timestamp":1}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, err := env.SubscribeBooking(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("subscribe without bookingId should be malformed, got %v", err)
	}
}

func TestNewBookingUpdate_CarriesBookingIDAndTimestamp(t *testing.T) {
	env := NewBookingUpdate(StatusUpdate{BookingID: 42, Status: "dispatched", ETAMinutes: 5})
	if env.BookingID != 42 {
		t.Fatalf("expected envelope bookingId 42, got %d", env.BookingID)
	}
	if env.Timestamp == 0 {
		t.Fatalf("expected timestamp to be stamped")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("decode of encoded envelope failed: %v", err)
	}
	upd, err := back.StatusUpdate()
	if err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if upd.Status != "dispatched" || upd.ETAMinutes != 5 {
		t.Fatalf("unexpected payload round trip: %+v", upd)
	}
}

func TestNewChatMessage_StampsTimestampWhenAbsent(t *testing.T) {
	env := NewChatMessage(ChatMessage{BookingID: 7, From: "u1", Message: "hello", MessageID: "m1"})
	msg, err := env.ChatMessage()
	if err != nil {
		t.Fatalf("chat payload: %v", err)
	}
	if msg.Timestamp == 0 {
		t.Fatalf("expected chat timestamp to be filled in")
	}
}

func TestNewError_Payload(t *testing.T) {
	env := NewError(ErrCodeAccessDenied, "not a party to booking 42")
	p, err := env.ErrorPayload()
	if err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if p.Code != ErrCodeAccessDenied {
		t.Fatalf("expected code %q, got %q", ErrCodeAccessDenied, p.Code)
	}
}

func TestNotificationSeverityEncoding(t *testing.T) {
	env := NewNotification(Notification{ID: "n1", Severity: SeveritySuccess, Title: "Subscribed", Message: "ok"})
	var generic map[string]json.RawMessage
	data, _ := env.Encode()
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(generic["type"]) != `"notification"` {
		t.Fatalf("unexpected type tag: %s", generic["type"])
	}
}
