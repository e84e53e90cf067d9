package hub

import (
	"context"
	"testing"

	"github.com/rideline/realtime/internal/protocol"
)

func mustEncode(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestRoutePingRepliesPongToSenderOnly(t *testing.T) {
	h := newTestHub(allowParties())
	sender := &fakeHandle{}
	otherTab := &fakeHandle{}
	id := h.Register("u1", sender)
	h.Register("u1", otherTab)

	for i := 0; i < 3; i++ {
		h.Route(context.Background(), id, mustEncode(t, protocol.NewPing()))
	}

	pongs := 0
	for _, typ := range sender.types() {
		if typ == string(protocol.TypePong) {
			pongs++
		}
	}
	if pongs != 3 {
		t.Fatalf("expected 3 pongs to sender, got %d", pongs)
	}
	if got := len(otherTab.received()); got != 0 {
		t.Fatalf("pong leaked to another tab of the same identity: %d messages", got)
	}
}

func TestRouteSubscribeSuccessNotifiesSender(t *testing.T) {
	h := newTestHub(allowParties("u1:42"))
	sender := &fakeHandle{}
	id := h.Register("u1", sender)

	h.Route(context.Background(), id, mustEncode(t, protocol.NewSubscribeBooking(42)))

	if got := h.SubscribersOf(42); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("expected u1 subscribed to 42, got %v", got)
	}
	msgs := sender.received()
	if len(msgs) != 1 || msgs[0].Type != string(protocol.TypeNotification) {
		t.Fatalf("expected one success notification, got %v", sender.types())
	}
	env, err := protocol.Decode(msgs[0].Encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, err := env.Notification()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if n.Severity != protocol.SeveritySuccess {
		t.Fatalf("expected success severity, got %q", n.Severity)
	}
}

func TestRouteSubscribeDeniedSendsError(t *testing.T) {
	h := newTestHub(allowParties("u1:42"))
	sender := &fakeHandle{}
	id := h.Register("u2", sender)

	h.Route(context.Background(), id, mustEncode(t, protocol.NewSubscribeBooking(42)))

	if len(h.SubscribersOf(42)) != 0 {
		t.Fatalf("denied subscribe must not mutate the index")
	}
	msgs := sender.received()
	if len(msgs) != 1 || msgs[0].Type != string(protocol.TypeError) {
		t.Fatalf("expected one error envelope, got %v", sender.types())
	}
	env, _ := protocol.Decode(msgs[0].Encoded)
	p, err := env.ErrorPayload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Code != protocol.ErrCodeAccessDenied {
		t.Fatalf("expected code %q, got %q", protocol.ErrCodeAccessDenied, p.Code)
	}
}

func TestRouteChatDeliveredToOthersNeverSender(t *testing.T) {
	h := newTestHub(allowParties("u1:7", "u2:7", "u3:7"))
	u1 := &fakeHandle{}
	u2 := &fakeHandle{}
	u3 := &fakeHandle{}
	id1 := h.Register("u1", u1)
	h.Register("u2", u2)
	h.Register("u3", u3)

	ctx := context.Background()
	for _, identity := range []string{"u1", "u2", "u3"} {
		if err := h.Subscribe(ctx, identity, 7); err != nil {
			t.Fatalf("subscribe %s: %v", identity, err)
		}
	}

	h.Route(ctx, id1, mustEncode(t, protocol.NewChatMessage(protocol.ChatMessage{
		BookingID: 7,
		From:      "u1",
		Message:   "hello",
		MessageID: "m1",
	})))

	for name, handle := range map[string]*fakeHandle{"u2": u2, "u3": u3} {
		msgs := handle.received()
		if len(msgs) != 1 {
			t.Fatalf("%s: expected exactly 1 chat message, got %d", name, len(msgs))
		}
		env, err := protocol.Decode(msgs[0].Encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		chat, err := env.ChatMessage()
		if err != nil {
			t.Fatalf("%s: payload: %v", name, err)
		}
		if chat.Message != "hello" || chat.From != "u1" {
			t.Fatalf("%s: unexpected chat %+v", name, chat)
		}
	}
	if got := len(u1.received()); got != 0 {
		t.Fatalf("sender received its own chat message (%d pushes)", got)
	}
}

func TestRouteChatSpoofedSenderIsOverwritten(t *testing.T) {
	h := newTestHub(allowParties("u1:7", "u2:7"))
	u2 := &fakeHandle{}
	id1 := h.Register("u1", &fakeHandle{})
	h.Register("u2", u2)

	ctx := context.Background()
	for _, identity := range []string{"u1", "u2"} {
		if err := h.Subscribe(ctx, identity, 7); err != nil {
			t.Fatalf("subscribe %s: %v", identity, err)
		}
	}

	h.Route(ctx, id1, mustEncode(t, protocol.NewChatMessage(protocol.ChatMessage{
		BookingID: 7,
		From:      "u2", // claims to be someone else
		Message:   "hi",
		MessageID: "m2",
	})))

	msgs := u2.received()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(msgs))
	}
	env, _ := protocol.Decode(msgs[0].Encoded)
	chat, err := env.ChatMessage()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if chat.From != "u1" {
		t.Fatalf("sender identity must be stamped server-side, got %q", chat.From)
	}
}

func TestRouteChatDeniedForNonParty(t *testing.T) {
	h := newTestHub(allowParties("u2:7"))
	sender := &fakeHandle{}
	u2 := &fakeHandle{}
	id := h.Register("u1", sender)
	h.Register("u2", u2)

	ctx := context.Background()
	if err := h.Subscribe(ctx, "u2", 7); err != nil {
		t.Fatalf("subscribe u2: %v", err)
	}

	h.Route(ctx, id, mustEncode(t, protocol.NewChatMessage(protocol.ChatMessage{
		BookingID: 7,
		Message:   "sneaky",
		MessageID: "m3",
	})))

	msgs := sender.received()
	if len(msgs) != 1 || msgs[0].Type != string(protocol.TypeError) {
		t.Fatalf("expected error envelope to sender, got %v", sender.types())
	}
	if got := len(u2.received()); got != 0 {
		t.Fatalf("denied chat must not be delivered, u2 got %d messages", got)
	}
}

func TestRouteMalformedSendsErrorEnvelope(t *testing.T) {
	h := newTestHub(allowParties())
	sender := &fakeHandle{}
	id := h.Register("u1", sender)

	h.Route(context.Background(), id, []byte(`this is not json`))

	msgs := sender.received()
	if len(msgs) != 1 || msgs[0].Type != string(protocol.TypeError) {
		t.Fatalf("expected error envelope, got %v", sender.types())
	}
	env, _ := protocol.Decode(msgs[0].Encoded)
	p, err := env.ErrorPayload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Message != "invalid message format" {
		t.Fatalf("unexpected error message %q", p.Message)
	}
}

func TestRouteUnknownTypeSilentlyDropped(t *testing.T) {
	h := newTestHub(allowParties())
	sender := &fakeHandle{}
	id := h.Register("u1", sender)

	h.Route(context.Background(), id, []byte(`{"type":"presence_update","payload":{},"timestamp":1}`))

	if got := len(sender.received()); got != 0 {
		t.Fatalf("unknown type must be dropped without reply, got %d messages", got)
	}
}

func TestRouteSubscribeMissingBookingIDIsMalformed(t *testing.T) {
	h := newTestHub(allowParties())
	sender := &fakeHandle{}
	id := h.Register("u1", sender)

	h.Route(context.Background(), id, []byte(`{"type":"subscribe_booking","payload":{},"timestamp":1}`))

	msgs := sender.received()
	if len(msgs) != 1 || msgs[0].Type != string(protocol.TypeError) {
		t.Fatalf("expected error envelope for payload missing bookingId, got %v", sender.types())
	}
}

func TestRouteFromDeregisteredConnectionIsDropped(t *testing.T) {
	h := newTestHub(allowParties())
	sender := &fakeHandle{}
	id := h.Register("u1", sender)
	h.Deregister(id)

	h.Route(context.Background(), id, mustEncode(t, protocol.NewPing()))

	if got := len(sender.received()); got != 0 {
		t.Fatalf("deregistered connection must not receive replies, got %d", got)
	}
}
