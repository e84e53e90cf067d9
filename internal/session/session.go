// Package session is the client-side counterpart of the hub: it maintains a
// persistent WebSocket connection, replays subscription requests after every
// connect, emits keepalive pings, and republishes inbound envelopes to UI
// consumers on per-type channels.
//
// The connection lifecycle is an explicit state machine driven by events
// (dial result, close code, manual calls). The reconnect timer is a side
// effect of entering Reconnecting and is cancelled on leaving it, so a stale
// timer can never fire after a deliberate close.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rideline/realtime/internal/protocol"
)

// State is the connection lifecycle phase. Owned exclusively by the
// session; consumers observe transitions through States().
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrNotConnected is returned by sends attempted outside the Connected
// state.
var ErrNotConnected = errors.New("session not connected")

// DefaultMaxAttempts is the number of automatic reconnect attempts before
// the session gives up and waits for a manual reconnect.
const DefaultMaxAttempts = 5

// ReconnectDelay returns the wait before reconnect attempt n (1-based).
// Linear in the attempt count, so every retry waits longer than the one
// before it.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// Config configures a Session. Zero values take the defaults noted on each
// field.
type Config struct {
	URL    string // ws:// or wss:// endpoint
	Token  string // credential appended as the token query parameter
	Logger zerolog.Logger

	BaseDelay    time.Duration // reconnect delay unit (default 1s)
	MaxAttempts  int           // automatic attempts before giving up (default 5)
	PingInterval time.Duration // keepalive period while Connected (default 30s)
	EventBuffer  int           // per-type consumer channel capacity (default 32)
	Dialer       *websocket.Dialer
}

func (c *Config) applyDefaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 32
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Session owns one logical connection to the hub.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	mu             sync.Mutex
	state          State
	attempts       int
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	pending        map[int64]struct{} // bookings to (re)subscribe on every connect
	manuallyClosed bool

	wmu sync.Mutex // serializes writes on the active connection

	updates       chan protocol.StatusUpdate
	chat          chan protocol.ChatMessage
	notifications chan protocol.Notification
	errs          chan protocol.ErrorPayload
	states        chan State
}

// New creates a session in the Disconnected state. Call Start to connect.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:           cfg,
		logger:        cfg.Logger.With().Str("component", "session").Logger(),
		state:         Disconnected,
		pending:       make(map[int64]struct{}),
		updates:       make(chan protocol.StatusUpdate, cfg.EventBuffer),
		chat:          make(chan protocol.ChatMessage, cfg.EventBuffer),
		notifications: make(chan protocol.Notification, cfg.EventBuffer),
		errs:          make(chan protocol.ErrorPayload, cfg.EventBuffer),
		states:        make(chan State, cfg.EventBuffer),
	}
}

// Per-type event streams for UI consumers. Sends are non-blocking; a
// consumer that stops draining loses events rather than stalling the
// session.
func (s *Session) Updates() <-chan protocol.StatusUpdate       { return s.updates }
func (s *Session) Chat() <-chan protocol.ChatMessage           { return s.chat }
func (s *Session) Notifications() <-chan protocol.Notification { return s.notifications }
func (s *Session) Errors() <-chan protocol.ErrorPayload        { return s.errs }
func (s *Session) States() <-chan State                        { return s.states }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins connecting. Only valid from Disconnected; calls in any other
// state are no-ops.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(Connecting)
	s.mu.Unlock()
	go s.connect()
}

// Reconnect restarts a session that gave up or was closed. Resets the
// attempt counter. No-op while the session is already live.
func (s *Session) Reconnect() {
	s.mu.Lock()
	switch s.state {
	case Connecting, Connected, Reconnecting:
		s.mu.Unlock()
		return
	default:
	}
	s.manuallyClosed = false
	s.attempts = 0
	s.setStateLocked(Connecting)
	s.mu.Unlock()
	go s.connect()
}

// Close shuts the session down deliberately: cancels any pending reconnect
// timer, sends a normal-closure frame, and moves to Closed. No automatic
// reconnection happens afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed && s.manuallyClosed {
		s.mu.Unlock()
		return
	}
	s.manuallyClosed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.setStateLocked(Closed)
	s.mu.Unlock()

	if conn != nil {
		s.wmu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		s.wmu.Unlock()
		conn.Close()
	}
}

// Subscribe requests booking updates. Remembered across reconnects: the
// request is sent now if connected and replayed after every future
// connect, because deregistration wipes the server-side subscription.
func (s *Session) Subscribe(bookingID int64) {
	s.mu.Lock()
	s.pending[bookingID] = struct{}{}
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if connected && conn != nil {
		if err := s.writeEnvelope(conn, protocol.NewSubscribeBooking(bookingID)); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("Subscribe send failed")
		}
	}
}

// SendChat sends a chat message to the other parties of a booking.
func (s *Session) SendChat(msg protocol.ChatMessage) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	return s.writeEnvelope(conn, protocol.NewChatMessage(msg))
}

// setStateLocked transitions the machine and publishes the new state.
// Caller holds s.mu.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug().
		Str("from", s.state.String()).
		Str("to", next.String()).
		Int("attempts", s.attempts).
		Msg("Session state change")
	s.state = next
	select {
	case s.states <- next:
	default:
	}
}

func (s *Session) dialURL() string {
	if s.cfg.Token == "" {
		return s.cfg.URL
	}
	sep := "?"
	for _, r := range s.cfg.URL {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return s.cfg.URL + sep + "token=" + s.cfg.Token
}

// connect performs one dial attempt from the Connecting state.
func (s *Session) connect() {
	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	conn, resp, err := s.cfg.Dialer.Dial(s.dialURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Handshake failed")
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.state != Connecting {
		// Closed while the dial was in flight.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.attempts = 0
	s.setStateLocked(Connected)
	replay := make([]int64, 0, len(s.pending))
	for bookingID := range s.pending {
		replay = append(replay, bookingID)
	}
	s.mu.Unlock()

	for _, bookingID := range replay {
		if err := s.writeEnvelope(conn, protocol.NewSubscribeBooking(bookingID)); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("Subscription replay failed")
		}
	}

	done := make(chan struct{})
	go s.pingLoop(conn, done)
	go s.readLoop(conn, done)
}

// readLoop consumes envelopes until the connection dies, then decides
// between Closed (normal-closure code) and Reconnecting (anything else).
func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()

			s.mu.Lock()
			if s.manuallyClosed || s.conn != conn {
				s.mu.Unlock()
				return
			}
			s.conn = nil
			s.mu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.mu.Lock()
				s.setStateLocked(Closed)
				s.mu.Unlock()
				return
			}
			s.logger.Warn().Err(err).Msg("Connection lost")
			s.scheduleReconnect()
			return
		}
		s.dispatch(data)
	}
}

// pingLoop emits a keepalive ping envelope on a fixed interval. Pings are
// only sent while this connection is the live one; the loop exits with the
// connection.
func (s *Session) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			live := s.state == Connected && s.conn == conn
			s.mu.Unlock()
			if !live {
				return
			}
			if err := s.writeEnvelope(conn, protocol.NewPing()); err != nil {
				return
			}
		}
	}
}

// scheduleReconnect enters Reconnecting and arms the backoff timer, or
// gives up after the attempt limit and surfaces Closed.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manuallyClosed || s.state == Closed {
		return
	}

	s.attempts++
	if s.attempts > s.cfg.MaxAttempts {
		s.logger.Error().
			Int("attempts", s.attempts-1).
			Msg("Reconnect attempts exhausted, giving up")
		s.setStateLocked(Closed)
		return
	}

	delay := ReconnectDelay(s.cfg.BaseDelay, s.attempts)
	s.setStateLocked(Reconnecting)
	s.logger.Info().
		Int("attempt", s.attempts).
		Dur("delay", delay).
		Msg("Scheduling reconnect")

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.state != Reconnecting {
			// Left Reconnecting in the meantime (manual close); the timer
			// should have been cancelled, but guard against the race.
			s.mu.Unlock()
			return
		}
		s.reconnectTimer = nil
		s.setStateLocked(Connecting)
		s.mu.Unlock()
		s.connect()
	})
}

// dispatch fans an inbound envelope out to the per-type consumer channel.
func (s *Session) dispatch(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring undecodable envelope")
		return
	}

	switch env.Type {
	case protocol.TypeBookingUpdate:
		if p, err := env.StatusUpdate(); err == nil {
			select {
			case s.updates <- p:
			default:
			}
		}
	case protocol.TypeChatMessage:
		if p, err := env.ChatMessage(); err == nil {
			select {
			case s.chat <- p:
			default:
			}
		}
	case protocol.TypeNotification:
		if p, err := env.Notification(); err == nil {
			select {
			case s.notifications <- p:
			default:
			}
		}
	case protocol.TypeError:
		if p, err := env.ErrorPayload(); err == nil {
			select {
			case s.errs <- p:
			default:
			}
		}
	case protocol.TypePong:
		// Keepalive acknowledged.
	default:
		s.logger.Debug().Str("type", string(env.Type)).Msg("Ignoring unexpected envelope type")
	}
}

// writeEnvelope serializes and writes one envelope. Writes are serialized
// because pings, subscriptions and chat can race.
func (s *Session) writeEnvelope(conn *websocket.Conn, env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
