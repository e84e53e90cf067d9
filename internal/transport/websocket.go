// Package transport is the bidirectional WebSocket channel: handshake
// authentication, connection registration, and the read/write pumps that
// bridge the socket to the hub.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rideline/realtime/internal/auth"
	"github.com/rideline/realtime/internal/hub"
	"github.com/rideline/realtime/internal/monitoring"
)

// Name is the transport label used in logs and metrics.
const Name = "websocket"

// CloseAuthFailure is the application close code sent when credential
// resolution fails during the handshake. Distinct from policy-violation
// codes so clients can tell "get a new token" from "slow down".
const CloseAuthFailure ws.StatusCode = 4001

// Options configures the WebSocket handler. Zero values take the defaults
// noted on each field.
type Options struct {
	Hub      *hub.Hub
	Resolver auth.Resolver
	Logger   zerolog.Logger

	SendBuffer   int           // outbound queue per connection (default 256)
	MessageRate  rate.Limit    // sustained inbound messages/sec (default 10)
	MessageBurst int           // inbound burst allowance (default 100)
	PongWait     time.Duration // read deadline between client frames (default 60s)
	PingInterval time.Duration // protocol-level ping period (default 9/10 of PongWait)
	WriteWait    time.Duration // per-frame write deadline (default 5s)
	RouteTimeout time.Duration // budget for one Route call incl. ownership check (default 5s)
}

func (o *Options) applyDefaults() {
	if o.SendBuffer == 0 {
		o.SendBuffer = 256
	}
	if o.MessageRate == 0 {
		o.MessageRate = 10
	}
	if o.MessageBurst == 0 {
		o.MessageBurst = 100
	}
	if o.PongWait == 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait == 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.RouteTimeout == 0 {
		o.RouteTimeout = 5 * time.Second
	}
}

// Handler upgrades HTTP requests on the /ws endpoint.
type Handler struct {
	opts   Options
	logger zerolog.Logger
}

func NewHandler(opts Options) *Handler {
	opts.applyDefaults()
	return &Handler{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "ws_transport").Logger(),
	}
}

// ServeHTTP performs the upgrade, authenticates, registers the connection
// and starts the pumps. Authentication failures close the socket with
// CloseAuthFailure and never reach the registry.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := auth.CredentialFromRequest(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	identity, err := h.opts.Resolver.Resolve(credential)
	if err != nil {
		monitoring.AuthFailed()
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Authentication failed, closing connection")
		body := ws.NewCloseFrameBody(CloseAuthFailure, "authentication failed")
		ws.WriteFrame(conn, ws.NewCloseFrame(body))
		conn.Close()
		return
	}

	c := newClient(conn, identity, h.opts.SendBuffer, rate.NewLimiter(h.opts.MessageRate, h.opts.MessageBurst))
	c.id = h.opts.Hub.Register(identity, c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump consumes client frames until the connection dies, then
// deregisters. Each text frame is rate-checked and handed to the router;
// the router never blocks the pump beyond RouteTimeout.
func (h *Handler) readPump(c *client) {
	defer func() {
		h.opts.Hub.Deregister(c.id)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

	for {
		msg, op, err := c.readClientData()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		switch op {
		case ws.OpText:
			if !c.limiter.Allow() {
				monitoring.MessageRateLimited()
				h.logger.Warn().
					Str("identity", c.identity).
					Msg("Client message rate limited")
				c.pushRateLimitError()
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.RouteTimeout)
			h.opts.Hub.Route(ctx, c.id, msg)
			cancel()

		case ws.OpClose:
			return
		}
	}
}

// writePump drains the send queue onto the socket and emits protocol-level
// pings. Exits on any write error or when the client is closed.
func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := c.writeServerText(data); err != nil {
				h.logger.Debug().
					Err(err).
					Str("identity", c.identity).
					Msg("Write to client failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := c.writeServerPing(); err != nil {
				h.logger.Debug().
					Err(err).
					Str("identity", c.identity).
					Msg("Ping write failed")
				return
			}
		}
	}
}
