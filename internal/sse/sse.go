// Package sse is the fallback push channel for clients that cannot hold a
// bidirectional WebSocket: a long-lived text/event-stream response per
// identity, fed by the same hub the WebSocket transport uses. There is no
// inbound routing on the stream itself; control messages arrive through the
// short-lived POST endpoint in control.go.
package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rideline/realtime/internal/auth"
	"github.com/rideline/realtime/internal/hub"
	"github.com/rideline/realtime/internal/monitoring"
)

// Name is the transport label used in logs and metrics.
const Name = "sse"

// Options configures the fallback channel handlers.
type Options struct {
	Hub      *hub.Hub
	Resolver auth.Resolver
	Logger   zerolog.Logger

	SendBuffer int           // outbound queue per stream (default 64)
	Keepalive  time.Duration // comment-frame interval to defeat proxy idle timeouts (default 25s)
}

func (o *Options) applyDefaults() {
	if o.SendBuffer == 0 {
		o.SendBuffer = 64
	}
	if o.Keepalive == 0 {
		o.Keepalive = 25 * time.Second
	}
}

// Handler serves the /events stream endpoint.
type Handler struct {
	opts   Options
	logger zerolog.Logger
}

func NewHandler(opts Options) *Handler {
	opts.applyDefaults()
	return &Handler{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "sse_transport").Logger(),
	}
}

// stream is the hub-facing handle of one open event stream. Push is
// non-blocking; a saturated stream drops the frame.
type stream struct {
	frames chan hub.Message
}

func (s *stream) Push(m hub.Message) error {
	select {
	case s.frames <- m:
		return nil
	default:
		return fmt.Errorf("event stream buffer full")
	}
}

func (s *stream) Transport() string { return Name }

// ServeHTTP holds the response open and writes one
// `event: <type>\ndata: <json>\n\n` frame per pushed envelope. The stream
// deregisters when the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.opts.Resolver.Resolve(auth.CredentialFromRequest(r))
	if err != nil {
		monitoring.AuthFailed()
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Authentication failed on event stream")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := &stream{frames: make(chan hub.Message, h.opts.SendBuffer)}
	connID := h.opts.Hub.Register(identity, s)
	defer h.opts.Hub.Deregister(connID)

	// Opening comment confirms the stream to the client immediately.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(h.opts.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case m := <-s.frames:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Type, m.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
