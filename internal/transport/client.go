package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"

	"github.com/rideline/realtime/internal/hub"
	"github.com/rideline/realtime/internal/protocol"
)

// ErrSendBufferFull is returned by Push when the client cannot drain its
// queue fast enough. The hub logs such drops; delivery is best-effort and
// dropped messages are not retried.
var ErrSendBufferFull = errors.New("client send buffer full")

// ErrConnClosed is returned by Push after the connection has shut down.
var ErrConnClosed = errors.New("connection closed")

// client is one registered WebSocket connection.
type client struct {
	id          hub.ConnectionID
	identity    string
	conn        net.Conn
	send        chan []byte
	done        chan struct{}
	closed      int32
	closeOnce   sync.Once
	limiter     *rate.Limiter
	connectedAt time.Time
}

func newClient(conn net.Conn, identity string, sendBuffer int, limiter *rate.Limiter) *client {
	return &client{
		identity:    identity,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		limiter:     limiter,
		connectedAt: time.Now(),
	}
}

// Push queues an encoded envelope for the write pump. Never blocks: a full
// buffer or a closed connection reports an error and the message is
// dropped.
func (c *client) Push(m hub.Message) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrConnClosed
	}
	select {
	case c.send <- m.Encoded:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *client) Transport() string { return Name }

// pushRateLimitError tells the client why its messages are being dropped.
// Best effort: skipped when the buffer is already full.
func (c *client) pushRateLimitError() {
	env := protocol.NewError(protocol.ErrCodeRateLimited, "too many messages, slow down")
	data, err := env.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close satisfies the optional closer the hub probes for during shutdown.
func (c *client) Close() error {
	c.close()
	return nil
}

// close tears the connection down exactly once; safe to call from both
// pumps.
func (c *client) close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readClientData() ([]byte, ws.OpCode, error) {
	return wsutil.ReadClientData(c.conn)
}

func (c *client) writeServerText(data []byte) error {
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

func (c *client) writeServerPing() error {
	return wsutil.WriteServerMessage(c.conn, ws.OpPing, nil)
}
