package tcp

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/Codeblinders/Chat-App/internal/wire"
)

var errConnClosed = errors.New("tcp: connection closed")

const outboundQueue = 64

// conn is one live reliable-transport connection. Username and session key
// are set exactly once, at successful authentication.
type conn struct {
	id   string
	nc   net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	username string
	key      []byte
}

func newConn(nc net.Conn) *conn {
	return &conn{
		id:   uuid.NewString(),
		nc:   nc,
		out:  make(chan []byte, outboundQueue),
		done: make(chan struct{}),
	}
}

func (c *conn) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *conn) sessionKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// bind marks the connection authenticated. It is a no-op when already bound.
func (c *conn) bind(username string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.username == "" {
		c.username = username
		c.key = key
	}
}

// send seals m under the session key (plaintext before one exists) and
// queues it, blocking while the peer's queue is full. The block gives the
// cache-streaming path its backpressure.
func (c *conn) send(m *wire.Message) error {
	frame, err := wire.Seal(m, c.sessionKey())
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

// sendPlain bypasses the session key for handshake replies.
func (c *conn) sendPlain(m *wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

// trySend is the fan-out path: a receiver that cannot keep up fails
// immediately instead of stalling everyone sharing the stream.
func (c *conn) trySend(m *wire.Message) error {
	frame, err := wire.Seal(m, c.sessionKey())
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errConnClosed
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case frame := <-c.out:
			if _, err := c.nc.Write(frame); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close is immediate and idempotent. The reader goroutine observes the
// closed socket and runs the cleanup pass.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.nc.Close()
	})
}
