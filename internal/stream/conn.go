package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"market-booking/internal/domain/identity"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrConnClosed = errors.New("connection closed")

// Conn is one live client connection. Frames are written by a single pump
// goroutine in the order they were enqueued.
type Conn struct {
	id          string
	identity    identity.Identity
	writer      FrameWriter
	send        chan Frame
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	// Writes count as activity only for transports without peer acknowledgments.
	touchOnWrite bool
	// unix nanoseconds of the last counted activity
	lastActivity atomic.Int64
}

// acknowledger is implemented by transports whose peer answers pings. Their
// connections stay alive only through inbound traffic.
type acknowledger interface {
	peerAcknowledges() bool
}

func NewConn(id identity.Identity, writer FrameWriter, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	now := time.Now()
	ack, ok := writer.(acknowledger)
	c := &Conn{
		id:           uuid.NewString(),
		identity:     id,
		writer:       writer,
		send:         make(chan Frame, buffer),
		done:         make(chan struct{}),
		connectedAt:  now,
		touchOnWrite: !ok || !ack.peerAcknowledges(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Conn) ID() string                  { return c.id }
func (c *Conn) Identity() identity.Identity { return c.identity }
func (c *Conn) ConnectedAt() time.Time      { return c.connectedAt }
func (c *Conn) Done() <-chan struct{}       { return c.done }

func (c *Conn) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Enqueue queues f without blocking. It returns false when the connection is
// closed or its buffer is full.
func (c *Conn) Enqueue(f Frame) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// EnqueueWait queues f, waiting for buffer space.
func (c *Conn) EnqueueWait(ctx context.Context, f Frame) error {
	if c.closed() {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the pump and closes the transport. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writer.Close()
	})
}

// WritePump writes queued frames until the connection closes or a write fails.
func (c *Conn) WritePump() error {
	for {
		select {
		case <-c.done:
			return nil
		case f := <-c.send:
			if err := c.writer.WriteFrame(f); err != nil {
				c.Close()
				return errors.Wrapf(err, "write %s frame", f.Event)
			}
			if c.touchOnWrite {
				c.Touch()
			}
		}
	}
}
