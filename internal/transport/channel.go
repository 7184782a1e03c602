package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Frames buffered between the read pump and the consumer
	frameBufferSize = 16

	// Pause between connection attempts while dialing
	dialRetryInterval = 20 * time.Millisecond

	// Upper bound for a single websocket handshake
	handshakeTimeout = 2 * time.Second
)

// Frame is one message read from a channel, or the error that ended it.
type Frame struct {
	Data []byte
	Err  error
}

// Channel is one end of a message-oriented connection. Each websocket
// message carries exactly one protocol message. Reads happen on a pump
// goroutine and are delivered through Frames; writes are serialized.
type Channel struct {
	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newChannel(conn *websocket.Conn, maxMessageSize int64, logger *zap.Logger) *Channel {
	conn.SetReadLimit(maxMessageSize)
	c := &Channel{
		conn:   conn,
		frames: make(chan Frame, frameBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.readPump()
	return c
}

func (c *Channel) readPump() {
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			closing := c.Closed()
			c.Close(0)
			if !closing {
				select {
				case c.frames <- Frame{Err: classifyReadError(err)}:
				default:
				}
			}
			return
		}

		select {
		case c.frames <- Frame{Data: data}:
		case <-c.done:
			return
		}
	}
}

// Frames delivers inbound messages. It is closed when the channel ends,
// after a final Frame carrying the error when the peer went away.
func (c *Channel) Frames() <-chan Frame {
	return c.frames
}

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Write sends data as one message. A zero timeout waits indefinitely. Any
// write failure closes the channel.
func (c *Channel) Write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.Closed() {
		return types.StatusConnectionClosed
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.Close(0)
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("write: %w", types.StatusTimeout)
		}
		return fmt.Errorf("write: %w: %v", types.StatusConnectionClosed, err)
	}
	return nil
}

// Drain discards frames that are already buffered.
func (c *Channel) Drain() int {
	n := 0
	for {
		select {
		case f, ok := <-c.frames:
			if !ok || f.Err != nil {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close ends the channel. With a positive linger the close handshake is
// attempted for at most that long before the connection is dropped.
func (c *Channel) Close(linger time.Duration) error {
	c.closeOnce.Do(func() {
		close(c.done)
		if linger > 0 {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(linger)); err != nil {
				c.logger.Debug("Close handshake failed", zap.Error(err))
			}
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func classifyReadError(err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return fmt.Errorf("read: %w", types.StatusMessageTooLarge)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("read: %w", types.StatusConnectionClosed)
	default:
		return fmt.Errorf("read: %w: %v", types.StatusConnectionClosed, err)
	}
}

// Dial connects to ep, retrying until ctx is done. A peer that already has
// a connection on ep answers with 409 and the dial fails immediately with
// StatusConnectionRefused.
func Dial(ctx context.Context, ep Endpoint, maxMessageSize int64, logger *zap.Logger) (*Channel, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, ep.Network, ep.dialAddress())
		},
		HandshakeTimeout: handshakeTimeout,
	}

	attempts := 0
	for {
		attempts++
		conn, resp, err := dialer.DialContext(ctx, ep.url(), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			logger.Debug("Channel connected",
				zap.String("endpoint", ep.String()),
				zap.Int("attempts", attempts))
			return newChannel(conn, maxMessageSize, logger), nil
		}
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("dial %s: peer busy: %w", ep, types.StatusConnectionRefused)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("dial %s after %d attempts: %w", ep, attempts, types.StatusTimeout)
			}
			return nil, fmt.Errorf("dial %s: %w: %v", ep, types.StatusConnectionRefused, ctx.Err())
		case <-time.After(dialRetryInterval):
		}
	}
}
