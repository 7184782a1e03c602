// Package transport connects a process to its peer over two channels.
//
// The outbound channel carries requests this side originates and their
// replies. The inbound channel carries requests the peer originates; a
// background goroutine reads them, hands each one to a Dispatcher and
// writes the reply back on the same channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher handles a message that arrived on the inbound channel.
type Dispatcher interface {
	Dispatch(msg []byte) ([]byte, error)
}

// deferredReply is a reply to a posted request, or its expiry, handed to
// the background loop for dispatch.
type deferredReply struct {
	data    []byte
	expired bool
	expire  func()
}

type Transport struct {
	id         uuid.UUID
	cfg        Config
	logger     *zap.Logger
	dispatcher Dispatcher
	stats      *Stats
	to         Endpoint
	from       Endpoint

	state   atomic.Int32
	running atomic.Bool

	listener *Listener

	outMu sync.Mutex
	out   *Channel

	// slot is held for the lifetime of one outstanding request
	slot     chan struct{}
	deferred chan deferredReply

	lifeMu    sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Create binds from, starts the background loop and then connects to.
// Binding first means a peer that connects early finds the inbound
// channel ready. Create returns once both channels are up, or fails when
// cfg.ConnectTimeout elapses first.
func Create(ctx context.Context, to, from string, dispatcher Dispatcher, cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()

	toEp, err := ParseEndpoint(to)
	if err != nil {
		return nil, err
	}
	fromEp, err := ParseEndpoint(from)
	if err != nil {
		return nil, err
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("nil dispatcher: %w", types.StatusInvalidArgument)
	}

	id := uuid.New()
	t := &Transport{
		id:         id,
		cfg:        cfg,
		logger:     cfg.Logger.With(zap.String("transport_id", id.String())),
		dispatcher: dispatcher,
		stats:      newStats(cfg.Metrics, id.String()),
		to:         toEp,
		from:       fromEp,
		slot:       make(chan struct{}, 1),
		deferred:   make(chan deferredReply, 4),
		stop:       make(chan struct{}),
	}
	t.setState(StateConnecting)

	t.logger.Info("Creating transport",
		zap.String("to", toEp.String()),
		zap.String("from", fromEp.String()))

	listener, err := Listen(fromEp, cfg.MaxMessageSize, t.logger)
	if err != nil {
		t.setState(StateError)
		return nil, err
	}
	t.listener = listener

	t.running.Store(true)
	t.wg.Add(1)
	go t.serve()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	out, err := Dial(dialCtx, toEp, cfg.MaxMessageSize, t.logger)
	if err != nil {
		t.logger.Error("Failed to connect outbound channel", zap.Error(err))
		t.setState(StateError)
		t.shutdown()
		return nil, err
	}

	t.outMu.Lock()
	t.out = out
	t.outMu.Unlock()

	t.setState(StateConnected)
	t.logger.Info("Transport connected")

	return t, nil
}

func (t *Transport) ID() uuid.UUID {
	return t.id
}

func (t *Transport) State() State {
	return State(t.state.Load())
}

func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

func (t *Transport) Stats() StatsSnapshot {
	return t.stats.Snapshot()
}

// WaitForConnection polls until the transport is connected or timeout
// elapses.
func (t *Transport) WaitForConnection(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		switch t.State() {
		case StateConnected:
			return true
		case StateError:
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(t.cfg.PollTimeout / 5)
	}
}

func (t *Transport) setState(s State) {
	prev := State(t.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if err := ValidateTransition(prev, s); err != nil {
		t.logger.Warn("Unexpected transport state change", zap.Error(err))
	}
	t.logger.Debug("Transport state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s))
}

// Send writes data on the outbound channel. Transient failures (the
// channel being down or a write timing out) are retried up to
// Retry.MaxAttempts times, Retry.RetryDelay apart, within
// Retry.TotalTimeout; exhausting them yields StatusTimeout. Other failures
// are returned at once.
//
// Only one request may be outstanding: callers that mix Send and Receive
// directly must serialize themselves. Exchange does this for them.
func (t *Transport) Send(data []byte) error {
	if !t.IsConnected() {
		return fmt.Errorf("send: %w", types.StatusInvalidState)
	}
	if int64(len(data)) > t.cfg.MaxMessageSize {
		return fmt.Errorf("send %d bytes: %w: %w", len(data), types.StatusOperationFailed, types.StatusMessageTooLarge)
	}

	retry := t.cfg.Retry
	deadline := time.Now().Add(retry.TotalTimeout)

	var lastErr error
	attempts := 0
	for attempts < retry.MaxAttempts {
		attempts++

		err := t.writeOnce(data)
		if err == nil {
			t.stats.sent.Inc(1)
			return nil
		}
		if !types.StatusOf(err).Transient() {
			return fmt.Errorf("send: %w", err)
		}
		lastErr = err

		if attempts >= retry.MaxAttempts || time.Now().Add(retry.RetryDelay).After(deadline) {
			break
		}
		t.stats.retries.Inc(1)
		t.logger.Debug("Retrying send", zap.Int("attempt", attempts), zap.Error(err))

		select {
		case <-time.After(retry.RetryDelay):
		case <-t.stop:
			return fmt.Errorf("send: %w", types.StatusInvalidState)
		}
	}

	t.stats.timeouts.Inc(1)
	t.logger.Warn("Send failed", zap.Int("attempts", attempts), zap.Error(lastErr))
	return fmt.Errorf("send after %d attempts (%v): %w", attempts, lastErr, types.StatusTimeout)
}

// writeOnce makes a single write attempt, redialing the outbound channel
// first if it has dropped.
func (t *Transport) writeOnce(data []byte) error {
	ch, err := t.outbound()
	if err != nil {
		return err
	}
	err = ch.Write(data, t.cfg.SendTimeout)
	if types.StatusOf(err) == types.StatusConnectionClosed {
		// dropped underneath us; the next attempt redials
		return fmt.Errorf("%w: %w", types.StatusWouldBlock, err)
	}
	return err
}

func (t *Transport) outbound() (*Channel, error) {
	t.outMu.Lock()
	defer t.outMu.Unlock()

	if t.out != nil && !t.out.Closed() {
		return t.out, nil
	}
	if !t.running.Load() {
		return nil, types.StatusInvalidState
	}

	t.logger.Info("Outbound channel down, redialing", zap.String("to", t.to.String()))
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SendTimeout)
	defer cancel()

	ch, err := Dial(ctx, t.to, t.cfg.MaxMessageSize, t.logger)
	if err != nil {
		return nil, fmt.Errorf("redial %s (%v): %w", t.to, err, types.StatusWouldBlock)
	}
	t.out = ch
	return ch, nil
}

// Receive waits up to RecvTimeout for the reply to the last request.
func (t *Transport) Receive() ([]byte, error) {
	timer := time.NewTimer(t.cfg.RecvTimeout)
	defer timer.Stop()
	return t.receive(timer.C)
}

func (t *Transport) receive(expired <-chan time.Time) ([]byte, error) {
	if !t.IsConnected() {
		return nil, fmt.Errorf("receive: %w", types.StatusInvalidState)
	}

	t.outMu.Lock()
	ch := t.out
	t.outMu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("receive: %w: %w", types.StatusOperationFailed, types.StatusConnectionClosed)
	}

	select {
	case f, ok := <-ch.Frames():
		if !ok {
			return nil, fmt.Errorf("receive: %w: %w", types.StatusOperationFailed, types.StatusConnectionClosed)
		}
		if f.Err != nil {
			return nil, fmt.Errorf("receive: %w: %w", types.StatusOperationFailed, f.Err)
		}
		t.stats.replies.Inc(1)
		return f.Data, nil
	case <-expired:
		t.stats.timeouts.Inc(1)
		return nil, fmt.Errorf("receive after %s: %w", t.cfg.RecvTimeout, types.StatusTimeout)
	case <-t.stop:
		return nil, fmt.Errorf("receive: %w", types.StatusInvalidState)
	}
}

// stale records a reply that does not answer req. It arrived after its
// own request timed out.
func (t *Transport) stale(req, reply []byte) {
	t.stats.stale.Inc(1)
	t.logger.Warn("Dropped reply to an earlier request",
		zap.ByteString("request", req),
		zap.ByteString("reply", reply))
}

// Exchange sends req and waits for its reply while holding the request
// slot, so concurrent callers take turns. Replies that do not answer req
// (protocol.Answers) are dropped and the wait goes on for what is left of
// RecvTimeout.
func (t *Transport) Exchange(req []byte) ([]byte, error) {
	if err := t.acquire(); err != nil {
		return nil, err
	}
	defer t.release()

	t.drainStale()
	if err := t.Send(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.cfg.RecvTimeout)
	defer timer.Stop()
	for {
		reply, err := t.receive(timer.C)
		if err != nil {
			return nil, err
		}
		if protocol.Answers(req, reply) {
			return reply, nil
		}
		t.stale(req, reply)
	}
}

// Post sends req without waiting. Its reply is dispatched on the
// background goroutine like an inbound message, and no reply is written
// back. If nothing arrives within RecvTimeout, expire is called there
// instead. The request slot stays taken until either happens.
func (t *Transport) Post(req []byte, expire func()) error {
	if err := t.acquire(); err != nil {
		return err
	}

	t.drainStale()
	if err := t.Send(req); err != nil {
		t.release()
		return err
	}

	t.outMu.Lock()
	ch := t.out
	t.outMu.Unlock()

	t.lifeMu.Lock()
	if !t.running.Load() {
		t.lifeMu.Unlock()
		t.release()
		return fmt.Errorf("post: %w", types.StatusInvalidState)
	}
	t.wg.Add(1)
	t.lifeMu.Unlock()

	go t.awaitReply(ch, req, expire)
	return nil
}

func (t *Transport) awaitReply(ch *Channel, req []byte, expire func()) {
	defer t.wg.Done()

	timer := time.NewTimer(t.cfg.RecvTimeout)
	defer timer.Stop()

	var r deferredReply
wait:
	for {
		select {
		case f, ok := <-ch.Frames():
			if !ok || f.Err != nil {
				r.expired, r.expire = true, expire
				break wait
			}
			t.stats.replies.Inc(1)
			if !protocol.Answers(req, f.Data) {
				t.stale(req, f.Data)
				continue
			}
			r.data = f.Data
			break wait
		case <-timer.C:
			t.stats.timeouts.Inc(1)
			r.expired, r.expire = true, expire
			break wait
		case <-t.stop:
			t.release()
			return
		}
	}

	t.release()
	select {
	case t.deferred <- r:
	case <-t.stop:
	}
}

func (t *Transport) acquire() error {
	if !t.IsConnected() {
		return fmt.Errorf("acquire: %w", types.StatusInvalidState)
	}

	timer := time.NewTimer(t.cfg.Retry.TotalTimeout + t.cfg.RecvTimeout)
	defer timer.Stop()

	select {
	case t.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("request slot busy: %w", types.StatusTimeout)
	case <-t.stop:
		return fmt.Errorf("acquire: %w", types.StatusInvalidState)
	}
}

func (t *Transport) release() {
	select {
	case <-t.slot:
	default:
	}
}

// drainStale drops replies that arrived after their request timed out.
func (t *Transport) drainStale() {
	t.outMu.Lock()
	ch := t.out
	t.outMu.Unlock()
	if ch == nil {
		return
	}
	if n := ch.Drain(); n > 0 {
		t.logger.Warn("Dropped stale replies", zap.Int("count", n))
	}
}

// serve is the background loop. It owns the inbound peer.
func (t *Transport) serve() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollTimeout)
	defer ticker.Stop()

	var peer *Channel
	var frames <-chan Frame
	dropPeer := func() {
		if peer != nil {
			peer.Close(0)
		}
		peer, frames = nil, nil
	}
	defer dropPeer()

	for {
		select {
		case <-t.stop:
			return

		case ch := <-t.listener.Peers():
			dropPeer()
			peer, frames = ch, ch.Frames()
			t.logger.Info("Inbound peer connected", zap.String("from", t.from.String()))

		case f, ok := <-frames:
			if !ok || f.Err != nil {
				t.logger.Info("Inbound peer disconnected", zap.NamedError("reason", f.Err))
				dropPeer()
				continue
			}
			t.handleInbound(peer, f.Data)

		case r := <-t.deferred:
			t.handleDeferred(r)

		case <-ticker.C:
			if !t.running.Load() {
				return
			}
		}
	}
}

func (t *Transport) handleInbound(peer *Channel, msg []byte) {
	t.stats.received.Inc(1)

	reply, err := t.dispatcher.Dispatch(msg)
	switch {
	case err == nil && reply == nil:
		t.stats.dispatched.Inc(1)
		return
	case err == nil:
		t.stats.dispatched.Inc(1)
	case errors.Is(err, types.StatusUnhandled):
		t.stats.unhandled.Inc(1)
		t.logger.Warn("Unhandled inbound message", zap.ByteString("message", msg))
		reply = protocol.UnhandledMarker
	default:
		t.stats.failed.Inc(1)
		t.logger.Warn("Inbound message failed", zap.ByteString("message", msg), zap.Error(err))
		reply = []byte(types.StatusOf(err))
	}

	if err := peer.Write(reply, t.cfg.SendTimeout); err != nil {
		t.logger.Warn("Failed to write inbound reply", zap.Error(err))
	}
}

func (t *Transport) handleDeferred(r deferredReply) {
	if r.expired {
		t.logger.Warn("Posted request expired without reply")
		if r.expire != nil {
			r.expire()
		}
		return
	}

	t.stats.received.Inc(1)
	reply, err := t.dispatcher.Dispatch(r.data)
	switch {
	case err != nil:
		t.stats.failed.Inc(1)
		t.logger.Warn("Reply to posted request not handled", zap.ByteString("message", r.data), zap.Error(err))
	case reply != nil:
		t.stats.dispatched.Inc(1)
		t.logger.Debug("Discarding reply to a reply", zap.ByteString("reply", reply))
	default:
		t.stats.dispatched.Inc(1)
	}
}

// Close shuts the transport down: the running flag is cleared, the
// inbound channel is forced shut so the background loop unblocks, the loop
// is joined for at most ShutdownTimeout and the outbound channel is closed
// with Linger. Close is safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.logger.Info("Closing transport")
		err = t.shutdown()
		t.setState(StateDisconnected)
	})
	return err
}

func (t *Transport) shutdown() error {
	t.lifeMu.Lock()
	t.running.Store(false)
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	t.lifeMu.Unlock()

	if t.listener != nil {
		t.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(t.cfg.ShutdownTimeout):
		t.logger.Warn("Shutdown timeout, background loop still running")
		err = fmt.Errorf("join background loop: %w", types.StatusTimeout)
	}

	t.outMu.Lock()
	if t.out != nil {
		t.out.Close(t.cfg.Linger)
	}
	t.outMu.Unlock()

	return err
}
