package host

import (
	"fmt"
	"sync"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"go.uber.org/zap"
)

// Uart is a serial port backed by the emulator.
//
// Asynchronous operations complete when the emulator's reply is dispatched
// back to Receive. One busy flag covers both directions, so at most one
// asynchronous operation is in flight.
type Uart struct {
	name   string
	link   Link
	logger *zap.Logger

	mu          sync.Mutex
	config      mcu.UartConfig
	initialized bool
	busy        bool
	generation  uint64
	sendCb      func(error)
	receiveCb   func(int, error)
	receiveBuf  []byte
	rxHandler   func([]byte)
}

var _ mcu.Uart = (*Uart)(nil)

func NewUart(name string, link Link, logger *zap.Logger) *Uart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uart{
		name:   name,
		link:   link,
		logger: logger.With(zap.String("uart", name)),
	}
}

func (u *Uart) Name() string {
	return u.name
}

// Init may only be called once.
func (u *Uart) Init(config mcu.UartConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.initialized {
		return fmt.Errorf("uart %s: already initialized: %w", u.name, types.StatusInvalidState)
	}
	u.config = config
	u.initialized = true
	return nil
}

func (u *Uart) Config() mcu.UartConfig {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.config
}

// ready fails unless the port is initialized and idle. Callers hold mu.
func (u *Uart) ready() error {
	if !u.initialized {
		return fmt.Errorf("uart %s: not initialized: %w", u.name, types.StatusInvalidState)
	}
	if u.busy {
		return fmt.Errorf("uart %s: busy: %w", u.name, types.StatusInvalidOperation)
	}
	return nil
}

func (u *Uart) Send(data []byte) error {
	u.mu.Lock()
	err := u.ready()
	u.mu.Unlock()
	if err != nil {
		return err
	}

	resp, err := exchange[protocol.UartResponse](u.link,
		protocol.NewUartRequest(u.name, protocol.OperationSend, data, 0, 0))
	if err != nil {
		return fmt.Errorf("uart %s: %w", u.name, err)
	}
	if err := resp.Status.Err(); err != nil {
		return fmt.Errorf("uart %s: send: %w", u.name, err)
	}
	return nil
}

func (u *Uart) ReceiveData(buffer []byte, timeoutMs uint32) (int, error) {
	u.mu.Lock()
	err := u.ready()
	u.mu.Unlock()
	if err != nil {
		return 0, err
	}

	resp, err := exchange[protocol.UartResponse](u.link,
		protocol.NewUartRequest(u.name, protocol.OperationReceive, nil, len(buffer), timeoutMs))
	if err != nil {
		return 0, fmt.Errorf("uart %s: %w", u.name, err)
	}
	if err := resp.Status.Err(); err != nil {
		return 0, fmt.Errorf("uart %s: receive: %w", u.name, err)
	}
	return copy(buffer, resp.Data), nil
}

// SendAsync returns once the request is sent. callback runs on the
// transport's dispatch goroutine.
func (u *Uart) SendAsync(data []byte, callback func(error)) error {
	req := protocol.NewUartRequest(u.name, protocol.OperationSend, data, 0, 0)
	return u.post(req, func() {
		u.sendCb = callback
	})
}

// ReceiveAsync fills buffer when the reply arrives and then calls
// callback with the byte count. buffer must stay valid until then.
func (u *Uart) ReceiveAsync(buffer []byte, callback func(int, error)) error {
	req := protocol.NewUartRequest(u.name, protocol.OperationReceive, nil, len(buffer), 0)
	return u.post(req, func() {
		u.receiveCb = callback
		u.receiveBuf = buffer
	})
}

// post marks the port busy, lets arm store the completion and sends req.
func (u *Uart) post(req protocol.UartRequest, arm func()) error {
	data, err := protocol.Encode(req)
	if err != nil {
		return err
	}

	u.mu.Lock()
	if err := u.ready(); err != nil {
		u.mu.Unlock()
		return err
	}
	u.busy = true
	u.generation++
	gen := u.generation
	arm()
	u.mu.Unlock()

	if err := u.link.Post(data, func() { u.expire(gen) }); err != nil {
		u.mu.Lock()
		if u.generation == gen {
			u.reset()
		}
		u.mu.Unlock()
		return fmt.Errorf("uart %s: %w", u.name, err)
	}
	return nil
}

// expire fails the operation started as gen if it is still pending.
func (u *Uart) expire(gen uint64) {
	u.mu.Lock()
	if !u.busy || u.generation != gen {
		u.mu.Unlock()
		return
	}
	sendCb, receiveCb := u.sendCb, u.receiveCb
	u.reset()
	u.mu.Unlock()

	u.logger.Warn("Asynchronous operation timed out")
	err := fmt.Errorf("uart %s: no reply: %w", u.name, types.StatusTimeout)
	switch {
	case sendCb != nil:
		sendCb(err)
	case receiveCb != nil:
		receiveCb(0, err)
	}
}

// reset clears the pending operation. Callers hold mu.
func (u *Uart) reset() {
	u.busy = false
	u.generation++
	u.sendCb = nil
	u.receiveCb = nil
	u.receiveBuf = nil
}

func (u *Uart) IsBusy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.busy
}

// Available is always 0; received data is fetched from the emulator on
// demand.
func (u *Uart) Available() int {
	return 0
}

func (u *Uart) Flush() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.initialized {
		return fmt.Errorf("uart %s: not initialized: %w", u.name, types.StatusInvalidState)
	}
	return nil
}

func (u *Uart) SetRxHandler(handler func(data []byte)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.initialized {
		return fmt.Errorf("uart %s: not initialized: %w", u.name, types.StatusInvalidState)
	}
	u.rxHandler = handler
	return nil
}

// Receive handles data the emulator pushes (a Receive request) and replies
// completing an asynchronous operation.
func (u *Uart) Receive(msg []byte) ([]byte, error) {
	h, ok := addressed(msg, protocol.ObjectUart, u.name)
	if !ok {
		return nil, types.StatusUnhandled
	}

	if h.Type == protocol.TypeRequest {
		return u.receivePush(msg)
	}
	return nil, u.complete(msg)
}

func (u *Uart) receivePush(msg []byte) ([]byte, error) {
	req, err := protocol.Decode[protocol.UartRequest](msg)
	if err != nil {
		return nil, err
	}
	if req.Operation != protocol.OperationReceive {
		return nil, fmt.Errorf("uart %s: pushed %s: %w", u.name, req.Operation, types.StatusInvalidOperation)
	}

	u.mu.Lock()
	handler := u.rxHandler
	u.mu.Unlock()

	if handler != nil && len(req.Data) > 0 {
		handler(append([]byte(nil), req.Data...))
	}

	return protocol.Encode(protocol.NewUartResponse(u.name, nil, len(req.Data), types.StatusOk))
}

func (u *Uart) complete(msg []byte) error {
	resp, err := protocol.Decode[protocol.UartResponse](msg)
	if err != nil {
		return err
	}

	u.mu.Lock()
	if !u.busy {
		u.mu.Unlock()
		return fmt.Errorf("uart %s: reply without pending operation: %w", u.name, types.StatusInvalidState)
	}
	sendCb, receiveCb, buf := u.sendCb, u.receiveCb, u.receiveBuf
	u.reset()
	u.mu.Unlock()

	status := resp.Status.Err()
	switch {
	case sendCb != nil:
		if status != nil {
			status = fmt.Errorf("uart %s: send: %w", u.name, status)
		}
		sendCb(status)
	case receiveCb != nil:
		if status != nil {
			receiveCb(0, fmt.Errorf("uart %s: receive: %w", u.name, status))
			return nil
		}
		receiveCb(copy(buf, resp.Data), nil)
	default:
		return fmt.Errorf("uart %s: no completion registered: %w", u.name, types.StatusInvalidState)
	}
	return nil
}
