package emulator

import (
	"io"
	"sync"

	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"go.uber.org/zap"
)

// UartSnapshot describes the buffer of one emulated UART.
type UartSnapshot struct {
	Name     string `json:"name"`
	BaudRate uint32 `json:"baud_rate,omitempty"`
	Buffered int    `json:"buffered"`
	Bridged  bool   `json:"bridged"`
}

// uart buffers what the device sends and hands it back on Receive, so an
// unbridged port behaves like a loopback.
type uart struct {
	name     string
	baudRate uint32
	limit    int
	logger   *zap.Logger

	mu     sync.Mutex
	buffer []byte
	sink   io.Writer
}

func newUart(def types.UartDefinition, limit int, logger *zap.Logger) *uart {
	return &uart{
		name:     def.Name,
		baudRate: def.BaudRate,
		limit:    limit,
		logger:   logger.With(zap.String("uart", def.Name)),
	}
}

func (u *uart) handle(req protocol.UartRequest) protocol.UartResponse {
	switch req.Operation {
	case protocol.OperationSend:
		return u.send(req.Data)
	case protocol.OperationReceive:
		return u.receive(req.Size)
	default:
		return protocol.NewUartResponse(u.name, nil, 0, types.StatusInvalidOperation)
	}
}

func (u *uart) send(data []byte) protocol.UartResponse {
	u.mu.Lock()
	sink := u.sink
	if sink == nil {
		if len(u.buffer)+len(data) > u.limit {
			u.mu.Unlock()
			u.logger.Warn("UART buffer full", zap.Int("buffered", len(u.buffer)), zap.Int("incoming", len(data)))
			return protocol.NewUartResponse(u.name, nil, 0, types.StatusMessageTooLarge)
		}
		u.buffer = append(u.buffer, data...)
	}
	u.mu.Unlock()

	if sink != nil {
		n, err := sink.Write(data)
		if err != nil {
			u.logger.Error("Serial bridge write failed", zap.Error(err))
			return protocol.NewUartResponse(u.name, nil, n, types.StatusOperationFailed)
		}
	}

	u.logger.Info("Received from device", zap.Int("bytes", len(data)), zap.ByteString("data", data))
	return protocol.NewUartResponse(u.name, nil, len(data), types.StatusOk)
}

func (u *uart) receive(size int) protocol.UartResponse {
	u.mu.Lock()
	n := min(max(size, 0), len(u.buffer))
	data := append([]byte(nil), u.buffer[:n]...)
	u.buffer = u.buffer[n:]
	u.mu.Unlock()

	u.logger.Info("Sent to device", zap.Int("bytes", n), zap.ByteString("data", data))
	return protocol.NewUartResponse(u.name, data, n, types.StatusOk)
}

// txData returns a copy of what the device sent and nobody read back yet.
func (u *uart) txData() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.buffer...)
}

func (u *uart) clear() {
	u.mu.Lock()
	u.buffer = nil
	u.mu.Unlock()
}

func (u *uart) attach(sink io.Writer) {
	u.mu.Lock()
	u.sink = sink
	u.mu.Unlock()
}

func (u *uart) snapshot() UartSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UartSnapshot{
		Name:     u.name,
		BaudRate: u.baudRate,
		Buffered: len(u.buffer),
		Bridged:  u.sink != nil,
	}
}
