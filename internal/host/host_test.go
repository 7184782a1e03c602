package host

import (
	"errors"
	"sync"
	"testing"

	"github.com/KevinKickass/HostEmu/internal/dispatch"
	"github.com/KevinKickass/HostEmu/internal/emulator"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/require"
)

// loopback connects host peripherals straight to an emulator without a
// transport. Replies to posted requests are queued until deliver is
// called, so tests control when asynchronous operations complete.
type loopback struct {
	emu    *emulator.Emulator
	device dispatch.Receiver

	mu       sync.Mutex
	requests int
	pending  []func()
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	emu, err := emulator.New(&types.BoardProfileDefinition{
		Board: types.BoardInfo{ID: "test", Name: "Test"},
		Pins: []types.PinDefinition{
			{Name: "LED 1", Direction: types.PinDirectionOutput},
			{Name: "Button 1", Direction: types.PinDirectionInput},
		},
		Uarts: []types.UartDefinition{{Name: "UART 1"}},
		I2C:   []types.I2CDefinition{{Name: "I2C 1"}},
	}, emulator.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { emu.Close() })

	l := &loopback{emu: emu}
	emu.Attach(devicePeer{l})
	return l
}

// reply shapes a dispatch result the way the transport puts it on the
// wire.
func reply(data []byte, err error) []byte {
	switch {
	case err == nil:
		return data
	case errors.Is(err, types.StatusUnhandled):
		return protocol.UnhandledMarker
	default:
		return []byte(types.StatusOf(err))
	}
}

func (l *loopback) Exchange(req []byte) ([]byte, error) {
	l.mu.Lock()
	l.requests++
	l.mu.Unlock()
	return reply(l.emu.Dispatch(req)), nil
}

func (l *loopback) Post(req []byte, expire func()) error {
	data, _ := l.Exchange(req)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, func() {
		if _, err := l.device.Receive(data); err != nil {
			panic(err)
		}
	})
	return nil
}

// expiringLink loses every posted request's reply.
type expiringLink struct {
	*loopback
}

func (l expiringLink) Post(req []byte, expire func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, expire)
	return nil
}

func (l *loopback) deliver() int {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, f := range pending {
		f()
	}
	return len(pending)
}

func (l *loopback) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests
}

// devicePeer hands emulator pushes to the device-side receiver.
type devicePeer struct {
	l *loopback
}

func (p devicePeer) Exchange(req []byte) ([]byte, error) {
	return reply(p.l.device.Receive(req)), nil
}

// failingLink fails every request.
type failingLink struct {
	err error
}

func (f failingLink) Exchange([]byte) ([]byte, error) { return nil, f.err }

func (f failingLink) Post([]byte, func()) error { return f.err }
