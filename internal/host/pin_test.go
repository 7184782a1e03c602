package host

import (
	"errors"
	"testing"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPin(t *testing.T, name string) (*Pin, *loopback) {
	t.Helper()
	l := newLoopback(t)
	p := NewPin(name, l, nil)
	l.device = p
	return p, l
}

func TestPinSetAndGet(t *testing.T) {
	p, l := newTestPin(t, "LED 1")
	assert.Equal(t, mcu.PinOutput, p.Direction())
	assert.Equal(t, mcu.PinHighZ, p.State())

	require.NoError(t, p.SetHigh())
	state, ok := l.emu.PinState("LED 1")
	require.True(t, ok)
	assert.Equal(t, mcu.PinHigh, state)
	assert.Equal(t, mcu.PinHigh, p.State())

	require.NoError(t, p.SetLow())
	got, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, mcu.PinLow, got)
}

func TestPinGetRefreshesCachedState(t *testing.T) {
	p, l := newTestPin(t, "Button 1")
	require.NoError(t, p.Configure(mcu.PinInput))

	// the level changes but the push cannot reach the device
	l.emu.Attach(nil)
	_, err := l.emu.SetState("Button 1", mcu.PinHigh)
	require.ErrorIs(t, err, types.StatusInvalidState)
	assert.Equal(t, mcu.PinHighZ, p.State())

	got, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, mcu.PinHigh, got)
	assert.Equal(t, mcu.PinHigh, p.State())
}

func TestPinSetOnInputFails(t *testing.T) {
	p, l := newTestPin(t, "Button 1")
	require.NoError(t, p.Configure(mcu.PinInput))

	err := p.SetHigh()
	assert.ErrorIs(t, err, types.StatusInvalidOperation)
	assert.Zero(t, l.count(), "no request may reach the emulator")
}

func TestPinUnknownToEmulator(t *testing.T) {
	p, _ := newTestPin(t, "LED 9")

	err := p.SetHigh()
	assert.ErrorIs(t, err, types.StatusUnhandled)
	assert.Equal(t, mcu.PinHighZ, p.State())
}

func TestPinLinkFailure(t *testing.T) {
	p := NewPin("LED 1", failingLink{err: types.StatusTimeout}, nil)

	assert.ErrorIs(t, p.SetHigh(), types.StatusTimeout)
	_, err := p.Get()
	assert.ErrorIs(t, err, types.StatusTimeout)
}

func TestPinRisingInterruptFiresOnce(t *testing.T) {
	p, l := newTestPin(t, "LED 1")

	fired := 0
	require.NoError(t, p.SetInterruptHandler(func() { fired++ }, mcu.PinRising))

	_, err := l.emu.SetState("LED 1", mcu.PinLow)
	require.NoError(t, err)
	assert.Zero(t, fired)

	_, err = l.emu.SetState("LED 1", mcu.PinHigh)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// same level again is not an edge
	_, err = l.emu.SetState("LED 1", mcu.PinHigh)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, mcu.PinHigh, p.State())
}

func TestPinInterruptTransitions(t *testing.T) {
	tests := []struct {
		name       string
		transition mcu.PinTransition
		levels     []mcu.PinState
		want       int
	}{
		{"falling", mcu.PinFalling, []mcu.PinState{mcu.PinHigh, mcu.PinLow, mcu.PinHigh}, 1},
		{"both", mcu.PinBoth, []mcu.PinState{mcu.PinHigh, mcu.PinLow, mcu.PinHigh}, 3},
		{"rising from high-z", mcu.PinRising, []mcu.PinState{mcu.PinHigh}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, l := newTestPin(t, "Button 1")
			require.NoError(t, p.Configure(mcu.PinInput))

			fired := 0
			require.NoError(t, p.SetInterruptHandler(func() { fired++ }, tt.transition))
			for _, level := range tt.levels {
				_, err := l.emu.SetState("Button 1", level)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, fired)
		})
	}
}

func TestPinInterruptDisabled(t *testing.T) {
	p, l := newTestPin(t, "LED 1")
	require.NoError(t, p.SetInterruptHandler(nil, mcu.PinBoth))

	resp, err := l.emu.SetState("LED 1", mcu.PinHigh)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOk, resp.Status)
}

func TestPinQueryFromEmulator(t *testing.T) {
	p, l := newTestPin(t, "LED 1")
	require.NoError(t, p.SetHigh())

	state, err := l.emu.QueryState("LED 1")
	require.NoError(t, err)
	assert.Equal(t, mcu.PinHigh, state)
}

func TestPinReceiveDeclinesOtherMessages(t *testing.T) {
	p, _ := newTestPin(t, "LED 1")

	tests := []struct {
		name string
		msg  protocol.Message
	}{
		{"other pin", protocol.NewPinRequest("LED 2", protocol.OperationSet, mcu.PinHigh)},
		{"uart with same name", protocol.NewUartRequest("LED 1", protocol.OperationReceive, []byte{1}, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.Encode(tt.msg)
			require.NoError(t, err)

			_, err = p.Receive(data)
			assert.True(t, errors.Is(err, types.StatusUnhandled))
		})
	}

	_, err := p.Receive([]byte("not json"))
	assert.ErrorIs(t, err, types.StatusUnhandled)
}

func TestPinReceiveRejectsResponse(t *testing.T) {
	p, _ := newTestPin(t, "LED 1")

	data, err := protocol.Encode(protocol.NewPinResponse("LED 1", mcu.PinHigh, types.StatusOk))
	require.NoError(t, err)

	_, err = p.Receive(data)
	assert.ErrorIs(t, err, types.StatusInvalidOperation)
	assert.Equal(t, mcu.PinHighZ, p.State())
}

// replyLink answers every request with the same reply.
type replyLink struct {
	reply []byte
}

func (r replyLink) Exchange([]byte) ([]byte, error) { return r.reply, nil }

func (r replyLink) Post([]byte, func()) error { return nil }

func TestPinGetRejectsReplyForOtherPin(t *testing.T) {
	reply, err := protocol.Encode(protocol.NewPinResponse("LED 1", mcu.PinHigh, types.StatusOk))
	require.NoError(t, err)

	p := NewPin("LED 2", replyLink{reply}, nil)
	state, err := p.Get()
	assert.ErrorIs(t, err, types.StatusOperationFailed)
	assert.Equal(t, mcu.PinHighZ, state)
	assert.Equal(t, mcu.PinHighZ, p.State())
}
