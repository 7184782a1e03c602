package board

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/HostEmu/internal/emulator"
	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/transport"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBuildsPeripherals(t *testing.T) {
	b, err := New(DefaultProfile(), nil)
	require.NoError(t, err)

	for i := 0; i < DefaultProfile().PeripheralCount(); i++ {
		_, ok := b.Receiver(i)
		assert.True(t, ok, "receiver %d", i)
	}
	_, ok := b.Receiver(DefaultProfile().PeripheralCount())
	assert.False(t, ok)
	_, ok = b.Receiver(-1)
	assert.False(t, ok)

	led, err := b.Pin("LED 1")
	require.NoError(t, err)
	assert.Equal(t, mcu.PinOutput, led.Direction())

	button, err := b.Pin("Button 1")
	require.NoError(t, err)
	assert.Equal(t, mcu.PinInput, button.Direction())

	_, err = b.Uart("UART 1")
	assert.NoError(t, err)
	_, err = b.I2C("I2C 1")
	assert.NoError(t, err)

	_, err = b.Pin("LED 9")
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
	_, err = b.Uart("UART 9")
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
	_, err = b.I2C("I2C 9")
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
}

func TestNewRejectsBadProfiles(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, types.StatusInvalidArgument)

	dup := DefaultProfile()
	dup.Uarts = append(dup.Uarts, types.UartDefinition{Name: "UART 1"})
	_, err = New(dup, nil)
	assert.ErrorIs(t, err, types.StatusInvalidArgument)

	bad := DefaultProfile()
	bad.Pins[0].Direction = "sideways"
	_, err = New(bad, nil)
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
}

func TestDispatcherRoutesPushesByName(t *testing.T) {
	b, err := New(DefaultProfile(), nil)
	require.NoError(t, err)

	button, err := b.Pin("Button 1")
	require.NoError(t, err)
	fired := 0
	require.NoError(t, button.SetInterruptHandler(func() { fired++ }, mcu.PinRising))

	msg, err := protocol.Encode(protocol.NewPinRequest("Button 1", protocol.OperationSet, mcu.PinHigh))
	require.NoError(t, err)

	reply, err := b.Dispatcher().Dispatch(msg)
	require.NoError(t, err)
	resp, err := protocol.Decode[protocol.PinResponse](reply)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOk, resp.Status)
	assert.Equal(t, 1, fired)

	led, err := b.Pin("LED 1")
	require.NoError(t, err)
	assert.Equal(t, mcu.PinHighZ, led.State())
	assert.Equal(t, mcu.PinHigh, button.State())
}

func TestDispatcherUnknownPeripheral(t *testing.T) {
	b, err := New(DefaultProfile(), nil)
	require.NoError(t, err)

	for _, m := range []protocol.Message{
		protocol.NewPinRequest("LED 9", protocol.OperationSet, mcu.PinHigh),
		protocol.NewUartRequest("UART 2", protocol.OperationReceive, []byte{1}, 1, 0),
		protocol.NewI2CRequest("I2C 1", protocol.OperationReceive, 0x20, nil, 1),
	} {
		msg, err := protocol.Encode(m)
		require.NoError(t, err)

		_, err = b.Dispatcher().Dispatch(msg)
		assert.ErrorIs(t, err, types.StatusUnhandled, "%s", msg)
	}
}

func TestPeripheralsNeedConnection(t *testing.T) {
	b, err := New(DefaultProfile(), nil)
	require.NoError(t, err)

	led, err := b.Pin("LED 1")
	require.NoError(t, err)
	assert.ErrorIs(t, led.SetHigh(), types.StatusInvalidState)

	uart, err := b.Uart("UART 1")
	require.NoError(t, err)
	require.NoError(t, uart.Init(mcu.DefaultUartConfig()))
	assert.ErrorIs(t, uart.SendAsync([]byte("x"), func(error) {}), types.StatusInvalidState)
	assert.False(t, uart.IsBusy())

	assert.Nil(t, b.Transport())
	assert.NoError(t, b.Close())
}

// emulatorLink answers device requests in process.
type emulatorLink struct {
	emu *emulator.Emulator
}

func (l emulatorLink) Exchange(req []byte) ([]byte, error) {
	return l.emu.Dispatch(req)
}

func (l emulatorLink) Post(req []byte, expire func()) error {
	_, err := l.emu.Dispatch(req)
	return err
}

func TestAttachLink(t *testing.T) {
	b, err := New(DefaultProfile(), nil)
	require.NoError(t, err)
	emu, err := emulator.New(DefaultProfile(), emulator.Config{})
	require.NoError(t, err)

	b.Attach(emulatorLink{emu})

	led, err := b.Pin("LED 2")
	require.NoError(t, err)
	require.NoError(t, led.SetHigh())

	state, ok := emu.PinState("LED 2")
	require.True(t, ok)
	assert.Equal(t, mcu.PinHigh, state)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, led.SetLow(), types.StatusInvalidState)
}

func testTransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 500 * time.Millisecond
	cfg.RecvTimeout = 500 * time.Millisecond
	cfg.Logger = zap.NewNop()
	return cfg
}

// connect runs a board and an emulator against each other over unix
// sockets.
func connect(t *testing.T) (*Board, *emulator.Emulator) {
	t.Helper()

	dir, err := os.MkdirTemp("", "hostemu")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	fromDevice := "ipc://" + filepath.Join(dir, "from.sock")
	toDevice := "ipc://" + filepath.Join(dir, "to.sock")

	emu, err := emulator.New(DefaultProfile(), emulator.Config{
		FromDevice: fromDevice,
		ToDevice:   toDevice,
		Transport:  testTransportConfig(),
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- emu.Connect(context.Background()) }()

	b, err := New(DefaultProfile(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background(), fromDevice, toDevice, testTransportConfig()))
	require.NoError(t, <-errCh)

	t.Cleanup(func() {
		b.Close()
		emu.Close()
	})
	return b, emu
}

func TestBoardAgainstEmulator(t *testing.T) {
	b, emu := connect(t)
	require.NotNil(t, b.Transport())
	assert.True(t, emu.Connected())

	t.Run("pin set reaches emulator", func(t *testing.T) {
		led, err := b.Pin("LED 1")
		require.NoError(t, err)

		wait := emu.Events().Expect(emulator.Operation(protocol.ObjectPin, "LED 1", protocol.OperationSet))
		require.NoError(t, led.SetHigh())

		state, _ := emu.PinState("LED 1")
		assert.Equal(t, mcu.PinHigh, state)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		event, err := wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, emulator.SourceDevice, event.Source)
		assert.Equal(t, types.StatusOk, event.Status)
	})

	t.Run("button press fires interrupt", func(t *testing.T) {
		button, err := b.Pin("Button 1")
		require.NoError(t, err)

		var fired atomic.Int32
		require.NoError(t, button.SetInterruptHandler(func() { fired.Add(1) }, mcu.PinRising))

		resp, err := emu.SetState("Button 1", mcu.PinHigh)
		require.NoError(t, err)
		assert.Equal(t, types.StatusOk, resp.Status)
		assert.Equal(t, int32(1), fired.Load())

		_, err = emu.SetState("Button 1", mcu.PinLow)
		require.NoError(t, err)
		assert.Equal(t, int32(1), fired.Load())

		state, err := emu.QueryState("Button 1")
		require.NoError(t, err)
		assert.Equal(t, mcu.PinLow, state)
	})

	t.Run("uart echo", func(t *testing.T) {
		uart, err := b.Uart("UART 1")
		require.NoError(t, err)
		require.NoError(t, uart.Init(mcu.DefaultUartConfig()))

		require.NoError(t, uart.Send([]byte("hello")))
		buf := make([]byte, 16)
		n, err := uart.ReceiveData(buf, 100)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))

		done := make(chan error, 1)
		require.NoError(t, uart.SendAsync([]byte("async"), func(err error) { done <- err }))
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("send callback not called")
		}
		assert.Eventually(t, func() bool { return !uart.IsBusy() }, time.Second, 10*time.Millisecond)

		tx, err := emu.TxData("UART 1")
		require.NoError(t, err)
		assert.Equal(t, "async", string(tx))
		require.NoError(t, emu.ClearTx("UART 1"))

		received := make(chan []byte, 1)
		require.NoError(t, uart.SetRxHandler(func(data []byte) { received <- data }))
		ack, err := emu.SendToDevice("UART 1", []byte("ping"))
		require.NoError(t, err)
		assert.Equal(t, 4, ack.BytesTransferred)
		assert.Equal(t, []byte("ping"), <-received)
	})

	t.Run("i2c round trip", func(t *testing.T) {
		bus, err := b.I2C("I2C 1")
		require.NoError(t, err)

		data := []byte{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
		require.NoError(t, bus.SendData(0x70, data))

		buf := make([]byte, 5)
		n, err := bus.ReceiveData(0x70, buf)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, data[:5], buf)

		n, err = bus.ReceiveData(0x60, buf)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	stats := b.Transport().Stats()
	assert.NotZero(t, stats.Sent)
	assert.NotZero(t, stats.Dispatched)
	assert.Zero(t, emu.Counters().Unhandled)
}
