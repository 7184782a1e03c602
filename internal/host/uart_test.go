package host

import (
	"testing"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUart(t *testing.T) (*Uart, *loopback) {
	t.Helper()
	l := newLoopback(t)
	u := NewUart("UART 1", l, nil)
	l.device = u
	require.NoError(t, u.Init(mcu.DefaultUartConfig()))
	return u, l
}

func TestUartRequiresInit(t *testing.T) {
	l := newLoopback(t)
	u := NewUart("UART 1", l, nil)

	assert.ErrorIs(t, u.Send([]byte("x")), types.StatusInvalidState)
	_, err := u.ReceiveData(make([]byte, 4), 0)
	assert.ErrorIs(t, err, types.StatusInvalidState)
	assert.ErrorIs(t, u.SendAsync([]byte("x"), func(error) {}), types.StatusInvalidState)
	assert.ErrorIs(t, u.Flush(), types.StatusInvalidState)
	assert.ErrorIs(t, u.SetRxHandler(func([]byte) {}), types.StatusInvalidState)
	assert.Zero(t, l.count())
}

func TestUartInitOnce(t *testing.T) {
	u, _ := newTestUart(t)

	cfg := mcu.DefaultUartConfig()
	cfg.BaudRate = 9600
	assert.ErrorIs(t, u.Init(cfg), types.StatusInvalidState)
	assert.Equal(t, uint32(115200), u.Config().BaudRate)
}

func TestUartSendThenReceive(t *testing.T) {
	u, l := newTestUart(t)

	require.NoError(t, u.Send([]byte("hello")))
	tx, err := l.emu.TxData("UART 1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), tx)

	buf := make([]byte, 3)
	n, err := u.ReceiveData(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("hel"), buf)

	buf = make([]byte, 8)
	n, err = u.ReceiveData(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("lo"), buf[:n])

	n, err = u.ReceiveData(buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUartSendAsyncCompletesOnce(t *testing.T) {
	u, l := newTestUart(t)

	calls := 0
	var got error
	require.NoError(t, u.SendAsync([]byte("abc"), func(err error) {
		calls++
		got = err
	}))
	assert.True(t, u.IsBusy())

	// one operation at a time, in either direction
	assert.ErrorIs(t, u.SendAsync([]byte("d"), func(error) {}), types.StatusInvalidOperation)
	assert.ErrorIs(t, u.ReceiveAsync(make([]byte, 1), func(int, error) {}), types.StatusInvalidOperation)
	assert.ErrorIs(t, u.Send([]byte("d")), types.StatusInvalidOperation)

	assert.Equal(t, 1, l.deliver())
	assert.Equal(t, 1, calls)
	assert.NoError(t, got)
	assert.False(t, u.IsBusy())

	assert.Zero(t, l.deliver())
	assert.Equal(t, 1, calls)

	tx, err := l.emu.TxData("UART 1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), tx)
}

func TestUartReceiveAsync(t *testing.T) {
	u, l := newTestUart(t)
	require.NoError(t, u.Send([]byte("ping")))

	buf := make([]byte, 16)
	var got int
	require.NoError(t, u.ReceiveAsync(buf, func(n int, err error) {
		require.NoError(t, err)
		got = n
	}))
	assert.True(t, u.IsBusy())

	l.deliver()
	assert.Equal(t, 4, got)
	assert.Equal(t, []byte("ping"), buf[:got])
	assert.False(t, u.IsBusy())
}

func TestUartAsyncFailureStatus(t *testing.T) {
	l := newLoopback(t)
	u := NewUart("UART 1", l, nil)
	l.device = u
	require.NoError(t, u.Init(mcu.DefaultUartConfig()))

	// the emulator buffer holds 4096 bytes by default
	var got error
	require.NoError(t, u.SendAsync(make([]byte, 5000), func(err error) { got = err }))
	l.deliver()
	assert.ErrorIs(t, got, types.StatusMessageTooLarge)
	assert.False(t, u.IsBusy())
}

func TestUartAsyncExpires(t *testing.T) {
	base := newLoopback(t)
	link := expiringLink{base}
	u := NewUart("UART 1", link, nil)
	base.device = u
	require.NoError(t, u.Init(mcu.DefaultUartConfig()))

	calls := 0
	var got error
	require.NoError(t, u.SendAsync([]byte("abc"), func(err error) {
		calls++
		got = err
	}))
	assert.True(t, u.IsBusy())

	base.deliver()
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, got, types.StatusTimeout)
	assert.False(t, u.IsBusy())

	// a reply arriving after the timeout completes nothing
	late, err := protocol.Encode(protocol.NewUartResponse("UART 1", nil, 3, types.StatusOk))
	require.NoError(t, err)
	_, err = u.Receive(late)
	assert.ErrorIs(t, err, types.StatusInvalidState)
	assert.Equal(t, 1, calls)
}

func TestUartStaleExpiryIgnored(t *testing.T) {
	base := newLoopback(t)
	u := NewUart("UART 1", base, nil)
	base.device = u
	require.NoError(t, u.Init(mcu.DefaultUartConfig()))

	calls := 0
	require.NoError(t, u.SendAsync([]byte("a"), func(error) { calls++ }))
	base.deliver()
	require.Equal(t, 1, calls)

	// an expiry left over from the finished operation must not fire the
	// next one
	u.expire(1)
	require.NoError(t, u.SendAsync([]byte("b"), func(error) { calls++ }))
	u.expire(1)
	assert.True(t, u.IsBusy())
	base.deliver()
	assert.Equal(t, 2, calls)
}

func TestUartPostFailureClearsBusy(t *testing.T) {
	u := NewUart("UART 1", failingLink{err: types.StatusConnectionClosed}, nil)
	require.NoError(t, u.Init(mcu.DefaultUartConfig()))

	err := u.SendAsync([]byte("x"), func(error) { t.Fatal("callback must not run") })
	assert.ErrorIs(t, err, types.StatusConnectionClosed)
	assert.False(t, u.IsBusy())
}

func TestUartRxHandler(t *testing.T) {
	u, l := newTestUart(t)

	var received [][]byte
	require.NoError(t, u.SetRxHandler(func(data []byte) {
		received = append(received, data)
	}))

	resp, err := l.emu.SendToDevice("UART 1", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusOk, resp.Status)
	assert.Equal(t, 2, resp.BytesTransferred)
	assert.Equal(t, [][]byte{[]byte("hi")}, received)

	// empty pushes are acknowledged without calling the handler
	_, err = l.emu.SendToDevice("UART 1", nil)
	require.NoError(t, err)
	assert.Len(t, received, 1)
}

func TestUartRejectsPushedSend(t *testing.T) {
	u, _ := newTestUart(t)

	data, err := protocol.Encode(protocol.NewUartRequest("UART 1", protocol.OperationSend, []byte("x"), 0, 0))
	require.NoError(t, err)

	_, err = u.Receive(data)
	assert.ErrorIs(t, err, types.StatusInvalidOperation)
}

func TestUartReceiveDeclinesOtherNames(t *testing.T) {
	u, _ := newTestUart(t)

	data, err := protocol.Encode(protocol.NewUartRequest("UART 2", protocol.OperationReceive, []byte("x"), 1, 0))
	require.NoError(t, err)

	_, err = u.Receive(data)
	assert.ErrorIs(t, err, types.StatusUnhandled)
}

func TestUartFlushAndAvailable(t *testing.T) {
	u, _ := newTestUart(t)
	assert.NoError(t, u.Flush())
	assert.Zero(t, u.Available())
}
