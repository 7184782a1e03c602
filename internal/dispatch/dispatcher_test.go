package dispatch

import (
	"bytes"
	"testing"

	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name  string
	reply []byte
	err   error
	calls int
}

func (r *recorder) Receive(msg []byte) ([]byte, error) {
	r.calls++
	return r.reply, r.err
}

func equals(s string) Predicate {
	return func(msg []byte) bool { return bytes.Equal(msg, []byte(s)) }
}

func TestDispatchRoutesToFirstMatch(t *testing.T) {
	r1 := &recorder{name: "R1", reply: []byte("from R1")}
	r2 := &recorder{name: "R2", reply: []byte("from R2")}
	d := New(ReceiverMap{
		{Match: equals("Hello"), Index: 0},
		{Match: equals("World"), Index: 1},
	}, Receivers{r1, r2})

	reply, err := d.Dispatch([]byte("Hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from R1"), reply)
	assert.Equal(t, 1, r1.calls)
	assert.Equal(t, 0, r2.calls)

	reply, err = d.Dispatch([]byte("World"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from R2"), reply)
	assert.Equal(t, 1, r1.calls)
	assert.Equal(t, 1, r2.calls)

	_, err = d.Dispatch([]byte("Goodbye"))
	assert.ErrorIs(t, err, types.StatusUnhandled)
	assert.Equal(t, 1, r1.calls)
	assert.Equal(t, 1, r2.calls)
}

func TestDispatchDoesNotFallThroughWhenReceiverDeclines(t *testing.T) {
	declining := &recorder{err: types.StatusUnhandled}
	fallback := &recorder{reply: []byte("fallback")}
	d := New(ReceiverMap{
		{Match: equals("Hello"), Index: 0},
		{Match: equals("Hello"), Index: 1},
	}, Receivers{declining, fallback})

	_, err := d.Dispatch([]byte("Hello"))
	assert.ErrorIs(t, err, types.StatusUnhandled)
	assert.Equal(t, 1, declining.calls)
	assert.Equal(t, 0, fallback.calls)
}

func TestDispatchConsumedWithoutReply(t *testing.T) {
	r := &recorder{}
	d := New(ReceiverMap{{Match: equals("ack"), Index: 0}}, Receivers{r})

	reply, err := d.Dispatch([]byte("ack"))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestDispatchUnresolvedIndex(t *testing.T) {
	d := New(ReceiverMap{{Match: equals("Hello"), Index: 3}}, Receivers{})

	_, err := d.Dispatch([]byte("Hello"))
	assert.ErrorIs(t, err, types.StatusInvalidState)
}

func TestNewCopiesRoutes(t *testing.T) {
	r := &recorder{reply: []byte("ok")}
	routes := ReceiverMap{{Match: equals("Hello"), Index: 0}}
	d := New(routes, Receivers{r})
	routes[0].Match = equals("Other")

	reply, err := d.Dispatch([]byte("Hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), reply)
	assert.Equal(t, 1, d.Len())
}

func TestReceiverFunc(t *testing.T) {
	d := New(ReceiverMap{{Match: func([]byte) bool { return true }, Index: 0}},
		Receivers{ReceiverFunc(func(msg []byte) ([]byte, error) {
			return append([]byte("echo:"), msg...), nil
		})})

	reply, err := d.Dispatch([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:x"), reply)
}
