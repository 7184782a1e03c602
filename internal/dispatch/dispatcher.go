// Package dispatch routes inbound messages to the peripheral that owns them.
package dispatch

import (
	"fmt"

	"github.com/KevinKickass/HostEmu/internal/types"
)

// Receiver accepts an inbound message addressed to it. A nil reply with a
// nil error means the message was consumed and nothing is sent back. A
// receiver handed a message that is not its own returns
// types.StatusUnhandled without side effects.
type Receiver interface {
	Receive(msg []byte) ([]byte, error)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(msg []byte) ([]byte, error)

func (f ReceiverFunc) Receive(msg []byte) ([]byte, error) { return f(msg) }

// Predicate inspects a raw message.
type Predicate func(msg []byte) bool

// Resolver looks up a receiver by its index in the owner's collection.
type Resolver interface {
	Receiver(index int) (Receiver, bool)
}

// Receivers is the simplest Resolver: a slice indexed directly.
type Receivers []Receiver

func (r Receivers) Receiver(index int) (Receiver, bool) {
	if index < 0 || index >= len(r) {
		return nil, false
	}
	return r[index], r[index] != nil
}

// Route pairs a predicate with the index of the receiver it selects.
type Route struct {
	Match Predicate
	Index int
}

// ReceiverMap is checked in order; the first matching route wins.
type ReceiverMap []Route

type Dispatcher struct {
	routes ReceiverMap
	arena  Resolver
}

// New builds a dispatcher over a copy of routes. Receivers are resolved
// through arena on every dispatch, so the dispatcher never holds a
// peripheral directly.
func New(routes ReceiverMap, arena Resolver) *Dispatcher {
	return &Dispatcher{
		routes: append(ReceiverMap(nil), routes...),
		arena:  arena,
	}
}

// Dispatch hands msg to the receiver of the first matching route and
// returns its result as is. When that receiver declines, later routes are
// not tried. With no matching route the result is types.StatusUnhandled.
func (d *Dispatcher) Dispatch(msg []byte) ([]byte, error) {
	for _, route := range d.routes {
		if route.Match == nil || !route.Match(msg) {
			continue
		}
		receiver, ok := d.arena.Receiver(route.Index)
		if !ok {
			return nil, fmt.Errorf("route to receiver %d: %w", route.Index, types.StatusInvalidState)
		}
		return receiver.Receive(msg)
	}
	return nil, types.StatusUnhandled
}

// Len returns the number of routes.
func (d *Dispatcher) Len() int {
	return len(d.routes)
}
