// Package host provides peripherals that stand in for real hardware by
// talking to the peripheral emulator. Each one implements the matching
// mcu capability for application code and dispatch.Receiver for messages
// the emulator pushes.
package host

import (
	"fmt"

	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
)

// Link carries requests to the emulator. *transport.Transport implements
// it.
type Link interface {
	// Exchange sends req and returns the reply.
	Exchange(req []byte) ([]byte, error)

	// Post sends req without waiting. The reply is later dispatched to the
	// peripheral it names; expire is called instead when none arrives.
	Post(req []byte, expire func()) error
}

func exchange[T protocol.Message](link Link, req protocol.Message) (T, error) {
	var resp T

	data, err := protocol.Encode(req)
	if err != nil {
		return resp, err
	}
	reply, err := link.Exchange(data)
	if err != nil {
		return resp, fmt.Errorf("%s: %w", req.Kind(), err)
	}
	if !protocol.Answers(data, reply) {
		return resp, fmt.Errorf("%s: reply %s is for another peripheral: %w", req.Kind(), reply, types.StatusOperationFailed)
	}
	return protocol.DecodeReply[T](reply)
}

// addressed reports whether msg is about the peripheral of kind object
// called name.
func addressed(msg []byte, object protocol.ObjectType, name string) (protocol.Header, bool) {
	h, err := protocol.Peek(msg)
	if err != nil || h.Object != object || h.Name != name {
		return h, false
	}
	return h, true
}
