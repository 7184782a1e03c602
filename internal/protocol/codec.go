package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/HostEmu/internal/types"
)

// UnhandledMarker is sent in place of a reply when no peripheral claims an
// inbound message. It is the bare name of types.StatusUnhandled.
var UnhandledMarker = []byte(types.StatusUnhandled)

// Encode serializes m. A message without a name is rejected, as Decode
// would reject it on the other side.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w: %v", m.Kind(), types.StatusInvalidArgument, err)
	}
	h, err := Peek(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	if h.Name == "" {
		return nil, fmt.Errorf("encode %s: empty name: %w", m.Kind(), types.StatusInvalidArgument)
	}
	return data, nil
}

// Decode parses data as a message of type T. Anything that is not a
// complete, well-formed message of that kind fails with
// StatusInvalidArgument.
func Decode[T Message](data []byte) (T, error) {
	var m T

	v, err := validator()
	if err != nil {
		return m, fmt.Errorf("decode %s: %w: %v", m.Kind(), types.StatusUnknown, err)
	}
	if err := v.Validate(m.Kind(), data); err != nil {
		return m, fmt.Errorf("decode %s: %w: %v", m.Kind(), types.StatusInvalidArgument, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode %s: %w: %v", m.Kind(), types.StatusInvalidArgument, err)
	}

	return m, nil
}

// DecodeReply is Decode for replies read off a channel. A peer that could
// not handle a request answers with a bare status name instead of a
// message, e.g. the Unhandled marker; that status is returned as the error.
func DecodeReply[T Message](data []byte) (T, error) {
	if s, ok := StatusReply(data); ok {
		var m T
		return m, fmt.Errorf("reply to %s: %w", m.Kind(), s)
	}
	return Decode[T](data)
}

// StatusReply reports whether data is a bare status name.
func StatusReply(data []byte) (types.Status, bool) {
	if IsJSON(data) {
		return "", false
	}
	s, err := types.ParseStatus(string(bytes.TrimSpace(data)))
	if err != nil || s == types.StatusOk {
		return "", false
	}
	return s, true
}

// Answers reports whether reply can be the reply to req: a Response about
// the same object and name, or a bare status name. A req that is not a
// protocol request is answered by anything, and a reply that cannot be
// peeked is left for the decoder to reject.
func Answers(req, reply []byte) bool {
	rh, err := Peek(req)
	if err != nil || rh.Type != TypeRequest {
		return true
	}
	if _, ok := StatusReply(reply); ok {
		return true
	}
	h, err := Peek(reply)
	if err != nil {
		return true
	}
	return h.Type == TypeResponse && h.Object == rh.Object && h.Name == rh.Name
}

// Peek decodes only the routing header of data.
func Peek(data []byte) (Header, error) {
	var h Header
	if !IsJSON(data) {
		return h, fmt.Errorf("peek: not a JSON object: %w", types.StatusInvalidArgument)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("peek: %w: %v", types.StatusInvalidArgument, err)
	}
	if _, ok := h.Kind(); !ok {
		return h, fmt.Errorf("peek: type %q object %q: %w", h.Type, h.Object, types.StatusInvalidArgument)
	}
	return h, nil
}

// IsJSON reports whether data looks like a JSON object.
func IsJSON(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) >= 2 && data[0] == '{' && data[len(data)-1] == '}'
}

func IsUnhandled(data []byte) bool {
	return bytes.Equal(data, UnhandledMarker)
}

// IsObject returns a predicate accepting messages about peripherals of kind
// object.
func IsObject(object ObjectType) func([]byte) bool {
	return func(data []byte) bool {
		h, err := Peek(data)
		return err == nil && h.Object == object
	}
}

// Addressed returns a predicate accepting messages for the named
// peripheral of kind object.
func Addressed(object ObjectType, name string) func([]byte) bool {
	return func(data []byte) bool {
		h, err := Peek(data)
		return err == nil && h.Object == object && h.Name == name
	}
}
