package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/KevinKickass/HostEmu/internal/types"
)

// Bytes is a byte payload encoded as a JSON array of integers rather than
// base64, e.g. [104,105]. A nil payload encodes as [] and [] decodes to nil,
// so an empty non-nil Bytes does not survive a round trip. The New*
// constructors store empty payloads as nil.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("byte array: %w", types.StatusInvalidArgument)
	}
	if len(values) == 0 {
		*b = nil
		return nil
	}
	out := make(Bytes, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte array element %d out of range: %w", v, types.StatusInvalidArgument)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

func bytesOf(data []byte) Bytes {
	if len(data) == 0 {
		return nil
	}
	return Bytes(data)
}
