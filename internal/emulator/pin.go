package emulator

import (
	"sync"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
)

// PinSnapshot is the emulated level of one pin.
type PinSnapshot struct {
	Name      string             `json:"name"`
	Direction types.PinDirection `json:"direction"`
	State     mcu.PinState       `json:"state"`
}

type pin struct {
	name      string
	direction types.PinDirection

	mu    sync.Mutex
	state mcu.PinState
}

func newPin(def types.PinDefinition) (*pin, error) {
	state := mcu.PinLow
	if def.InitialState != "" {
		s, err := mcu.ParsePinState(def.InitialState)
		if err != nil {
			return nil, err
		}
		state = s
	}
	if _, err := mcu.ParsePinDirection(def.Direction); err != nil {
		return nil, err
	}
	return &pin{name: def.Name, direction: def.Direction, state: state}, nil
}

// handle answers a device request. Get reports the level, Set stores it.
func (p *pin) handle(req protocol.PinRequest) protocol.PinResponse {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Operation {
	case protocol.OperationGet:
		return protocol.NewPinResponse(p.name, p.state, types.StatusOk)
	case protocol.OperationSet:
		p.state = req.State
		return protocol.NewPinResponse(p.name, p.state, types.StatusOk)
	default:
		return protocol.NewPinResponse(p.name, p.state, types.StatusInvalidOperation)
	}
}

func (p *pin) set(state mcu.PinState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *pin) snapshot() PinSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PinSnapshot{Name: p.name, Direction: p.direction, State: p.state}
}
