package host

import (
	"fmt"
	"sync"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"go.uber.org/zap"
)

// Pin is a GPIO pin whose level lives in the emulator.
type Pin struct {
	name   string
	link   Link
	logger *zap.Logger

	mu         sync.Mutex
	direction  mcu.PinDirection
	state      mcu.PinState
	transition mcu.PinTransition
	handler    func()
}

var _ mcu.BidirectionalPin = (*Pin)(nil)

// NewPin returns an output pin in the high-impedance state.
func NewPin(name string, link Link, logger *zap.Logger) *Pin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pin{
		name:       name,
		link:       link,
		logger:     logger.With(zap.String("pin", name)),
		direction:  mcu.PinOutput,
		state:      mcu.PinHighZ,
		transition: mcu.PinBoth,
	}
}

func (p *Pin) Name() string {
	return p.name
}

func (p *Pin) Direction() mcu.PinDirection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.direction
}

// State returns the last level seen locally, without asking the emulator.
func (p *Pin) State() mcu.PinState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Configure only changes the local direction.
func (p *Pin) Configure(direction mcu.PinDirection) error {
	p.mu.Lock()
	p.direction = direction
	p.mu.Unlock()
	return nil
}

func (p *Pin) SetHigh() error {
	return p.set(mcu.PinHigh)
}

func (p *Pin) SetLow() error {
	return p.set(mcu.PinLow)
}

func (p *Pin) set(state mcu.PinState) error {
	if p.Direction() == mcu.PinInput {
		return fmt.Errorf("pin %s: set on input: %w", p.name, types.StatusInvalidOperation)
	}

	resp, err := exchange[protocol.PinResponse](p.link, protocol.NewPinRequest(p.name, protocol.OperationSet, state))
	if err != nil {
		return fmt.Errorf("pin %s: %w", p.name, err)
	}
	if err := resp.Status.Err(); err != nil {
		return fmt.Errorf("pin %s: set %s: %w", p.name, state, err)
	}

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return nil
}

// Get asks the emulator for the current level.
func (p *Pin) Get() (mcu.PinState, error) {
	resp, err := exchange[protocol.PinResponse](p.link, protocol.NewPinRequest(p.name, protocol.OperationGet, p.State()))
	if err != nil {
		return mcu.PinHighZ, fmt.Errorf("pin %s: %w", p.name, err)
	}
	if err := resp.Status.Err(); err != nil {
		return mcu.PinHighZ, fmt.Errorf("pin %s: get: %w", p.name, err)
	}

	p.mu.Lock()
	p.state = resp.State
	p.mu.Unlock()
	return resp.State, nil
}

// SetInterruptHandler replaces the handler and the edges it fires on.
// A nil handler disables the interrupt.
func (p *Pin) SetInterruptHandler(handler func(), transition mcu.PinTransition) error {
	p.mu.Lock()
	p.handler = handler
	p.transition = transition
	p.mu.Unlock()
	return nil
}

// Receive handles a level the emulator pushes. The interrupt handler runs
// on the calling goroutine before the reply is returned.
func (p *Pin) Receive(msg []byte) ([]byte, error) {
	h, ok := addressed(msg, protocol.ObjectPin, p.name)
	if !ok {
		return nil, types.StatusUnhandled
	}
	if h.Type != protocol.TypeRequest {
		return nil, fmt.Errorf("pin %s: unexpected %s: %w", p.name, h.Type, types.StatusInvalidOperation)
	}

	req, err := protocol.Decode[protocol.PinRequest](msg)
	if err != nil {
		return nil, err
	}

	switch req.Operation {
	case protocol.OperationSet:
		p.mu.Lock()
		prev := p.state
		p.state = req.State
		var fire func()
		if p.handler != nil && p.transition.Matches(prev, req.State) {
			fire = p.handler
		}
		p.mu.Unlock()

		p.logger.Debug("Pin level pushed",
			zap.Stringer("from", prev),
			zap.Stringer("to", req.State),
			zap.Bool("interrupt", fire != nil))
		if fire != nil {
			fire()
		}
		return protocol.Encode(protocol.NewPinResponse(p.name, req.State, types.StatusOk))

	case protocol.OperationGet:
		return protocol.Encode(protocol.NewPinResponse(p.name, p.State(), types.StatusOk))

	default:
		return nil, fmt.Errorf("pin %s: operation %s: %w", p.name, req.Operation, types.StatusInvalidOperation)
	}
}
