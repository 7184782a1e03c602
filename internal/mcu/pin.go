// Package mcu defines the peripheral capabilities application code is
// written against. The same interfaces are satisfied by real drivers on
// a target and by the host emulation objects in package host.
package mcu

import (
	"fmt"

	"github.com/KevinKickass/HostEmu/internal/types"
)

type PinDirection int

const (
	PinInput PinDirection = iota
	PinOutput
)

func (d PinDirection) String() string {
	switch d {
	case PinInput:
		return "Input"
	case PinOutput:
		return "Output"
	default:
		return "Unknown"
	}
}

// ParsePinDirection accepts the profile spellings "input" and "output".
func ParsePinDirection(s types.PinDirection) (PinDirection, error) {
	switch s {
	case types.PinDirectionInput:
		return PinInput, nil
	case types.PinDirectionOutput:
		return PinOutput, nil
	default:
		return PinInput, fmt.Errorf("pin direction %q: %w", s, types.StatusInvalidArgument)
	}
}

type PinState int

const (
	PinLow PinState = iota
	PinHigh
	PinHighZ
)

// String returns the wire spelling of the state.
func (s PinState) String() string {
	switch s {
	case PinLow:
		return "Low"
	case PinHigh:
		return "High"
	case PinHighZ:
		return "Hi_Z"
	default:
		return fmt.Sprintf("PinState(%d)", int(s))
	}
}

func (s PinState) MarshalText() ([]byte, error) {
	switch s {
	case PinLow, PinHigh, PinHighZ:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("pin state %d: %w", int(s), types.StatusInvalidArgument)
}

func (s *PinState) UnmarshalText(text []byte) error {
	parsed, err := ParsePinState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParsePinState(name string) (PinState, error) {
	switch name {
	case "Low":
		return PinLow, nil
	case "High":
		return PinHigh, nil
	case "Hi_Z":
		return PinHighZ, nil
	default:
		return PinLow, fmt.Errorf("pin state %q: %w", name, types.StatusInvalidArgument)
	}
}

// PinTransition selects which edges invoke an interrupt handler.
type PinTransition int

const (
	PinRising PinTransition = iota
	PinFalling
	PinBoth
)

func (t PinTransition) String() string {
	switch t {
	case PinRising:
		return "Rising"
	case PinFalling:
		return "Falling"
	case PinBoth:
		return "Both"
	default:
		return "Unknown"
	}
}

// Matches reports whether moving from prev to next is an edge of kind t.
// A rising edge is any change into High, a falling edge any change into Low.
func (t PinTransition) Matches(prev, next PinState) bool {
	if prev == next {
		return false
	}
	switch t {
	case PinRising:
		return next == PinHigh
	case PinFalling:
		return next == PinLow
	case PinBoth:
		return true
	default:
		return false
	}
}

// InputPin is a pin whose level is driven from outside.
type InputPin interface {
	Get() (PinState, error)
	SetInterruptHandler(handler func(), transition PinTransition) error
}

// OutputPin is a pin the application drives.
type OutputPin interface {
	SetHigh() error
	SetLow() error
}

// BidirectionalPin can be switched between input and output at runtime.
type BidirectionalPin interface {
	InputPin
	OutputPin
	Configure(direction PinDirection) error
}
