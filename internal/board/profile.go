package board

import "github.com/KevinKickass/HostEmu/internal/types"

// DefaultProfile is the host board the demo applications are written
// for: two LEDs, a button, one UART and one I2C bus.
func DefaultProfile() *types.BoardProfileDefinition {
	return &types.BoardProfileDefinition{
		Board: types.BoardInfo{
			ID:          "host",
			Name:        "Host board",
			Version:     "1.0",
			Description: "Emulated development board",
		},
		Pins: []types.PinDefinition{
			{Name: "LED 1", Direction: types.PinDirectionOutput, InitialState: "Low", Description: "User LED 1"},
			{Name: "LED 2", Direction: types.PinDirectionOutput, InitialState: "Low", Description: "User LED 2"},
			{Name: "Button 1", Direction: types.PinDirectionInput, InitialState: "Low", Description: "User button 1"},
		},
		Uarts: []types.UartDefinition{
			{Name: "UART 1", BaudRate: 115200},
		},
		I2C: []types.I2CDefinition{
			{Name: "I2C 1"},
		},
	}
}
