package types

// BoardProfileDefinition describes the peripherals a host board exposes.
// Both the device process and the emulator build their peripheral sets
// from the same profile so that names line up on the wire.
type BoardProfileDefinition struct {
	Board BoardInfo        `json:"board" yaml:"board"`
	Pins  []PinDefinition  `json:"pins" yaml:"pins"`
	Uarts []UartDefinition `json:"uarts,omitempty" yaml:"uarts,omitempty"`
	I2C   []I2CDefinition  `json:"i2c,omitempty" yaml:"i2c,omitempty"`
}

type BoardInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type PinDefinition struct {
	Name         string       `json:"name" yaml:"name"`
	Direction    PinDirection `json:"direction" yaml:"direction"`
	InitialState string       `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
}

type PinDirection string

const (
	PinDirectionInput  PinDirection = "input"
	PinDirectionOutput PinDirection = "output"
)

type UartDefinition struct {
	Name     string `json:"name" yaml:"name"`
	BaudRate uint32 `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
}

type I2CDefinition struct {
	Name    string                `json:"name" yaml:"name"`
	Devices []I2CDeviceDefinition `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// I2CDeviceDefinition preloads the emulator's buffer for one bus address.
// Data holds byte values; it is not []byte so that JSON keeps it an array.
type I2CDeviceDefinition struct {
	Address uint16 `json:"address" yaml:"address"`
	Data    []int  `json:"data,omitempty" yaml:"data,omitempty"`
}

// Bytes returns Data truncated to bytes.
func (d I2CDeviceDefinition) Bytes() []byte {
	out := make([]byte, len(d.Data))
	for i, v := range d.Data {
		out[i] = byte(v)
	}
	return out
}

// PeripheralCount returns the number of named peripherals in the profile.
func (p *BoardProfileDefinition) PeripheralCount() int {
	return len(p.Pins) + len(p.Uarts) + len(p.I2C)
}
