package mcu

type DataBits uint8

const (
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
	DataBits9 DataBits = 9
)

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

type StopBits uint8

const (
	StopBits1 StopBits = iota
	StopBits2
)

type FlowControl uint8

const (
	FlowControlNone FlowControl = iota
	FlowControlRtsCts
	FlowControlXonXoff
)

type UartConfig struct {
	BaudRate    uint32
	DataBits    DataBits
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl
}

// DefaultUartConfig is 115200 8N1 without flow control.
func DefaultUartConfig() UartConfig {
	return UartConfig{
		BaudRate:    115200,
		DataBits:    DataBits8,
		Parity:      ParityNone,
		StopBits:    StopBits1,
		FlowControl: FlowControlNone,
	}
}

// Uart is a serial port. Init must succeed before any other call.
type Uart interface {
	Init(config UartConfig) error

	// Send blocks until data has been handed to the line.
	Send(data []byte) error

	// ReceiveData blocks for at most timeoutMs (0 waits for the
	// implementation default) and returns the number of bytes copied into
	// buffer.
	ReceiveData(buffer []byte, timeoutMs uint32) (int, error)

	SendAsync(data []byte, callback func(error)) error
	ReceiveAsync(buffer []byte, callback func(int, error)) error

	IsBusy() bool
	Available() int
	Flush() error

	// SetRxHandler registers a callback for data arriving without a
	// pending receive.
	SetRxHandler(handler func(data []byte)) error
}
