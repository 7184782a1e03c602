package mcu

// I2CController talks to devices on one I2C bus.
//
// The Interrupt and DMA variants report completion through callback. An
// implementation may invoke the callback before returning.
type I2CController interface {
	SendData(address uint16, data []byte) error

	// ReceiveData fills buffer with up to len(buffer) bytes read from
	// address and returns the number of bytes received.
	ReceiveData(address uint16, buffer []byte) (int, error)

	SendDataInterrupt(address uint16, data []byte, callback func(error)) error
	ReceiveDataInterrupt(address uint16, buffer []byte, callback func(int, error)) error

	SendDataDma(address uint16, data []byte, callback func(error)) error
	ReceiveDataDma(address uint16, buffer []byte, callback func(int, error)) error
}
