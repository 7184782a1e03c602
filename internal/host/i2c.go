package host

import (
	"fmt"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"go.uber.org/zap"
)

// I2C is an I2C bus whose devices are emulated. It holds no buffer state:
// the per-address buffers live in the emulator, which answers reads of an
// address it never saw (0x60, say) with zero bytes.
type I2C struct {
	name   string
	link   Link
	logger *zap.Logger
}

var _ mcu.I2CController = (*I2C)(nil)

func NewI2C(name string, link Link, logger *zap.Logger) *I2C {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &I2C{
		name:   name,
		link:   link,
		logger: logger.With(zap.String("i2c", name)),
	}
}

func (c *I2C) Name() string {
	return c.name
}

func (c *I2C) SendData(address uint16, data []byte) error {
	resp, err := exchange[protocol.I2CResponse](c.link,
		protocol.NewI2CRequest(c.name, protocol.OperationSend, address, data, 0))
	if err != nil {
		return fmt.Errorf("i2c %s: %w", c.name, err)
	}
	if err := resp.Status.Err(); err != nil {
		return fmt.Errorf("i2c %s: send to 0x%02x: %w", c.name, address, err)
	}
	return nil
}

// ReceiveData copies at most len(buffer) bytes held for address into
// buffer. An address nothing was sent to yields 0 bytes.
func (c *I2C) ReceiveData(address uint16, buffer []byte) (int, error) {
	resp, err := exchange[protocol.I2CResponse](c.link,
		protocol.NewI2CRequest(c.name, protocol.OperationReceive, address, nil, len(buffer)))
	if err != nil {
		return 0, fmt.Errorf("i2c %s: %w", c.name, err)
	}
	if err := resp.Status.Err(); err != nil {
		return 0, fmt.Errorf("i2c %s: receive from 0x%02x: %w", c.name, address, err)
	}

	n := copy(buffer, resp.Data)
	c.logger.Debug("I2C receive",
		zap.Uint16("address", address),
		zap.Int("requested", len(buffer)),
		zap.Int("received", n))
	return n, nil
}

// The interrupt and DMA variants complete before returning.

func (c *I2C) SendDataInterrupt(address uint16, data []byte, callback func(error)) error {
	callback(c.SendData(address, data))
	return nil
}

func (c *I2C) ReceiveDataInterrupt(address uint16, buffer []byte, callback func(int, error)) error {
	callback(c.ReceiveData(address, buffer))
	return nil
}

func (c *I2C) SendDataDma(address uint16, data []byte, callback func(error)) error {
	callback(c.SendData(address, data))
	return nil
}

func (c *I2C) ReceiveDataDma(address uint16, buffer []byte, callback func(int, error)) error {
	callback(c.ReceiveData(address, buffer))
	return nil
}

// Receive declines everything: the emulator never pushes to a bus.
func (c *I2C) Receive(msg []byte) ([]byte, error) {
	return nil, types.StatusUnhandled
}
