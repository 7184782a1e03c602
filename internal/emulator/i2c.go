package emulator

import (
	"sync"

	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"go.uber.org/zap"
)

// I2CDeviceSnapshot is the buffer held for one bus address.
type I2CDeviceSnapshot struct {
	Address uint16 `json:"address"`
	Data    []byte `json:"data"`
}

type BusSnapshot struct {
	Name    string              `json:"name"`
	Devices []I2CDeviceSnapshot `json:"devices"`
}

// bus keeps one buffer per device address, ordered by address. A Send
// replaces the buffer; a Receive reads from its start without consuming.
type bus struct {
	name   string
	limit  int
	logger *zap.Logger

	mu      sync.Mutex
	buffers *treemap.Map
}

func newBus(def types.I2CDefinition, limit int, logger *zap.Logger) *bus {
	b := &bus{
		name:    def.Name,
		limit:   limit,
		logger:  logger.With(zap.String("i2c", def.Name)),
		buffers: treemap.NewWith(utils.UInt16Comparator),
	}
	for _, dev := range def.Devices {
		b.buffers.Put(dev.Address, dev.Bytes())
	}
	return b
}

func (b *bus) handle(req protocol.I2CRequest) protocol.I2CResponse {
	switch req.Operation {
	case protocol.OperationSend:
		if len(req.Data) > b.limit {
			b.logger.Warn("I2C write too large", zap.Uint16("address", req.Address), zap.Int("bytes", len(req.Data)))
			return protocol.NewI2CResponse(b.name, req.Address, nil, types.StatusMessageTooLarge)
		}
		b.write(req.Address, req.Data)
		resp := protocol.NewI2CResponse(b.name, req.Address, nil, types.StatusOk)
		resp.BytesTransferred = len(req.Data)
		b.logger.Info("Wrote", zap.Uint16("address", req.Address), zap.Int("bytes", len(req.Data)))
		return resp

	case protocol.OperationReceive:
		data := b.read(req.Address)
		data = data[:min(max(req.Size, 0), len(data))]
		b.logger.Info("Read", zap.Uint16("address", req.Address), zap.Int("bytes", len(data)))
		return protocol.NewI2CResponse(b.name, req.Address, data, types.StatusOk)

	default:
		return protocol.NewI2CResponse(b.name, req.Address, nil, types.StatusInvalidOperation)
	}
}

func (b *bus) write(address uint16, data []byte) {
	b.mu.Lock()
	b.buffers.Put(address, append([]byte(nil), data...))
	b.mu.Unlock()
}

// read returns a copy of the buffer for address, nil when nothing was
// written there.
func (b *bus) read(address uint16) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.buffers.Get(address)
	if !ok {
		return nil
	}
	return append([]byte(nil), v.([]byte)...)
}

func (b *bus) snapshot() BusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	devices := make([]I2CDeviceSnapshot, 0, b.buffers.Size())
	b.buffers.Each(func(key, value interface{}) {
		devices = append(devices, I2CDeviceSnapshot{
			Address: key.(uint16),
			Data:    append([]byte(nil), value.([]byte)...),
		})
	})
	return BusSnapshot{Name: b.name, Devices: devices}
}
