package emulator

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// SerialConfig bridges an emulated UART to a real serial port.
type SerialConfig struct {
	Uart string `mapstructure:"uart" json:"uart"`
	Port string `mapstructure:"port" json:"port"`
	Baud int    `mapstructure:"baud" json:"baud"`
}

const (
	serialReadTimeout = 100 * time.Millisecond
	serialReadSize    = 256
)

// SerialBridge copies bytes the device sends on a UART to a serial port,
// and pushes bytes read from the port to the device.
type SerialBridge struct {
	uart   string
	port   io.ReadWriteCloser
	emu    *Emulator
	logger *zap.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// OpenBridges opens a bridge for every configured serial port.
func (e *Emulator) OpenBridges() error {
	for _, sc := range e.cfg.Serial {
		port, err := serial.OpenPort(&serial.Config{
			Name:        sc.Port,
			Baud:        sc.Baud,
			ReadTimeout: serialReadTimeout,
		})
		if err != nil {
			return fmt.Errorf("open serial port %s for %s: %w: %v", sc.Port, sc.Uart, types.StatusConnectionRefused, err)
		}
		if _, err := e.Bridge(sc.Uart, port); err != nil {
			port.Close()
			return err
		}
		e.logger.Info("Serial bridge opened",
			zap.String("uart", sc.Uart),
			zap.String("port", sc.Port),
			zap.Int("baud", sc.Baud))
	}
	return nil
}

// Bridge attaches port to the named UART. From then on data the device
// sends goes to port instead of the loopback buffer.
func (e *Emulator) Bridge(name string, port io.ReadWriteCloser) (*SerialBridge, error) {
	u, ok := e.uartByName[name]
	if !ok {
		return nil, fmt.Errorf("uart %q: %w", name, types.StatusInvalidArgument)
	}

	b := &SerialBridge{
		uart:   name,
		port:   port,
		emu:    e,
		logger: e.logger.With(zap.String("uart", name)),
		done:   make(chan struct{}),
	}
	u.attach(port)

	e.mu.Lock()
	e.bridges = append(e.bridges, b)
	e.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop()
	return b, nil
}

func (b *SerialBridge) readLoop() {
	defer b.wg.Done()

	buf := make([]byte, serialReadSize)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if _, err := b.emu.SendToDevice(b.uart, data); err != nil {
				b.logger.Warn("Failed to push serial input", zap.Int("bytes", n), zap.Error(err))
			}
		}

		select {
		case <-b.done:
			return
		default:
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// read timeout without data
			select {
			case <-b.done:
				return
			case <-time.After(serialReadTimeout):
			}
		default:
			b.logger.Error("Serial read failed", zap.Error(err))
			return
		}
	}
}

// Close detaches the port from the UART and closes it.
func (b *SerialBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		if u, ok := b.emu.uartByName[b.uart]; ok {
			u.attach(nil)
		}
		err = b.port.Close()
		b.wg.Wait()
	})
	return err
}
