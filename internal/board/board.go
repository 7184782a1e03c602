// Package board is the device-side composition root. A Board owns every
// host peripheral of a profile in one arena; the dispatcher routes inbound
// messages to them by index.
package board

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/HostEmu/internal/dispatch"
	"github.com/KevinKickass/HostEmu/internal/host"
	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/transport"
	"github.com/KevinKickass/HostEmu/internal/types"
	"go.uber.org/zap"
)

type Board struct {
	profile *types.BoardProfileDefinition
	logger  *zap.Logger

	// arena of every peripheral, in profile order: pins, uarts, buses
	peripherals []dispatch.Receiver
	pins        map[string]*host.Pin
	uarts       map[string]*host.Uart
	buses       map[string]*host.I2C

	dispatcher *dispatch.Dispatcher

	mu        sync.RWMutex
	link      host.Link
	transport *transport.Transport
}

// New creates the peripherals of profile. They can be used once the board
// is connected.
func New(profile *types.BoardProfileDefinition, logger *zap.Logger) (*Board, error) {
	if profile == nil {
		return nil, fmt.Errorf("nil board profile: %w", types.StatusInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Board{
		profile: profile,
		logger:  logger.With(zap.String("board", profile.Board.ID)),
		pins:    make(map[string]*host.Pin),
		uarts:   make(map[string]*host.Uart),
		buses:   make(map[string]*host.I2C),
	}

	var routes dispatch.ReceiverMap
	add := func(object protocol.ObjectType, name string, r dispatch.Receiver) {
		routes = append(routes, dispatch.Route{
			Match: protocol.Addressed(object, name),
			Index: len(b.peripherals),
		})
		b.peripherals = append(b.peripherals, r)
	}

	for _, def := range profile.Pins {
		if _, dup := b.pins[def.Name]; dup {
			return nil, fmt.Errorf("duplicate pin %q: %w", def.Name, types.StatusInvalidArgument)
		}
		direction, err := mcu.ParsePinDirection(def.Direction)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", def.Name, err)
		}
		p := host.NewPin(def.Name, b, logger)
		p.Configure(direction)
		b.pins[def.Name] = p
		add(protocol.ObjectPin, def.Name, p)
	}
	for _, def := range profile.Uarts {
		if _, dup := b.uarts[def.Name]; dup {
			return nil, fmt.Errorf("duplicate uart %q: %w", def.Name, types.StatusInvalidArgument)
		}
		u := host.NewUart(def.Name, b, logger)
		b.uarts[def.Name] = u
		add(protocol.ObjectUart, def.Name, u)
	}
	for _, def := range profile.I2C {
		if _, dup := b.buses[def.Name]; dup {
			return nil, fmt.Errorf("duplicate i2c bus %q: %w", def.Name, types.StatusInvalidArgument)
		}
		c := host.NewI2C(def.Name, b, logger)
		b.buses[def.Name] = c
		add(protocol.ObjectI2C, def.Name, c)
	}

	b.dispatcher = dispatch.New(routes, b)
	return b, nil
}

// Receiver resolves an arena index for the dispatcher.
func (b *Board) Receiver(index int) (dispatch.Receiver, bool) {
	if index < 0 || index >= len(b.peripherals) {
		return nil, false
	}
	return b.peripherals[index], true
}

// Dispatcher routes messages the emulator pushes to the peripheral they
// name.
func (b *Board) Dispatcher() *dispatch.Dispatcher {
	return b.dispatcher
}

// Connect creates the transport: from is bound for pushes, to is where
// requests go.
func (b *Board) Connect(ctx context.Context, to, from string, cfg transport.Config) error {
	if cfg.Logger == nil {
		cfg.Logger = b.logger
	}
	tr, err := transport.Create(ctx, to, from, b.dispatcher, cfg)
	if err != nil {
		return fmt.Errorf("connect board %s: %w", b.profile.Board.ID, err)
	}

	b.mu.Lock()
	b.transport = tr
	b.link = tr
	b.mu.Unlock()

	b.logger.Info("Board connected",
		zap.Int("pins", len(b.pins)),
		zap.Int("uarts", len(b.uarts)),
		zap.Int("i2c", len(b.buses)))
	return nil
}

// Attach routes peripheral requests through link instead of a transport.
func (b *Board) Attach(link host.Link) {
	b.mu.Lock()
	b.link = link
	b.mu.Unlock()
}

func (b *Board) Transport() *transport.Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transport
}

func (b *Board) Close() error {
	b.mu.Lock()
	tr := b.transport
	b.transport = nil
	b.link = nil
	b.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

func (b *Board) current() (host.Link, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.link == nil {
		return nil, fmt.Errorf("board %s not connected: %w", b.profile.Board.ID, types.StatusInvalidState)
	}
	return b.link, nil
}

// Exchange implements host.Link for the board's peripherals.
func (b *Board) Exchange(req []byte) ([]byte, error) {
	link, err := b.current()
	if err != nil {
		return nil, err
	}
	return link.Exchange(req)
}

func (b *Board) Post(req []byte, expire func()) error {
	link, err := b.current()
	if err != nil {
		return err
	}
	return link.Post(req, expire)
}

func (b *Board) Profile() *types.BoardProfileDefinition {
	return b.profile
}

func (b *Board) Pin(name string) (*host.Pin, error) {
	p, ok := b.pins[name]
	if !ok {
		return nil, fmt.Errorf("pin %q: %w", name, types.StatusInvalidArgument)
	}
	return p, nil
}

func (b *Board) Uart(name string) (*host.Uart, error) {
	u, ok := b.uarts[name]
	if !ok {
		return nil, fmt.Errorf("uart %q: %w", name, types.StatusInvalidArgument)
	}
	return u, nil
}

func (b *Board) I2C(name string) (*host.I2C, error) {
	c, ok := b.buses[name]
	if !ok {
		return nil, fmt.Errorf("i2c bus %q: %w", name, types.StatusInvalidArgument)
	}
	return c, nil
}
