// Package emulator is the peer the device process talks to in place of
// hardware. It answers the device's requests for the pins, UARTs and I2C
// buses of a board profile and pushes external events (a button press,
// serial input) to the device.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/HostEmu/internal/dispatch"
	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/transport"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/google/uuid"
	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

const (
	// DefaultFromDevice is bound by the emulator; the device sends its
	// requests there.
	DefaultFromDevice = "ipc:///tmp/device_emulator.ipc"
	// DefaultToDevice is bound by the device; the emulator pushes there.
	DefaultToDevice = "ipc:///tmp/emulator_device.ipc"

	DefaultUartBufferSize = 4096
	DefaultI2CBufferSize  = 256
)

type Config struct {
	FromDevice     string
	ToDevice       string
	UartBufferSize int
	I2CBufferSize  int
	Serial         []SerialConfig
	Transport      transport.Config
	Logger         *zap.Logger
	Metrics        metrics.Registry
}

// Peer carries pushes to the device. *transport.Transport implements it.
type Peer interface {
	Exchange(req []byte) ([]byte, error)
}

// Counters are the emulator's request statistics.
type Counters struct {
	Requests  int64 `json:"requests"`
	Pushes    int64 `json:"pushes"`
	Unhandled int64 `json:"unhandled"`
	Failed    int64 `json:"failed"`
}

// Snapshot is the state reported by the control API.
type Snapshot struct {
	ID        uuid.UUID                `json:"id"`
	Board     types.BoardInfo          `json:"board"`
	State     string                   `json:"state"`
	Pins      []PinSnapshot            `json:"pins"`
	Uarts     []UartSnapshot           `json:"uarts"`
	Buses     []BusSnapshot            `json:"i2c"`
	Counters  Counters                 `json:"counters"`
	Transport *transport.StatsSnapshot `json:"transport,omitempty"`
}

type Emulator struct {
	id      uuid.UUID
	cfg     Config
	logger  *zap.Logger
	profile *types.BoardProfileDefinition

	pins       []*pin
	pinByName  map[string]*pin
	uarts      []*uart
	uartByName map[string]*uart
	buses      []*bus
	busByName  map[string]*bus

	dispatcher *dispatch.Dispatcher
	events     *EventStreamer

	requests  metrics.Counter
	pushes    metrics.Counter
	unhandled metrics.Counter
	failed    metrics.Counter

	mu        sync.RWMutex
	peer      Peer
	transport *transport.Transport
	bridges   []*SerialBridge
}

// New builds the emulated peripherals of profile. Nothing is bound until
// Connect or Run.
func New(profile *types.BoardProfileDefinition, cfg Config) (*Emulator, error) {
	if profile == nil {
		return nil, fmt.Errorf("nil board profile: %w", types.StatusInvalidArgument)
	}
	if cfg.FromDevice == "" {
		cfg.FromDevice = DefaultFromDevice
	}
	if cfg.ToDevice == "" {
		cfg.ToDevice = DefaultToDevice
	}
	if cfg.UartBufferSize <= 0 {
		cfg.UartBufferSize = DefaultUartBufferSize
	}
	if cfg.I2CBufferSize <= 0 {
		cfg.I2CBufferSize = DefaultI2CBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRegistry()
	}

	id := uuid.New()
	e := &Emulator{
		id:         id,
		cfg:        cfg,
		logger:     cfg.Logger.With(zap.String("emulator_id", id.String())),
		profile:    profile,
		pinByName:  make(map[string]*pin),
		uartByName: make(map[string]*uart),
		busByName:  make(map[string]*bus),
		events:     NewEventStreamer(),
		requests:   metrics.NewRegisteredCounter(metricName(id, "emulator.Requests"), cfg.Metrics),
		pushes:     metrics.NewRegisteredCounter(metricName(id, "emulator.Pushes"), cfg.Metrics),
		unhandled:  metrics.NewRegisteredCounter(metricName(id, "emulator.Unhandled"), cfg.Metrics),
		failed:     metrics.NewRegisteredCounter(metricName(id, "emulator.Failed"), cfg.Metrics),
	}

	for _, def := range profile.Pins {
		if _, dup := e.pinByName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate pin %q: %w", def.Name, types.StatusInvalidArgument)
		}
		p, err := newPin(def)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", def.Name, err)
		}
		e.pins = append(e.pins, p)
		e.pinByName[def.Name] = p
	}
	for _, def := range profile.Uarts {
		if _, dup := e.uartByName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate uart %q: %w", def.Name, types.StatusInvalidArgument)
		}
		u := newUart(def, cfg.UartBufferSize, e.logger)
		e.uarts = append(e.uarts, u)
		e.uartByName[def.Name] = u
	}
	for _, def := range profile.I2C {
		if _, dup := e.busByName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate i2c bus %q: %w", def.Name, types.StatusInvalidArgument)
		}
		b := newBus(def, cfg.I2CBufferSize, e.logger)
		e.buses = append(e.buses, b)
		e.busByName[def.Name] = b
	}

	receivers := dispatch.Receivers{
		dispatch.ReceiverFunc(e.receivePin),
		dispatch.ReceiverFunc(e.receiveUart),
		dispatch.ReceiverFunc(e.receiveI2C),
	}
	e.dispatcher = dispatch.New(dispatch.ReceiverMap{
		{Match: protocol.IsObject(protocol.ObjectPin), Index: 0},
		{Match: protocol.IsObject(protocol.ObjectUart), Index: 1},
		{Match: protocol.IsObject(protocol.ObjectI2C), Index: 2},
	}, receivers)

	return e, nil
}

func metricName(id uuid.UUID, name string) string {
	return fmt.Sprintf("-- %s --: %s", id, name)
}

func (e *Emulator) ID() uuid.UUID {
	return e.id
}

func (e *Emulator) Profile() *types.BoardProfileDefinition {
	return e.profile
}

func (e *Emulator) Events() *EventStreamer {
	return e.events
}

// Connect binds FromDevice and dials ToDevice once, failing after the
// transport's connect timeout when no device shows up.
func (e *Emulator) Connect(ctx context.Context) error {
	tcfg := e.cfg.Transport
	tcfg.Logger = e.logger
	if tcfg.Metrics == nil {
		tcfg.Metrics = e.cfg.Metrics
	}

	tr, err := transport.Create(ctx, e.cfg.ToDevice, e.cfg.FromDevice, e, tcfg)
	if err != nil {
		return fmt.Errorf("connect emulator: %w", err)
	}

	e.mu.Lock()
	e.transport = tr
	e.peer = tr
	e.mu.Unlock()
	return nil
}

// Run keeps calling Connect until a device connects or ctx ends.
func (e *Emulator) Run(ctx context.Context) error {
	for {
		err := e.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, types.StatusTimeout) {
			return err
		}
		e.logger.Info("Waiting for device", zap.String("from_device", e.cfg.FromDevice))
	}
}

// Attach sets the peer pushes go to. Connect attaches its transport.
func (e *Emulator) Attach(peer Peer) {
	e.mu.Lock()
	e.peer = peer
	e.mu.Unlock()
}

// Transport returns the connected transport, nil before Connect.
func (e *Emulator) Transport() *transport.Transport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport
}

func (e *Emulator) Connected() bool {
	tr := e.Transport()
	return tr != nil && tr.IsConnected()
}

// Close stops serial bridges and the transport.
func (e *Emulator) Close() error {
	e.mu.Lock()
	bridges := e.bridges
	tr := e.transport
	e.bridges = nil
	e.transport = nil
	e.peer = nil
	e.mu.Unlock()

	for _, b := range bridges {
		b.Close()
	}
	if tr != nil {
		return tr.Close()
	}
	return nil
}

// Dispatch answers one request from the device.
func (e *Emulator) Dispatch(msg []byte) ([]byte, error) {
	e.requests.Inc(1)

	reply, err := e.dispatcher.Dispatch(msg)
	switch {
	case errors.Is(err, types.StatusUnhandled):
		e.unhandled.Inc(1)
		e.logger.Warn("Unhandled message", zap.ByteString("message", msg))
	case err != nil:
		e.failed.Inc(1)
		e.logger.Warn("Request failed", zap.ByteString("message", msg), zap.Error(err))
	}
	return reply, err
}

func (e *Emulator) receivePin(msg []byte) ([]byte, error) {
	req, err := decodeRequest[protocol.PinRequest](msg)
	if err != nil {
		return nil, err
	}
	p, ok := e.pinByName[req.Name]
	if !ok {
		return nil, fmt.Errorf("pin %q not found: %w", req.Name, types.StatusUnhandled)
	}
	resp := p.handle(req)
	return e.reply(protocol.ObjectPin, req.Name, req.Operation, resp.Status, msg, resp)
}

func (e *Emulator) receiveUart(msg []byte) ([]byte, error) {
	req, err := decodeRequest[protocol.UartRequest](msg)
	if err != nil {
		return nil, err
	}
	u, ok := e.uartByName[req.Name]
	if !ok {
		return nil, fmt.Errorf("uart %q not found: %w", req.Name, types.StatusUnhandled)
	}
	resp := u.handle(req)
	return e.reply(protocol.ObjectUart, req.Name, req.Operation, resp.Status, msg, resp)
}

func (e *Emulator) receiveI2C(msg []byte) ([]byte, error) {
	req, err := decodeRequest[protocol.I2CRequest](msg)
	if err != nil {
		return nil, err
	}
	b, ok := e.busByName[req.Name]
	if !ok {
		return nil, fmt.Errorf("i2c bus %q not found: %w", req.Name, types.StatusUnhandled)
	}
	resp := b.handle(req)
	return e.reply(protocol.ObjectI2C, req.Name, req.Operation, resp.Status, msg, resp)
}

// decodeRequest decodes msg as T. Responses are never addressed to the
// emulator and are left unhandled.
func decodeRequest[T protocol.Message](msg []byte) (T, error) {
	var req T
	h, err := protocol.Peek(msg)
	if err != nil {
		return req, err
	}
	if h.Type != protocol.TypeRequest {
		return req, fmt.Errorf("%s from device: %w", h.Type, types.StatusUnhandled)
	}
	return protocol.Decode[T](msg)
}

func (e *Emulator) reply(object protocol.ObjectType, name string, op protocol.OperationType, status types.Status, req []byte, resp protocol.Message) ([]byte, error) {
	data, err := protocol.Encode(resp)
	if err != nil {
		return nil, err
	}
	e.emit(SourceDevice, object, name, op, status, req, data)
	return data, nil
}

func (e *Emulator) emit(source EventSource, object protocol.ObjectType, name string, op protocol.OperationType, status types.Status, req, reply []byte) {
	event := &Event{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Source:    source,
		Object:    object,
		Name:      name,
		Operation: op,
		Status:    status,
	}
	if protocol.IsJSON(req) {
		event.Request = req
	}
	if protocol.IsJSON(reply) {
		event.Reply = reply
	}
	e.events.Broadcast(event)
}

// push sends req to the device and decodes its reply.
func push[T protocol.Message](e *Emulator, object protocol.ObjectType, name string, op protocol.OperationType, req protocol.Message) (T, error) {
	var resp T

	e.mu.RLock()
	peer := e.peer
	e.mu.RUnlock()
	if peer == nil {
		return resp, fmt.Errorf("push to %s %q: no device connected: %w", object, name, types.StatusInvalidState)
	}

	data, err := protocol.Encode(req)
	if err != nil {
		return resp, err
	}

	e.pushes.Inc(1)
	reply, err := peer.Exchange(data)
	if err == nil {
		resp, err = protocol.DecodeReply[T](reply)
	}
	if err != nil {
		e.failed.Inc(1)
		e.emit(SourceEmulator, object, name, op, types.StatusOf(err), data, reply)
		return resp, fmt.Errorf("push to %s %q: %w", object, name, err)
	}
	return resp, nil
}

// SetState drives the named pin from outside and tells the device.
func (e *Emulator) SetState(name string, state mcu.PinState) (protocol.PinResponse, error) {
	p, ok := e.pinByName[name]
	if !ok {
		return protocol.PinResponse{}, fmt.Errorf("pin %q: %w", name, types.StatusInvalidArgument)
	}
	p.set(state)

	resp, err := push[protocol.PinResponse](e, protocol.ObjectPin, name, protocol.OperationSet,
		protocol.NewPinRequest(name, protocol.OperationSet, state))
	if err != nil {
		return resp, err
	}
	e.emitPush(protocol.ObjectPin, name, protocol.OperationSet, resp.Status, resp)
	return resp, nil
}

// QueryState asks the device for its view of the named pin.
func (e *Emulator) QueryState(name string) (mcu.PinState, error) {
	if _, ok := e.pinByName[name]; !ok {
		return mcu.PinHighZ, fmt.Errorf("pin %q: %w", name, types.StatusInvalidArgument)
	}
	resp, err := push[protocol.PinResponse](e, protocol.ObjectPin, name, protocol.OperationGet,
		protocol.NewPinRequest(name, protocol.OperationGet, mcu.PinHighZ))
	if err != nil {
		return mcu.PinHighZ, err
	}
	e.emitPush(protocol.ObjectPin, name, protocol.OperationGet, resp.Status, resp)
	if err := resp.Status.Err(); err != nil {
		return mcu.PinHighZ, fmt.Errorf("query pin %q: %w", name, err)
	}
	return resp.State, nil
}

// SendToDevice delivers data as if it arrived on the named UART's line.
func (e *Emulator) SendToDevice(name string, data []byte) (protocol.UartResponse, error) {
	if _, ok := e.uartByName[name]; !ok {
		return protocol.UartResponse{}, fmt.Errorf("uart %q: %w", name, types.StatusInvalidArgument)
	}
	resp, err := push[protocol.UartResponse](e, protocol.ObjectUart, name, protocol.OperationReceive,
		protocol.NewUartRequest(name, protocol.OperationReceive, data, len(data), 0))
	if err != nil {
		return resp, err
	}
	e.emitPush(protocol.ObjectUart, name, protocol.OperationReceive, resp.Status, resp)
	return resp, nil
}

func (e *Emulator) emitPush(object protocol.ObjectType, name string, op protocol.OperationType, status types.Status, resp protocol.Message) {
	reply, _ := protocol.Encode(resp)
	e.emit(SourceEmulator, object, name, op, status, nil, reply)
}

// PinState returns the emulated level of the named pin.
func (e *Emulator) PinState(name string) (mcu.PinState, bool) {
	p, ok := e.pinByName[name]
	if !ok {
		return mcu.PinHighZ, false
	}
	return p.snapshot().State, true
}

func (e *Emulator) Pins() []PinSnapshot {
	out := make([]PinSnapshot, 0, len(e.pins))
	for _, p := range e.pins {
		out = append(out, p.snapshot())
	}
	return out
}

// HasUart reports whether a UART called name exists.
func (e *Emulator) HasUart(name string) bool {
	_, ok := e.uartByName[name]
	return ok
}

// TxData returns what the device sent on the named UART and nothing has
// read back yet.
func (e *Emulator) TxData(name string) ([]byte, error) {
	u, ok := e.uartByName[name]
	if !ok {
		return nil, fmt.Errorf("uart %q: %w", name, types.StatusInvalidArgument)
	}
	return u.txData(), nil
}

func (e *Emulator) ClearTx(name string) error {
	u, ok := e.uartByName[name]
	if !ok {
		return fmt.Errorf("uart %q: %w", name, types.StatusInvalidArgument)
	}
	u.clear()
	return nil
}

// WriteToDevice sets the buffer the device reads from address on the
// named bus.
func (e *Emulator) WriteToDevice(name string, address uint16, data []byte) error {
	b, ok := e.busByName[name]
	if !ok {
		return fmt.Errorf("i2c bus %q: %w", name, types.StatusInvalidArgument)
	}
	if len(data) > b.limit {
		return fmt.Errorf("i2c bus %q: %d bytes: %w", name, len(data), types.StatusMessageTooLarge)
	}
	b.write(address, data)
	return nil
}

// ReadFromDevice returns the buffer held for address on the named bus,
// empty when nothing was written.
func (e *Emulator) ReadFromDevice(name string, address uint16) ([]byte, error) {
	b, ok := e.busByName[name]
	if !ok {
		return nil, fmt.Errorf("i2c bus %q: %w", name, types.StatusInvalidArgument)
	}
	return b.read(address), nil
}

func (e *Emulator) Counters() Counters {
	return Counters{
		Requests:  e.requests.Count(),
		Pushes:    e.pushes.Count(),
		Unhandled: e.unhandled.Count(),
		Failed:    e.failed.Count(),
	}
}

func (e *Emulator) Snapshot() Snapshot {
	s := Snapshot{
		ID:       e.id,
		Board:    e.profile.Board,
		State:    transport.StateDisconnected.String(),
		Pins:     e.Pins(),
		Uarts:    make([]UartSnapshot, 0, len(e.uarts)),
		Buses:    make([]BusSnapshot, 0, len(e.buses)),
		Counters: e.Counters(),
	}
	for _, u := range e.uarts {
		s.Uarts = append(s.Uarts, u.snapshot())
	}
	for _, b := range e.buses {
		s.Buses = append(s.Buses, b.snapshot())
	}
	if tr := e.Transport(); tr != nil {
		s.State = tr.State().String()
		stats := tr.Stats()
		s.Transport = &stats
	}
	return s
}
