package system

import (
    "context"
    "fmt"
    "net"
    "sync"
    "time"

    "github.com/KevinKickass/HostEmu/internal/api/rest"
    "github.com/KevinKickass/HostEmu/internal/api/websocket"
    "github.com/KevinKickass/HostEmu/internal/config"
    "github.com/KevinKickass/HostEmu/internal/emulator"
    "github.com/KevinKickass/HostEmu/internal/interfaces"
    "github.com/KevinKickass/HostEmu/internal/types"
    metrics "github.com/rcrowley/go-metrics"
    "go.uber.org/zap"
    "google.golang.org/grpc"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/reflection"
)

// HealthService is the gRPC health service name that reports SERVING once
// a device is connected. The empty service name reports the same.
const HealthService = "hostemu.Emulator"

// LifecycleManager runs the emulator process: the emulator itself, its
// REST and websocket control plane and the gRPC health service.
type LifecycleManager struct {
    config   *config.Config
    emulator *emulator.Emulator
    hub      *websocket.Hub
    registry metrics.Registry
    logger   *zap.Logger

    restServer   *rest.Server
    grpcServer   *grpc.Server
    grpcListener net.Listener
    health       *health.Server

    cancel context.CancelFunc
    wg     sync.WaitGroup

    stateMu      sync.RWMutex
    currentState SystemState
    lastErr      error
    startedAt    time.Time

    listenersMu     sync.RWMutex
    statusListeners []chan SystemStatus

    shutdownChan chan struct{}
    shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

func NewLifecycleManager(
    cfg *config.Config,
    profile *types.BoardProfileDefinition,
    logger *zap.Logger,
) (*LifecycleManager, error) {
    if logger == nil {
        logger = zap.NewNop()
    }
    registry := metrics.NewRegistry()

    emu, err := emulator.New(profile, cfg.EmulatorConfig(logger, registry))
    if err != nil {
        return nil, fmt.Errorf("failed to create emulator: %w", err)
    }

    return &LifecycleManager{
        config:          cfg,
        emulator:        emu,
        hub:             websocket.NewHub(logger),
        registry:        registry,
        logger:          logger,
        health:          health.NewServer(),
        currentState:    StateInitializing,
        shutdownChan:    make(chan struct{}),
        statusListeners: make([]chan SystemStatus, 0),
    }, nil
}

// Start brings up the control plane and then waits for the device in the
// background. It returns once every listener is bound.
func (lm *LifecycleManager) Start() error {
    lm.logger.Info("Starting emulator",
        zap.String("board", lm.emulator.Profile().Board.ID),
        zap.String("from_device", lm.config.Transport.FromDevice),
        zap.String("to_device", lm.config.Transport.ToDevice))

    lm.stateMu.Lock()
    lm.startedAt = time.Now()
    lm.stateMu.Unlock()

    ctx, cancel := context.WithCancel(context.Background())
    lm.cancel = cancel

    lm.wg.Add(2)
    go func() {
        defer lm.wg.Done()
        lm.hub.Run(ctx)
    }()
    go func() {
        defer lm.wg.Done()
        lm.hub.Forward(ctx, lm.emulator.Events())
    }()

    if err := lm.emulator.OpenBridges(); err != nil {
        lm.setError(fmt.Errorf("failed to open serial bridges: %w", err))
        return err
    }

    lm.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
    lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

    if err := lm.startGRPCServer(); err != nil {
        lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
        return err
    }

    if err := lm.startRESTServer(); err != nil {
        lm.setError(fmt.Errorf("failed to start REST API: %w", err))
        return err
    }

    lm.setState(StateWaitingForDevice)

    lm.wg.Add(1)
    go lm.connectDevice(ctx)

    lm.logger.Info("System started successfully",
        zap.String("grpc_address", lm.GRPCAddr()),
        zap.String("http_address", lm.RESTAddr()))

    return nil
}

// connectDevice waits until the device process connects.
func (lm *LifecycleManager) connectDevice(ctx context.Context) {
    defer lm.wg.Done()

    if err := lm.emulator.Run(ctx); err != nil {
        if ctx.Err() != nil {
            return
        }
        lm.setError(fmt.Errorf("device connection failed: %w", err))
        return
    }

    tr := lm.emulator.Transport()
    lm.hub.Broadcast(websocket.NewDeviceMessage(true, lm.emulator.Profile().Board.ID, tr.ID().String()))
    lm.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
    lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
    lm.setState(StateRunning)

    lm.logger.Info("Device connected", zap.String("transport_id", tr.ID().String()))
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
    var shutdownErr error

    lm.shutdownOnce.Do(func() {
        lm.logger.Info("Shutting down system")

        lm.setState(StateStopping)

        shutdownErr = lm.gracefulShutdown(ctx)

        lm.setState(StateStopped)

        close(lm.shutdownChan)
    })

    return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
    var wg sync.WaitGroup
    errChan := make(chan error, 3)

    lm.health.Shutdown()

    // 1. REST API Server graceful shutdown
    if lm.restServer != nil {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if err := lm.restServer.Shutdown(ctx); err != nil {
                errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
            }
        }()
    }

    // 2. gRPC Server graceful stop
    if lm.grpcServer != nil {
        wg.Add(1)
        go func() {
            defer wg.Done()
            lm.logger.Info("Stopping gRPC server")
            lm.grpcServer.GracefulStop()
        }()
    }

    // 3. Emulator, hub and the device connection loop
    wg.Add(1)
    go func() {
        defer wg.Done()
        if lm.cancel != nil {
            lm.cancel()
        }
        if err := lm.emulator.Close(); err != nil {
            errChan <- fmt.Errorf("emulator close failed: %w", err)
        }
        lm.wg.Wait()
    }()

    // Wait for all shutdowns
    done := make(chan struct{})
    go func() {
        wg.Wait()
        close(done)
    }()

    select {
    case <-done:
        select {
        case err := <-errChan:
            return err
        default:
        }
        lm.logger.Info("Graceful shutdown completed")
        return nil
    case <-ctx.Done():
        lm.logger.Warn("Shutdown timeout, forcing stop")
        if lm.grpcServer != nil {
            lm.grpcServer.Stop()
        }
        return fmt.Errorf("shutdown timeout exceeded: %w", types.StatusTimeout)
    }
}

func (lm *LifecycleManager) startGRPCServer() error {
    lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Emulator.GRPCPort))
    if err != nil {
        return fmt.Errorf("failed to listen: %w", err)
    }
    lm.grpcListener = lis

    lm.grpcServer = grpc.NewServer()
    healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
    reflection.Register(lm.grpcServer)

    go func() {
        lm.logger.Info("gRPC server listening",
            zap.String("address", lis.Addr().String()),
            zap.String("services", HealthService))
        if err := lm.grpcServer.Serve(lis); err != nil {
            lm.logger.Error("gRPC server failed", zap.Error(err))
        }
    }()

    return nil
}

func (lm *LifecycleManager) startRESTServer() error {
    lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.hub, lm.registry)
    return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
    lm.stateMu.Lock()
    previous := lm.currentState
    if err := ValidateTransition(previous, state); err != nil {
        lm.stateMu.Unlock()
        lm.logger.Debug("Ignoring state change", zap.Error(err))
        return
    }
    lm.currentState = state
    lm.stateMu.Unlock()

    lm.broadcastStatus(previous)
}

func (lm *LifecycleManager) setError(err error) {
    lm.logger.Error("System error", zap.Error(err))

    lm.stateMu.Lock()
    previous := lm.currentState
    lm.currentState = StateError
    lm.lastErr = err
    lm.stateMu.Unlock()

    lm.broadcastStatus(previous)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
    lm.stateMu.RLock()
    defer lm.stateMu.RUnlock()

    status := interfaces.SystemStatus{
        State:           lm.currentState.String(),
        BoardID:         lm.emulator.Profile().Board.ID,
        EmulatorID:      lm.emulator.ID().String(),
        DeviceConnected: lm.emulator.Connected(),
        Clients:         lm.hub.GetClientCount(),
    }
    if lm.lastErr != nil {
        status.Error = lm.lastErr.Error()
    }
    if !lm.startedAt.IsZero() {
        status.UptimeSeconds = int64(time.Since(lm.startedAt).Seconds())
    }
    return status
}

func (lm *LifecycleManager) State() SystemState {
    lm.stateMu.RLock()
    defer lm.stateMu.RUnlock()
    return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus(previous SystemState) {
    lm.stateMu.RLock()
    status := SystemStatus{
        State:     lm.currentState,
        Previous:  previous,
        Timestamp: time.Now().Unix(),
    }
    if lm.lastErr != nil {
        status.Error = lm.lastErr.Error()
    }
    lm.stateMu.RUnlock()

    lm.hub.Broadcast(websocket.NewSystemStatusMessage(status.State.String(), previous.String(), status.Error))

    lm.listenersMu.RLock()
    defer lm.listenersMu.RUnlock()

    for _, listener := range lm.statusListeners {
        select {
        case listener <- status:
        default:
            // Channel full, skip
        }
    }
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
    ch := make(chan SystemStatus, 10)

    lm.listenersMu.Lock()
    lm.statusListeners = append(lm.statusListeners, ch)
    lm.listenersMu.Unlock()

    return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
    lm.listenersMu.Lock()
    defer lm.listenersMu.Unlock()

    for i, listener := range lm.statusListeners {
        if listener == ch {
            lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
            close(ch)
            break
        }
    }
}

// Done is closed once Shutdown has finished, including a shutdown
// requested over REST.
func (lm *LifecycleManager) Done() <-chan struct{} {
    return lm.shutdownChan
}

func (lm *LifecycleManager) Config() *config.Config {
    return lm.config
}

func (lm *LifecycleManager) Emulator() *emulator.Emulator {
    return lm.emulator
}

func (lm *LifecycleManager) Hub() *websocket.Hub {
    return lm.hub
}

// RESTAddr returns the bound REST address, empty before Start.
func (lm *LifecycleManager) RESTAddr() string {
    if lm.restServer == nil {
        return ""
    }
    return lm.restServer.Addr()
}

// GRPCAddr returns the bound gRPC address, empty before Start.
func (lm *LifecycleManager) GRPCAddr() string {
    if lm.grpcListener == nil {
        return ""
    }
    return lm.grpcListener.Addr().String()
}
