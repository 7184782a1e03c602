package interfaces

import (
    "context"

    "github.com/KevinKickass/HostEmu/internal/config"
    "github.com/KevinKickass/HostEmu/internal/emulator"
)

// SystemStatus represents the current state of the emulator process
type SystemStatus struct {
    State           string `json:"state"`
    Error           string `json:"error,omitempty"`
    BoardID         string `json:"board_id"`
    EmulatorID      string `json:"emulator_id"`
    DeviceConnected bool   `json:"device_connected"`
    Clients         int    `json:"websocket_clients"`
    UptimeSeconds   int64  `json:"uptime_seconds"`
}

type LifecycleManager interface {
    Config() *config.Config
    Emulator() *emulator.Emulator
    GetCurrentStatus() SystemStatus
    Shutdown(ctx context.Context) error
}
