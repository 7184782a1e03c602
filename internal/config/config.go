package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/HostEmu/internal/emulator"
	"github.com/KevinKickass/HostEmu/internal/transport"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Board     BoardConfig     `mapstructure:"board"`
	Emulator  EmulatorConfig  `mapstructure:"emulator"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TransportConfig is shared by both processes. The device binds ToDevice
// and dials FromDevice; the emulator does the opposite.
type TransportConfig struct {
	FromDevice      string        `mapstructure:"from_device"`
	ToDevice        string        `mapstructure:"to_device"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	RecvTimeout     time.Duration `mapstructure:"recv_timeout"`
	Linger          time.Duration `mapstructure:"linger"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
}

type BoardConfig struct {
	Profile     string   `mapstructure:"profile"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type EmulatorConfig struct {
	HTTPPort        int                     `mapstructure:"http_port"`
	GRPCPort        int                     `mapstructure:"grpc_port"`
	ShutdownTimeout time.Duration           `mapstructure:"shutdown_timeout"`
	UartBufferSize  int                     `mapstructure:"uart_buffer_size"`
	I2CBufferSize   int                     `mapstructure:"i2c_buffer_size"`
	Serial          []emulator.SerialConfig `mapstructure:"serial"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads the YAML file at path; an empty path uses defaults and the
// environment only. Every key can be overridden by HOSTEMU_<KEY> with dots
// replaced by underscores, e.g. HOSTEMU_TRANSPORT_SEND_TIMEOUT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HOSTEMU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := transport.DefaultConfig()
	v.SetDefault("transport.from_device", emulator.DefaultFromDevice)
	v.SetDefault("transport.to_device", emulator.DefaultToDevice)
	v.SetDefault("transport.poll_timeout", d.PollTimeout)
	v.SetDefault("transport.connect_timeout", d.ConnectTimeout)
	v.SetDefault("transport.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("transport.send_timeout", d.SendTimeout)
	v.SetDefault("transport.recv_timeout", d.RecvTimeout)
	v.SetDefault("transport.linger", d.Linger)
	v.SetDefault("transport.max_message_size", d.MaxMessageSize)
	v.SetDefault("transport.retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("transport.retry.retry_delay", d.Retry.RetryDelay)
	v.SetDefault("transport.retry.total_timeout", d.Retry.TotalTimeout)

	v.SetDefault("board.profile", "default")
	v.SetDefault("board.search_paths", []string{"./profiles"})

	v.SetDefault("emulator.http_port", 8080)
	v.SetDefault("emulator.grpc_port", 50051)
	v.SetDefault("emulator.shutdown_timeout", "10s")
	v.SetDefault("emulator.uart_buffer_size", emulator.DefaultUartBufferSize)
	v.SetDefault("emulator.i2c_buffer_size", emulator.DefaultI2CBufferSize)

	v.SetDefault("logging.development", false)
}

// TransportConfig returns the transport settings for one process.
func (c *Config) TransportConfig(logger *zap.Logger, registry metrics.Registry) transport.Config {
	t := c.Transport
	return transport.Config{
		PollTimeout:     t.PollTimeout,
		ConnectTimeout:  t.ConnectTimeout,
		ShutdownTimeout: t.ShutdownTimeout,
		SendTimeout:     t.SendTimeout,
		RecvTimeout:     t.RecvTimeout,
		Linger:          t.Linger,
		MaxMessageSize:  t.MaxMessageSize,
		Retry: transport.RetryConfig{
			MaxAttempts:  t.Retry.MaxAttempts,
			RetryDelay:   t.Retry.RetryDelay,
			TotalTimeout: t.Retry.TotalTimeout,
		},
		Logger:  logger,
		Metrics: registry,
	}
}

// EmulatorConfig returns the emulator settings with its transport.
func (c *Config) EmulatorConfig(logger *zap.Logger, registry metrics.Registry) emulator.Config {
	return emulator.Config{
		FromDevice:     c.Transport.FromDevice,
		ToDevice:       c.Transport.ToDevice,
		UartBufferSize: c.Emulator.UartBufferSize,
		I2CBufferSize:  c.Emulator.I2CBufferSize,
		Serial:         c.Emulator.Serial,
		Transport:      c.TransportConfig(logger, registry),
		Logger:         logger,
		Metrics:        registry,
	}
}

// NewLogger builds the process logger.
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	if l.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
