package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/HostEmu/internal/board"
	"github.com/KevinKickass/HostEmu/internal/config"
	"github.com/KevinKickass/HostEmu/internal/mcu"
	"go.uber.org/zap"
)

// The device process runs the demo application against the emulator:
// LED 1 blinks, a rising edge on Button 1 toggles LED 2, bytes received on
// UART 1 are echoed back and the I2C bus is probed once at startup.
func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	profileName := flag.String("profile", "", "board profile name or path, overrides board.profile")
	blink := flag.Duration("blink", 500*time.Millisecond, "LED 1 blink period")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *profileName != "" {
		cfg.Board.Profile = *profileName
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loader, err := board.NewProfileLoader(cfg.Board.SearchPaths)
	if err != nil {
		logger.Fatal("Failed to create profile loader", zap.Error(err))
	}
	profile, err := loader.Load(cfg.Board.Profile)
	if err != nil {
		logger.Fatal("Failed to load board profile", zap.String("profile", cfg.Board.Profile), zap.Error(err))
	}

	b, err := board.New(profile, logger)
	if err != nil {
		logger.Fatal("Failed to create board", zap.Error(err))
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The device binds ToDevice and dials the emulator's FromDevice.
	if err := b.Connect(ctx, cfg.Transport.FromDevice, cfg.Transport.ToDevice, cfg.TransportConfig(logger, nil)); err != nil {
		logger.Fatal("Failed to connect to emulator", zap.Error(err))
	}
	logger.Info("Connected to emulator", zap.String("transport_id", b.Transport().ID().String()))

	if err := setup(b, logger); err != nil {
		logger.Error("Demo setup failed", zap.Error(err))
		os.Exit(1)
	}

	led, err := b.Pin("LED 1")
	if err != nil {
		logger.Warn("No LED to blink", zap.Error(err))
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(*blink)
	defer ticker.Stop()

	on := false
	for {
		select {
		case <-ctx.Done():
			logger.Info("Device stopping")
			return
		case <-ticker.C:
			on = !on
			if on {
				err = led.SetHigh()
			} else {
				err = led.SetLow()
			}
			if err != nil {
				logger.Warn("Blink failed", zap.Error(err))
			}
		}
	}
}

func setup(b *board.Board, logger *zap.Logger) error {
	if button, err := b.Pin("Button 1"); err == nil {
		led2, err := b.Pin("LED 2")
		if err != nil {
			return err
		}
		lit := false
		err = button.SetInterruptHandler(func() {
			var err error
			lit = !lit
			if lit {
				err = led2.SetHigh()
			} else {
				err = led2.SetLow()
			}
			if err != nil {
				logger.Warn("Toggle failed", zap.Error(err))
			}
		}, mcu.PinRising)
		if err != nil {
			return err
		}
	}

	if uart, err := b.Uart("UART 1"); err == nil {
		if err := uart.Init(mcu.DefaultUartConfig()); err != nil {
			return err
		}
		err = uart.SetRxHandler(func(data []byte) {
			err := uart.SendAsync(data, func(err error) {
				if err != nil {
					logger.Warn("Echo failed", zap.Error(err))
				}
			})
			if err != nil {
				logger.Warn("Echo failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if err := uart.Send([]byte("hello from device\r\n")); err != nil {
			return err
		}
	}

	if bus, err := b.I2C("I2C 1"); err == nil {
		if err := bus.SendData(0x50, []byte{0x00, 0x01, 0x02, 0x03}); err != nil {
			return err
		}
		buf := make([]byte, 4)
		n, err := bus.ReceiveData(0x50, buf)
		if err != nil {
			return err
		}
		logger.Info("I2C probe", zap.Binary("data", buf[:n]))
	}

	return nil
}
