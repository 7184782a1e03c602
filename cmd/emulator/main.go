package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/HostEmu/internal/board"
	"github.com/KevinKickass/HostEmu/internal/config"
	"github.com/KevinKickass/HostEmu/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	profileName := flag.String("profile", "", "board profile name or path, overrides board.profile")
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

	logger.Info("Board profile loaded",
		zap.String("board", profile.Board.ID),
		zap.Int("pins", len(profile.Pins)),
		zap.Int("uarts", len(profile.Uarts)),
		zap.Int("i2c", len(profile.I2C)))

	lifecycle, err := system.NewLifecycleManager(cfg, profile, logger)
	if err != nil {
		logger.Fatal("Failed to create emulator", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Emulator stopped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Emulator.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Emulator stopped successfully")
}
