package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/batterymanager/batterymanager/config"
	"github.com/batterymanager/batterymanager/consumption"
	"github.com/batterymanager/batterymanager/controller"
	"github.com/batterymanager/batterymanager/homeassistant"
	"github.com/batterymanager/batterymanager/kostal"
	"github.com/batterymanager/batterymanager/modbus"
	"github.com/batterymanager/batterymanager/server"
)

func main() {

	configPath := flag.String("config", "/data/config.json", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("Starting battery manager...", "config", *configPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("Data directory is not writable", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	store, err := consumption.Open(cfg.ConsumptionDB(), cfg.LearningDays, cfg.HourlyFallbackKWh())
	if err != nil {
		slog.Error("Failed to open consumption database", "error", err)
		os.Exit(1)
	}

	inverter := kostal.New(cfg.InverterIP, cfg.InstallerPassword, cfg.MasterPassword, cfg.SessionFile())
	setpoint := modbus.NewClient(fmt.Sprintf("%s:%d", cfg.InverterIP, cfg.InverterPort))
	homeAssistant := homeassistant.New(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token)

	logRing := controller.NewLogRing()
	ctrl := controller.New(cfg, inverter, setpoint, homeAssistant, store, logRing)

	ctx, cancel := context.WithCancel(context.Background())

	ticker := time.NewTicker(cfg.ControlInterval())
	defer ticker.Stop()

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		ctrl.Run(ctx, ticker.C)
	}()

	srv := server.New(ctrl, store, *configPath, cfg.HTTPPort)
	srv.Start()

	// wait for an interrupt before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan

	slog.Info("Shutting down...")

	// Stop the control loop first so the safe-state write runs before the
	// process goes away.
	cancel()
	select {
	case <-controllerDone:
	case <-time.After(10 * time.Second):
		slog.Error("Control loop did not shut down in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	slog.Info("Exiting")
	os.Exit(0)
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
