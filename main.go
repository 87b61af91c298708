package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/majenkotech/MHGroveBLE/ble"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the BLE module")
	flag.Int("baud-rate", 9600, "Baud rate for serial communication")
	flag.String("device-name", "MHGroveBLE", "Bluetooth name to configure on the module")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the status server")
	flag.Duration("poll-interval", 10*time.Millisecond, "Controller poll interval")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	bleConfig, err := ble.NewConfigBuilder().
		WithDialer(ble.SerialDialer{
			PortName: config.SerialPort,
			Mode: &serial.Mode{
				BaudRate: config.BaudRate,
				Parity:   serial.NoParity,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			},
		}).
		WithName(config.DeviceName).
		WithLogger(logger.With("component", "ble")).
		Build()
	if err != nil {
		logger.Error("Failed to create controller config", "error", err)
		os.Exit(1)
	}

	b, err := ble.New(context.Background(), bleConfig)
	if err != nil {
		logger.Error("Failed to create controller", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting Grove BLE bring-up", "port", config.SerialPort, "name", config.DeviceName)

	// The controller is not safe for concurrent use: this loop goroutine is
	// the only place that touches it. The HTTP server observes snapshots
	// and feeds connection events through the channel.
	var status atomic.Pointer[Status]
	status.Store(&Status{State: b.State(), Reason: b.PanicReason()})
	connEvents := make(chan bool, 1)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ticker := time.NewTicker(config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case connected := <-connEvents:
				b.SetConnected(connected)
			case <-ticker.C:
				b.Poll()
			}
			status.Store(&Status{State: b.State(), Reason: b.PanicReason()})
		}
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:     logger.With("component", "server"),
			Status:     func() *Status { return status.Load() },
			Connection: connEvents,
		},
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	logger.Info("Stopping controller loop")
	loopCancel()
	<-loopDone

	if err := b.Close(); err != nil {
		logger.Error("Failed to close controller", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}
