package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/wfunc/launcher/config"
	"github.com/wfunc/launcher/logger"
	"github.com/wfunc/launcher/persistence"
	"github.com/wfunc/launcher/server"
)

func main() {
	flags := pflag.NewFlagSet("lobby", pflag.ExitOnError)
	configPath := flags.String("config", ".", "directory containing config.yaml")
	flags.String("addr", ":8080", "websocket listen address")
	flags.String("db-driver", "memory", "room record store: memory, postgres or gorm")
	flags.String("log-level", "info", "log level")
	flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadConfig(*configPath, flags)
	if err != nil {
		logger.Init("info")
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	// Initialize Database
	store, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to open room store: %v", err)
	}
	defer store.Close()
	logger.Log.Infof("Room store ready (driver %s).", cfg.Database.Driver)

	// Initialize Lobby Server
	lobby, err := server.NewLobbyServer(server.Options{
		HTTPAddress:    cfg.Server.HTTPAddress,
		RPCAddress:     cfg.Server.RPCAddress,
		MetricsAddress: cfg.Server.MetricsAddress,
		SessionTimeout: cfg.Server.SessionTimeout,
	}, store)
	if err != nil {
		logger.Log.Fatalf("Failed to create lobby server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lobby.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warnf("Shutdown: %v", err)
		}
	}()

	// Start Server
	if err := lobby.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
	logger.Log.Info("Lobby server stopped.")
}
