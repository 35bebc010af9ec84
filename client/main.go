package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wfunc/launcher/backend"
	"github.com/wfunc/launcher/config"
	"github.com/wfunc/launcher/coordinator"
	"github.com/wfunc/launcher/logger"
	"github.com/wfunc/launcher/state"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "launcher",
	Short: "Connect to a lobby server and join or create a room",
	Long: `launcher connects to the lobby server with a game version, joins a random
room of that version and creates one when none has a free seat. It stays in the
room until interrupted.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", ".", "directory containing config.yaml")
	flags.String("server", "ws://localhost:8080/ws", "lobby websocket URL")
	flags.String("game-version", "1", "game version; only launchers with the same version meet")
	flags.Int("max-players", 4, "capacity of a room this launcher creates")
	flags.Bool("auto-sync-scene", true, "follow level loads of the room")
	flags.Duration("dial-timeout", 10*time.Second, "give up connecting to the lobby after this long")
	flags.String("log-level", "info", "log level")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	client := backend.NewClient(backend.Config{
		ServerURL:         cfg.Launcher.ServerURL,
		HeartbeatInterval: cfg.Launcher.HeartbeatInterval,
		DialTimeout:       cfg.Launcher.DialTimeout,
	})
	defer client.Close()

	coord, err := coordinator.New(client, coordinator.Options{
		GameVersion:            cfg.Launcher.GameVersion,
		MaxPlayers:             cfg.Launcher.MaxPlayers,
		AutomaticallySyncScene: cfg.Launcher.AutoSyncScene,
	})
	if err != nil {
		return err
	}
	defer coord.Close()

	done := make(chan struct{})
	var once sync.Once
	coord.OnStateChange(func(from, to state.ConnectionState) {
		logger.Log.Infow("launcher state", "from", from.String(), "to", to.String())
		if to == state.Disconnected {
			once.Do(func() { close(done) })
		}
	})

	if err := coord.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Log.Info("Interrupted, leaving lobby")
		if err := coord.Disconnect(); err != nil {
			logger.Log.Debugw("disconnect", "error", err)
			return nil
		}
		<-done
	case <-done:
	}
	return nil
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
