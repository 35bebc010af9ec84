package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const MaxRoomCapacity = 255

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Launcher LauncherConfig `mapstructure:"launcher"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	RPCAddress     string        `mapstructure:"rpc_address"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// LauncherConfig is the client side of the lobby: which server to reach and
// how rooms it creates are shaped.
type LauncherConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	GameVersion       string        `mapstructure:"game_version"`
	MaxPlayers        int           `mapstructure:"max_players"`
	AutoSyncScene     bool          `mapstructure:"auto_sync_scene"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":            "server.http_address",
	"server":          "launcher.server_url",
	"game-version":    "launcher.game_version",
	"max-players":     "launcher.max_players",
	"auto-sync-scene": "launcher.auto_sync_scene",
	"dial-timeout":    "launcher.dial_timeout",
	"db-driver":       "database.driver",
	"log-level":       "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_address", ":9100")
	v.SetDefault("server.session_timeout", 30*time.Second)

	v.SetDefault("launcher.server_url", "ws://localhost:8080/ws")
	v.SetDefault("launcher.game_version", "1")
	v.SetDefault("launcher.max_players", 4)
	v.SetDefault("launcher.auto_sync_scene", true)
	v.SetDefault("launcher.heartbeat_interval", 5*time.Second)
	v.SetDefault("launcher.dial_timeout", 10*time.Second)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.dbname", "lobby")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path, then LAUNCHER_* environment
// variables, then any known flags that were set. A missing config file is not
// an error.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LAUNCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Launcher.GameVersion == "" {
		return errors.New("launcher.game_version must not be empty")
	}
	if c.Launcher.MaxPlayers < 1 || c.Launcher.MaxPlayers > MaxRoomCapacity {
		return fmt.Errorf("launcher.max_players must be between 1 and %d, got %d", MaxRoomCapacity, c.Launcher.MaxPlayers)
	}
	if c.Launcher.HeartbeatInterval <= 0 {
		return errors.New("launcher.heartbeat_interval must be positive")
	}
	if c.Launcher.DialTimeout <= 0 {
		return errors.New("launcher.dial_timeout must be positive")
	}
	if c.Server.SessionTimeout <= 0 {
		return errors.New("server.session_timeout must be positive")
	}
	switch c.Database.Driver {
	case "memory", "postgres", "gorm":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
