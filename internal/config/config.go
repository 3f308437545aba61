package config

import (
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Cache      CacheConfig
	Controller ControllerConfig
	Viewport   ViewportConfig
	Layout     LayoutConfig
	Sync       SyncConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type CacheConfig struct {
	MaxAge          time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

type ControllerConfig struct {
	DebounceDelay   time.Duration
	AutoRecalculate bool
}

type ViewportConfig struct {
	Buffer      float64
	ScrollDelay time.Duration
	Height      float64
}

type LayoutConfig struct {
	StyleFile string
}

type SyncConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			MaxAge:          5 * time.Minute,
			MaxEntries:      50,
			CleanupInterval: 60 * time.Second,
		},
		Controller: ControllerConfig{
			DebounceDelay:   150 * time.Millisecond,
			AutoRecalculate: true,
		},
		Viewport: ViewportConfig{
			Buffer:      200,
			ScrollDelay: 16 * time.Millisecond,
			Height:      800,
		},
		Sync: SyncConfig{
			PollInterval: time.Second,
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/branchline/config.json, then applies environment
// overrides. Environment variables (BRANCHLINE_*) win over file values;
// secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

// loadFromPath loads configuration from an explicit config file path.
func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// SlogLevel maps Log.Level to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
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
