// Package config loads the daemon configuration from a yaml file and
// TASKGATE_* environment variables.
package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/dori/taskgate/internal/db"
)

// Config is the daemon configuration
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Listen    string          `mapstructure:"listen"`
	Block     BlockConfig     `mapstructure:"block"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Log       LogConfig       `mapstructure:"log"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BlockConfig controls how blocked sites are enforced
type BlockConfig struct {
	// Engine is "hosts" to manage the hosts file or "none" to keep rules in
	// memory only
	Engine    string `mapstructure:"engine"`
	Listen    string `mapstructure:"listen"`
	Address   string `mapstructure:"address"`
	HostsFile string `mapstructure:"hosts_file"`
	// Subdomains are the labels written next to each domain in the hosts
	// file
	Subdomains []string `mapstructure:"subdomains"`
}

// RemoteConfig points at the remote sync store. An empty driver disables
// sync.
type RemoteConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// BridgeConfig starts the external task source
type BridgeConfig struct {
	Command  []string `mapstructure:"command"`
	TaskFile string   `mapstructure:"task_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	Stdout bool `mapstructure:"stdout"`
}

// DBPath returns the local database path
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "taskgate.db")
}

// LockPath returns the single-instance lock file path
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "taskgate.lock")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".taskgate", "config.yaml")
	}
	return filepath.Join(dir, "taskgate", "config.yaml")
}

// Loader reads the configuration and watches it for changes
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader for the file at path
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", db.DefaultDataDir())
	v.SetDefault("listen", "127.0.0.1:7777")
	v.SetDefault("block.engine", "hosts")
	v.SetDefault("block.listen", "127.0.0.1:80")
	v.SetDefault("block.address", "127.0.0.1")
	v.SetDefault("block.hosts_file", "/etc/hosts")
	v.SetDefault("block.subdomains", []string{"www", "m", "mobile", "old"})
	v.SetDefault("remote.driver", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("bridge.command", []string{})
	v.SetDefault("bridge.task_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("notify.enabled", true)
	v.SetDefault("telemetry.stdout", false)

	return &Loader{v: v}
}

// Viper exposes the underlying instance so flags can be bound to keys
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the file if it exists and returns the merged configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, err
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the reloaded configuration whenever the file
// changes. It does nothing when the file doesn't exist.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if _, err := os.Stat(l.v.ConfigFileUsed()); err != nil {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		onChange(l.Load())
	})
	l.v.WatchConfig()
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// NewLogger builds the daemon logger. level can be changed later to adjust
// verbosity at runtime.
func NewLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
