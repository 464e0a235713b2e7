package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// PETROPULSE_BACKEND_URL or PETROPULSE_PUSH_RECONNECT_ATTEMPTS.
const EnvPrefix = "PETROPULSE"

// PushConfig holds the push connection and retry policy.
type PushConfig struct {
	Path              string   `mapstructure:"path" yaml:"path"`
	Transports        []string `mapstructure:"transports" yaml:"transports"`
	ReconnectAttempts int      `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelayMS  int      `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`

	// IDStrategy is "time" or "uuid" and controls ids given to push
	// events that arrive without one.
	IDStrategy string `mapstructure:"id_strategy" yaml:"id_strategy"`
}

// ReconnectDelay returns the delay between reconnect attempts.
func (p PushConfig) ReconnectDelay() time.Duration {
	return time.Duration(p.ReconnectDelayMS) * time.Millisecond
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme           string `mapstructure:"theme" yaml:"theme"`
	ToastDurationMS int    `mapstructure:"toast_duration_ms" yaml:"toast_duration_ms"`
}

// ToastDuration returns how long a transient alert stays up.
func (d DisplayConfig) ToastDuration() time.Duration {
	return time.Duration(d.ToastDurationMS) * time.Millisecond
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// BackendURL is the REST API base. AssetURL is the origin of the push
	// server. Neither is validated; a wrong value shows up as failed calls.
	BackendURL string `mapstructure:"backend_url" yaml:"backend_url"`
	AssetURL   string `mapstructure:"asset_url" yaml:"asset_url"`

	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// DefaultConfigDir returns ~/.config/petropulse.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "petropulse")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/petropulse/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dir := DefaultConfigDir()
	v.SetDefault("backend_url", "")
	v.SetDefault("asset_url", "")
	v.SetDefault("push.path", "/socket.io/")
	v.SetDefault("push.transports", []string{"polling", "websocket"})
	v.SetDefault("push.reconnect_attempts", 5)
	v.SetDefault("push.reconnect_delay_ms", 1000)
	v.SetDefault("push.id_strategy", "time")
	v.SetDefault("display.theme", "default")
	v.SetDefault("display.toast_duration_ms", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(dir, "petropulse.log"))
	v.SetDefault("store.path", filepath.Join(dir, "petropulse.db"))
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults. PETROPULSE_* environment variables
// override both.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend_url", cfg.BackendURL)
	v.Set("asset_url", cfg.AssetURL)
	v.Set("push", cfg.Push)
	v.Set("display", cfg.Display)
	v.Set("log", cfg.Log)
	v.Set("store", cfg.Store)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
