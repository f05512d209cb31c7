// Package config provides YAML-based configuration loading for bootleg nodes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// Role: server or client
	Role string `mapstructure:"role"`

	// Capabilities: native, remote or both
	Capabilities string `mapstructure:"capabilities"`

	// Codec: cbor, json or proto
	Codec string `mapstructure:"codec"`

	// TickIntervalMS is the host scheduler period.
	TickIntervalMS int `mapstructure:"tick_interval_ms"`

	Log      LogConfig       `mapstructure:"log"`
	Native   NativeConfig    `mapstructure:"native"`
	Remote   RemoteConfig    `mapstructure:"remote"`
	Connect  ConnectConfig   `mapstructure:"connect"`
	Channels []ChannelConfig `mapstructure:"channels"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:        "bootleg-node",
		Role:           "server",
		Capabilities:   "native",
		Codec:          "cbor",
		TickIntervalMS: 16,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/bootleg.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Native: NativeConfig{
			TCP:                "0.0.0.0:9001",
			UDP:                "0.0.0.0:9002",
			MaxPacketSize:      1200,
			SendQueueSize:      256,
			HandshakeTimeoutMS: 5000,
		},
		Remote: RemoteConfig{
			Backend:    "websocket",
			Signalling: "0.0.0.0:14191",
		},
		Connect: ConnectConfig{
			Addr:    "127.0.0.1:9001",
			UDPAddr: "127.0.0.1:9002",
		},
		Channels: []ChannelConfig{
			{ID: 3, Reliability: "reliable"},
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Missing files are skipped and
// variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// A .env file in the working directory is applied first.
// Environment variables use the prefix BOOTLEG and `.`/`-` are replaced with `_`.
// Example: BOOTLEG_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BOOTLEG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("BOOTLEG_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bootleg")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bootleg"))
		}
	}

	// Missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// A channels list in the file replaces the default list rather than
	// merging into it element by element.
	if v.InConfig("channels") {
		cfg.Channels = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("role", cfg.Role)
	v.SetDefault("capabilities", cfg.Capabilities)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("tick_interval_ms", cfg.TickIntervalMS)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("native.tcp", cfg.Native.TCP)
	v.SetDefault("native.udp", cfg.Native.UDP)
	v.SetDefault("native.max_packet_size", cfg.Native.MaxPacketSize)
	v.SetDefault("native.send_queue_size", cfg.Native.SendQueueSize)
	v.SetDefault("native.heartbeat_ms", cfg.Native.HeartbeatMS)
	v.SetDefault("native.handshake_timeout_ms", cfg.Native.HandshakeTimeoutMS)

	v.SetDefault("remote.backend", cfg.Remote.Backend)
	v.SetDefault("remote.signalling", cfg.Remote.Signalling)
	v.SetDefault("remote.listen", cfg.Remote.Listen)
	v.SetDefault("remote.public", cfg.Remote.Public)
	v.SetDefault("remote.path", cfg.Remote.Path)

	v.SetDefault("connect.addr", cfg.Connect.Addr)
	v.SetDefault("connect.udp_addr", cfg.Connect.UDPAddr)
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Role = strings.ToLower(strings.TrimSpace(c.Role))
	if c.Role != "server" && c.Role != "client" {
		return fmt.Errorf("invalid role: %q", c.Role)
	}
	c.Capabilities = strings.ToLower(strings.TrimSpace(c.Capabilities))
	for _, part := range strings.Split(c.Capabilities, ",") {
		switch strings.TrimSpace(part) {
		case "native", "remote", "both":
		default:
			return fmt.Errorf("invalid capabilities: %q", c.Capabilities)
		}
	}
	c.Codec = strings.ToLower(strings.TrimSpace(c.Codec))
	switch c.Codec {
	case "", "cbor", "json", "proto":
	default:
		return fmt.Errorf("invalid codec: %q", c.Codec)
	}
	c.Remote.Backend = strings.ToLower(strings.TrimSpace(c.Remote.Backend))
	switch c.Remote.Backend {
	case "websocket", "webtransport", "mem":
	default:
		return fmt.Errorf("invalid remote.backend: %q", c.Remote.Backend)
	}
	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("invalid tick_interval_ms: %d", c.TickIntervalMS)
	}
	if _, err := c.ChannelSettings(); err != nil {
		return err
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
