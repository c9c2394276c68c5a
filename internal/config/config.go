// Package config handles configuration management for chatcast.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. CHATCAST_SERVER_PORT.
const EnvPrefix = "CHATCAST"

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Hub     HubConfig     `mapstructure:"hub" yaml:"hub"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Limits  LimitsConfig  `mapstructure:"limits" yaml:"limits"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP and websocket listener configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ExternalURL     string        `mapstructure:"external_url" yaml:"external_url"` // Optional: public base URL advertised in pairing QR codes
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
	EnableSwagger   bool          `mapstructure:"enable_swagger" yaml:"enable_swagger"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	MaxFrameBytes   int64         `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
}

// HubConfig holds broadcast core configuration.
type HubConfig struct {
	Workers          int           `mapstructure:"workers" yaml:"workers"`
	IntakeCapacity   int           `mapstructure:"intake_capacity" yaml:"intake_capacity"`
	OutboundCapacity int           `mapstructure:"outbound_capacity" yaml:"outbound_capacity"`
	MaxConnections   int           `mapstructure:"max_connections" yaml:"max_connections"`
	MessageChannel   string        `mapstructure:"message_channel" yaml:"message_channel"`
	ReapInterval     time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
	MaxIdle          time.Duration `mapstructure:"max_idle" yaml:"max_idle"`
	MaxMissed        int           `mapstructure:"max_missed" yaml:"max_missed"`
	ChannelRetention time.Duration `mapstructure:"channel_retention" yaml:"channel_retention"`
}

// AuthConfig holds token configuration.
type AuthConfig struct {
	TokenSecret string        `mapstructure:"token_secret" yaml:"token_secret"` // empty: random per process
	Issuer      string        `mapstructure:"issuer" yaml:"issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	Operators   []string      `mapstructure:"operators" yaml:"operators"` // principals allowed to use /api/broadcast
}

// StoreConfig holds message store configuration.
type StoreConfig struct {
	Path          string        `mapstructure:"path" yaml:"path"`
	RetentionDays int           `mapstructure:"retention_days" yaml:"retention_days"` // 0 keeps messages forever
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// LimitsConfig holds request limits.
type LimitsConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	MaxMessageLength  int     `mapstructure:"max_message_length" yaml:"max_message_length"`
	MaxListLimit      int     `mapstructure:"max_list_limit" yaml:"max_list_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"` // empty: stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// newViper builds a viper instance with defaults, env bindings and the
// config file (if any) read in.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.chatcast")
		v.AddConfigPath("/etc/chatcast")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}
}

// defaultValues is the flat key/value view of Default().
func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"server.host":             "127.0.0.1",
		"server.port":             8080,
		"server.external_url":     "",
		"server.allowed_origins":  []string{},
		"server.trusted_proxies":  []string{},
		"server.enable_swagger":   true,
		"server.read_timeout":     "15s",
		"server.write_timeout":    "15s",
		"server.shutdown_timeout": "10s",
		"server.ping_interval":    "25s",
		"server.pong_wait":        "60s",
		"server.write_wait":       "10s",
		"server.max_frame_bytes":  4096,

		"hub.workers":           4,
		"hub.intake_capacity":   1024,
		"hub.outbound_capacity": 64,
		"hub.max_connections":   10000,
		"hub.message_channel":   "everyone",
		"hub.reap_interval":     "30s",
		"hub.max_idle":          "2m",
		"hub.max_missed":        32,
		"hub.channel_retention": "5m",

		"auth.token_secret": "",
		"auth.issuer":       "chatcast",
		"auth.token_ttl":    "720h",
		"auth.operators":    []string{},

		"store.path":           "",
		"store.retention_days": 30,
		"store.prune_schedule": "@daily",
		"store.busy_timeout":   "5s",

		"limits.requests_per_second": 10.0,
		"limits.burst":               20,
		"limits.max_message_length":  2000,
		"limits.max_list_limit":      200,

		"logging.level":        "info",
		"logging.format":       "console",
		"logging.file":         "",
		"logging.max_size_mb":  50,
		"logging.max_backups":  3,
		"logging.max_age_days": 14,
		"logging.compress":     true,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// defaults are static and covered by tests
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// postProcess applies post-processing to configuration.
func postProcess(cfg *Config) error {
	if cfg.Store.Path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve store path: %w", err)
		}
		cfg.Store.Path = filepath.Join(dir, "chatcast.db")
	}
	if cfg.Store.Path != ":memory:" {
		absPath, err := filepath.Abs(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to resolve store path: %w", err)
		}
		cfg.Store.Path = absPath
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Server.ExternalURL = strings.TrimRight(strings.TrimSpace(cfg.Server.ExternalURL), "/")
	return nil
}

// ListenAddr returns host:port for the HTTP listener.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the externally reachable HTTP base URL.
func (c *ServerConfig) BaseURL() string {
	if c.ExternalURL != "" {
		return c.ExternalURL
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// GetConfigDir returns the user config directory for chatcast.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".chatcast"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
