package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brianly1003/chatcast/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage chatcast configuration.

Without subcommands, shows the current effective configuration.

Examples:
  chatcast config              # Show current config
  chatcast config init         # Create config file with defaults
  chatcast config path         # Show config file location
  chatcast config get <key>    # Get a config value
  chatcast config set <key> <value>  # Set a config value`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings and documentation.

By default, creates ~/.chatcast/config.yaml.
Use --local to create ./config.yaml in the current directory.`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	RunE:  runConfigPath,
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value by key.

Keys use dot notation to access nested values.

Examples:
  chatcast config get server.port
  chatcast config get hub.max_idle
  chatcast config get auth.operators`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a config value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by key.

Creates the config file if it doesn't exist.
Keys use dot notation to access nested values.

Examples:
  chatcast config set server.port 9000
  chatcast config set logging.level debug
  chatcast config set auth.operators "[ops, 1]"`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.chatcast/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "Set auth.token_secret before issuing tokens.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config dir: %w", err)
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/chatcast/config.yaml",
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, loc, exists)
	}
	fmt.Fprintf(out, "\nEnvironment overrides: %s_<SECTION>_<KEY>\n", config.EnvPrefix)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := getConfigValue(cfg, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configPath := cfgFile
	if configPath == "" {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	var data map[string]interface{}
	if content, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	}
	if data == nil {
		data = make(map[string]interface{})
	}

	if err := setNestedValue(data, key, value); err != nil {
		return err
	}

	content, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(configPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, value, configPath)
	return nil
}

// getConfigValue looks key up in the YAML view of cfg, so every field
// with a yaml tag is reachable.
func getConfigValue(cfg *config.Config, key string) (interface{}, error) {
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var current interface{}
	if err := yaml.Unmarshal(content, &current); err != nil {
		return nil, err
	}

	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		if current, ok = m[part]; !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
	}
	if _, ok := current.(map[string]interface{}); ok {
		return nil, fmt.Errorf("invalid key: %s is a section", key)
	}
	return current, nil
}

func formatValue(v interface{}) string {
	switch v.(type) {
	case []interface{}:
		content, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(string(content))
	default:
		return fmt.Sprint(v)
	}
}

func setNestedValue(data map[string]interface{}, key string, value string) error {
	parts := strings.Split(key, ".")

	current := data
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]interface{})
		}
		nested, ok := current[parts[i]].(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot set nested value: %s is not a map", parts[i])
		}
		current = nested
	}

	current[parts[len(parts)-1]] = parseValue(value)
	return nil
}

// parseValue reads value as a YAML scalar or flow sequence, so "9000"
// becomes an int, "true" a bool and "[a, b]" a list.
func parseValue(value string) interface{} {
	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		return value
	}
	if _, ok := parsed.(map[string]interface{}); ok {
		return value
	}
	return parsed
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "Listen:          %s\n", cfg.Server.ListenAddr())
	fmt.Fprintf(w, "Base URL:        %s\n", cfg.Server.BaseURL())
	fmt.Fprintf(w, "Message Channel: %s\n", cfg.Hub.MessageChannel)
	fmt.Fprintf(w, "Workers:         %d\n", cfg.Hub.Workers)
	fmt.Fprintf(w, "Store:           %s\n", cfg.Store.Path)
	fmt.Fprintf(w, "Retention Days:  %d\n", cfg.Store.RetentionDays)
	fmt.Fprintf(w, "Token Secret:    %s\n", maskSecret(cfg.Auth.TokenSecret))
	fmt.Fprintf(w, "Operators:       %s\n", strings.Join(cfg.Auth.Operators, ", "))
	fmt.Fprintf(w, "Log Level:       %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "Log Format:      %s\n", cfg.Logging.Format)
}

func maskSecret(s string) string {
	if s == "" {
		return "(random per process)"
	}
	return "********"
}

const defaultConfigYAML = `# chatcast configuration
# Every key can be overridden by CHATCAST_<SECTION>_<KEY>, e.g. CHATCAST_SERVER_PORT.

server:
  # Bind address (use 0.0.0.0 to allow external connections)
  host: "127.0.0.1"
  port: 8080

  # Public base URL advertised to clients and in pairing QR codes
  # external_url: "https://chat.example.com"

  # Browser origins allowed to call the API and open WebSockets.
  # Empty allows any origin.
  allowed_origins: []

  # Proxies whose X-Forwarded-For is trusted (IPs or CIDRs)
  trusted_proxies: []

  enable_swagger: true
  read_timeout: 15s
  write_timeout: 15s
  shutdown_timeout: 10s

  # WebSocket keepalive
  ping_interval: 25s
  pong_wait: 60s
  write_wait: 10s
  max_frame_bytes: 4096

hub:
  workers: 4
  intake_capacity: 1024
  # Per-connection outbound queue; a full queue drops the event for that client
  outbound_capacity: 64
  max_connections: 10000
  # Channel that stored chat messages are announced on
  message_channel: "everyone"

  # Reaper: closes idle or persistently slow connections
  reap_interval: 30s
  max_idle: 2m
  max_missed: 32
  channel_retention: 5m

auth:
  # HMAC secret for access tokens. Empty generates a random one per process.
  token_secret: ""
  issuer: "chatcast"
  token_ttl: 720h
  # Principals allowed to broadcast and manage conversation members
  operators: []

store:
  # SQLite database file (default: ~/.chatcast/chatcast.db)
  path: ""
  # 0 keeps messages forever
  retention_days: 30
  prune_schedule: "@daily"
  busy_timeout: 5s

limits:
  # Per-client REST rate limit; 0 disables it
  requests_per_second: 10
  burst: 20
  max_message_length: 2000
  max_list_limit: 200

logging:
  # debug, info, warn, error
  level: "info"
  # console or json
  format: "console"
  # Optional rotated log file
  file: ""
  max_size_mb: 50
  max_backups: 3
  max_age_days: 14
  compress: true
`
