package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if err := validateHub(&cfg.Hub); err != nil {
		return err
	}

	if err := validateAuth(&cfg.Auth); err != nil {
		return err
	}

	if err := validateStore(&cfg.Store); err != nil {
		return err
	}

	if err := validateLimits(&cfg.Limits); err != nil {
		return err
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}

	return nil
}

func validateTrustedProxies(trustedProxies []string) error {
	for _, proxy := range trustedProxies {
		trimmed := strings.TrimSpace(proxy)
		if trimmed == "" {
			return fmt.Errorf("server.trusted_proxies contains an empty value")
		}

		if net.ParseIP(trimmed) != nil {
			continue
		}

		if _, _, err := net.ParseCIDR(trimmed); err != nil {
			return fmt.Errorf("server.trusted_proxies has invalid CIDR/IP value: %s", trimmed)
		}
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}

	if cfg.ExternalURL != "" {
		if err := validateExternalURL(cfg.ExternalURL, "server.external_url", []string{"http", "https"}); err != nil {
			return err
		}
	}

	if err := validateTrustedProxies(cfg.TrustedProxies); err != nil {
		return err
	}

	if cfg.PingInterval <= 0 {
		return fmt.Errorf("server.ping_interval must be positive")
	}
	if cfg.PongWait <= cfg.PingInterval {
		return fmt.Errorf("server.pong_wait must be longer than server.ping_interval")
	}
	if cfg.WriteWait <= 0 {
		return fmt.Errorf("server.write_wait must be positive")
	}
	if cfg.MaxFrameBytes < 256 {
		return fmt.Errorf("server.max_frame_bytes must be at least 256")
	}

	return nil
}

// validateExternalURL validates that a URL is well-formed and uses an allowed scheme.
func validateExternalURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	schemeValid := false
	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			schemeValid = true
			break
		}
	}
	if !schemeValid {
		return fmt.Errorf("%s must use one of these schemes: %s", fieldName, strings.Join(allowedSchemes, ", "))
	}

	return nil
}

func validateHub(cfg *HubConfig) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("hub.workers must be at least 1")
	}
	if cfg.Workers > 1024 {
		return fmt.Errorf("hub.workers cannot exceed 1024")
	}
	if cfg.IntakeCapacity < cfg.Workers {
		return fmt.Errorf("hub.intake_capacity must be at least hub.workers")
	}
	if cfg.OutboundCapacity < 1 {
		return fmt.Errorf("hub.outbound_capacity must be at least 1")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("hub.max_connections cannot be negative")
	}
	if strings.TrimSpace(cfg.MessageChannel) == "" {
		return fmt.Errorf("hub.message_channel cannot be empty")
	}
	if strings.HasPrefix(cfg.MessageChannel, "private-") {
		return fmt.Errorf("hub.message_channel must be a public channel")
	}
	return validateReaper(cfg)
}

// validateReaper checks the thresholds that can change on reload.
func validateReaper(cfg *HubConfig) error {
	if cfg.ReapInterval <= 0 {
		return fmt.Errorf("hub.reap_interval must be positive")
	}
	if cfg.MaxIdle < 0 {
		return fmt.Errorf("hub.max_idle cannot be negative")
	}
	if cfg.MaxMissed < 0 {
		return fmt.Errorf("hub.max_missed cannot be negative")
	}
	if cfg.ChannelRetention < 0 {
		return fmt.Errorf("hub.channel_retention cannot be negative")
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if cfg.TokenSecret != "" && len(cfg.TokenSecret) < 16 {
		return fmt.Errorf("auth.token_secret must be at least 16 characters")
	}
	if cfg.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	for _, op := range cfg.Operators {
		if strings.TrimSpace(op) == "" {
			return fmt.Errorf("auth.operators contains an empty value")
		}
	}
	return nil
}

func validateStore(cfg *StoreConfig) error {
	if cfg.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("store.retention_days cannot be negative")
	}
	if cfg.RetentionDays > 0 {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			return fmt.Errorf("store.prune_schedule is invalid: %w", err)
		}
	}
	if cfg.BusyTimeout < 0 {
		return fmt.Errorf("store.busy_timeout cannot be negative")
	}
	return nil
}

func validateLimits(cfg *LimitsConfig) error {
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("limits.requests_per_second cannot be negative")
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst < 1 {
		return fmt.Errorf("limits.burst must be at least 1 when rate limiting is enabled")
	}
	if cfg.MaxMessageLength < 1 {
		return fmt.Errorf("limits.max_message_length must be at least 1")
	}
	if cfg.MaxListLimit < 1 {
		return fmt.Errorf("limits.max_list_limit must be at least 1")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error")
	}
	switch cfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	if cfg.File != "" && cfg.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}
	if cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		return fmt.Errorf("logging.max_backups and logging.max_age_days cannot be negative")
	}
	return nil
}
