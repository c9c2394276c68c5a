package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brianly1003/chatcast/internal/app"
	"github.com/brianly1003/chatcast/internal/config"
)

var (
	host        string
	port        int
	externalURL string
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chatcast server",
	Long: `Start the chatcast server. The HTTP API and the WebSocket endpoint
(/ws) share one port.

The config file is watched while the server runs. Changes to the log
level, reaper thresholds and operator list apply immediately; other
settings need a restart.

Example:
  chatcast start
  chatcast start --port 9000
  chatcast start --external-url https://chat.example.com`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&host, "host", "", "bind address (default from config: 127.0.0.1)")
	startCmd.Flags().IntVar(&port, "port", 0, "server port for HTTP and WebSocket (default from config: 8080)")
	startCmd.Flags().StringVar(&externalURL, "external-url", "", "public base URL advertised to clients (e.g., https://chat.example.com)")
}

func runStart(cmd *cobra.Command, args []string) error {
	var current atomic.Pointer[app.App]

	cfg, watcher, err := config.Watch(cfgFile, func(next *config.Config) {
		if verbose {
			next.Logging.Level = "debug"
		}
		if a := current.Load(); a != nil {
			a.ApplyConfig(next)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if externalURL != "" {
		cfg.Server.ExternalURL = externalURL
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logFile := setupLogging(cfg)
	if logFile != nil {
		defer logFile.Close()
	}

	log.Info().
		Str("version", version).
		Str("config", watcher.Path()).
		Str("addr", cfg.Server.ListenAddr()).
		Str("store", cfg.Store.Path).
		Msg("starting chatcast")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	current.Store(application)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("received shutdown signal")
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("chatcast stopped")
	return nil
}

// setupLogging configures the global logger. When a log file is set,
// entries also go to it as JSON with size based rotation; the returned
// closer flushes that file.
func setupLogging(cfg *config.Config) io.Closer {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if cfg.Logging.Format == "console" || verbose {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if cfg.Logging.File == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return file
}
