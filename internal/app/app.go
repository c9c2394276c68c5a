// Package app orchestrates all components of chatcast.
package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/brianly1003/chatcast/internal/config"
	"github.com/brianly1003/chatcast/internal/hub"
	"github.com/brianly1003/chatcast/internal/security"
	httpserver "github.com/brianly1003/chatcast/internal/server/http"
	"github.com/brianly1003/chatcast/internal/server/http/middleware"
	"github.com/brianly1003/chatcast/internal/server/websocket"
	"github.com/brianly1003/chatcast/internal/store"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string
	out     io.Writer

	// Core components
	store      *store.Store
	pruner     *store.Pruner
	tokens     *security.TokenManager
	authorizer *security.Authorizer
	hub        *hub.Hub
	limiter    *middleware.RateLimiter
	httpServer *httpserver.Server

	instanceID string
	startTime  time.Time
	ready      chan struct{}

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// New creates a new App instance.
func New(cfg *config.Config, version string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &App{
		cfg:        cfg,
		version:    version,
		out:        os.Stdout,
		instanceID: uuid.NewString(),
		ready:      make(chan struct{}),
	}, nil
}

// SetOutput redirects the startup banner. Defaults to stdout.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Start builds every component, serves until ctx is cancelled and then
// shuts down gracefully.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.build(); err != nil {
		a.abort()
		return err
	}

	if err := a.hub.Start(); err != nil {
		a.abort()
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}
	if err := a.httpServer.Start(); err != nil {
		_ = a.hub.Stop()
		a.abort()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if a.pruner != nil {
		a.pruner.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.httpServer.Serve)
	g.Go(func() error {
		a.runRevocationCleanup(gctx)
		return nil
	})
	g.Go(func() error {
		a.runWatchdog(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	a.notify(daemon.SdNotifyReady)
	a.printConnectionInfo()
	close(a.ready)

	return g.Wait()
}

// build creates the components from configuration.
func (a *App) build() error {
	cfg := a.cfg

	st, err := store.Open(store.Options{
		Path:             cfg.Store.Path,
		BusyTimeout:      cfg.Store.BusyTimeout,
		MaxMessageLength: cfg.Limits.MaxMessageLength,
	})
	if err != nil {
		return fmt.Errorf("failed to open message store: %w", err)
	}
	a.store = st

	if cfg.Store.RetentionDays > 0 {
		retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
		a.pruner, err = store.NewPruner(st, cfg.Store.PruneSchedule, retention)
		if err != nil {
			return err
		}
	}

	a.tokens, err = security.NewTokenManager(cfg.Auth.TokenSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	if cfg.Auth.TokenSecret == "" {
		log.Warn().Msg("auth.token_secret is empty; using a random secret, tokens will not survive a restart")
	}
	a.authorizer = security.NewAuthorizer(st)

	a.hub = hub.New(a.authorizer, hub.Options{
		MaxConnections:   cfg.Hub.MaxConnections,
		OutboundCapacity: cfg.Hub.OutboundCapacity,
		Workers:          cfg.Hub.Workers,
		IntakeCapacity:   cfg.Hub.IntakeCapacity,
		ReapInterval:     cfg.Hub.ReapInterval,
		Limits:           reaperLimits(&cfg.Hub),
		MessageChannel:   cfg.Hub.MessageChannel,
	})

	ws, err := websocket.NewHandler(a.hub, a.tokens, websocket.Options{
		PingInterval:   cfg.Server.PingInterval,
		PongWait:       cfg.Server.PongWait,
		WriteWait:      cfg.Server.WriteWait,
		MaxFrameBytes:  cfg.Server.MaxFrameBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return fmt.Errorf("failed to create websocket handler: %w", err)
	}

	if cfg.Limits.RequestsPerSecond > 0 {
		a.limiter = middleware.NewRateLimiter(
			middleware.WithRate(cfg.Limits.RequestsPerSecond),
			middleware.WithBurst(cfg.Limits.Burst),
		)
	}

	a.httpServer, err = httpserver.New(a.hub, st, a.tokens, httpserver.Options{
		Addr:           cfg.Server.ListenAddr(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxListLimit:   cfg.Limits.MaxListLimit,
		EnableSwagger:  cfg.Server.EnableSwagger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		Operators:      cfg.Auth.Operators,
		RateLimiter:    a.limiter,
		WebSocket:      ws,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	return nil
}

func reaperLimits(cfg *config.HubConfig) hub.ReaperLimits {
	return hub.ReaperLimits{
		MaxIdle:          cfg.MaxIdle,
		MaxMissed:        cfg.MaxMissed,
		ChannelRetention: cfg.ChannelRetention,
	}
}

// ApplyConfig applies the settings that can change without a restart:
// log level, reaper thresholds and the operator list.
func (a *App) ApplyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a.mu.Lock()
	a.cfg.Logging.Level = cfg.Logging.Level
	a.cfg.Hub.MaxIdle = cfg.Hub.MaxIdle
	a.cfg.Hub.MaxMissed = cfg.Hub.MaxMissed
	a.cfg.Hub.ChannelRetention = cfg.Hub.ChannelRetention
	a.cfg.Auth.Operators = cfg.Auth.Operators
	a.mu.Unlock()

	select {
	case <-a.ready:
	default:
		return
	}
	a.hub.Reaper().SetLimits(reaperLimits(&cfg.Hub))
	a.httpServer.SetOperators(cfg.Auth.Operators)

	log.Info().
		Str("log_level", cfg.Logging.Level).
		Dur("max_idle", cfg.Hub.MaxIdle).
		Int("max_missed", cfg.Hub.MaxMissed).
		Int("operators", len(cfg.Auth.Operators)).
		Msg("configuration reloaded")
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	log.Info().Msg("shutting down...")
	a.notify(daemon.SdNotifyStopping)

	var firstErr error
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error stopping HTTP server")
			firstErr = err
		}
		cancel()
	}

	// Stopping the hub closes every websocket connection.
	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			log.Error().Err(err).Msg("error stopping broadcast hub")
		}
	}

	a.close()
	return firstErr
}

// abort undoes a partial Start.
func (a *App) abort() {
	a.close()
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// close releases the resources that do not need a graceful stop.
func (a *App) close() {
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing message store")
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 5 * time.Second
}

// notify reports state to systemd. Outside systemd this is a no-op.
func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("sd_notify sent")
	}
}

// runWatchdog pings the systemd watchdog at half its interval when
// WatchdogSec is configured for the unit.
func (a *App) runWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}

// Ready is closed once the servers are accepting connections.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound HTTP address once Ready is closed.
func (a *App) Addr() string {
	if a.httpServer == nil {
		return a.cfg.Server.ListenAddr()
	}
	return a.httpServer.Addr()
}

// GetHub returns the broadcast hub, nil before Start.
func (a *App) GetHub() *hub.Hub {
	return a.hub
}

// GetConfig returns the application config.
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// InstanceID identifies this process in logs.
func (a *App) InstanceID() string {
	return a.instanceID
}

// printConnectionInfo prints connection information to the console.
func (a *App) printConnectionInfo() {
	baseURL := a.baseURL()
	wsURL := security.WebSocketURL(baseURL)

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(a.out, "║                     chatcast ready                         ║")
	fmt.Fprintln(a.out, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(a.out, "║  Version:    %-46s ║\n", truncateString(a.version, 46))
	fmt.Fprintf(a.out, "║  Instance:   %-46s ║\n", a.instanceID[:8]+"...")
	fmt.Fprintf(a.out, "║  API:        %-46s ║\n", truncateString(baseURL, 46))
	fmt.Fprintf(a.out, "║  WebSocket:  %-46s ║\n", truncateString(wsURL, 46))
	fmt.Fprintf(a.out, "║  Channel:    %-46s ║\n", truncateString(a.cfg.Hub.MessageChannel, 46))
	fmt.Fprintln(a.out, "╚════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(a.out)

	log.Info().
		Str("instance_id", a.instanceID).
		Bool("deadlock_detection", chsync.DeadlockDetection).
		Str("addr", a.Addr()).
		Str("ws_url", wsURL).
		Msg("chatcast ready")
}

// baseURL is the configured external URL, or one built from the bound
// port so that port 0 shows the real port.
func (a *App) baseURL() string {
	server := a.cfg.Server
	if server.ExternalURL != "" {
		return server.ExternalURL
	}
	if _, portStr, err := net.SplitHostPort(a.Addr()); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil {
			server.Port = port
		}
	}
	return server.BaseURL()
}

// truncateString truncates a string for display.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
