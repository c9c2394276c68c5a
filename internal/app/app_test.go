package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/brianly1003/chatcast/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Store.Path = filepath.Join(t.TempDir(), "chatcast.db")
	cfg.Auth.TokenSecret = "app-test-secret-0123456789"
	cfg.Logging.Level = "info"
	return cfg
}

// startApp runs the app until the test ends.
func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	app.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(ctx) }()

	select {
	case <-app.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("Start() error = %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("app did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() returned %v after cancel", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	return app
}

func TestNew(t *testing.T) {
	cfg := newTestConfig(t)

	app, err := New(cfg, "1.0.0")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if app.GetConfig() != cfg {
		t.Error("config not set correctly")
	}
	if app.version != "1.0.0" {
		t.Errorf("version = %s, want 1.0.0", app.version)
	}
	if app.InstanceID() == "" {
		t.Error("instance id should be generated")
	}
	if app.GetHub() != nil {
		t.Error("hub should not be built before Start")
	}
	if app.running {
		t.Error("app should not be running initially")
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "1.0.0"); err == nil {
		t.Error("New(nil) should fail")
	}
}

func TestNew_UniqueInstanceID(t *testing.T) {
	cfg := newTestConfig(t)
	app1, _ := New(cfg, "1.0.0")
	app2, _ := New(cfg, "1.0.0")

	if app1.InstanceID() == app2.InstanceID() {
		t.Error("each app should have a unique instance id")
	}
}

func TestApp_Start_AlreadyRunning(t *testing.T) {
	app, _ := New(newTestConfig(t), "1.0.0")
	app.running = true

	err := app.Start(context.Background())
	if err == nil || err.Error() != "application is already running" {
		t.Errorf("Start() error = %v, want 'application is already running'", err)
	}
}

func TestApp_Start_BadPruneSchedule(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Store.PruneSchedule = "not a schedule"

	app, _ := New(cfg, "1.0.0")
	if err := app.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail on an invalid prune schedule")
	}
	if app.running {
		t.Error("app should not be running after a failed start")
	}
}

func TestApp_shutdown_NotRunning(t *testing.T) {
	app, _ := New(newTestConfig(t), "1.0.0")

	if err := app.shutdown(); err != nil {
		t.Errorf("shutdown() when not running should return nil, got %v", err)
	}
}

func TestApp_ServesHealth(t *testing.T) {
	app := startApp(t, newTestConfig(t))

	resp, err := http.Get("http://" + app.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if !app.GetHub().IsRunning() {
		t.Error("hub should be running")
	}
}

func TestApp_BaseURLUsesBoundPort(t *testing.T) {
	app := startApp(t, newTestConfig(t))

	url := app.baseURL()
	if strings.HasSuffix(url, ":0") {
		t.Errorf("baseURL() = %s, should carry the bound port", url)
	}
	if !strings.HasSuffix(url, app.Addr()[strings.LastIndex(app.Addr(), ":"):]) {
		t.Errorf("baseURL() = %s, addr = %s", url, app.Addr())
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	app := startApp(t, newTestConfig(t))

	next := newTestConfig(t)
	next.Logging.Level = "error"
	next.Hub.MaxIdle = 7 * time.Minute
	next.Hub.MaxMissed = 3
	next.Hub.ChannelRetention = time.Minute
	next.Auth.Operators = []string{"ops"}
	app.ApplyConfig(next)

	limits := app.GetHub().Reaper().Limits()
	if limits.MaxIdle != 7*time.Minute || limits.MaxMissed != 3 || limits.ChannelRetention != time.Minute {
		t.Errorf("reaper limits not applied: %+v", limits)
	}
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Errorf("log level = %s, want error", zerolog.GlobalLevel())
	}
	if got := app.GetConfig().Auth.Operators; len(got) != 1 || got[0] != "ops" {
		t.Errorf("operators = %v", got)
	}
}

func TestApp_ApplyConfig_BeforeStart(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	app, _ := New(newTestConfig(t), "1.0.0")
	next := newTestConfig(t)
	next.Hub.MaxMissed = 9
	app.ApplyConfig(next)

	if app.GetConfig().Hub.MaxMissed != 9 {
		t.Errorf("MaxMissed = %d, want 9", app.GetConfig().Hub.MaxMissed)
	}
}

func TestPruneRevocations(t *testing.T) {
	app := startApp(t, newTestConfig(t))

	token, _, err := app.tokens.Generate("7")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := app.tokens.Revoke(token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Fresh revocations are kept.
	if removed := app.pruneRevocations("test"); removed != 0 {
		t.Errorf("pruned %d fresh revocations", removed)
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcdef", 6, "abcdef"},
		{"long", "abcdefghij", 8, "abcde..."},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
