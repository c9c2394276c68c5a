package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/hub"
	"github.com/brianly1003/chatcast/internal/security"
	"github.com/brianly1003/chatcast/internal/server/http/middleware"
	wsserver "github.com/brianly1003/chatcast/internal/server/websocket"
	"github.com/brianly1003/chatcast/internal/store"
)

var testNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

type testEnv struct {
	hub    *hub.Hub
	store  *store.Store
	tokens *security.TokenManager
	server *Server
}

type envOption func(*Options)

func newTestEnv(t *testing.T, startHub bool, opts ...envOption) *testEnv {
	t.Helper()

	st, err := store.Open(store.Options{
		Path:             filepath.Join(t.TempDir(), "chatcast.db"),
		MaxMessageLength: 50,
		Now:              func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := hub.New(security.NewAuthorizer(st), hub.Options{})
	if startHub {
		if err := h.Start(); err != nil {
			t.Fatalf("hub start: %v", err)
		}
		t.Cleanup(func() { _ = h.Stop() })
	}

	tokens, err := security.NewTokenManager("http-test-secret-0123", "chatcast", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	o := Options{Operators: []string{"ops"}, MaxListLimit: 2, Now: func() time.Time { return testNow }}
	for _, opt := range opts {
		opt(&o)
	}
	srv, err := New(h, st, tokens, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{hub: h, store: st, tokens: tokens, server: srv}
}

func (e *testEnv) token(t *testing.T, principal string) string {
	t.Helper()
	token, _, err := e.tokens.Generate(principal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, principal string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatal(err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, principal))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" || resp.Time != "2024-03-05T14:07:09Z" {
		t.Errorf("unexpected health response %+v", resp)
	}

	if rec := env.do(t, http.MethodPost, "/health", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health status = %d, want 405", rec.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/api/stats", "ops", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[StatsResponse](t, rec)
	if resp.Hub.Dispatcher.Workers != hub.DefaultWorkers {
		t.Errorf("workers = %d, want %d", resp.Hub.Dispatcher.Workers, hub.DefaultWorkers)
	}
}

func TestStats_HidesPrivateChannels(t *testing.T) {
	env := newTestEnv(t, true)

	conn, err := env.hub.OnConnectionOpened("alice", events.EncodingJSON)
	if err != nil {
		t.Fatalf("OnConnectionOpened: %v", err)
	}
	decision, err := env.hub.OnSubscribeRequest(context.Background(), conn.ID(), "private-user.alice")
	if err != nil || decision != domain.DecisionAuthorized {
		t.Fatalf("subscribe = %v, %v", decision, err)
	}

	tests := []struct {
		name      string
		principal string
		status    int
		code      string
	}{
		{"anonymous", "", http.StatusUnauthorized, ErrCodeUnauthenticated},
		{"not an operator", "alice", http.StatusForbidden, ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/stats", tt.principal, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if strings.Contains(rec.Body.String(), "private-user.alice") {
				t.Errorf("response leaks channel name: %s", rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"bad token", "Bearer cc_nope.nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != ErrCodeUnauthenticated {
				t.Errorf("code = %q", resp.Code)
			}
		})
	}
}

func TestCreateMessage(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/messages", "7", CreateMessageRequest{Text: "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	resp := decode[MessageResponse](t, rec)
	if !resp.Live || resp.Sequence != 1 {
		t.Errorf("live=%v seq=%d, want live seq 1", resp.Live, resp.Sequence)
	}
	want := events.ChatMessage{ID: 1, UserID: 7, Text: "hello", Time: "05-03-2024-14-07-09"}
	if resp.Message != want {
		t.Errorf("message = %+v, want %+v", resp.Message, want)
	}

	rec = env.do(t, http.MethodPost, "/api/messages", "7", CreateMessageRequest{Text: "again"})
	if resp := decode[MessageResponse](t, rec); resp.Sequence != 2 {
		t.Errorf("second seq = %d, want 2", resp.Sequence)
	}
}

func TestCreateMessage_StoredWithoutNotification(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/messages", "7", CreateMessageRequest{Text: "hello"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if resp := decode[MessageResponse](t, rec); resp.Live || resp.Message.ID != 1 {
		t.Errorf("unexpected response %+v", resp)
	}

	list := decode[MessagesResponse](t, env.do(t, http.MethodGet, "/api/messages", "7", nil))
	if len(list.Messages) != 1 || list.Messages[0].Text != "hello" {
		t.Errorf("stored messages = %+v", list.Messages)
	}
}

func TestCreateMessage_Rejected(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name      string
		principal string
		body      interface{}
		status    int
		code      string
	}{
		{"non numeric principal", "ops", CreateMessageRequest{Text: "hi"}, http.StatusForbidden, ErrCodeForbidden},
		{"empty text", "7", CreateMessageRequest{}, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
		{"blank text", "7", CreateMessageRequest{Text: "   "}, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
		{"too long", "7", CreateMessageRequest{Text: strings.Repeat("x", 51)}, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
		{"unknown field", "7", `{"text":"hi","user_id":9}`, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
		{"malformed json", "7", `{"text":`, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/messages", tt.principal, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestListMessages_Paging(t *testing.T) {
	env := newTestEnv(t, true)
	for _, text := range []string{"one", "two", "three"} {
		if rec := env.do(t, http.MethodPost, "/api/messages", "3", CreateMessageRequest{Text: text}); rec.Code != http.StatusCreated {
			t.Fatalf("create %q: %d", text, rec.Code)
		}
	}

	// limit is capped at MaxListLimit (2)
	page := decode[MessagesResponse](t, env.do(t, http.MethodGet, "/api/messages?limit=10", "3", nil))
	if len(page.Messages) != 2 || page.Messages[0].Text != "three" || page.Messages[1].Text != "two" {
		t.Fatalf("first page = %+v", page.Messages)
	}
	if page.NextBefore != 2 {
		t.Errorf("next_before = %d, want 2", page.NextBefore)
	}

	page = decode[MessagesResponse](t, env.do(t, http.MethodGet, "/api/messages?before=2", "3", nil))
	if len(page.Messages) != 1 || page.Messages[0].Text != "one" {
		t.Errorf("second page = %+v", page.Messages)
	}

	if rec := env.do(t, http.MethodGet, "/api/messages?limit=-1", "3", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", rec.Code)
	}
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t, true)

	body := BroadcastRequest{Channel: "announcements", Event: "maintenance", Data: json.RawMessage(`{"at":"22:00"}`)}

	if rec := env.do(t, http.MethodPost, "/api/broadcast", "7", body); rec.Code != http.StatusForbidden {
		t.Errorf("non-operator status = %d, want 403", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/broadcast", "ops", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	resp := decode[BroadcastResponse](t, rec)
	if resp.Channel != "announcements" || resp.Event != "maintenance" || resp.Sequence != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestBroadcast_Rejected(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"bad channel", BroadcastRequest{Channel: "no spaces", Event: "x", Data: json.RawMessage(`1`)}, http.StatusBadRequest, domain.ErrCodeInvalidChannelName},
		{"bad private channel", BroadcastRequest{Channel: "private-user", Event: "x", Data: json.RawMessage(`1`)}, http.StatusBadRequest, domain.ErrCodeInvalidChannelName},
		{"missing event", `{"channel":"a","data":{}}`, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
		{"missing data", `{"channel":"a","event":"x"}`, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
		{"null data", `{"channel":"a","event":"x","data":null}`, http.StatusBadRequest, domain.ErrCodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/broadcast", "ops", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestBroadcast_HubStopped(t *testing.T) {
	env := newTestEnv(t, false)

	body := BroadcastRequest{Channel: "everyone", Event: "x", Data: json.RawMessage(`{}`)}
	rec := env.do(t, http.MethodPost, "/api/broadcast", "ops", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMembers(t *testing.T) {
	env := newTestEnv(t, true)
	const path = "/api/conversations/42/members"

	if rec := env.do(t, http.MethodPost, path, "7", MemberRequest{Principal: "7"}); rec.Code != http.StatusForbidden {
		t.Errorf("non-operator status = %d, want 403", rec.Code)
	}

	for _, p := range []string{"7", "8"} {
		rec := env.do(t, http.MethodPost, path, "ops", MemberRequest{Principal: p})
		if rec.Code != http.StatusCreated {
			t.Fatalf("add %s: status = %d: %s", p, rec.Code, rec.Body.String())
		}
	}

	resp := decode[MembersResponse](t, env.do(t, http.MethodGet, path, "ops", nil))
	if resp.Conversation != "42" || len(resp.Members) != 2 || resp.Members[0] != "7" || resp.Members[1] != "8" {
		t.Errorf("members = %+v", resp)
	}

	if rec := env.do(t, http.MethodDelete, path+"/8", "ops", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, path+"/8", "ops", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, "/api/conversations/a%20b/members", "ops", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid conversation status = %d, want 400", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, true, func(o *Options) { o.AllowedOrigins = []string{"https://chat.example.com"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.WithRate(0.001), middleware.WithBurst(1))
	t.Cleanup(limiter.Close)
	env := newTestEnv(t, true, func(o *Options) { o.RateLimiter = limiter })

	if rec := env.do(t, http.MethodGet, "/api/messages", "7", nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/messages", "7", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
	// buckets are per principal
	if rec := env.do(t, http.MethodGet, "/api/messages", "8", nil); rec.Code != http.StatusOK {
		t.Errorf("other principal status = %d, want 200", rec.Code)
	}
}

func TestStartServeStop(t *testing.T) {
	env := newTestEnv(t, true, func(o *Options) { o.Addr = "127.0.0.1:0" })

	if err := env.server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- env.server.Serve() }()

	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.server.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Serve returned %v, want nil", err)
	}
}

// TestMessageReachesSubscriber posts over REST and reads the notification
// from a websocket subscriber of the message channel.
func TestMessageReachesSubscriber(t *testing.T) {
	env := newTestEnv(t, true)

	ws, err := wsserver.NewHandler(env.hub, env.tokens, wsserver.Options{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv, err := New(env.hub, env.store, env.tokens, Options{WebSocket: ws})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?token="+env.token(t, "9"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readEvent := func() events.Frame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		f, err := events.EncodingJSON.DecodeFrame(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return f
	}

	if f := readEvent(); f.Event != string(events.EventTypeConnectionEstablished) {
		t.Fatalf("first frame = %q", f.Event)
	}
	if err := conn.WriteJSON(events.Command{Event: events.CommandSubscribe, Channel: hub.DefaultChannel}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if f := readEvent(); f.Event != string(events.EventTypeSubscriptionSucceeded) {
		t.Fatalf("subscribe reply = %q", f.Event)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/messages", strings.NewReader(`{"text":"hi there"}`))
	req.Header.Set("Authorization", "Bearer "+env.token(t, "9"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}

	f := readEvent()
	if f.Event != string(events.EventTypeMessageCreated) || f.Channel != hub.DefaultChannel || f.Seq != 1 {
		t.Fatalf("unexpected frame %+v", f)
	}
	var msg events.ChatMessage
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Text != "hi there" || msg.UserID != 9 {
		t.Errorf("message = %+v", msg)
	}
}
