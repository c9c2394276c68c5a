package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/hub"
	"github.com/brianly1003/chatcast/internal/security"
	"github.com/brianly1003/chatcast/internal/testutil"
)

type testEnv struct {
	hub    *hub.Hub
	tokens *security.TokenManager
	server *httptest.Server
}

func newTestEnv(t *testing.T, hubOpts hub.Options) *testEnv {
	t.Helper()

	h := hub.New(testutil.NewMockAuthorizer(), hubOpts)
	if err := h.Start(); err != nil {
		t.Fatalf("hub start: %v", err)
	}

	tokens, err := security.NewTokenManager("websocket-test-secret", "chatcast", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	handler, err := NewHandler(h, tokens, Options{PongWait: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		_ = h.Stop()
	})
	return &testEnv{hub: h, tokens: tokens, server: server}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http")
}

func (e *testEnv) dial(t *testing.T, principal string, subprotocols ...string) (*websocket.Conn, events.Encoding) {
	t.Helper()

	token, _, err := e.tokens.Generate(principal)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	dialer := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(e.wsURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	enc := events.EncodingForSubprotocol(conn.Subprotocol())
	if f := readFrame(t, conn, enc); f.Event != string(events.EventTypeConnectionEstablished) {
		t.Fatalf("first frame = %q, want connection_established", f.Event)
	}
	return conn, enc
}

func readFrame(t *testing.T, conn *websocket.Conn, enc events.Encoding) events.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if enc.Binary() && msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary for %s", msgType, enc)
	}
	f, err := enc.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func sendCommand(t *testing.T, conn *websocket.Conn, enc events.Encoding, cmd events.Command) {
	t.Helper()
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	msgType := websocket.TextMessage
	if enc == events.EncodingCBOR {
		raw, err = events.EncodingCBOR.EncodeFrame(events.Frame{Event: cmd.Event, Channel: cmd.Channel})
		if err != nil {
			t.Fatal(err)
		}
		msgType = websocket.BinaryMessage
	}
	if err := conn.WriteMessage(msgType, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, hub.Options{})

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	if err == nil {
		t.Fatal("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL()+"?token=cc_bogus.sig", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("invalid token should be rejected with 401, got err=%v", err)
	}
}

func TestHandler_BearerHeader(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	token, _, _ := env.tokens.Generate("7")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	if err != nil {
		t.Fatalf("dial with bearer token: %v", err)
	}
	defer conn.Close()

	f := readFrame(t, conn, events.EncodingJSON)
	var payload events.ConnectionPayload
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Principal != "7" || payload.ConnectionID == "" {
		t.Errorf("connection payload = %+v", payload)
	}
}

func TestHandler_SubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, enc := env.dial(t, "7")

	sendCommand(t, conn, enc, events.Command{Event: events.CommandSubscribe, Channel: "everyone"})
	f := readFrame(t, conn, enc)
	if f.Event != string(events.EventTypeSubscriptionSucceeded) || f.Channel != "everyone" {
		t.Fatalf("reply = %+v, want subscription_succeeded on everyone", f)
	}

	msg := events.NewChatMessage(1, 7, "hello", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if _, err := env.hub.OnMessageStored(context.Background(), msg); err != nil {
		t.Fatalf("OnMessageStored: %v", err)
	}

	f = readFrame(t, conn, enc)
	if f.Event != string(events.EventTypeMessageCreated) || f.Seq != 1 {
		t.Fatalf("frame = %+v, want message-created seq 1", f)
	}
	var got events.ChatMessage
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got != msg {
		t.Errorf("payload = %+v, want %+v", got, msg)
	}
}

func TestHandler_SubscriptionErrors(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, enc := env.dial(t, "7")

	tests := []struct {
		channel string
		code    string
	}{
		{"private-user.8", domain.ErrCodeUnauthorized},
		{"bad name", domain.ErrCodeInvalidChannelName},
	}
	for _, tt := range tests {
		sendCommand(t, conn, enc, events.Command{Event: events.CommandSubscribe, Channel: tt.channel})
		f := readFrame(t, conn, enc)
		if f.Event != string(events.EventTypeSubscriptionError) {
			t.Fatalf("reply for %q = %q, want subscription_error", tt.channel, f.Event)
		}
		var ep events.ErrorPayload
		if err := json.Unmarshal(f.Data, &ep); err != nil {
			t.Fatal(err)
		}
		if ep.Code != tt.code {
			t.Errorf("code for %q = %s, want %s", tt.channel, ep.Code, tt.code)
		}
	}

	sendCommand(t, conn, enc, events.Command{Event: events.CommandSubscribe, Channel: "private-user.7"})
	if f := readFrame(t, conn, enc); f.Event != string(events.EventTypeSubscriptionSucceeded) {
		t.Errorf("own private channel reply = %q, want subscription_succeeded", f.Event)
	}
}

func TestHandler_PingAndUnknownCommand(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, enc := env.dial(t, "7")

	sendCommand(t, conn, enc, events.Command{Event: events.CommandPing})
	if f := readFrame(t, conn, enc); f.Event != string(events.EventTypePong) {
		t.Errorf("reply = %q, want pong", f.Event)
	}

	sendCommand(t, conn, enc, events.Command{Event: "dance"})
	f := readFrame(t, conn, enc)
	var ep events.ErrorPayload
	_ = json.Unmarshal(f.Data, &ep)
	if f.Event != string(events.EventTypeError) || ep.Code != domain.ErrCodeInvalidCommand {
		t.Errorf("reply = %+v, want INVALID_COMMAND error", f)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn, enc); f.Event != string(events.EventTypeError) {
		t.Errorf("malformed command reply = %q, want error", f.Event)
	}
}

func TestHandler_Unsubscribe(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, enc := env.dial(t, "7")

	sendCommand(t, conn, enc, events.Command{Event: events.CommandSubscribe, Channel: "news"})
	readFrame(t, conn, enc)
	sendCommand(t, conn, enc, events.Command{Event: events.CommandUnsubscribe, Channel: "news"})
	if f := readFrame(t, conn, enc); f.Event != string(events.EventTypeUnsubscribed) {
		t.Fatalf("reply = %q, want unsubscribed", f.Event)
	}

	if members := env.hub.Registry().MembersOf("news"); len(members) != 0 {
		t.Errorf("members after unsubscribe = %v", members)
	}
}

func TestHandler_CBORSubprotocol(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, enc := env.dial(t, "7", events.SubprotocolCBOR)
	if enc != events.EncodingCBOR {
		t.Fatalf("negotiated %s, want cbor", enc)
	}

	sendCommand(t, conn, enc, events.Command{Event: events.CommandSubscribe, Channel: "everyone"})
	if f := readFrame(t, conn, enc); f.Event != string(events.EventTypeSubscriptionSucceeded) {
		t.Fatalf("reply = %q, want subscription_succeeded", f.Event)
	}

	if _, err := env.hub.Publish(context.Background(), "everyone", events.EventTypeMessageCreated, map[string]int{"id": 3}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn, enc)
	if f.Seq != 1 || string(f.Data) != `{"id":3}` {
		t.Errorf("frame = %+v data %s", f, f.Data)
	}
}

func TestHandler_CloseDeregisters(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, _ := env.dial(t, "7")

	if n := env.hub.Registry().ConnectionCount(); n != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", n)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitFor(t, func() bool { return env.hub.Registry().ConnectionCount() == 0 },
		"connection should be deregistered after the client closes")
}

func TestHandler_HubStopClosesClients(t *testing.T) {
	env := newTestEnv(t, hub.Options{})
	conn, _ := env.dial(t, "7")

	if err := env.hub.Stop(); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after hub stop = %v, want normal close", err)
	}
}

func TestHandler_CapacityRefused(t *testing.T) {
	env := newTestEnv(t, hub.Options{MaxConnections: 1})
	env.dial(t, "7")

	token, _, _ := env.tokens.Generate("8")
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("read = %v, want try-again-later close", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"query", "/ws?token=abc", "", "abc"},
		{"bearer", "/ws", "Bearer xyz", "xyz"},
		{"bearer wins", "/ws?token=abc", "Bearer xyz", "xyz"},
		{"basic ignored", "/ws?token=abc", "Basic Zm9v", "abc"},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := tokenFromRequest(r); got != tt.want {
				t.Errorf("tokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
