package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prendiax/backend/internal/auth"
)

type tokenResolver map[string]auth.Identity

func (r tokenResolver) Resolve(request *http.Request) (auth.Identity, error) {
	identity, ok := r[request.URL.Query().Get("access_token")]
	if !ok {
		return 0, auth.ErrUnauthenticated
	}
	return identity, nil
}

type userSet map[auth.Identity]bool

func (s userSet) Exists(_ context.Context, identity auth.Identity) (bool, error) {
	return s[identity], nil
}

func newLifecycleServer(t *testing.T) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry(nil)
	handler, err := NewHandler(HandlerConfig{
		Registry: registry,
		Resolver: tokenResolver{"token-g": 7, "token-c": 3, "token-ghost": 40},
		Users:    userSet{7: true, 3: true},
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, "")
	})
	mux.HandleFunc("/chats/ws/", func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/chats/ws/"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, registry
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func expectPolicyClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestLifecycleRejectsInvalidToken(t *testing.T) {
	server, registry := newLifecycleServer(t)

	conn := dial(t, server, "/ws?access_token=expired")
	expectPolicyClose(t, conn)
	if len(registry.Identities()) != 0 {
		t.Fatalf("expected no registry entries, got %v", registry.Identities())
	}
}

func TestLifecycleRejectsMismatchedOrUnknownIdentity(t *testing.T) {
	server, registry := newLifecycleServer(t)

	expectPolicyClose(t, dial(t, server, "/chats/ws/8?access_token=token-g"))
	expectPolicyClose(t, dial(t, server, "/chats/ws/abc?access_token=token-g"))
	expectPolicyClose(t, dial(t, server, "/ws?access_token=token-ghost"))

	if len(registry.Identities()) != 0 {
		t.Fatalf("expected no registry entries, got %v", registry.Identities())
	}
}

func TestLifecycleAnswersEveryFrameWithPing(t *testing.T) {
	server, registry := newLifecycleServer(t)
	conn := dial(t, server, "/chats/ws/7?access_token=token-g")
	waitFor(t, "registration", func() bool { return registry.ConnectionCount(7) == 1 })

	for _, inbound := range []string{"hola", `{"type":"anything"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(inbound)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(frame) != `{"type":"ping"}` {
			t.Fatalf("expected ping frame, got %s", frame)
		}
	}
}

func TestLifecycleFansOutToEveryTab(t *testing.T) {
	server, registry := newLifecycleServer(t)
	first := dial(t, server, "/ws?access_token=token-g")
	second := dial(t, server, "/ws?access_token=token-g")
	waitFor(t, "two registrations", func() bool { return registry.ConnectionCount(7) == 2 })

	if delivered := registry.Send(7, map[string]string{"type": "chat", "contenido": "hola"}); delivered != 2 {
		t.Fatalf("expected delivery to both tabs, got %d", delivered)
	}
	for index, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("tab %d read: %v", index, err)
		}
		if string(frame) != `{"contenido":"hola","type":"chat"}` {
			t.Fatalf("tab %d unexpected frame %s", index, frame)
		}
	}
}

func TestLifecycleUnregistersOnAbruptDisconnect(t *testing.T) {
	server, registry := newLifecycleServer(t)
	conn := dial(t, server, "/ws?access_token=token-c")
	waitFor(t, "registration", func() bool { return registry.IsConnected(3) })

	// Drop the TCP connection without a close frame.
	if err := conn.UnderlyingConn().Close(); err != nil {
		t.Fatalf("close transport: %v", err)
	}
	waitFor(t, "unregistration", func() bool { return !registry.IsConnected(3) })

	if delivered := registry.Send(3, Ping{Type: EventPing}); delivered != 0 {
		t.Fatalf("expected send after disconnect to be a no-op, got %d", delivered)
	}
}

func TestLifecycleUnregistersOnGracefulClose(t *testing.T) {
	server, registry := newLifecycleServer(t)
	conn := dial(t, server, "/ws?access_token=token-c")
	waitFor(t, "registration", func() bool { return registry.IsConnected(3) })

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}
	waitFor(t, "unregistration", func() bool { return !registry.IsConnected(3) })
}

func TestStateNames(t *testing.T) {
	names := map[State]string{
		StateConnecting:     "connecting",
		StateAuthenticating: "authenticating",
		StateOpen:           "open",
		StateClosed:         "closed",
		State(42):           "unknown",
	}
	for state, expected := range names {
		if state.String() != expected {
			t.Fatalf("state %d: expected %q, got %q", int(state), expected, state.String())
		}
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.prendiax.com"})
	request := httptest.NewRequest(http.MethodGet, "http://api.prendiax.com/ws", nil)

	if !check(request) {
		t.Fatalf("expected request without origin to pass")
	}
	request.Header.Set("Origin", "https://app.prendiax.com")
	if !check(request) {
		t.Fatalf("expected configured origin to pass")
	}
	request.Header.Set("Origin", "https://evil.example")
	if check(request) {
		t.Fatalf("expected foreign origin to be rejected")
	}
	request.Header.Set("Origin", "http://api.prendiax.com")
	if !check(request) {
		t.Fatalf("expected same-host origin to pass")
	}
}
