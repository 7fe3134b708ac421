package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wicara/internal/logging"
	"github.com/Tyrowin/wicara/internal/store"
)

const testOrigin = "http://localhost:8080"

// testEnv is a running relay backed by a temp-dir sqlite store.
type testEnv struct {
	srv   *Server
	store *store.GormStore
	http  *httptest.Server
	wsURL string
}

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	st := newTestStore(t)
	o := Options{
		Config: DefaultConfig(),
		Store:  st,
		Logger: logging.Discard(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	srv, err := New(o)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.Start()
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		if err := srv.hub.Shutdown(5 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
		ts.Close()
		_ = st.Close()
	})
	return &testEnv{
		srv:   srv,
		store: st,
		http:  ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// seedUsers creates accounts so messages from them can be persisted.
func (e *testEnv) seedUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := e.store.CreateUser(context.Background(), store.User{ID: id, Name: id}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func websocketDialer() *websocket.Dialer {
	return &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	conn, resp, err := websocketDialer().Dial(e.wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connectAs dials and authenticates, returning once the hub has the binding.
func (e *testEnv) connectAs(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t)
	e.authenticate(t, conn, userID)
	return conn
}

func (e *testEnv) authenticate(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	before := e.srv.hub.bindingFor(userID)
	sendJSON(t, conn, map[string]any{"type": "auth", "userId": userID})
	waitFor(t, "binding for "+userID, func() bool {
		c := e.srv.hub.bindingFor(userID)
		return c != nil && c != before
	})
}

func (e *testEnv) messagesBetween(t *testing.T, a, b string) []store.Message {
	t.Helper()
	msgs, err := e.store.ListMessagesBetween(context.Background(), a, b)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

// bindingFor returns the connection bound to userID, or nil.
func (h *Hub) bindingFor(userID string) *Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.bindings[userID]
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func sendRaw(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return data
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var frame map[string]any
	if err := json.Unmarshal(readRaw(t, conn), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

// expectSilence asserts nothing arrives within d. The connection cannot be
// read from again afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// counterValue reads a counter from the relay's registry by name and labels.
func (e *testEnv) counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := e.srv.metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
