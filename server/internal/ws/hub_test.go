package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/energytracker/energytracker/server/internal/relay"
	wsHub "github.com/energytracker/energytracker/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// calculator writes a fake energy_tracker shell script and returns a relay
// pointing at it.
func calculator(t *testing.T, script string) *relay.Relay {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake calculators are shell scripts")
	}
	p := filepath.Join(t.TempDir(), "energy_tracker")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return relay.New(relay.Settings{Path: p, Name: "energy_tracker", Label: "C++"}, nil)
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cancel function.
func startHub(t *testing.T, rl *relay.Relay) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(rl, 1<<16)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip sends payload as one text frame and decodes the reply.
func roundTrip(t *testing.T, conn *websocket.Conn, payload string) map[string]interface{} {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return m
}

// --- tests ------------------------------------------------------------------

func TestHub_CalculateFrame(t *testing.T) {
	wsURL, _, _ := startHub(t, calculator(t, `cat >/dev/null; printf '{"cost": 1.5}'`))
	conn := dial(t, wsURL)

	m := roundTrip(t, conn, `{"usage_kwh": 10}`)

	if m["status"].(float64) != http.StatusOK {
		t.Errorf("status: got %v, want 200", m["status"])
	}
	if m["request_id"] == "" {
		t.Error("request_id: missing")
	}
	body, ok := m["body"].(map[string]interface{})
	if !ok || body["cost"] != 1.5 {
		t.Errorf("body: got %v, want {cost: 1.5}", m["body"])
	}
}

func TestHub_FramesAnsweredInOrder(t *testing.T) {
	wsURL, _, _ := startHub(t, calculator(t, `cat`))
	conn := dial(t, wsURL)

	for _, in := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		m := roundTrip(t, conn, in)
		raw, _ := json.Marshal(m["body"])
		if string(raw) != in {
			t.Errorf("reply body: got %s, want %s", raw, in)
		}
	}
}

func TestHub_InvalidFrame(t *testing.T) {
	wsURL, _, _ := startHub(t, calculator(t, `cat`))
	conn := dial(t, wsURL)

	m := roundTrip(t, conn, `not json`)
	if m["status"].(float64) != http.StatusBadRequest {
		t.Errorf("status: got %v, want 400", m["status"])
	}

	// The connection survives a bad frame.
	m = roundTrip(t, conn, `{}`)
	if m["status"].(float64) != http.StatusOK {
		t.Errorf("status after bad frame: got %v, want 200", m["status"])
	}
}

func TestHub_ProcessFailure(t *testing.T) {
	wsURL, _, _ := startHub(t, calculator(t, `cat >/dev/null; echo 'boom' >&2; exit 1`))
	conn := dial(t, wsURL)

	m := roundTrip(t, conn, `{}`)
	if m["status"].(float64) != http.StatusInternalServerError {
		t.Errorf("status: got %v, want 500", m["status"])
	}
	body := m["body"].(map[string]interface{})
	if body["error"] != "C++ calculation failed" || body["details"] != "boom\n" {
		t.Errorf("body: got %v", body)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, calculator(t, `cat`))

	conn := dial(t, wsURL)
	roundTrip(t, conn, `{}`)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, calculator(t, `cat`))

	conn := dial(t, wsURL)
	roundTrip(t, conn, `{}`)

	cancel()

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed after cancel")
	}
}

// slowCalculator returns a relay whose calculator touches marker only if it
// is allowed to run for a full second.
func slowCalculator(t *testing.T) (rl *relay.Relay, marker string) {
	t.Helper()
	marker = filepath.Join(t.TempDir(), "finished")
	return calculator(t, `cat >/dev/null; sleep 1; touch '`+marker+`'`), marker
}

func assertKilled(t *testing.T, marker string) {
	t.Helper()
	time.Sleep(1500 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Error("calculator ran to completion; want it killed")
	}
}

func TestHub_DisconnectKillsCalculation(t *testing.T) {
	rl, marker := slowCalculator(t)
	wsURL, hub, _ := startHub(t, rl)
	conn := dial(t, wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	conn.Close()

	assertKilled(t, marker)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_ShutdownKillsCalculation(t *testing.T) {
	rl, marker := slowCalculator(t)
	wsURL, _, cancel := startHub(t, rl)
	conn := dial(t, wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	cancel()

	assertKilled(t, marker)
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(relay.New(relay.Settings{}, nil), 0)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
