package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/biglietto/sealbridge/internal/bridge"
	"github.com/biglietto/sealbridge/internal/status"
	"github.com/gorilla/websocket"
)

func dialTestWS(t *testing.T) (*websocket.Conn, *bridge.Session) {
	t.Helper()

	s := bridge.New(bridge.Config{ChannelURL: "ws://127.0.0.1:1/ws/bridge"})
	t.Cleanup(s.Stop)
	NewMux(s) // binds the session the handlers use

	srv := httptest.NewServer(InitWebSocket(s))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, s
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestWSInitialSnapshot(t *testing.T) {
	conn, _ := dialTestWS(t)

	msg := readWS(t, conn)
	if msg.Type != "status" {
		t.Fatalf("first message type = %q, want status", msg.Type)
	}

	var snap status.DeviceStatus
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if snap.BridgeConnected {
		t.Error("initial snapshot should report bridge disconnected")
	}
}

func TestWSGetStatusRequest(t *testing.T) {
	conn, _ := dialTestWS(t)
	readWS(t, conn) // initial snapshot

	if err := conn.WriteJSON(WSMessage{Type: "get_status", ID: "req-1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != "status" || msg.ID != "req-1" {
		t.Errorf("reply type=%q id=%q, want status/req-1", msg.Type, msg.ID)
	}
}

func TestWSVersionRequest(t *testing.T) {
	conn, _ := dialTestWS(t)
	readWS(t, conn)

	if err := conn.WriteJSON(WSMessage{Type: "version", ID: "v-1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != "version" {
		t.Fatalf("reply type = %q, want version", msg.Type)
	}
	var body map[string]string
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if body["version"] == "" {
		t.Error("version should never be empty")
	}
}

func TestWSUnknownTypeGetsError(t *testing.T) {
	conn, _ := dialTestWS(t)
	readWS(t, conn)

	if err := conn.WriteJSON(WSMessage{Type: "launch_missiles", ID: "x"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != "error" || msg.ID != "x" {
		t.Errorf("reply type=%q id=%q, want error/x", msg.Type, msg.ID)
	}
	if !strings.Contains(msg.Error, "launch_missiles") {
		t.Errorf("error = %q, should name the offending type", msg.Error)
	}
}

func TestWSInvalidJSONGetsError(t *testing.T) {
	conn, _ := dialTestWS(t)
	readWS(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != "error" {
		t.Errorf("reply type = %q, want error", msg.Type)
	}
}

func TestWSBroadcastOnStatusChange(t *testing.T) {
	conn, s := dialTestWS(t)
	readWS(t, conn)

	// Any store change fans out to connected clients.
	s.Store().Update(status.ApplyRelayUp)

	msg := readWS(t, conn)
	if msg.Type != "status" {
		t.Fatalf("broadcast type = %q, want status", msg.Type)
	}
	var snap status.DeviceStatus
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if !snap.RelayConnected {
		t.Error("broadcast should carry the new snapshot")
	}
}

func TestWSResetPinState(t *testing.T) {
	conn, s := dialTestWS(t)
	readWS(t, conn)

	if err := conn.WriteJSON(WSMessage{Type: "reset_pin_state", ID: "r-1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != "status" || msg.ID != "r-1" {
		t.Errorf("reply type=%q id=%q, want status/r-1", msg.Type, msg.ID)
	}
	if s.Snapshot().PinVerified {
		t.Error("reset should clear PIN state")
	}
}
