package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Relay.URL != "https://localhost:8443" {
		t.Errorf("relay.url = %q, want default", cfg.Relay.URL)
	}
	if cfg.Relay.BridgePath != "/ws/bridge" {
		t.Errorf("relay.bridgePath = %q, want /ws/bridge", cfg.Relay.BridgePath)
	}
	if cfg.Address() != "127.0.0.1:32460" {
		t.Errorf("Address() = %q, want 127.0.0.1:32460", cfg.Address())
	}
	if cfg.Relay.HeartbeatInterval() != 30*time.Second {
		t.Errorf("heartbeat = %v, want 30s", cfg.Relay.HeartbeatInterval())
	}
	if cfg.Relay.ReconnectDelay() != 5*time.Second {
		t.Errorf("reconnect = %v, want 5s", cfg.Relay.ReconnectDelay())
	}
	if cfg.Relay.OperationTimeout() != 15*time.Second {
		t.Errorf("operation timeout = %v, want 15s", cfg.Relay.OperationTimeout())
	}
	if cfg.Relay.QueryTimeout() != 10*time.Second {
		t.Errorf("query timeout = %v, want 10s", cfg.Relay.QueryTimeout())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
relay:
  url: https://venue.example.com
  sessionCookie: session=abc123
listen:
  port: 9000
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Relay.URL != "https://venue.example.com" {
		t.Errorf("relay.url = %q", cfg.Relay.URL)
	}
	if cfg.Relay.SessionCookie != "session=abc123" {
		t.Errorf("sessionCookie = %q", cfg.Relay.SessionCookie)
	}
	if cfg.Listen.Port != 9000 {
		t.Errorf("listen.port = %d, want 9000", cfg.Listen.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Listen.Host != "127.0.0.1" {
		t.Errorf("listen.host = %q, want default", cfg.Listen.Host)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger.level = %q, want debug", cfg.Logger.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestChannelURLSchemeUpgrade(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://relay.example.com", "wss://relay.example.com/ws/bridge"},
		{"http://localhost:8080", "ws://localhost:8080/ws/bridge"},
		{"wss://relay.example.com", "wss://relay.example.com/ws/bridge"},
		{"ws://localhost:8080", "ws://localhost:8080/ws/bridge"},
	}
	for _, tt := range tests {
		r := RelayConfig{URL: tt.url, BridgePath: "/ws/bridge"}
		got, err := r.ChannelURL()
		if err != nil {
			t.Errorf("ChannelURL(%q) failed: %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ChannelURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestChannelURLRejectsBadInput(t *testing.T) {
	r := RelayConfig{URL: "ftp://relay.example.com", BridgePath: "/ws/bridge"}
	if _, err := r.ChannelURL(); err == nil {
		t.Error("Expected error for unsupported scheme")
	}

	r = RelayConfig{URL: "://broken", BridgePath: "/ws/bridge"}
	if _, err := r.ChannelURL(); err == nil {
		t.Error("Expected error for unparseable URL")
	}
}

func TestBootstrapURLSchemeDowngrade(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"wss://relay.example.com", "https://relay.example.com/api/bridge/status"},
		{"ws://localhost:8080", "http://localhost:8080/api/bridge/status"},
		{"https://relay.example.com", "https://relay.example.com/api/bridge/status"},
	}
	for _, tt := range tests {
		r := RelayConfig{URL: tt.url, BootstrapPath: "/api/bridge/status"}
		got, err := r.BootstrapURL()
		if err != nil {
			t.Errorf("BootstrapURL(%q) failed: %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("BootstrapURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SEALBRIDGE_RELAY_URL", "https://env.example.com")
	t.Setenv("SEALBRIDGE_LISTEN_PORT", "4000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Relay.URL != "https://env.example.com" {
		t.Errorf("relay.url = %q, want env override", cfg.Relay.URL)
	}
	if cfg.Listen.Port != 4000 {
		t.Errorf("listen.port = %d, want 4000", cfg.Listen.Port)
	}
}
