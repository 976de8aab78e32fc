package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the monitor's full configuration, loaded from an optional YAML
// file with SEALBRIDGE_* environment overrides.
type Config struct {
	// Relay is the HTTP(S) origin of the relay that proxies messages to the
	// desktop bridge, e.g. "https://boxoffice.example.com".
	Relay RelayConfig `mapstructure:"relay"`
	// Listen is where the monitor serves its local status API.
	Listen ListenConfig `mapstructure:"listen"`
	Logger LoggerConfig `mapstructure:"logger"`
}

// RelayConfig describes the upstream relay and the session timing knobs.
type RelayConfig struct {
	URL            string `mapstructure:"url"`
	BridgePath     string `mapstructure:"bridgePath"`
	BootstrapPath  string `mapstructure:"bootstrapPath"`
	SessionCookie  string `mapstructure:"sessionCookie"` // ambient credential, "name=value"
	HeartbeatSecs  int    `mapstructure:"heartbeatSeconds"`
	ReconnectSecs  int    `mapstructure:"reconnectSeconds"`
	OperationSecs  int    `mapstructure:"operationTimeoutSeconds"`
	QuerySecs      int    `mapstructure:"queryTimeoutSeconds"`
	BootstrapSecs  int    `mapstructure:"bootstrapTimeoutSeconds"`
}

// ListenConfig is the local HTTP bind address.
type ListenConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggerConfig controls the in-memory buffer and minimum level.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	BufferSize int    `mapstructure:"bufferSize"`
}

// Load reads configuration from the given YAML file (optional, pass "" to
// skip) and from SEALBRIDGE_* environment variables, applying defaults for
// everything left unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEALBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("relay.url", "https://localhost:8443")
	v.SetDefault("relay.bridgePath", "/ws/bridge")
	v.SetDefault("relay.bootstrapPath", "/api/bridge/status")
	v.SetDefault("relay.heartbeatSeconds", 30)
	v.SetDefault("relay.reconnectSeconds", 5)
	v.SetDefault("relay.operationTimeoutSeconds", 15)
	v.SetDefault("relay.queryTimeoutSeconds", 10)
	v.SetDefault("relay.bootstrapTimeoutSeconds", 10)
	v.SetDefault("listen.host", "127.0.0.1")
	v.SetDefault("listen.port", 32460)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.bufferSize", 1000)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Address formats the local listen address as host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Listen.Host, c.Listen.Port)
}

// ChannelURL derives the duplex channel address from the relay origin,
// upgrading the scheme to its WebSocket equivalent and appending the fixed
// bridge path.
func (r RelayConfig) ChannelURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", r.URL, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = r.BridgePath
	return u.String(), nil
}

// BootstrapURL is the one-shot status endpoint on the relay.
func (r RelayConfig) BootstrapURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", r.URL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = r.BootstrapPath
	return u.String(), nil
}

// HeartbeatInterval is how often the session probes channel liveness.
func (r RelayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatSecs) * time.Second
}

// ReconnectDelay is the fixed wait before re-opening a failed channel.
func (r RelayConfig) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectSecs) * time.Second
}

// OperationTimeout bounds seal, PIN and PUK requests.
func (r RelayConfig) OperationTimeout() time.Duration {
	return time.Duration(r.OperationSecs) * time.Second
}

// QueryTimeout bounds retry-counter queries.
func (r RelayConfig) QueryTimeout() time.Duration {
	return time.Duration(r.QuerySecs) * time.Second
}

// BootstrapTimeout bounds the startup status fetch.
func (r RelayConfig) BootstrapTimeout() time.Duration {
	return time.Duration(r.BootstrapSecs) * time.Second
}
