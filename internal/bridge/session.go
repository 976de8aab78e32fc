package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/biglietto/sealbridge/internal/logging"
	"github.com/biglietto/sealbridge/internal/protocol"
	"github.com/biglietto/sealbridge/internal/status"
	"github.com/gorilla/websocket"
)

// Connection lifecycle states. The session holds at most one channel; all
// transitions are guarded by Session.mu.
type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateOpen
	stateClosing
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultOperationTimeout  = 15 * time.Second
	defaultQueryTimeout      = 10 * time.Second
	defaultBootstrapTimeout  = 10 * time.Second
)

// Config wires a Session to its relay.
type Config struct {
	// ChannelURL is the ws(s) address of the relay's bridge endpoint.
	ChannelURL string
	// BootstrapURL is the one-shot HTTP status endpoint. Empty skips the
	// bootstrap fetch.
	BootstrapURL string
	// SessionCookie is the ambient credential ("name=value") sent on both
	// the channel handshake and the bootstrap fetch.
	SessionCookie string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	OperationTimeout  time.Duration // seal, PIN and PUK requests
	QueryTimeout      time.Duration // retry-counter queries
	BootstrapTimeout  time.Duration

	// Dialer overrides the websocket dialer, used by tests.
	Dialer *websocket.Dialer
	// HTTPClient overrides the bootstrap client, used by tests.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = defaultBootstrapTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return c
}

// Session maintains the live connection between back-office UI surfaces and
// the desktop bridge controlling the SIAE smart-card reader. It owns the
// single duplex channel to the relay, keeps the status snapshot current, and
// serializes correlated commands over the channel.
type Session struct {
	cfg   Config
	store *status.Store

	mu            sync.Mutex
	state         connState
	conn          *websocket.Conn
	connGen       int // increments per physical connection
	wantRun       bool
	reconnect     *time.Timer
	heartbeatStop chan struct{}

	bootstrapOnce sync.Once

	writeMu sync.Mutex

	pmu     sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a stopped session. Call Start to open the channel.
func New(cfg Config) *Session {
	return &Session{
		cfg:     cfg.withDefaults(),
		store:   status.NewStore(),
		pending: make(map[string]*pendingRequest),
	}
}

// Store exposes the status store for consumers that need it directly.
func (s *Session) Store() *status.Store { return s.store }

// Snapshot returns the current device status without blocking.
func (s *Session) Snapshot() status.DeviceStatus { return s.store.Snapshot() }

// Subscribe registers a status listener; it fires immediately with the
// current snapshot and then on every change.
func (s *Session) Subscribe(fn status.Listener) (unsubscribe func()) {
	return s.store.Subscribe(fn)
}

// Start opens the channel to the relay. It is a no-op while a channel is
// open or being opened. A dial failure is returned but not fatal: a
// reconnect is scheduled either way.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == stateOpen || s.state == stateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = stateConnecting
	s.wantRun = true
	s.cancelReconnectLocked()
	s.mu.Unlock()

	s.bootstrapOnce.Do(func() { go s.bootstrap() })

	header := http.Header{}
	if s.cfg.SessionCookie != "" {
		header.Set("Cookie", s.cfg.SessionCookie)
	}
	conn, resp, err := s.cfg.Dialer.Dial(s.cfg.ChannelURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		logging.Warn(logging.CatChannel, "Channel dial failed", map[string]any{
			"url":   s.cfg.ChannelURL,
			"error": err.Error(),
		})
		s.mu.Lock()
		if s.state == stateConnecting {
			s.state = stateClosed
		}
		want := s.wantRun
		s.mu.Unlock()
		s.store.Update(status.ApplyRelayDown)
		if want {
			s.scheduleReconnect()
		}
		return err
	}

	s.mu.Lock()
	if s.state != stateConnecting { // Stop raced the dial
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.state = stateOpen
	s.conn = conn
	s.connGen++
	gen := s.connGen
	hbStop := make(chan struct{})
	s.heartbeatStop = hbStop
	s.mu.Unlock()

	logging.Info(logging.CatChannel, "Channel open", map[string]any{
		"url": s.cfg.ChannelURL,
	})
	s.store.Update(status.ApplyRelayUp)

	go s.readPump(conn, gen)
	go s.heartbeat(gen, hbStop)

	// Ask for a full status right away so the snapshot converges before the
	// first live event.
	if msg, err := protocol.NewMessage(protocol.TypeGetStatus, nil); err == nil {
		if err := s.send(msg); err != nil {
			logging.Warn(logging.CatChannel, "Initial status query failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Stop closes the channel and stops heartbeat and reconnection. Outstanding
// correlated requests fail with ErrChannelClosed. Stopping ends the operator
// session, so locally held PIN state is discarded; transient channel drops
// (channelDown) keep it.
func (s *Session) Stop() {
	s.mu.Lock()
	s.wantRun = false
	s.cancelReconnectLocked()
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	if s.state == stateOpen {
		s.state = stateClosing
	} else {
		s.state = stateClosed
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()

	s.rejectAllPending(ErrChannelClosed)
	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyRelayDown(status.ApplyPinReset(cur))
	})
	logging.Info(logging.CatSession, "Session stopped", nil)
}

// isOpen reports whether a channel is currently open.
func (s *Session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOpen
}

// send writes one envelope to the channel. Writers are serialized: gorilla
// connections allow only one concurrent writer.
func (s *Session) send(msg protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == stateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrChannelClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// readPump delivers inbound messages in channel order until the connection
// fails or closes.
func (s *Session) readPump(conn *websocket.Conn, gen int) {
	defer logging.RecoverAndLog("bridge readPump", false)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(logging.CatChannel, "Channel closed unexpectedly", map[string]any{
					"error": err.Error(),
				})
				logging.CaptureError(err, "bridge channel", map[string]interface{}{
					"url": s.cfg.ChannelURL,
				})
			} else {
				logging.Debug(logging.CatChannel, "Channel closed", nil)
			}
			s.channelDown(gen)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(logging.CatChannel, "Dropping unparsable message", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		s.handleMessage(msg, data)
	}
}

// heartbeat probes channel liveness with a JSON ping at a fixed interval. A
// probe that cannot be sent is a fatal channel condition.
func (s *Session) heartbeat(gen int, stop <-chan struct{}) {
	defer logging.RecoverAndLog("bridge heartbeat", false)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg, err := protocol.NewMessage(protocol.TypePing, nil)
			if err != nil {
				continue
			}
			if err := s.send(msg); err != nil {
				logging.Warn(logging.CatChannel, "Heartbeat probe failed", map[string]any{
					"error": err.Error(),
				})
				s.channelDown(gen)
				return
			}
		}
	}
}

// channelDown tears down one physical connection. The generation check makes
// it idempotent and keeps a stale pump from touching a newer connection.
func (s *Session) channelDown(gen int) {
	s.mu.Lock()
	if gen != s.connGen || s.state != stateOpen {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	conn := s.conn
	s.conn = nil
	s.stopHeartbeatLocked()
	want := s.wantRun
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	s.rejectAllPending(ErrChannelClosed)
	s.store.Update(status.ApplyRelayDown)

	if want {
		s.scheduleReconnect()
	}
}

// scheduleReconnect arms the single reconnect timer. Idempotent: a pending
// timer wins.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wantRun || s.reconnect != nil {
		return
	}
	logging.Info(logging.CatChannel, "Reconnect scheduled", map[string]any{
		"delay": s.cfg.ReconnectDelay.String(),
	})
	s.reconnect = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		active := s.state == stateOpen || s.state == stateConnecting
		want := s.wantRun
		s.mu.Unlock()
		if !want || active {
			// A manual Start won the race; nothing to do.
			return
		}
		_ = s.Start() // a failed attempt schedules the next one
	})
}

func (s *Session) cancelReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}
