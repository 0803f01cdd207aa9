// Package conn owns the live WebSocket channel of a chat session: dialing,
// sending, receiving, and a fixed-interval reconnect policy. A Manager owns
// at most one physical transport at a time; reconnect attempts build a new
// transport but the manager instance, and everything layered on it, survives.
package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/protocol"
)

// ErrNotConnected is returned by Send when the channel is not open.
// Callers should disable input rather than queue messages; the manager does
// no outbound buffering.
var ErrNotConnected = errors.New("not connected")

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String renders the state for logging and status display.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// DefaultPingPeriod is the interval between application-level keepalive
// probes.
const DefaultPingPeriod = 30 * time.Second

// Transport is one physical bidirectional connection.
type Transport interface {
	// ReadMessage blocks until the next inbound frame or a read error.
	ReadMessage() ([]byte, error)
	// WriteJSON sends one JSON-encoded envelope. Callers must serialize
	// writes; the Manager does so internally.
	WriteJSON(v any) error
	// Close tears the connection down, unblocking any pending read.
	Close() error
}

// Dialer establishes transports. The default dials gorilla WebSockets; tests
// substitute an in-memory implementation.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string) (Transport, error)
}

// Config configures a Manager.
type Config struct {
	// URL is the full WebSocket endpoint for this context.
	URL string

	// Dialer builds transports. Defaults to a gorilla WebSocket dialer.
	Dialer Dialer

	// ReconnectDelay is the fixed retry interval after an unexpected
	// closure. Defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// PingPeriod is the keepalive probe interval. Zero means
	// DefaultPingPeriod; negative disables keepalive.
	PingPeriod time.Duration

	// OnMessage receives each inbound frame, in arrival order, from a
	// single goroutine.
	OnMessage func(frame []byte)

	// OnStateChange is notified of lifecycle transitions.
	OnStateChange func(state State)

	Logger *slog.Logger
}

// Manager owns one live channel and its reconnect loop.
// It is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	transport     Transport
	readerDone    chan struct{}
	autoReconnect bool
	reconnectTmr  *time.Timer

	// epoch identifies the current physical connection; goroutines from a
	// previous transport compare epochs and drop their events.
	epoch int

	writeMu sync.Mutex

	// retryLog keeps the reconnect loop from flooding the log while the
	// backend is down.
	retryLog rate.Sometimes
}

// NewManager creates a manager in the idle state. Call Open to connect.
func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebSocketDialer()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		state:    StateIdle,
		retryLog: rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open connects the channel. It is a no-op when already open or while a
// connect is in flight, which guards against duplicate transports from rapid
// repeated calls. A failed attempt leaves the reconnect loop running, so a
// non-nil error means only that this attempt did not reach the open state.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.autoReconnect = true
	m.epoch++
	epoch := m.epoch
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	return m.dial(ctx, epoch)
}

// dial attempts one physical connection for the given epoch.
func (m *Manager) dial(ctx context.Context, epoch int) error {
	transport, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL)

	m.mu.Lock()
	if epoch != m.epoch {
		// Close(true) or a context switch happened mid-dial.
		m.mu.Unlock()
		if err == nil {
			transport.Close()
		}
		return nil
	}
	if err != nil {
		m.setStateLocked(StateClosed)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.retryLog.Do(func() {
			m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		})
		return err
	}

	m.transport = transport
	m.readerDone = make(chan struct{})
	m.setStateLocked(StateOpen)
	done := m.readerDone
	m.mu.Unlock()

	m.logger.Debug("channel open", "url", m.cfg.URL)
	go m.readLoop(epoch, transport, done)
	if m.cfg.PingPeriod > 0 {
		go m.pingLoop(done)
	}
	return nil
}

// Send writes one envelope to the live channel. Valid only while open.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	if m.state != StateOpen || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	transport := m.transport
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return transport.WriteJSON(v)
}

// Close transitions to closed and, when disableReconnect is set, stops the
// reconnect loop for good. It returns only after the underlying transport
// has confirmed closure, so callers can sequence a close against a
// subsequent open for a different context.
func (m *Manager) Close(disableReconnect bool) error {
	m.mu.Lock()
	if disableReconnect {
		m.autoReconnect = false
	}
	if m.reconnectTmr != nil {
		m.reconnectTmr.Stop()
		m.reconnectTmr = nil
	}
	m.epoch++ // invalidate in-flight dials and stale reader events
	transport := m.transport
	done := m.readerDone
	m.transport = nil
	m.readerDone = nil
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	var err error
	if transport != nil {
		err = transport.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// readLoop delivers inbound frames in arrival order until the transport
// fails or is closed.
func (m *Manager) readLoop(epoch int, transport Transport, done chan struct{}) {
	defer close(done)
	for {
		frame, err := transport.ReadMessage()
		if err != nil {
			m.handleDisconnect(epoch, err)
			return
		}
		if m.cfg.OnMessage != nil {
			m.cfg.OnMessage(frame)
		}
	}
}

// pingLoop sends application-level keepalive probes while the connection
// that spawned it is alive.
func (m *Manager) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := m.Send(protocol.NewPing()); err != nil {
				return
			}
		}
	}
}

// handleDisconnect reacts to an unexpected transport failure.
func (m *Manager) handleDisconnect(epoch int, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		// A deliberate Close or context switch already superseded this
		// transport; nothing to do.
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.setStateLocked(StateClosed)
	reconnect := m.autoReconnect
	if reconnect {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	if reconnect {
		m.logger.Warn("channel lost, reconnecting",
			"url", m.cfg.URL, "delay", m.cfg.ReconnectDelay, "error", err)
	} else {
		m.logger.Debug("channel closed", "url", m.cfg.URL)
	}
}

// scheduleReconnectLocked arms the fixed-interval retry timer.
// Callers must hold m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if !m.autoReconnect || m.reconnectTmr != nil {
		return
	}
	m.reconnectTmr = time.AfterFunc(m.cfg.ReconnectDelay, m.reconnectAttempt)
}

// reconnectAttempt is the timer callback for one retry.
func (m *Manager) reconnectAttempt() {
	m.mu.Lock()
	m.reconnectTmr = nil
	if !m.autoReconnect || m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.epoch++
	epoch := m.epoch
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	// Retries are fixed-interval, not backed off; they continue until the
	// channel opens or Close(true) is called.
	m.dial(context.Background(), epoch)
}

// setStateLocked updates the state and fires the notification callback.
// Callers must hold m.mu; the callback runs on a fresh goroutine so it may
// call back into the manager.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.cfg.OnStateChange != nil {
		go m.cfg.OnStateChange(s)
	}
}
