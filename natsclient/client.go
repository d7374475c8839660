// Package natsclient manages the broker connection shared by the bridge
// and builds the per-Thing conduits the connection pool hands out.
package natsclient

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/thingbridge/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Status holds runtime status information for the NATS client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// Client manages the shared NATS connection for the bridge
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	conn *nats.Conn
	js   jetstream.JetStream

	lastFailure atomic.Value // stores time.Time
	reconnects  atomic.Int32

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication - cleared on close
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	// Callbacks
	onDisconnect func(error)
	onReconnect  func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: &defaultLogger{},
		// Sensible defaults
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// Conn returns the underlying NATS connection
func (m *Client) Conn() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// SetConnection sets the NATS connection (for testing)
func (m *Client) SetConnection(conn *nats.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	if conn != nil && conn.IsConnected() {
		m.setStatus(StatusConnected)
	}
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

func (m *Client) recordFailure() {
	m.failures.Add(1)
	m.lastFailure.Store(time.Now())
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}

	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	lastFailure := m.lastFailure.Load().(time.Time)

	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: lastFailure,
		Reconnects:      m.reconnects.Load(),
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	opts := m.buildConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		if js, err := jetstream.New(conn); err == nil {
			m.mu.Lock()
			m.js = js
			m.mu.Unlock()
		}

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			m.recordFailure()
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.recordFailure()
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.logger.Printf("Connected to NATS at %s", m.url)
	return nil
}

// Close drains and closes the NATS connection. Safe to call more than once.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.js = nil
	m.username = ""
	m.password = ""
	m.token = ""
	m.mu.Unlock()

	m.setStatus(StatusDisconnected)

	if conn == nil {
		return nil
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			conn.Close()
			return errors.WrapTransient(err, "Client", "Close", "drain connection")
		}
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain cancelled")
	}

	m.logger.Printf("NATS connection closed")
	return nil
}

// Publish publishes data to a subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}
	return nil
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, ErrNotConnected
	}
	return m.js, nil
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	m.recordFailure()
	if err != nil {
		m.logger.Errorf("NATS disconnected: %v", err)
	}
	if m.onDisconnect != nil {
		m.onDisconnect(err)
	}
}

func (m *Client) handleReconnect(conn *nats.Conn) {
	m.reconnects.Add(1)
	m.setStatus(StatusConnected)
	m.logger.Printf("NATS reconnected to %s", conn.ConnectedUrl())
	if m.onReconnect != nil {
		m.onReconnect()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	if !m.closed.Load() {
		m.setStatus(StatusDisconnected)
		m.logger.Errorf("NATS connection closed unexpectedly")
	}
}
