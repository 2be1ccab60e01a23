package amqp

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/protocol"
	"github.com/israelio/amqp10-go-client/internal/transport"
)

// Transport schemes
const (
	SchemeAMQP  = "amqp"
	SchemeAMQPS = "amqps"
	SchemeQUIC  = "amqp+quic"
)

// SASL mechanisms the client offers
const (
	SASLNone      = "NONE"
	SASLAnonymous = "ANONYMOUS"
	SASLPlain     = "PLAIN"
)

// ConnectionFactory creates and configures AMQP connections
type ConnectionFactory struct {
	// Transport settings
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string

	// TLS configuration, used by amqps and amqp+quic
	TLS *tls.Config

	// Timeouts
	ConnectionTimeout time.Duration
	CloseTimeout      time.Duration

	// Open parameters
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  time.Duration
	Properties   map[Symbol]any

	// SASL settings. An empty mechanism selects PLAIN when a username is
	// set and no SASL layer otherwise.
	SASLMechanism      string
	SASLAllowAnonymous bool
	SASLPlainAuth      func(username, password string) bool

	// SessionQueue bounds peer-initiated sessions awaiting AcceptSession
	SessionQueue int
	// StrictDecoding rejects unknown described types
	StrictDecoding bool

	sessionDefaults []SessionOption
	linkDefaults    []LinkOption

	// Custom handlers
	ErrorHandler ErrorHandler
	Metrics      MetricsCollector

	// Logger
	Logger *zap.Logger
}

// NewConnectionFactory creates a new ConnectionFactory with sensible defaults
func NewConnectionFactory(opts ...ConnOption) *ConnectionFactory {
	cf := &ConnectionFactory{
		Scheme:            SchemeAMQP,
		Host:              "localhost",
		Port:              protocol.DefaultPort,
		ConnectionTimeout: 60 * time.Second,
		CloseTimeout:      5 * time.Second,
		MaxFrameSize:      protocol.DefaultMaxFrameSize,
		ChannelMax:        protocol.DefaultChannelMax,
		IdleTimeout:       60 * time.Second,
		SessionQueue:      16,
	}

	// Apply options
	for _, opt := range opts {
		opt(cf)
	}

	if cf.ContainerID == "" {
		cf.ContainerID = randomID("container")
	}
	if cf.Logger == nil {
		cf.Logger = zap.NewNop()
	}
	if cf.Metrics == nil {
		cf.Metrics = NewNoOpMetricsCollector()
	}

	return cf
}

// errorHandler returns the configured handler, or a DefaultErrorHandler
// logging to the factory's logger
func (cf *ConnectionFactory) errorHandler() ErrorHandler {
	if cf.ErrorHandler != nil {
		return cf.ErrorHandler
	}
	return &DefaultErrorHandler{Logger: cf.Logger}
}

// NewConnection dials the configured address and opens a connection
func (cf *ConnectionFactory) NewConnection(ctx context.Context) (*Conn, error) {
	if err := cf.Validate(); err != nil {
		return nil, err
	}

	// Create connection with timeout
	connCtx, cancel := context.WithTimeout(ctx, cf.ConnectionTimeout)
	defer cancel()

	rwc, err := cf.dial(connCtx)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c, err := newConn(connCtx, rwc, cf, false)
	if err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	return c, nil
}

// dial establishes the transport for the configured scheme
func (cf *ConnectionFactory) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	addr := net.JoinHostPort(cf.Host, strconv.Itoa(cf.Port))

	switch cf.Scheme {
	case SchemeAMQPS:
		return transport.DialTLS(ctx, addr, cf.tlsConfig())
	case SchemeQUIC:
		return transport.DialQUIC(ctx, addr, cf.tlsConfig())
	default:
		return transport.DialTCP(ctx, addr)
	}
}

func (cf *ConnectionFactory) tlsConfig() *tls.Config {
	if cf.TLS != nil {
		return cf.TLS
	}
	return &tls.Config{ServerName: cf.Host}
}

// Validate validates the ConnectionFactory configuration
func (cf *ConnectionFactory) Validate() error {
	switch cf.Scheme {
	case SchemeAMQP, SchemeAMQPS, SchemeQUIC:
	default:
		return fmt.Errorf("unsupported scheme %q", cf.Scheme)
	}

	// Validate host
	if cf.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	// Validate port
	if cf.Port <= 0 || cf.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cf.Port)
	}

	// Validate timeouts
	if cf.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive, got %v", cf.ConnectionTimeout)
	}
	if cf.CloseTimeout < 0 {
		return fmt.Errorf("close timeout cannot be negative, got %v", cf.CloseTimeout)
	}

	// Validate idle timeout (0 means disabled, which is valid)
	if cf.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout cannot be negative, got %v", cf.IdleTimeout)
	}

	// 512 is the minimum max-frame-size of the protocol
	if cf.MaxFrameSize < protocol.MinMaxFrameSize {
		return fmt.Errorf("max frame size must be >= %d, got %d", protocol.MinMaxFrameSize, cf.MaxFrameSize)
	}

	switch cf.SASLMechanism {
	case "", SASLNone, SASLAnonymous:
	case SASLPlain:
		if cf.Username == "" {
			return fmt.Errorf("sasl PLAIN requires a username")
		}
	default:
		return fmt.Errorf("unsupported sasl mechanism %q", cf.SASLMechanism)
	}

	if cf.SessionQueue < 0 {
		return fmt.Errorf("session queue cannot be negative, got %d", cf.SessionQueue)
	}

	return nil
}

// saslMechanism resolves the mechanism the client offers
func (cf *ConnectionFactory) saslMechanism() string {
	if cf.SASLMechanism != "" {
		return cf.SASLMechanism
	}
	if cf.Username != "" {
		return SASLPlain
	}
	return SASLNone
}

// saslRequired reports whether a server connection insists on SASL
func (cf *ConnectionFactory) saslRequired() bool {
	return cf.SASLAllowAnonymous || cf.SASLPlainAuth != nil
}

// Dial parses an AMQP URI and opens a connection to it
func Dial(ctx context.Context, uri string, opts ...ConnOption) (*Conn, error) {
	cf, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cf)
	}
	return cf.NewConnection(ctx)
}

// NewConn opens a client connection over an established transport
func NewConn(ctx context.Context, rwc io.ReadWriteCloser, opts ...ConnOption) (*Conn, error) {
	cf := NewConnectionFactory(opts...)
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, cf.ConnectionTimeout)
	defer cancel()
	return newConn(connCtx, rwc, cf, false)
}

// NewServerConn accepts a connection over an inbound transport. The peer
// sends its protocol header first.
func NewServerConn(ctx context.Context, rwc io.ReadWriteCloser, opts ...ConnOption) (*Conn, error) {
	cf := NewConnectionFactory(opts...)
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, cf.ConnectionTimeout)
	defer cancel()
	return newConn(connCtx, rwc, cf, true)
}

func randomID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
