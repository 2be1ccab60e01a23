package amqp

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"
)

// ConnOption is a functional option for ConnectionFactory
type ConnOption func(*ConnectionFactory)

// WithScheme sets the transport scheme: amqp, amqps or amqp+quic
func WithScheme(scheme string) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Scheme = scheme
	}
}

// WithHost sets the host to connect to
func WithHost(host string) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Host = host
	}
}

// WithPort sets the port to connect to
func WithPort(port int) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Port = port
	}
}

// WithCredentials sets the username and password
func WithCredentials(username, password string) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Username = username
		cf.Password = password
	}
}

// WithTLS sets the TLS configuration
func WithTLS(config *tls.Config) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.TLS = config
	}
}

// WithConnectionTimeout sets the connection timeout
func WithConnectionTimeout(timeout time.Duration) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.ConnectionTimeout = timeout
	}
}

// WithCloseTimeout bounds how long Close waits for the peer's Close
func WithCloseTimeout(timeout time.Duration) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.CloseTimeout = timeout
	}
}

// WithContainerID sets the container id sent in Open
func WithContainerID(id string) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.ContainerID = id
	}
}

// WithHostname sets the virtual host name sent in Open
func WithHostname(hostname string) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Hostname = hostname
	}
}

// WithMaxFrameSize sets the largest frame this endpoint accepts
func WithMaxFrameSize(size uint32) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.MaxFrameSize = size
	}
}

// WithChannelMax sets the highest channel number this endpoint accepts
func WithChannelMax(max uint16) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.ChannelMax = max
	}
}

// WithIdleTimeout sets the idle timeout offered to the peer. Zero disables it.
func WithIdleTimeout(timeout time.Duration) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.IdleTimeout = timeout
	}
}

// WithProperties sets the connection properties sent in Open
func WithProperties(props map[Symbol]any) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Properties = props
	}
}

// WithProperty sets a single connection property
func WithProperty(key Symbol, value any) ConnOption {
	return func(cf *ConnectionFactory) {
		if cf.Properties == nil {
			cf.Properties = make(map[Symbol]any)
		}
		cf.Properties[key] = value
	}
}

// WithSASLMechanism selects the SASL mechanism: NONE, ANONYMOUS or PLAIN
func WithSASLMechanism(mechanism string) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.SASLMechanism = mechanism
	}
}

// WithSASLAnonymousServer makes a server connection accept ANONYMOUS
func WithSASLAnonymousServer() ConnOption {
	return func(cf *ConnectionFactory) {
		cf.SASLAllowAnonymous = true
	}
}

// WithSASLPlainServer makes a server connection accept PLAIN credentials
// that auth approves
func WithSASLPlainServer(auth func(username, password string) bool) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.SASLPlainAuth = auth
	}
}

// WithSessionQueue bounds peer-initiated sessions awaiting AcceptSession
func WithSessionQueue(n int) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.SessionQueue = n
	}
}

// WithStrictDecoding rejects frames carrying unknown described types
func WithStrictDecoding() ConnOption {
	return func(cf *ConnectionFactory) {
		cf.StrictDecoding = true
	}
}

// WithSessionDefaults sets options applied to every session of the connection
func WithSessionDefaults(opts ...SessionOption) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.sessionDefaults = append(cf.sessionDefaults, opts...)
	}
}

// WithLinkDefaults sets options applied to every link of the connection
func WithLinkDefaults(opts ...LinkOption) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.linkDefaults = append(cf.linkDefaults, opts...)
	}
}

// WithErrorHandler sets a custom error handler
func WithErrorHandler(handler ErrorHandler) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.ErrorHandler = handler
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Logger = logger
	}
}

// SessionOption configures a session
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	incomingWindow uint32
	outgoingWindow uint32
	handleMax      uint32
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		incomingWindow: 5000,
		outgoingWindow: 0, // unbounded
		handleMax:      1024,
	}
}

// WithIncomingWindow sets how many transfer frames the peer may send
// before the session reopens its window
func WithIncomingWindow(n uint32) SessionOption {
	return func(o *sessionOptions) {
		o.incomingWindow = n
	}
}

// WithOutgoingWindow sets the outgoing window advertised to the peer
func WithOutgoingWindow(n uint32) SessionOption {
	return func(o *sessionOptions) {
		o.outgoingWindow = n
	}
}

// WithHandleMax sets the highest link handle the session accepts
func WithHandleMax(n uint32) SessionOption {
	return func(o *sessionOptions) {
		o.handleMax = n
	}
}

// LinkOption configures a sender or receiver
type LinkOption func(*linkOptions)

type linkOptions struct {
	name               string
	source             *Source
	target             *Target
	senderSettleMode   SenderSettleMode
	receiverSettleMode ReceiverSettleMode
	capacity           uint32
	manualCredit       bool
	maxMessageSize     uint64
	maxInFlight        int
	properties         map[Symbol]any
}

func defaultLinkOptions() linkOptions {
	return linkOptions{
		senderSettleMode:   SenderSettleModeMixed,
		receiverSettleMode: ReceiverSettleModeFirst,
		capacity:           100,
		maxInFlight:        16,
	}
}

// WithLinkName sets the link name; a random name is used otherwise
func WithLinkName(name string) LinkOption {
	return func(o *linkOptions) {
		o.name = name
	}
}

// WithSource sets the full source terminus
func WithSource(source *Source) LinkOption {
	return func(o *linkOptions) {
		o.source = source
	}
}

// WithTarget sets the full target terminus
func WithTarget(target *Target) LinkOption {
	return func(o *linkOptions) {
		o.target = target
	}
}

// WithSenderSettleMode sets the sender settle mode
func WithSenderSettleMode(mode SenderSettleMode) LinkOption {
	return func(o *linkOptions) {
		o.senderSettleMode = mode
	}
}

// WithSettled makes every delivery pre-settled
func WithSettled() LinkOption {
	return WithSenderSettleMode(SenderSettleModeSettled)
}

// WithReceiverSettleMode sets the receiver settle mode
func WithReceiverSettleMode(mode ReceiverSettleMode) LinkOption {
	return func(o *linkOptions) {
		o.receiverSettleMode = mode
	}
}

// WithCapacity sets how many deliveries a receiver buffers, which is also
// the credit it keeps topped up
func WithCapacity(n uint32) LinkOption {
	return func(o *linkOptions) {
		o.capacity = n
	}
}

// WithManualCredit disables automatic credit; use IssueCredit instead
func WithManualCredit() LinkOption {
	return func(o *linkOptions) {
		o.manualCredit = true
	}
}

// WithMaxMessageSize sets the largest message the link accepts. Zero means
// no limit.
func WithMaxMessageSize(size uint64) LinkOption {
	return func(o *linkOptions) {
		o.maxMessageSize = size
	}
}

// WithMaxInFlight bounds partially received deliveries on a receiver
func WithMaxInFlight(n int) LinkOption {
	return func(o *linkOptions) {
		o.maxInFlight = n
	}
}

// WithLinkProperties sets the properties sent in Attach
func WithLinkProperties(props map[Symbol]any) LinkOption {
	return func(o *linkOptions) {
		o.properties = props
	}
}
