package amqp

import (
	"sync/atomic"
)

// MetricsCollector collects metrics for client operations
type MetricsCollector interface {
	// Connection metrics
	ConnectionOpened()
	ConnectionClosed()
	ConnectionError(err error)

	// Session metrics
	SessionBegun()
	SessionEnded()
	SessionError(err error)

	// Link metrics
	LinkAttached(role Role)
	LinkDetached(role Role)
	LinkError(err error)

	// Message metrics
	MessageSent(size int)
	MessageReceived(size int)
	MessageSettled(outcome string)

	// Frame metrics
	FrameSent(performative string)
	FrameReceived(performative string)
}

// StandardMetricsCollector provides a thread-safe metrics collector
type StandardMetricsCollector struct {
	connectionsOpened atomic.Int64
	connectionsClosed atomic.Int64
	connectionErrors  atomic.Int64

	sessionsBegun atomic.Int64
	sessionsEnded atomic.Int64
	sessionErrors atomic.Int64

	linksAttached atomic.Int64
	linksDetached atomic.Int64
	linkErrors    atomic.Int64

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64

	accepted atomic.Int64
	rejected atomic.Int64
	released atomic.Int64
	modified atomic.Int64
	settled  atomic.Int64

	framesSent     atomic.Int64
	framesReceived atomic.Int64
}

// NewStandardMetricsCollector creates a new standard metrics collector
func NewStandardMetricsCollector() *StandardMetricsCollector {
	return &StandardMetricsCollector{}
}

// Connection metrics
func (m *StandardMetricsCollector) ConnectionOpened() {
	m.connectionsOpened.Add(1)
}

func (m *StandardMetricsCollector) ConnectionClosed() {
	m.connectionsClosed.Add(1)
}

func (m *StandardMetricsCollector) ConnectionError(err error) {
	m.connectionErrors.Add(1)
}

// Session metrics
func (m *StandardMetricsCollector) SessionBegun() {
	m.sessionsBegun.Add(1)
}

func (m *StandardMetricsCollector) SessionEnded() {
	m.sessionsEnded.Add(1)
}

func (m *StandardMetricsCollector) SessionError(err error) {
	m.sessionErrors.Add(1)
}

// Link metrics
func (m *StandardMetricsCollector) LinkAttached(role Role) {
	m.linksAttached.Add(1)
}

func (m *StandardMetricsCollector) LinkDetached(role Role) {
	m.linksDetached.Add(1)
}

func (m *StandardMetricsCollector) LinkError(err error) {
	m.linkErrors.Add(1)
}

// Message metrics
func (m *StandardMetricsCollector) MessageSent(size int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(size))
}

func (m *StandardMetricsCollector) MessageReceived(size int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(int64(size))
}

func (m *StandardMetricsCollector) MessageSettled(outcome string) {
	switch outcome {
	case "accepted":
		m.accepted.Add(1)
	case "rejected":
		m.rejected.Add(1)
	case "released":
		m.released.Add(1)
	case "modified":
		m.modified.Add(1)
	default:
		m.settled.Add(1)
	}
}

// Frame metrics
func (m *StandardMetricsCollector) FrameSent(performative string) {
	m.framesSent.Add(1)
}

func (m *StandardMetricsCollector) FrameReceived(performative string) {
	m.framesReceived.Add(1)
}

// Getters for metrics
func (m *StandardMetricsCollector) GetConnectionsOpened() int64 {
	return m.connectionsOpened.Load()
}

func (m *StandardMetricsCollector) GetConnectionsClosed() int64 {
	return m.connectionsClosed.Load()
}

func (m *StandardMetricsCollector) GetConnectionErrors() int64 {
	return m.connectionErrors.Load()
}

func (m *StandardMetricsCollector) GetSessionsBegun() int64 {
	return m.sessionsBegun.Load()
}

func (m *StandardMetricsCollector) GetSessionsEnded() int64 {
	return m.sessionsEnded.Load()
}

func (m *StandardMetricsCollector) GetSessionErrors() int64 {
	return m.sessionErrors.Load()
}

func (m *StandardMetricsCollector) GetLinksAttached() int64 {
	return m.linksAttached.Load()
}

func (m *StandardMetricsCollector) GetLinksDetached() int64 {
	return m.linksDetached.Load()
}

func (m *StandardMetricsCollector) GetLinkErrors() int64 {
	return m.linkErrors.Load()
}

func (m *StandardMetricsCollector) GetMessagesSent() int64 {
	return m.messagesSent.Load()
}

func (m *StandardMetricsCollector) GetMessagesReceived() int64 {
	return m.messagesReceived.Load()
}

func (m *StandardMetricsCollector) GetBytesSent() int64 {
	return m.bytesSent.Load()
}

func (m *StandardMetricsCollector) GetBytesReceived() int64 {
	return m.bytesReceived.Load()
}

func (m *StandardMetricsCollector) GetAccepted() int64 {
	return m.accepted.Load()
}

func (m *StandardMetricsCollector) GetRejected() int64 {
	return m.rejected.Load()
}

func (m *StandardMetricsCollector) GetReleased() int64 {
	return m.released.Load()
}

func (m *StandardMetricsCollector) GetModified() int64 {
	return m.modified.Load()
}

func (m *StandardMetricsCollector) GetSettled() int64 {
	return m.settled.Load()
}

func (m *StandardMetricsCollector) GetFramesSent() int64 {
	return m.framesSent.Load()
}

func (m *StandardMetricsCollector) GetFramesReceived() int64 {
	return m.framesReceived.Load()
}

// NoOpMetricsCollector is a metrics collector that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) ConnectionOpened()        {}
func (n *NoOpMetricsCollector) ConnectionClosed()        {}
func (n *NoOpMetricsCollector) ConnectionError(error)    {}
func (n *NoOpMetricsCollector) SessionBegun()            {}
func (n *NoOpMetricsCollector) SessionEnded()            {}
func (n *NoOpMetricsCollector) SessionError(error)       {}
func (n *NoOpMetricsCollector) LinkAttached(Role)        {}
func (n *NoOpMetricsCollector) LinkDetached(Role)        {}
func (n *NoOpMetricsCollector) LinkError(error)          {}
func (n *NoOpMetricsCollector) MessageSent(int)          {}
func (n *NoOpMetricsCollector) MessageReceived(int)      {}
func (n *NoOpMetricsCollector) MessageSettled(string)    {}
func (n *NoOpMetricsCollector) FrameSent(string)         {}
func (n *NoOpMetricsCollector) FrameReceived(string)     {}

// NewNoOpMetricsCollector creates a no-op metrics collector
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}
