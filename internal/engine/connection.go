package engine

import (
	"fmt"
	"time"

	"github.com/israelio/amqp10-go-client/internal/encoding"
	"github.com/israelio/amqp10-go-client/internal/frame"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// ConnState represents the state of a connection endpoint
type ConnState int

const (
	ConnStart ConnState = iota
	ConnHeaderSent
	ConnHeaderReceived
	ConnHeaderExchange
	ConnOpenSent
	ConnOpenReceived
	ConnOpened
	ConnCloseSent
	ConnCloseReceived
	ConnEnd
)

// String returns a string representation of the state
func (s ConnState) String() string {
	switch s {
	case ConnStart:
		return "start"
	case ConnHeaderSent:
		return "hdr-sent"
	case ConnHeaderReceived:
		return "hdr-rcvd"
	case ConnHeaderExchange:
		return "hdr-exch"
	case ConnOpenSent:
		return "open-sent"
	case ConnOpenReceived:
		return "open-rcvd"
	case ConnOpened:
		return "opened"
	case ConnCloseSent:
		return "close-sent"
	case ConnCloseReceived:
		return "close-rcvd"
	case ConnEnd:
		return "end"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type connEvent int

const (
	evHeaderSent connEvent = iota
	evHeaderRecv
	evOpenSent
	evOpenRecv
	evCloseSent
	evCloseRecv
)

var connEventNames = [...]string{"header sent", "header received", "open sent", "open received", "close sent", "close received"}

var connTransitions = map[ConnState]map[connEvent]ConnState{
	ConnStart:          {evHeaderSent: ConnHeaderSent, evHeaderRecv: ConnHeaderReceived},
	ConnHeaderSent:     {evHeaderRecv: ConnHeaderExchange},
	ConnHeaderReceived: {evHeaderSent: ConnHeaderExchange},
	ConnHeaderExchange: {evOpenSent: ConnOpenSent, evOpenRecv: ConnOpenReceived},
	ConnOpenSent:       {evOpenRecv: ConnOpened, evCloseSent: ConnCloseSent},
	ConnOpenReceived:   {evOpenSent: ConnOpened, evCloseRecv: ConnCloseReceived},
	ConnOpened:         {evCloseSent: ConnCloseSent, evCloseRecv: ConnCloseReceived},
	ConnCloseSent:      {evCloseRecv: ConnEnd},
	ConnCloseReceived:  {evCloseSent: ConnEnd},
}

// ConnectionConfig holds the values a connection endpoint offers in Open
type ConnectionConfig struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  time.Duration
	Properties   map[encoding.Symbol]any
}

// Connection is the connection endpoint state machine. It performs no I/O;
// the driver reports every header and performative it sends or receives
// and acts on the returned errors.
type Connection struct {
	State  ConnState
	Config ConnectionConfig

	LocalOpen  *protocol.Open
	RemoteOpen *protocol.Open

	// negotiated values, valid once both Opens are exchanged
	MaxFrameSize       uint32
	RemoteMaxFrameSize uint32
	ChannelMax         uint16
	IdleTimeout        time.Duration
	RemoteIdleTimeout  time.Duration

	RemoteError *protocol.Error
}

// NewConnection creates a connection endpoint in the start state
func NewConnection(cfg ConnectionConfig) *Connection {
	if cfg.MaxFrameSize < protocol.MinMaxFrameSize {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if cfg.ChannelMax == 0 {
		cfg.ChannelMax = protocol.DefaultChannelMax
	}
	return &Connection{
		State:              ConnStart,
		Config:             cfg,
		MaxFrameSize:       protocol.MinMaxFrameSize,
		RemoteMaxFrameSize: protocol.MinMaxFrameSize,
	}
}

func (c *Connection) transition(ev connEvent) error {
	next, ok := connTransitions[c.State][ev]
	if !ok {
		return violation(ScopeConnection, protocol.ErrCondIllegalState, "%s in state %s", connEventNames[ev], c.State)
	}
	c.State = next
	return nil
}

// HeaderSent records that the local AMQP protocol header was written
func (c *Connection) HeaderSent() error {
	return c.transition(evHeaderSent)
}

// HeaderReceived validates the peer's AMQP protocol header. A mismatch is
// fatal; the driver must close the transport without reading further.
func (c *Connection) HeaderReceived(h frame.ProtocolHeader) error {
	if h != frame.HeaderAMQP {
		return violation(ScopeConnection, protocol.ErrCondNotImplemented, "unsupported protocol header %s", h)
	}
	return c.transition(evHeaderRecv)
}

// Open returns the Open performative this endpoint sends
func (c *Connection) Open() *protocol.Open {
	return &protocol.Open{
		ContainerID:  c.Config.ContainerID,
		Hostname:     c.Config.Hostname,
		MaxFrameSize: c.Config.MaxFrameSize,
		ChannelMax:   c.Config.ChannelMax,
		IdleTimeout:  c.Config.IdleTimeout,
		Properties:   c.Config.Properties,
	}
}

// OpenSent records the local Open
func (c *Connection) OpenSent(o *protocol.Open) error {
	if err := c.transition(evOpenSent); err != nil {
		return err
	}
	c.LocalOpen = o
	c.negotiate()
	return nil
}

// OpenReceived records the peer's Open and validates its limits
func (c *Connection) OpenReceived(o *protocol.Open) error {
	if o.MaxFrameSize < protocol.MinMaxFrameSize {
		return violation(ScopeConnection, protocol.ErrCondInvalidField, "max-frame-size %d below minimum %d", o.MaxFrameSize, protocol.MinMaxFrameSize)
	}
	if err := c.transition(evOpenRecv); err != nil {
		return err
	}
	c.RemoteOpen = o
	c.negotiate()
	return nil
}

func (c *Connection) negotiate() {
	if c.LocalOpen == nil || c.RemoteOpen == nil {
		return
	}
	local, remote := c.LocalOpen, c.RemoteOpen

	c.MaxFrameSize = min(local.MaxFrameSize, remote.MaxFrameSize)
	c.RemoteMaxFrameSize = remote.MaxFrameSize
	c.ChannelMax = min(local.ChannelMax, remote.ChannelMax)
	c.RemoteIdleTimeout = remote.IdleTimeout

	switch {
	case local.IdleTimeout == 0:
		c.IdleTimeout = remote.IdleTimeout
	case remote.IdleTimeout == 0:
		c.IdleTimeout = local.IdleTimeout
	default:
		c.IdleTimeout = min(local.IdleTimeout, remote.IdleTimeout)
	}
}

// Opened reports whether both Opens have been exchanged and no Close yet
func (c *Connection) Opened() bool {
	return c.State == ConnOpened
}

// CloseSent records the local Close
func (c *Connection) CloseSent() error {
	return c.transition(evCloseSent)
}

// CloseReceived records the peer's Close
func (c *Connection) CloseReceived(cl *protocol.Close) error {
	if err := c.transition(evCloseRecv); err != nil {
		return err
	}
	c.RemoteError = cl.Error
	return nil
}

// Ended reports whether both Closes have been exchanged
func (c *Connection) Ended() bool {
	return c.State == ConnEnd
}

// CheckIncoming validates that a received performative is legal in the
// current state. Only Open and Close are accepted outside Opened.
func (c *Connection) CheckIncoming(body protocol.Performative) error {
	switch body.(type) {
	case *protocol.Open, *protocol.Close:
		return nil
	case nil:
		if c.State < ConnHeaderExchange {
			return violation(ScopeConnection, protocol.ErrCondIllegalState, "empty frame in state %s", c.State)
		}
		return nil
	}
	switch c.State {
	case ConnOpened, ConnCloseSent:
		// frames may still be in flight after our Close
		return nil
	}
	return violation(ScopeConnection, protocol.ErrCondIllegalState, "%s in state %s", protocol.Name(body), c.State)
}

// CanSend reports whether a session-level performative may be sent
func (c *Connection) CanSend() bool {
	return c.State == ConnOpened
}
