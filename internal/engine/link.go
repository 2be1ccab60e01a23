package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/israelio/amqp10-go-client/internal/encoding"
	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// LinkState represents the state of a link endpoint
type LinkState int

const (
	LinkUnattached LinkState = iota
	LinkAttachSent
	LinkAttachReceived
	LinkAttached
	LinkDetachSent
	LinkDetachReceived
	LinkDetached
)

// String returns a string representation of the state
func (s LinkState) String() string {
	switch s {
	case LinkUnattached:
		return "unattached"
	case LinkAttachSent:
		return "attach-sent"
	case LinkAttachReceived:
		return "attach-rcvd"
	case LinkAttached:
		return "attached"
	case LinkDetachSent:
		return "detach-sent"
	case LinkDetachReceived:
		return "detach-rcvd"
	case LinkDetached:
		return "detached"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// LinkConfig holds the local parameters of a link
type LinkConfig struct {
	Name                 string
	Role                 protocol.Role
	Source               *protocol.Source
	Target               *protocol.Target
	SenderSettleMode     protocol.SenderSettleMode
	ReceiverSettleMode   protocol.ReceiverSettleMode
	MaxMessageSize       uint64
	MaxInFlight          int
	InitialDeliveryCount uint32
	Properties           map[encoding.Symbol]any
}

// Link is the link endpoint state machine. Sender and receiver share the
// type; the role selects which flow and transfer methods apply.
type Link struct {
	Name            string
	Handle          uint32
	RemoteHandle    uint32
	HasRemoteHandle bool
	Role            protocol.Role
	State           LinkState

	Source             *protocol.Source
	Target             *protocol.Target
	SenderSettleMode   protocol.SenderSettleMode
	ReceiverSettleMode protocol.ReceiverSettleMode

	// MaxMessageSize bounds inbound deliveries; RemoteMaxMessageSize
	// bounds what we may send
	MaxMessageSize       uint64
	RemoteMaxMessageSize uint64

	DeliveryCount uint32
	Credit        uint32
	Available     uint32
	Drain         bool

	Unsettled *Unsettled

	LocalAttach  *protocol.Attach
	RemoteAttach *protocol.Attach
	LocalError   *protocol.Error
	RemoteError  *protocol.Error

	config       LinkConfig
	initialCount uint32
	arena        *Arena
	nextTag      uint64
}

// NewLink creates a link endpoint in the unattached state
func NewLink(cfg LinkConfig) *Link {
	l := &Link{
		Name:               cfg.Name,
		Role:               cfg.Role,
		State:              LinkUnattached,
		Source:             cfg.Source,
		Target:             cfg.Target,
		SenderSettleMode:   cfg.SenderSettleMode,
		ReceiverSettleMode: cfg.ReceiverSettleMode,
		MaxMessageSize:     cfg.MaxMessageSize,
		Unsettled:          NewUnsettled(),
		config:             cfg,
	}
	if cfg.Role == protocol.RoleSender {
		l.DeliveryCount = cfg.InitialDeliveryCount
		l.initialCount = cfg.InitialDeliveryCount
	} else {
		l.arena = NewArena(cfg.MaxInFlight, cfg.MaxMessageSize)
	}
	return l
}

// newRemoteLink creates the local endpoint for a peer-initiated attach.
// Termini are mirrored from the peer until the application claims it.
func newRemoteLink(a *protocol.Attach) *Link {
	role := protocol.RoleSender
	if a.Role == protocol.RoleSender {
		role = protocol.RoleReceiver
	}
	return NewLink(LinkConfig{
		Name:               a.Name,
		Role:               role,
		Source:             a.Source,
		Target:             a.Target,
		SenderSettleMode:   a.SenderSettleMode,
		ReceiverSettleMode: a.ReceiverSettleMode,
	})
}

// IsSender reports whether the local endpoint sends messages
func (l *Link) IsSender() bool {
	return l.Role == protocol.RoleSender
}

// Attach builds the Attach performative for this endpoint
func (l *Link) Attach() *protocol.Attach {
	a := &protocol.Attach{
		Name:               l.Name,
		Handle:             l.Handle,
		Role:               l.Role,
		SenderSettleMode:   l.SenderSettleMode,
		ReceiverSettleMode: l.ReceiverSettleMode,
		Source:             l.Source,
		Target:             l.Target,
		MaxMessageSize:     l.MaxMessageSize,
		Properties:         l.config.Properties,
	}
	if l.IsSender() {
		count := l.initialCount
		a.InitialDeliveryCount = &count
	}
	return a
}

// AttachSent records the local Attach
func (l *Link) AttachSent(a *protocol.Attach) error {
	switch l.State {
	case LinkUnattached:
		l.State = LinkAttachSent
	case LinkAttachReceived:
		l.State = LinkAttached
	default:
		return violation(ScopeLink, protocol.ErrCondIllegalState, "attach sent in state %s", l.State)
	}
	l.LocalAttach = a
	return nil
}

// AttachReceived records the peer's Attach and adopts the negotiated values
func (l *Link) AttachReceived(a *protocol.Attach) error {
	if a.Role == l.Role {
		return violation(ScopeLink, protocol.ErrCondInvalidField, "peer attached link %q with the same role %s", a.Name, a.Role)
	}
	switch l.State {
	case LinkUnattached:
		l.State = LinkAttachReceived
	case LinkAttachSent:
		l.State = LinkAttached
	default:
		return violation(ScopeLink, protocol.ErrCondIllegalState, "attach received in state %s", l.State)
	}
	l.RemoteAttach = a
	l.RemoteHandle = a.Handle
	l.HasRemoteHandle = true
	l.RemoteMaxMessageSize = a.MaxMessageSize

	if l.IsSender() {
		l.ReceiverSettleMode = a.ReceiverSettleMode
		return nil
	}

	l.SenderSettleMode = a.SenderSettleMode
	if a.InitialDeliveryCount == nil {
		if !l.Refused() {
			return violation(ScopeLink, protocol.ErrCondInvalidField, "sender attach for %q without initial-delivery-count", a.Name)
		}
		return nil
	}
	l.DeliveryCount = *a.InitialDeliveryCount
	return nil
}

// Refused reports whether the peer answered our Attach with a null
// terminus, which announces an immediate Detach
func (l *Link) Refused() bool {
	if l.RemoteAttach == nil || l.LocalAttach == nil {
		return false
	}
	if l.IsSender() {
		return l.RemoteAttach.Target == nil
	}
	return l.RemoteAttach.Source == nil
}

// Claim applies local parameters to a peer-initiated link before the
// response Attach is sent
func (l *Link) Claim(cfg LinkConfig) {
	if cfg.Source != nil && !l.IsSender() {
		l.Source = cfg.Source
	}
	if cfg.Target != nil && l.IsSender() {
		l.Target = cfg.Target
	}
	if l.IsSender() {
		l.SenderSettleMode = cfg.SenderSettleMode
		l.DeliveryCount = cfg.InitialDeliveryCount
		l.initialCount = cfg.InitialDeliveryCount
	} else {
		l.ReceiverSettleMode = cfg.ReceiverSettleMode
		l.arena = NewArena(cfg.MaxInFlight, cfg.MaxMessageSize)
	}
	l.MaxMessageSize = cfg.MaxMessageSize
	l.config.Properties = cfg.Properties
	l.config.MaxInFlight = cfg.MaxInFlight
}

// Attached reports whether both Attaches have been exchanged
func (l *Link) Attached() bool {
	return l.State == LinkAttached
}

// Detach builds the Detach performative for this endpoint
func (l *Link) Detach(err *protocol.Error) *protocol.Detach {
	return &protocol.Detach{Handle: l.Handle, Closed: true, Error: err}
}

// DetachSent records the local Detach
func (l *Link) DetachSent(err *protocol.Error) error {
	switch l.State {
	case LinkAttached, LinkAttachSent, LinkAttachReceived:
		l.State = LinkDetachSent
	case LinkDetachReceived:
		l.State = LinkDetached
	default:
		return violation(ScopeLink, protocol.ErrCondIllegalState, "detach sent in state %s", l.State)
	}
	l.LocalError = err
	return nil
}

// DetachReceived records the peer's Detach
func (l *Link) DetachReceived(d *protocol.Detach) error {
	switch l.State {
	case LinkAttached, LinkAttachSent, LinkAttachReceived:
		l.State = LinkDetachReceived
	case LinkDetachSent:
		l.State = LinkDetached
	default:
		return violation(ScopeLink, protocol.ErrCondIllegalState, "detach received in state %s", l.State)
	}
	l.RemoteError = d.Error
	return nil
}

// Detached reports whether both Detaches have been exchanged
func (l *Link) Detached() bool {
	return l.State == LinkDetached
}

// ForceDetach moves the link to detached without any exchange, as when
// its session ends
func (l *Link) ForceDetach(err *protocol.Error) {
	l.State = LinkDetached
	if l.LocalError == nil {
		l.LocalError = err
	}
	l.Credit = 0
	l.Drain = false
	if l.arena != nil {
		l.arena.Clear()
	}
}

// NextDeliveryTag returns a delivery tag not used by any unsettled delivery
// of the link
func (l *Link) NextDeliveryTag() []byte {
	for {
		tag := make([]byte, 8)
		binary.BigEndian.PutUint64(tag, l.nextTag)
		l.nextTag++
		if !l.Unsettled.HasTag(tag) {
			return tag
		}
	}
}

// ConsumeCredit accounts for one outgoing delivery
func (l *Link) ConsumeCredit() error {
	if !l.IsSender() {
		return fmt.Errorf("consume credit on receiver link %q", l.Name)
	}
	if l.Credit == 0 {
		return ErrInsufficientCredit
	}
	l.Credit--
	l.DeliveryCount++
	if l.Available > 0 {
		l.Available--
	}
	return nil
}

// SenderFlow applies a receiver's link flow state. It returns whether the
// receiver asked for our flow state to be echoed.
func (l *Link) SenderFlow(f *protocol.Flow) bool {
	if f.LinkCredit != nil {
		rcvCount := l.initialCount
		if f.DeliveryCount != nil {
			rcvCount = *f.DeliveryCount
		}
		credit := rcvCount + *f.LinkCredit - l.DeliveryCount
		if int32(credit) < 0 {
			credit = 0
		}
		l.Credit = credit
	}
	l.Drain = f.Drain
	return f.Echo
}

// DrainCredit consumes all remaining credit by advancing the delivery
// count. It reports whether any credit was drained.
func (l *Link) DrainCredit() bool {
	if l.Credit == 0 {
		return false
	}
	l.DeliveryCount += l.Credit
	l.Credit = 0
	return true
}

// SetCredit sets the receiver's link credit
func (l *Link) SetCredit(credit uint32, drain bool) {
	l.Credit = credit
	l.Drain = drain
}

// ReceiverFlow applies a sender's link flow state. It reports whether a
// pending drain completed.
func (l *Link) ReceiverFlow(f *protocol.Flow) (drained bool) {
	if f.DeliveryCount != nil {
		l.DeliveryCount = *f.DeliveryCount
	}
	if f.LinkCredit != nil {
		l.Credit = *f.LinkCredit
	}
	if f.Available != nil {
		l.Available = *f.Available
	}
	if l.Drain && l.Credit == 0 {
		l.Drain = false
		return true
	}
	return false
}

// IsFirstTransfer reports whether a transfer starts a new delivery
func (l *Link) IsFirstTransfer(t *protocol.Transfer) bool {
	return l.arena == nil || l.arena.IsFirst(t)
}

// ReceiverTransfer accounts for one inbound transfer frame and returns the
// delivery once its last frame arrives
func (l *Link) ReceiverTransfer(t *protocol.Transfer, payload []byte) (*Partial, error) {
	if l.arena == nil {
		return nil, violation(ScopeLink, protocol.ErrCondNotAllowed, "transfer on sender link %q", l.Name)
	}
	if l.arena.IsFirst(t) {
		if l.Credit == 0 {
			return nil, violation(ScopeLink, protocol.ErrCondTransferLimitExceeded, "transfer on link %q without credit", l.Name)
		}
		if t.ReceiverSettleMode != nil && l.ReceiverSettleMode == protocol.ReceiverSettleModeFirst &&
			*t.ReceiverSettleMode == protocol.ReceiverSettleModeSecond {
			return nil, violation(ScopeLink, protocol.ErrCondInvalidField, "rcv-settle-mode second on link negotiated as first")
		}
		if t.Settled && l.SenderSettleMode == protocol.SenderSettleModeUnsettled {
			return nil, violation(ScopeLink, protocol.ErrCondInvalidField, "settled transfer on link negotiated as unsettled")
		}
		l.Credit--
		l.DeliveryCount++
		if l.Available > 0 {
			l.Available--
		}
	}

	p, err := l.arena.Add(t, payload)
	if err != nil || p == nil {
		return nil, err
	}
	if !p.Settled {
		l.Unsettled.Add(&Delivery{ID: p.ID, Tag: p.Tag, State: p.State, Frames: p.Frames, Complete: true})
	}
	return p, nil
}

// InFlight returns the number of partially received deliveries
func (l *Link) InFlight() int {
	if l.arena == nil {
		return 0
	}
	return l.arena.Len()
}
