package protocol

import (
	"fmt"

	"github.com/israelio/amqp10-go-client/internal/encoding"
)

// TerminusDurability controls what terminus state survives a detach
type TerminusDurability uint32

const (
	DurabilityNone           TerminusDurability = 0
	DurabilityConfiguration  TerminusDurability = 1
	DurabilityUnsettledState TerminusDurability = 2
)

// ExpiryPolicy names when a terminus expiry timer starts
type ExpiryPolicy encoding.Symbol

const (
	ExpiryLinkDetach      ExpiryPolicy = "link-detach"
	ExpirySessionEnd      ExpiryPolicy = "session-end"
	ExpiryConnectionClose ExpiryPolicy = "connection-close"
	ExpiryNever           ExpiryPolicy = "never"
)

// Source is the source terminus of a link
type Source struct {
	Address               string
	Durable               TerminusDurability
	ExpiryPolicy          ExpiryPolicy
	Timeout               uint32
	Dynamic               bool
	DynamicNodeProperties map[encoding.Symbol]any
	DistributionMode      encoding.Symbol
	Filter                map[encoding.Symbol]any
	DefaultOutcome        DeliveryState
	Outcomes              []encoding.Symbol
	Capabilities          []encoding.Symbol
}

// MarshalAMQP encodes the source composite
func (s *Source) MarshalAMQP(e *encoding.Encoder) error {
	if s == nil {
		e.WriteNull()
		return nil
	}
	var durable, timeout, outcome any
	if s.Durable != DurabilityNone {
		durable = uint32(s.Durable)
	}
	if s.Timeout > 0 {
		timeout = s.Timeout
	}
	if s.DefaultOutcome != nil {
		outcome = s.DefaultOutcome
	}
	return e.WriteComposite(DescriptorSource,
		optString(s.Address),
		durable,
		optSymbol(encoding.Symbol(s.ExpiryPolicy)),
		timeout,
		flag(s.Dynamic),
		optFields(s.DynamicNodeProperties),
		optSymbol(s.DistributionMode),
		optFields(s.Filter),
		outcome,
		optSymbols(s.Outcomes),
		optSymbols(s.Capabilities),
	)
}

func decodeSource(v any) (*Source, error) {
	if v == nil {
		return nil, nil
	}
	r, err := encoding.ReadComposite(v, DescriptorSource, "source")
	if err != nil {
		return nil, err
	}
	s := &Source{
		Address:               r.String(0),
		Durable:               TerminusDurability(r.Uint32(1, 0)),
		ExpiryPolicy:          ExpiryPolicy(r.Symbol(2)),
		Timeout:               r.Uint32(3, 0),
		Dynamic:               r.Bool(4, false),
		DynamicNodeProperties: r.SymbolMap(5),
		DistributionMode:      r.Symbol(6),
		Filter:                r.SymbolMap(7),
		Outcomes:              r.Symbols(9),
		Capabilities:          r.Symbols(10),
	}
	if s.ExpiryPolicy == "" {
		s.ExpiryPolicy = ExpirySessionEnd
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if s.DefaultOutcome, err = DecodeDeliveryState(r.Any(8)); err != nil {
		return nil, err
	}
	return s, nil
}

// Target is the target terminus of a link
type Target struct {
	Address               string
	Durable               TerminusDurability
	ExpiryPolicy          ExpiryPolicy
	Timeout               uint32
	Dynamic               bool
	DynamicNodeProperties map[encoding.Symbol]any
	Capabilities          []encoding.Symbol
}

// MarshalAMQP encodes the target composite
func (t *Target) MarshalAMQP(e *encoding.Encoder) error {
	if t == nil {
		e.WriteNull()
		return nil
	}
	var durable, timeout any
	if t.Durable != DurabilityNone {
		durable = uint32(t.Durable)
	}
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	return e.WriteComposite(DescriptorTarget,
		optString(t.Address),
		durable,
		optSymbol(encoding.Symbol(t.ExpiryPolicy)),
		timeout,
		flag(t.Dynamic),
		optFields(t.DynamicNodeProperties),
		optSymbols(t.Capabilities),
	)
}

func decodeTarget(v any) (*Target, error) {
	if v == nil {
		return nil, nil
	}
	r, err := encoding.ReadComposite(v, DescriptorTarget, "target")
	if err != nil {
		return nil, err
	}
	t := &Target{
		Address:               r.String(0),
		Durable:               TerminusDurability(r.Uint32(1, 0)),
		ExpiryPolicy:          ExpiryPolicy(r.Symbol(2)),
		Timeout:               r.Uint32(3, 0),
		Dynamic:               r.Bool(4, false),
		DynamicNodeProperties: r.SymbolMap(5),
		Capabilities:          r.Symbols(6),
	}
	if t.ExpiryPolicy == "" {
		t.ExpiryPolicy = ExpirySessionEnd
	}
	return t, r.Err()
}

// DeliveryState is the state of a delivery at a link endpoint.
// Received is non-terminal; the remaining states are outcomes.
type DeliveryState interface {
	encoding.Marshaler
	deliveryState()
}

// Received reports partial receipt of a delivery
type Received struct {
	SectionNumber uint32
	SectionOffset uint64
}

// Accepted is the outcome of a successfully processed message
type Accepted struct{}

// Rejected is the outcome of an invalid message
type Rejected struct {
	Error *Error
}

// Released is the outcome of a message that was not processed
type Released struct{}

// Modified is the outcome of a message that was released with changes
type Modified struct {
	DeliveryFailed     bool
	UndeliverableHere  bool
	MessageAnnotations map[encoding.Symbol]any
}

func (*Received) deliveryState() {}
func (*Accepted) deliveryState() {}
func (*Rejected) deliveryState() {}
func (*Released) deliveryState() {}
func (*Modified) deliveryState() {}

// MarshalAMQP encodes the delivery state
func (s *Received) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorReceived, s.SectionNumber, s.SectionOffset)
}

// MarshalAMQP encodes the delivery state
func (*Accepted) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorAccepted)
}

// MarshalAMQP encodes the delivery state
func (s *Rejected) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorRejected, errorOrNil(s.Error))
}

// MarshalAMQP encodes the delivery state
func (*Released) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorReleased)
}

// MarshalAMQP encodes the delivery state
func (s *Modified) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorModified,
		flag(s.DeliveryFailed),
		flag(s.UndeliverableHere),
		optFields(s.MessageAnnotations),
	)
}

// IsTerminal reports whether the state is an outcome
func IsTerminal(s DeliveryState) bool {
	switch s.(type) {
	case *Accepted, *Rejected, *Released, *Modified:
		return true
	}
	return false
}

// DecodeDeliveryState converts a decoded described value into a delivery state
func DecodeDeliveryState(v any) (DeliveryState, error) {
	if v == nil {
		return nil, nil
	}
	desc, ok := v.(*encoding.Described)
	if !ok {
		return nil, &encoding.DecodeError{Kind: encoding.ErrKindInvalidValue, Reason: fmt.Sprintf("delivery state of type %T", v)}
	}
	code, _ := desc.Code()
	switch code {
	case DescriptorReceived:
		r, err := encoding.ReadComposite(v, code, "received")
		if err != nil {
			return nil, err
		}
		r.Require(0)
		r.Require(1)
		s := &Received{SectionNumber: r.Uint32(0, 0), SectionOffset: r.Uint64(1, 0)}
		return s, r.Err()
	case DescriptorAccepted:
		if _, err := encoding.ReadComposite(v, code, "accepted"); err != nil {
			return nil, err
		}
		return &Accepted{}, nil
	case DescriptorRejected:
		r, err := encoding.ReadComposite(v, code, "rejected")
		if err != nil {
			return nil, err
		}
		e, err := decodeError(r.Any(0))
		if err != nil {
			return nil, err
		}
		return &Rejected{Error: e}, nil
	case DescriptorReleased:
		if _, err := encoding.ReadComposite(v, code, "released"); err != nil {
			return nil, err
		}
		return &Released{}, nil
	case DescriptorModified:
		r, err := encoding.ReadComposite(v, code, "modified")
		if err != nil {
			return nil, err
		}
		s := &Modified{
			DeliveryFailed:     r.Bool(0, false),
			UndeliverableHere:  r.Bool(1, false),
			MessageAnnotations: r.SymbolMap(2),
		}
		return s, r.Err()
	}
	return nil, &encoding.DecodeError{Kind: encoding.ErrKindUnknownDescriptor, Reason: fmt.Sprintf("delivery state %v", desc.Descriptor)}
}
