package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/israelio/amqp10-go-client/internal/encoding"
)

// Performative is a frame body: one of the nine AMQP performatives or one of
// the SASL frames. The set is closed; dispatch with a type switch.
type Performative interface {
	encoding.Marshaler
	Descriptor() uint64
	performative()
}

// Name returns the symbolic name of a performative for logging
func Name(p Performative) string {
	if p == nil {
		return "empty"
	}
	if name, ok := encoding.DescriptorName(p.Descriptor()); ok {
		return string(name)
	}
	return fmt.Sprintf("0x%x", p.Descriptor())
}

// Open negotiates connection parameters
type Open struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         time.Duration
	OutgoingLocales     []encoding.Symbol
	IncomingLocales     []encoding.Symbol
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties          map[encoding.Symbol]any
}

func (*Open) performative()      {}
func (*Open) Descriptor() uint64 { return DescriptorOpen }

// MarshalAMQP encodes the performative
func (o *Open) MarshalAMQP(e *encoding.Encoder) error {
	var idle any
	if o.IdleTimeout > 0 {
		idle = uint32(o.IdleTimeout / time.Millisecond)
	}
	return e.WriteComposite(DescriptorOpen,
		o.ContainerID,
		optString(o.Hostname),
		o.MaxFrameSize,
		o.ChannelMax,
		idle,
		optSymbols(o.OutgoingLocales),
		optSymbols(o.IncomingLocales),
		optSymbols(o.OfferedCapabilities),
		optSymbols(o.DesiredCapabilities),
		optFields(o.Properties),
	)
}

func decodeOpen(r *encoding.FieldReader) (*Open, error) {
	r.Require(0)
	o := &Open{
		ContainerID:         r.String(0),
		Hostname:            r.String(1),
		MaxFrameSize:        r.Uint32(2, math.MaxUint32),
		ChannelMax:          r.Uint16(3, math.MaxUint16),
		IdleTimeout:         time.Duration(r.Uint32(4, 0)) * time.Millisecond,
		OutgoingLocales:     r.Symbols(5),
		IncomingLocales:     r.Symbols(6),
		OfferedCapabilities: r.Symbols(7),
		DesiredCapabilities: r.Symbols(8),
		Properties:          r.SymbolMap(9),
	}
	return o, r.Err()
}

// Begin maps a session onto a channel
type Begin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities []encoding.Symbol
	DesiredCapabilities []encoding.Symbol
	Properties          map[encoding.Symbol]any
}

func (*Begin) performative()      {}
func (*Begin) Descriptor() uint64 { return DescriptorBegin }

// MarshalAMQP encodes the performative
func (b *Begin) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorBegin,
		optUint16(b.RemoteChannel),
		b.NextOutgoingID,
		b.IncomingWindow,
		b.OutgoingWindow,
		b.HandleMax,
		optSymbols(b.OfferedCapabilities),
		optSymbols(b.DesiredCapabilities),
		optFields(b.Properties),
	)
}

func decodeBegin(r *encoding.FieldReader) (*Begin, error) {
	r.Require(1)
	r.Require(2)
	r.Require(3)
	b := &Begin{
		RemoteChannel:       r.OptUint16(0),
		NextOutgoingID:      r.Uint32(1, 0),
		IncomingWindow:      r.Uint32(2, 0),
		OutgoingWindow:      r.Uint32(3, 0),
		HandleMax:           r.Uint32(4, math.MaxUint32),
		OfferedCapabilities: r.Symbols(5),
		DesiredCapabilities: r.Symbols(6),
		Properties:          r.SymbolMap(7),
	}
	return b, r.Err()
}

// Attach attaches a link to a session
type Attach struct {
	Name                 string
	Handle               uint32
	Role                 Role
	SenderSettleMode     SenderSettleMode
	ReceiverSettleMode   ReceiverSettleMode
	Source               *Source
	Target               *Target
	Unsettled            encoding.Map
	IncompleteUnsettled  bool
	InitialDeliveryCount *uint32
	MaxMessageSize       uint64
	OfferedCapabilities  []encoding.Symbol
	DesiredCapabilities  []encoding.Symbol
	Properties           map[encoding.Symbol]any
}

func (*Attach) performative()      {}
func (*Attach) Descriptor() uint64 { return DescriptorAttach }

// MarshalAMQP encodes the performative
func (a *Attach) MarshalAMQP(e *encoding.Encoder) error {
	var source, target, maxSize any
	if a.Source != nil {
		source = a.Source
	}
	if a.Target != nil {
		target = a.Target
	}
	if a.MaxMessageSize > 0 {
		maxSize = a.MaxMessageSize
	}
	return e.WriteComposite(DescriptorAttach,
		a.Name,
		a.Handle,
		bool(a.Role),
		uint8(a.SenderSettleMode),
		uint8(a.ReceiverSettleMode),
		source,
		target,
		optMap(a.Unsettled),
		flag(a.IncompleteUnsettled),
		optUint32(a.InitialDeliveryCount),
		maxSize,
		optSymbols(a.OfferedCapabilities),
		optSymbols(a.DesiredCapabilities),
		optFields(a.Properties),
	)
}

func decodeAttach(r *encoding.FieldReader) (*Attach, error) {
	r.Require(0)
	r.Require(1)
	r.Require(2)
	a := &Attach{
		Name:                 r.String(0),
		Handle:               r.Uint32(1, 0),
		Role:                 Role(r.Bool(2, false)),
		SenderSettleMode:     SenderSettleMode(r.Uint8(3, uint8(SenderSettleModeMixed))),
		ReceiverSettleMode:   ReceiverSettleMode(r.Uint8(4, uint8(ReceiverSettleModeFirst))),
		Unsettled:            r.Map(7),
		IncompleteUnsettled:  r.Bool(8, false),
		InitialDeliveryCount: r.OptUint32(9),
		MaxMessageSize:       r.Uint64(10, 0),
		OfferedCapabilities:  r.Symbols(11),
		DesiredCapabilities:  r.Symbols(12),
		Properties:           r.SymbolMap(13),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	var err error
	if a.Source, err = decodeSource(r.Any(5)); err != nil {
		return nil, err
	}
	if a.Target, err = decodeTarget(r.Any(6)); err != nil {
		return nil, err
	}
	return a, nil
}

// Flow updates session and, when Handle is set, link flow state
type Flow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]any
}

func (*Flow) performative()      {}
func (*Flow) Descriptor() uint64 { return DescriptorFlow }

// MarshalAMQP encodes the performative
func (f *Flow) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorFlow,
		optUint32(f.NextIncomingID),
		f.IncomingWindow,
		f.NextOutgoingID,
		f.OutgoingWindow,
		optUint32(f.Handle),
		optUint32(f.DeliveryCount),
		optUint32(f.LinkCredit),
		optUint32(f.Available),
		flag(f.Drain),
		flag(f.Echo),
		optFields(f.Properties),
	)
}

func decodeFlow(r *encoding.FieldReader) (*Flow, error) {
	r.Require(1)
	r.Require(2)
	r.Require(3)
	f := &Flow{
		NextIncomingID: r.OptUint32(0),
		IncomingWindow: r.Uint32(1, 0),
		NextOutgoingID: r.Uint32(2, 0),
		OutgoingWindow: r.Uint32(3, 0),
		Handle:         r.OptUint32(4),
		DeliveryCount:  r.OptUint32(5),
		LinkCredit:     r.OptUint32(6),
		Available:      r.OptUint32(7),
		Drain:          r.Bool(8, false),
		Echo:           r.Bool(9, false),
		Properties:     r.SymbolMap(10),
	}
	return f, r.Err()
}

// Transfer carries one frame of a delivery; the payload travels in the frame
type Transfer struct {
	Handle             uint32
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *ReceiverSettleMode
	State              DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool
}

func (*Transfer) performative()      {}
func (*Transfer) Descriptor() uint64 { return DescriptorTransfer }

// MarshalAMQP encodes the performative
func (t *Transfer) MarshalAMQP(e *encoding.Encoder) error {
	var mode, state any
	if t.ReceiverSettleMode != nil {
		mode = uint8(*t.ReceiverSettleMode)
	}
	if t.State != nil {
		state = t.State
	}
	return e.WriteComposite(DescriptorTransfer,
		t.Handle,
		optUint32(t.DeliveryID),
		optBinary(t.DeliveryTag),
		optUint32(t.MessageFormat),
		flag(t.Settled),
		flag(t.More),
		mode,
		state,
		flag(t.Resume),
		flag(t.Aborted),
		flag(t.Batchable),
	)
}

func decodeTransfer(r *encoding.FieldReader) (*Transfer, error) {
	r.Require(0)
	t := &Transfer{
		Handle:        r.Uint32(0, 0),
		DeliveryID:    r.OptUint32(1),
		DeliveryTag:   r.Binary(2),
		MessageFormat: r.OptUint32(3),
		Settled:       r.Bool(4, false),
		More:          r.Bool(5, false),
		Resume:        r.Bool(8, false),
		Aborted:       r.Bool(9, false),
		Batchable:     r.Bool(10, false),
	}
	if p := r.OptUint8(6); p != nil {
		mode := ReceiverSettleMode(*p)
		t.ReceiverSettleMode = &mode
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	var err error
	if t.State, err = DecodeDeliveryState(r.Any(7)); err != nil {
		return nil, err
	}
	return t, nil
}

// Disposition informs the peer of delivery state changes for a range of ids
type Disposition struct {
	Role      Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     DeliveryState
	Batchable bool
}

func (*Disposition) performative()      {}
func (*Disposition) Descriptor() uint64 { return DescriptorDisposition }

// LastID returns Last, defaulting to First
func (d *Disposition) LastID() uint32 {
	if d.Last == nil {
		return d.First
	}
	return *d.Last
}

// MarshalAMQP encodes the performative
func (d *Disposition) MarshalAMQP(e *encoding.Encoder) error {
	var state any
	if d.State != nil {
		state = d.State
	}
	return e.WriteComposite(DescriptorDisposition,
		bool(d.Role),
		d.First,
		optUint32(d.Last),
		flag(d.Settled),
		state,
		flag(d.Batchable),
	)
}

func decodeDisposition(r *encoding.FieldReader) (*Disposition, error) {
	r.Require(0)
	r.Require(1)
	d := &Disposition{
		Role:      Role(r.Bool(0, false)),
		First:     r.Uint32(1, 0),
		Last:      r.OptUint32(2),
		Settled:   r.Bool(3, false),
		Batchable: r.Bool(5, false),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	var err error
	if d.State, err = DecodeDeliveryState(r.Any(4)); err != nil {
		return nil, err
	}
	return d, nil
}

// Detach detaches a link endpoint
type Detach struct {
	Handle uint32
	Closed bool
	Error  *Error
}

func (*Detach) performative()      {}
func (*Detach) Descriptor() uint64 { return DescriptorDetach }

// MarshalAMQP encodes the performative
func (d *Detach) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorDetach, d.Handle, flag(d.Closed), errorOrNil(d.Error))
}

func decodeDetach(r *encoding.FieldReader) (*Detach, error) {
	r.Require(0)
	d := &Detach{
		Handle: r.Uint32(0, 0),
		Closed: r.Bool(1, false),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	var err error
	d.Error, err = decodeError(r.Any(2))
	return d, err
}

// End ends a session
type End struct {
	Error *Error
}

func (*End) performative()      {}
func (*End) Descriptor() uint64 { return DescriptorEnd }

// MarshalAMQP encodes the performative
func (x *End) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorEnd, errorOrNil(x.Error))
}

// Close closes a connection
type Close struct {
	Error *Error
}

func (*Close) performative()      {}
func (*Close) Descriptor() uint64 { return DescriptorClose }

// MarshalAMQP encodes the performative
func (c *Close) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorClose, errorOrNil(c.Error))
}

func errorOrNil(err *Error) any {
	if err == nil {
		return nil
	}
	return err
}

// DecodePerformative converts a decoded described value into a performative
func DecodePerformative(v any) (Performative, error) {
	desc, ok := v.(*encoding.Described)
	if !ok {
		return nil, &encoding.DecodeError{Kind: encoding.ErrKindInvalidValue, Reason: fmt.Sprintf("frame body of type %T", v)}
	}
	code, ok := desc.Code()
	if !ok {
		return nil, &encoding.DecodeError{Kind: encoding.ErrKindUnknownDescriptor, Reason: fmt.Sprintf("%v", desc.Descriptor)}
	}
	name, _ := encoding.DescriptorName(code)
	r, err := encoding.NewFieldReader(string(name), desc.Value)
	if err != nil {
		return nil, err
	}

	switch code {
	case DescriptorOpen:
		return decodeOpen(r)
	case DescriptorBegin:
		return decodeBegin(r)
	case DescriptorAttach:
		return decodeAttach(r)
	case DescriptorFlow:
		return decodeFlow(r)
	case DescriptorTransfer:
		return decodeTransfer(r)
	case DescriptorDisposition:
		return decodeDisposition(r)
	case DescriptorDetach:
		return decodeDetach(r)
	case DescriptorEnd:
		e, err := decodeError(r.Any(0))
		return &End{Error: e}, err
	case DescriptorClose:
		e, err := decodeError(r.Any(0))
		return &Close{Error: e}, err
	case DescriptorSASLMechanisms:
		return decodeSASLMechanisms(r)
	case DescriptorSASLInit:
		return decodeSASLInit(r)
	case DescriptorSASLChallenge:
		r.Require(0)
		c := &SASLChallenge{Challenge: r.Binary(0)}
		return c, r.Err()
	case DescriptorSASLResponse:
		r.Require(0)
		resp := &SASLResponse{Response: r.Binary(0)}
		return resp, r.Err()
	case DescriptorSASLOutcome:
		return decodeSASLOutcome(r)
	}
	return nil, &encoding.DecodeError{Kind: encoding.ErrKindUnknownDescriptor, Reason: fmt.Sprintf("performative 0x%x", code)}
}
