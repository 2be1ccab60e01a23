package protocol

import (
	"fmt"
	"time"

	"github.com/israelio/amqp10-go-client/internal/encoding"
)

// MessageHeader carries transport headers of a message
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

// DefaultPriority is the priority of a message without a header
const DefaultPriority uint8 = 4

// MessageProperties carries the immutable properties of a message
type MessageProperties struct {
	MessageID          any
	UserID             []byte
	To                 string
	Subject            string
	ReplyTo            string
	CorrelationID      any
	ContentType        encoding.Symbol
	ContentEncoding    encoding.Symbol
	AbsoluteExpiryTime time.Time
	CreationTime       time.Time
	GroupID            string
	GroupSequence      *uint32
	ReplyToGroupID     string
}

// Message is an annotated message in its section form. Exactly one body
// kind is used: Data, Sequence or Value.
type Message struct {
	Header                *MessageHeader
	DeliveryAnnotations   map[encoding.Symbol]any
	Annotations           map[encoding.Symbol]any
	Properties            *MessageProperties
	ApplicationProperties map[string]any
	Data                  [][]byte
	Sequence              [][]any
	Value                 any
	Footer                map[encoding.Symbol]any
}

// NewMessage creates a message with a single data section
func NewMessage(data []byte) *Message {
	return &Message{Data: [][]byte{data}}
}

// GetData returns the first data section, or nil
func (m *Message) GetData() []byte {
	if len(m.Data) == 0 {
		return nil
	}
	return m.Data[0]
}

// MarshalBinary encodes all present sections in their mandated order
func (m *Message) MarshalBinary() ([]byte, error) {
	if bodies := countBodies(m); bodies > 1 {
		return nil, fmt.Errorf("message has %d body kinds, want at most one", bodies)
	}

	e := encoding.NewEncoder(256)
	if h := m.Header; h != nil {
		var ttl any
		if h.TTL > 0 {
			ttl = uint32(h.TTL / time.Millisecond)
		}
		err := e.WriteComposite(DescriptorHeader,
			flag(h.Durable),
			h.Priority,
			ttl,
			flag(h.FirstAcquirer),
			h.DeliveryCount,
		)
		if err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		if err := e.WriteDescribed(DescriptorDeliveryAnnotations, m.DeliveryAnnotations); err != nil {
			return nil, fmt.Errorf("encode delivery annotations: %w", err)
		}
	}
	if len(m.Annotations) > 0 {
		if err := e.WriteDescribed(DescriptorMessageAnnotations, m.Annotations); err != nil {
			return nil, fmt.Errorf("encode message annotations: %w", err)
		}
	}
	if p := m.Properties; p != nil {
		err := e.WriteComposite(DescriptorProperties,
			p.MessageID,
			optBinary(p.UserID),
			optString(p.To),
			optString(p.Subject),
			optString(p.ReplyTo),
			p.CorrelationID,
			optSymbol(p.ContentType),
			optSymbol(p.ContentEncoding),
			optTime(p.AbsoluteExpiryTime),
			optTime(p.CreationTime),
			optString(p.GroupID),
			optUint32(p.GroupSequence),
			optString(p.ReplyToGroupID),
		)
		if err != nil {
			return nil, fmt.Errorf("encode properties: %w", err)
		}
	}
	if len(m.ApplicationProperties) > 0 {
		if err := e.WriteDescribed(DescriptorApplicationProperties, m.ApplicationProperties); err != nil {
			return nil, fmt.Errorf("encode application properties: %w", err)
		}
	}
	for _, data := range m.Data {
		if data == nil {
			data = []byte{}
		}
		if err := e.WriteDescribed(DescriptorData, data); err != nil {
			return nil, fmt.Errorf("encode data: %w", err)
		}
	}
	for _, seq := range m.Sequence {
		if seq == nil {
			seq = []any{}
		}
		if err := e.WriteDescribed(DescriptorAMQPSequence, seq); err != nil {
			return nil, fmt.Errorf("encode sequence: %w", err)
		}
	}
	if m.Value != nil {
		if err := e.WriteDescribed(DescriptorAMQPValue, m.Value); err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
	}
	if len(m.Footer) > 0 {
		if err := e.WriteDescribed(DescriptorFooter, m.Footer); err != nil {
			return nil, fmt.Errorf("encode footer: %w", err)
		}
	}
	return e.Bytes(), nil
}

func countBodies(m *Message) int {
	n := 0
	if len(m.Data) > 0 {
		n++
	}
	if len(m.Sequence) > 0 {
		n++
	}
	if m.Value != nil {
		n++
	}
	return n
}

// sectionRank orders sections; body sections share one rank
func sectionRank(code uint64) int {
	switch code {
	case DescriptorHeader:
		return 0
	case DescriptorDeliveryAnnotations:
		return 1
	case DescriptorMessageAnnotations:
		return 2
	case DescriptorProperties:
		return 3
	case DescriptorApplicationProperties:
		return 4
	case DescriptorData, DescriptorAMQPSequence, DescriptorAMQPValue:
		return 5
	case DescriptorFooter:
		return 6
	}
	return -1
}

// UnmarshalMessage decodes a message from its sections, enforcing section order
func UnmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	d := encoding.NewDecoder(b)
	last := -1
	var body uint64

	for len(d.Remaining()) > 0 {
		offset := d.Offset()
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		desc, ok := v.(*encoding.Described)
		if !ok {
			return nil, sectionError(offset, "section of type %T", v)
		}
		code, ok := desc.Code()
		rank := sectionRank(code)
		if !ok || rank < 0 {
			return nil, sectionError(offset, "unknown section %v", desc.Descriptor)
		}
		if rank < last || (rank == last && rank != 5) {
			return nil, sectionError(offset, "section %v out of order", desc.Descriptor)
		}
		if rank == 5 {
			if body != 0 && (body != code || code == DescriptorAMQPValue) {
				return nil, sectionError(offset, "mixed or repeated body sections")
			}
			body = code
		}
		last = rank

		if err := m.applySection(code, desc.Value); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func sectionError(offset int, format string, args ...any) error {
	return &encoding.DecodeError{
		Kind:   encoding.ErrKindInvalidValue,
		Offset: offset,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (m *Message) applySection(code uint64, v any) error {
	var err error
	switch code {
	case DescriptorHeader:
		r, ferr := encoding.NewFieldReader("header", v)
		if ferr != nil {
			return ferr
		}
		m.Header = &MessageHeader{
			Durable:       r.Bool(0, false),
			Priority:      r.Uint8(1, DefaultPriority),
			TTL:           time.Duration(r.Uint32(2, 0)) * time.Millisecond,
			FirstAcquirer: r.Bool(3, false),
			DeliveryCount: r.Uint32(4, 0),
		}
		err = r.Err()
	case DescriptorDeliveryAnnotations:
		m.DeliveryAnnotations, err = symbolMapSection("delivery-annotations", v)
	case DescriptorMessageAnnotations:
		m.Annotations, err = symbolMapSection("message-annotations", v)
	case DescriptorProperties:
		r, ferr := encoding.NewFieldReader("properties", v)
		if ferr != nil {
			return ferr
		}
		m.Properties = &MessageProperties{
			MessageID:          r.Any(0),
			UserID:             r.Binary(1),
			To:                 r.String(2),
			Subject:            r.String(3),
			ReplyTo:            r.String(4),
			CorrelationID:      r.Any(5),
			ContentType:        r.Symbol(6),
			ContentEncoding:    r.Symbol(7),
			AbsoluteExpiryTime: r.Time(8),
			CreationTime:       r.Time(9),
			GroupID:            r.String(10),
			GroupSequence:      r.OptUint32(11),
			ReplyToGroupID:     r.String(12),
		}
		err = r.Err()
	case DescriptorApplicationProperties:
		mv, ok := v.(encoding.Map)
		if !ok {
			return sectionError(0, "application-properties of type %T", v)
		}
		m.ApplicationProperties, err = encoding.StringKeyed(mv)
	case DescriptorData:
		data, ok := v.([]byte)
		if !ok {
			return sectionError(0, "data section of type %T", v)
		}
		m.Data = append(m.Data, data)
	case DescriptorAMQPSequence:
		seq, ok := v.([]any)
		if !ok {
			return sectionError(0, "amqp-sequence of type %T", v)
		}
		m.Sequence = append(m.Sequence, seq)
	case DescriptorAMQPValue:
		m.Value = v
	case DescriptorFooter:
		m.Footer, err = symbolMapSection("footer", v)
	}
	return err
}

func symbolMapSection(name string, v any) (map[encoding.Symbol]any, error) {
	mv, ok := v.(encoding.Map)
	if !ok {
		return nil, sectionError(0, "%s of type %T", name, v)
	}
	return encoding.SymbolKeyed(mv)
}
