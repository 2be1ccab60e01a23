package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/israelio/amqp10-go-client/internal/encoding"
)

func roundTrip(t *testing.T, p Performative) Performative {
	t.Helper()
	b, err := encoding.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal %s failed: %v", Name(p), err)
	}
	v, n, err := encoding.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal %s failed: %v", Name(p), err)
	}
	if n != len(b) {
		t.Fatalf("Unmarshal %s consumed %d of %d bytes", Name(p), n, len(b))
	}
	got, err := DecodePerformative(v)
	if err != nil {
		t.Fatalf("DecodePerformative %s failed: %v", Name(p), err)
	}
	return got
}

func u32(v uint32) *uint32 { return &v }
func u16(v uint16) *uint16 { return &v }

// TestPerformativeRoundTrip encodes and decodes every performative
func TestPerformativeRoundTrip(t *testing.T) {
	second := ReceiverSettleModeSecond
	tests := []struct {
		name string
		perf Performative
	}{
		{
			name: "open",
			perf: &Open{
				ContainerID:         "container-1",
				Hostname:            "broker.local",
				MaxFrameSize:        4096,
				ChannelMax:          15,
				IdleTimeout:         30 * time.Second,
				OfferedCapabilities: []encoding.Symbol{"ANONYMOUS-RELAY"},
				Properties:          map[encoding.Symbol]any{"product": "amqp10-go-client"},
			},
		},
		{
			name: "begin",
			perf: &Begin{
				RemoteChannel:  u16(3),
				NextOutgoingID: 1,
				IncomingWindow: 100,
				OutgoingWindow: 200,
				HandleMax:      31,
			},
		},
		{
			name: "attach",
			perf: &Attach{
				Name:                 "link-1",
				Handle:               7,
				Role:                 RoleSender,
				SenderSettleMode:     SenderSettleModeMixed,
				ReceiverSettleMode:   ReceiverSettleModeSecond,
				Source:               &Source{Address: "src", ExpiryPolicy: ExpirySessionEnd, Outcomes: []encoding.Symbol{"amqp:accepted:list"}},
				Target:               &Target{Address: "queue-a", Durable: DurabilityUnsettledState, ExpiryPolicy: ExpiryNever},
				InitialDeliveryCount: u32(0),
				MaxMessageSize:       1 << 20,
			},
		},
		{
			name: "flow",
			perf: &Flow{
				NextIncomingID: u32(5),
				IncomingWindow: 64,
				NextOutgoingID: 9,
				OutgoingWindow: 128,
				Handle:         u32(0),
				DeliveryCount:  u32(12),
				LinkCredit:     u32(50),
				Drain:          true,
				Echo:           true,
			},
		},
		{
			name: "transfer",
			perf: &Transfer{
				Handle:             1,
				DeliveryID:         u32(42),
				DeliveryTag:        []byte{0xde, 0xad},
				MessageFormat:      u32(0),
				Settled:            true,
				More:               true,
				ReceiverSettleMode: &second,
				State:              &Accepted{},
			},
		},
		{
			name: "disposition",
			perf: &Disposition{
				Role:    RoleReceiver,
				First:   3,
				Last:    u32(9),
				Settled: true,
				State:   &Rejected{Error: NewError(ErrCondDecodeError, "bad body")},
			},
		},
		{
			name: "detach",
			perf: &Detach{Handle: 2, Closed: true, Error: NewError(ErrCondDetachForced, "session ending")},
		},
		{
			name: "end",
			perf: &End{Error: &Error{Condition: ErrCondWindowViolation, Info: map[encoding.Symbol]any{"window": uint32(0)}}},
		},
		{
			name: "close",
			perf: &Close{},
		},
		{
			name: "sasl mechanisms",
			perf: &SASLMechanisms{Mechanisms: []encoding.Symbol{SASLMechanismPlain, SASLMechanismAnonymous}},
		},
		{
			name: "sasl init",
			perf: &SASLInit{Mechanism: SASLMechanismPlain, InitialResponse: []byte("\x00user\x00pass"), Hostname: "broker"},
		},
		{
			name: "sasl challenge",
			perf: &SASLChallenge{Challenge: []byte("nonce")},
		},
		{
			name: "sasl response",
			perf: &SASLResponse{Response: []byte("answer")},
		},
		{
			name: "sasl outcome",
			perf: &SASLOutcome{Code: SASLCodeAuth, AdditionalData: []byte("denied")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.perf)
			if !reflect.DeepEqual(got, tt.perf) {
				t.Errorf("Round trip mismatch:\n got  %#v\n want %#v", got, tt.perf)
			}
		})
	}
}

// TestOpenDefaults checks the defaults applied to omitted fields
func TestOpenDefaults(t *testing.T) {
	got := roundTrip(t, &Open{ContainerID: "c"}).(*Open)
	// MaxFrameSize and ChannelMax are always written, so zero survives
	if got.MaxFrameSize != 0 {
		t.Errorf("MaxFrameSize: got %d, want 0", got.MaxFrameSize)
	}

	b := []byte{0x00, 0x53, 0x10, 0xc0, 0x03, 0x01, 0xa1, 0x00}
	v, _, err := encoding.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	p, err := DecodePerformative(v)
	if err != nil {
		t.Fatalf("DecodePerformative failed: %v", err)
	}
	open := p.(*Open)
	if open.MaxFrameSize != 4294967295 {
		t.Errorf("MaxFrameSize: got %d, want 4294967295", open.MaxFrameSize)
	}
	if open.ChannelMax != 65535 {
		t.Errorf("ChannelMax: got %d, want 65535", open.ChannelMax)
	}
	if open.IdleTimeout != 0 {
		t.Errorf("IdleTimeout: got %v, want 0", open.IdleTimeout)
	}
}

// TestAttachSettleModeDefaults checks that omitted settle modes decode to mixed and first
func TestAttachSettleModeDefaults(t *testing.T) {
	e := encoding.NewEncoder(32)
	if err := e.WriteComposite(DescriptorAttach, "n", uint32(0), true); err != nil {
		t.Fatalf("WriteComposite failed: %v", err)
	}
	v, _, err := encoding.Unmarshal(e.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	p, err := DecodePerformative(v)
	if err != nil {
		t.Fatalf("DecodePerformative failed: %v", err)
	}
	a := p.(*Attach)
	if a.SenderSettleMode != SenderSettleModeMixed {
		t.Errorf("SenderSettleMode: got %v, want mixed", a.SenderSettleMode)
	}
	if a.ReceiverSettleMode != ReceiverSettleModeFirst {
		t.Errorf("ReceiverSettleMode: got %v, want first", a.ReceiverSettleMode)
	}
	if a.Role != RoleReceiver {
		t.Errorf("Role: got %v, want receiver", a.Role)
	}
}

// TestMissingMandatoryField rejects a transfer without a handle
func TestMissingMandatoryField(t *testing.T) {
	e := encoding.NewEncoder(16)
	if err := e.WriteComposite(DescriptorTransfer); err != nil {
		t.Fatalf("WriteComposite failed: %v", err)
	}
	v, _, err := encoding.Unmarshal(e.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, err := DecodePerformative(v); err == nil {
		t.Error("Expected error for transfer without handle")
	}
}

// TestUnknownPerformative rejects descriptors outside the performative set
func TestUnknownPerformative(t *testing.T) {
	v := &encoding.Described{Descriptor: uint64(0x99), Value: []any{}}
	_, err := DecodePerformative(v)
	if !errors.Is(err, encoding.ErrUnknownDescriptor) {
		t.Errorf("DecodePerformative: got %v, want ErrUnknownDescriptor", err)
	}

	_, err = DecodePerformative("not described")
	if !errors.Is(err, encoding.ErrInvalidValue) {
		t.Errorf("DecodePerformative: got %v, want ErrInvalidValue", err)
	}
}

// TestDeliveryStates covers each outcome and the received state
func TestDeliveryStates(t *testing.T) {
	states := []DeliveryState{
		&Received{SectionNumber: 1, SectionOffset: 100},
		&Accepted{},
		&Rejected{},
		&Released{},
		&Modified{DeliveryFailed: true, MessageAnnotations: map[encoding.Symbol]any{"x-retry": int64(2)}},
	}
	for _, s := range states {
		b, err := encoding.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal %T failed: %v", s, err)
		}
		v, _, err := encoding.Unmarshal(b)
		if err != nil {
			t.Fatalf("Unmarshal %T failed: %v", s, err)
		}
		got, err := DecodeDeliveryState(v)
		if err != nil {
			t.Fatalf("DecodeDeliveryState %T failed: %v", s, err)
		}
		if !reflect.DeepEqual(got, s) {
			t.Errorf("Delivery state: got %#v, want %#v", got, s)
		}
		_, received := s.(*Received)
		if IsTerminal(s) == received {
			t.Errorf("IsTerminal(%T): got %v", s, IsTerminal(s))
		}
	}

	if _, err := DecodeDeliveryState(&encoding.Described{Descriptor: DescriptorSource, Value: []any{}}); err == nil {
		t.Error("Expected error for non delivery state descriptor")
	}
}

// TestName covers performative names used in logs
func TestName(t *testing.T) {
	if got := Name(nil); got != "empty" {
		t.Errorf("Name(nil): got %q, want %q", got, "empty")
	}
	if got := Name(&Transfer{}); got != "amqp:transfer:list" {
		t.Errorf("Name(transfer): got %q, want %q", got, "amqp:transfer:list")
	}
}

// TestMessageSections encodes and decodes a message with every section
func TestMessageSections(t *testing.T) {
	created := time.UnixMilli(1700000000000).UTC()
	msg := &Message{
		Header:              &MessageHeader{Durable: true, Priority: 7, TTL: time.Minute, DeliveryCount: 1},
		DeliveryAnnotations: map[encoding.Symbol]any{"x-trace": "abc"},
		Annotations:         map[encoding.Symbol]any{"x-opt-partition": int64(3)},
		Properties: &MessageProperties{
			MessageID:     uint64(99),
			To:            "queue-a",
			ContentType:   "text/plain",
			CreationTime:  created,
			GroupSequence: u32(4),
		},
		ApplicationProperties: map[string]any{"tenant": "acme", "attempt": int32(2)},
		Data:                  [][]byte{[]byte("hello"), []byte("world")},
		Footer:                map[encoding.Symbol]any{"x-hash": []byte{1, 2}},
	}

	b, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	got, err := UnmarshalMessage(b)
	if err != nil {
		t.Fatalf("UnmarshalMessage failed: %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("Message mismatch:\n got  %#v\n want %#v", got, msg)
	}
	if !bytes.Equal(got.GetData(), []byte("hello")) {
		t.Errorf("GetData: got %q, want %q", got.GetData(), "hello")
	}
}

// TestMessageBodyKinds covers value and sequence bodies
func TestMessageBodyKinds(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		b, err := (&Message{Value: "payload"}).MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary failed: %v", err)
		}
		got, err := UnmarshalMessage(b)
		if err != nil {
			t.Fatalf("UnmarshalMessage failed: %v", err)
		}
		if got.Value != "payload" {
			t.Errorf("Value: got %v, want payload", got.Value)
		}
	})

	t.Run("sequence", func(t *testing.T) {
		msg := &Message{Sequence: [][]any{{int64(1), "two"}, {true}}}
		b, err := msg.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary failed: %v", err)
		}
		got, err := UnmarshalMessage(b)
		if err != nil {
			t.Fatalf("UnmarshalMessage failed: %v", err)
		}
		if !reflect.DeepEqual(got.Sequence, msg.Sequence) {
			t.Errorf("Sequence: got %v, want %v", got.Sequence, msg.Sequence)
		}
	})

	t.Run("mixed bodies rejected", func(t *testing.T) {
		_, err := (&Message{Data: [][]byte{{1}}, Value: "x"}).MarshalBinary()
		if err == nil {
			t.Error("Expected error for message with two body kinds")
		}
	})

	t.Run("header without priority defaults to four", func(t *testing.T) {
		e := encoding.NewEncoder(16)
		if err := e.WriteComposite(DescriptorHeader, true); err != nil {
			t.Fatalf("WriteComposite failed: %v", err)
		}
		got, err := UnmarshalMessage(e.Bytes())
		if err != nil {
			t.Fatalf("UnmarshalMessage failed: %v", err)
		}
		if got.Header.Priority != DefaultPriority {
			t.Errorf("Priority: got %d, want %d", got.Header.Priority, DefaultPriority)
		}
	})
}

// TestMessageSectionOrder rejects sections out of order
func TestMessageSectionOrder(t *testing.T) {
	e := encoding.NewEncoder(32)
	if err := e.WriteDescribed(DescriptorData, []byte("body")); err != nil {
		t.Fatalf("WriteDescribed failed: %v", err)
	}
	if err := e.WriteComposite(DescriptorHeader, true); err != nil {
		t.Fatalf("WriteComposite failed: %v", err)
	}
	_, err := UnmarshalMessage(e.Bytes())
	if !errors.Is(err, encoding.ErrInvalidValue) {
		t.Errorf("UnmarshalMessage: got %v, want ErrInvalidValue", err)
	}

	e.Reset()
	for i := 0; i < 2; i++ {
		if err := e.WriteDescribed(DescriptorAMQPValue, "v"); err != nil {
			t.Fatalf("WriteDescribed failed: %v", err)
		}
	}
	if _, err := UnmarshalMessage(e.Bytes()); err == nil {
		t.Error("Expected error for repeated amqp-value section")
	}
}
