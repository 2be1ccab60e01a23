package protocol

import (
	"fmt"

	"github.com/israelio/amqp10-go-client/internal/encoding"
)

// SASL mechanism names
const (
	SASLMechanismAnonymous encoding.Symbol = "ANONYMOUS"
	SASLMechanismPlain     encoding.Symbol = "PLAIN"
)

// SASLCode is the outcome of a SASL exchange
type SASLCode uint8

const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

// String returns a string representation of the code
func (c SASLCode) String() string {
	switch c {
	case SASLCodeOK:
		return "ok"
	case SASLCodeAuth:
		return "auth"
	case SASLCodeSys:
		return "sys"
	case SASLCodeSysPerm:
		return "sys-perm"
	case SASLCodeSysTemp:
		return "sys-temp"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// SASLMechanisms advertises the server's mechanisms
type SASLMechanisms struct {
	Mechanisms []encoding.Symbol
}

// SASLInit selects a mechanism and carries the initial response
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

// SASLChallenge carries a server challenge
type SASLChallenge struct {
	Challenge []byte
}

// SASLResponse carries a client response
type SASLResponse struct {
	Response []byte
}

// SASLOutcome ends the SASL exchange
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (*SASLMechanisms) performative() {}
func (*SASLInit) performative()       {}
func (*SASLChallenge) performative()  {}
func (*SASLResponse) performative()   {}
func (*SASLOutcome) performative()    {}

func (*SASLMechanisms) Descriptor() uint64 { return DescriptorSASLMechanisms }
func (*SASLInit) Descriptor() uint64       { return DescriptorSASLInit }
func (*SASLChallenge) Descriptor() uint64  { return DescriptorSASLChallenge }
func (*SASLResponse) Descriptor() uint64   { return DescriptorSASLResponse }
func (*SASLOutcome) Descriptor() uint64    { return DescriptorSASLOutcome }

// MarshalAMQP encodes the SASL frame body
func (s *SASLMechanisms) MarshalAMQP(e *encoding.Encoder) error {
	mechs := s.Mechanisms
	if mechs == nil {
		mechs = []encoding.Symbol{}
	}
	return e.WriteComposite(DescriptorSASLMechanisms, mechs)
}

// MarshalAMQP encodes the SASL frame body
func (s *SASLInit) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorSASLInit, s.Mechanism, optBinary(s.InitialResponse), optString(s.Hostname))
}

// MarshalAMQP encodes the SASL frame body
func (s *SASLChallenge) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorSASLChallenge, nonNilBinary(s.Challenge))
}

// MarshalAMQP encodes the SASL frame body
func (s *SASLResponse) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorSASLResponse, nonNilBinary(s.Response))
}

// MarshalAMQP encodes the SASL frame body
func (s *SASLOutcome) MarshalAMQP(e *encoding.Encoder) error {
	return e.WriteComposite(DescriptorSASLOutcome, uint8(s.Code), optBinary(s.AdditionalData))
}

func nonNilBinary(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func decodeSASLMechanisms(r *encoding.FieldReader) (*SASLMechanisms, error) {
	r.Require(0)
	s := &SASLMechanisms{Mechanisms: r.Symbols(0)}
	return s, r.Err()
}

func decodeSASLInit(r *encoding.FieldReader) (*SASLInit, error) {
	r.Require(0)
	s := &SASLInit{
		Mechanism:       r.Symbol(0),
		InitialResponse: r.Binary(1),
		Hostname:        r.String(2),
	}
	return s, r.Err()
}

func decodeSASLOutcome(r *encoding.FieldReader) (*SASLOutcome, error) {
	r.Require(0)
	s := &SASLOutcome{
		Code:           SASLCode(r.Uint8(0, 0)),
		AdditionalData: r.Binary(1),
	}
	return s, r.Err()
}
