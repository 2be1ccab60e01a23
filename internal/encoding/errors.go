package encoding

import (
	"errors"
	"fmt"
	"sync"
)

// DecodeErrorKind classifies a decoding failure
type DecodeErrorKind int

const (
	ErrKindTruncated DecodeErrorKind = iota
	ErrKindMalformedConstructor
	ErrKindUnknownDescriptor
	ErrKindInvalidValue
)

// String returns a string representation of the kind
func (k DecodeErrorKind) String() string {
	switch k {
	case ErrKindTruncated:
		return "truncated input"
	case ErrKindMalformedConstructor:
		return "malformed constructor"
	case ErrKindUnknownDescriptor:
		return "unknown descriptor"
	case ErrKindInvalidValue:
		return "invalid value"
	default:
		return "unknown"
	}
}

// DecodeError reports malformed input to the decoder
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
	Reason string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("amqp decode error at offset %d: %s", e.Offset, e.Kind)
	}
	return fmt.Sprintf("amqp decode error at offset %d: %s: %s", e.Offset, e.Kind, e.Reason)
}

// Is matches any *DecodeError of the same kind
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind && t.Offset == 0 && t.Reason == ""
}

// Sentinels usable with errors.Is
var (
	ErrTruncated         = &DecodeError{Kind: ErrKindTruncated}
	ErrMalformed         = &DecodeError{Kind: ErrKindMalformedConstructor}
	ErrUnknownDescriptor = &DecodeError{Kind: ErrKindUnknownDescriptor}
	ErrInvalidValue      = &DecodeError{Kind: ErrKindInvalidValue}
)

// ErrUnsupportedType is returned by the encoder for Go values outside the type model
var ErrUnsupportedType = errors.New("amqp: unsupported type")

// InvalidField builds a DecodeError for a composite field that has the wrong type
func InvalidField(composite string, index int, v any) error {
	return &DecodeError{
		Kind:   ErrKindInvalidValue,
		Reason: fmt.Sprintf("%s field %d: unexpected %T", composite, index, v),
	}
}

// MissingField builds a DecodeError for an absent mandatory composite field
func MissingField(composite string, index int) error {
	return &DecodeError{
		Kind:   ErrKindInvalidValue,
		Reason: fmt.Sprintf("%s field %d is mandatory", composite, index),
	}
}

var (
	registryMu sync.RWMutex
	byCode     = make(map[uint64]Symbol)
	byName     = make(map[Symbol]uint64)
)

// RegisterDescriptor records a known descriptor code and its symbolic name.
// Strict decoders reject described values whose descriptor is not registered.
func RegisterDescriptor(code uint64, name Symbol) {
	registryMu.Lock()
	defer registryMu.Unlock()
	byCode[code] = name
	byName[name] = code
}

// LookupDescriptor resolves a symbolic descriptor to its numeric code
func LookupDescriptor(name Symbol) (uint64, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	code, ok := byName[name]
	return code, ok
}

// DescriptorName returns the symbolic name of a registered code
func DescriptorName(code uint64) (Symbol, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	name, ok := byCode[code]
	return name, ok
}
