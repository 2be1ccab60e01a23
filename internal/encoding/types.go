package encoding

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Symbol is an AMQP symbolic value (ASCII)
type Symbol string

// UUID is a RFC-4122 universally unique identifier
type UUID [16]byte

// String returns the canonical 8-4-4-4-12 representation
func (u UUID) String() string {
	var buf [36]byte
	hex.Encode(buf[0:8], u[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], u[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], u[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], u[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], u[10:])
	return string(buf[:])
}

// Char is a single UTF-32BE encoded unicode character
type Char rune

// Decimal32 is an IEEE 754-2008 decimal32 kept in its wire form
type Decimal32 [4]byte

// Decimal64 is an IEEE 754-2008 decimal64 kept in its wire form
type Decimal64 [8]byte

// Decimal128 is an IEEE 754-2008 decimal128 kept in its wire form
type Decimal128 [16]byte

// Described is a value annotated with a descriptor.
// The descriptor is either a uint64 code or a Symbol name.
type Described struct {
	Descriptor any
	Value      any
}

// String returns a string representation of the described value
func (d *Described) String() string {
	return fmt.Sprintf("Described{descriptor=%v, value=%v}", d.Descriptor, d.Value)
}

// Code returns the numeric descriptor, resolving registered symbolic names
func (d *Described) Code() (uint64, bool) {
	switch desc := d.Descriptor.(type) {
	case uint64:
		return desc, true
	case Symbol:
		return LookupDescriptor(desc)
	}
	return 0, false
}

// MapEntry is a single key/value pair of a Map
type MapEntry struct {
	Key   any
	Value any
}

// Map is an AMQP map with its wire order preserved
type Map []MapEntry

// Get returns the value stored under key
func (m Map) Get(key any) (any, bool) {
	for _, e := range m {
		if keysEqual(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Array is a homogeneous AMQP array. All elements must share one Go type.
type Array []any

func keysEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	if !isComparable(a) || !isComparable(b) {
		return false
	}
	return a == b
}

func isComparable(v any) bool {
	switch v.(type) {
	case []any, Map, Array:
		return false
	}
	return true
}
