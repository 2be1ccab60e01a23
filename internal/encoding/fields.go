package encoding

import (
	"fmt"
	"time"
)

// FieldReader reads the positional fields of a decoded composite.
// The first conversion failure is kept and returned by Err; later calls
// return zero values.
type FieldReader struct {
	name   string
	fields []any
	err    error
}

// ReadComposite checks that v is a described list with the given descriptor
// and returns a reader over its fields.
func ReadComposite(v any, code uint64, name string) (*FieldReader, error) {
	desc, ok := v.(*Described)
	if !ok {
		return nil, &DecodeError{Kind: ErrKindInvalidValue, Reason: fmt.Sprintf("%s: expected described type, got %T", name, v)}
	}
	got, ok := desc.Code()
	if !ok || got != code {
		return nil, &DecodeError{Kind: ErrKindInvalidValue, Reason: fmt.Sprintf("%s: unexpected descriptor %v", name, desc.Descriptor)}
	}
	return NewFieldReader(name, desc.Value)
}

// NewFieldReader wraps a decoded list value
func NewFieldReader(name string, v any) (*FieldReader, error) {
	switch list := v.(type) {
	case []any:
		return &FieldReader{name: name, fields: list}, nil
	case nil:
		return &FieldReader{name: name}, nil
	}
	return nil, &DecodeError{Kind: ErrKindInvalidValue, Reason: fmt.Sprintf("%s: expected list, got %T", name, v)}
}

// Len returns the number of encoded fields, trailing omissions excluded
func (r *FieldReader) Len() int {
	return len(r.fields)
}

// Err returns the first conversion error
func (r *FieldReader) Err() error {
	return r.err
}

// Any returns the raw field value or nil when absent
func (r *FieldReader) Any(i int) any {
	if i >= len(r.fields) {
		return nil
	}
	return r.fields[i]
}

// Present reports whether field i is non-null
func (r *FieldReader) Present(i int) bool {
	return r.Any(i) != nil
}

// Require records an error when field i is absent
func (r *FieldReader) Require(i int) {
	if r.err == nil && !r.Present(i) {
		r.err = MissingField(r.name, i)
	}
}

func (r *FieldReader) fail(i int, v any) {
	if r.err == nil {
		r.err = InvalidField(r.name, i, v)
	}
}

// Uint64 reads an unsigned field of any width
func (r *FieldReader) Uint64(i int, def uint64) uint64 {
	v := r.Any(i)
	switch n := v.(type) {
	case nil:
		return def
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	}
	r.fail(i, v)
	return def
}

// Uint32 reads a uint field
func (r *FieldReader) Uint32(i int, def uint32) uint32 {
	n := r.Uint64(i, uint64(def))
	if n > uint64(^uint32(0)) {
		r.fail(i, r.Any(i))
		return def
	}
	return uint32(n)
}

// Uint16 reads a ushort field
func (r *FieldReader) Uint16(i int, def uint16) uint16 {
	n := r.Uint64(i, uint64(def))
	if n > uint64(^uint16(0)) {
		r.fail(i, r.Any(i))
		return def
	}
	return uint16(n)
}

// Uint8 reads a ubyte field
func (r *FieldReader) Uint8(i int, def uint8) uint8 {
	n := r.Uint64(i, uint64(def))
	if n > uint64(^uint8(0)) {
		r.fail(i, r.Any(i))
		return def
	}
	return uint8(n)
}

// OptUint32 reads an optional uint field
func (r *FieldReader) OptUint32(i int) *uint32 {
	if !r.Present(i) {
		return nil
	}
	v := r.Uint32(i, 0)
	return &v
}

// OptUint16 reads an optional ushort field
func (r *FieldReader) OptUint16(i int) *uint16 {
	if !r.Present(i) {
		return nil
	}
	v := r.Uint16(i, 0)
	return &v
}

// OptUint8 reads an optional ubyte field
func (r *FieldReader) OptUint8(i int) *uint8 {
	if !r.Present(i) {
		return nil
	}
	v := r.Uint8(i, 0)
	return &v
}

// Bool reads a boolean field
func (r *FieldReader) Bool(i int, def bool) bool {
	v := r.Any(i)
	switch b := v.(type) {
	case nil:
		return def
	case bool:
		return b
	}
	r.fail(i, v)
	return def
}

// OptBool reads an optional boolean field
func (r *FieldReader) OptBool(i int) *bool {
	if !r.Present(i) {
		return nil
	}
	v := r.Bool(i, false)
	return &v
}

// String reads a string field
func (r *FieldReader) String(i int) string {
	v := r.Any(i)
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	r.fail(i, v)
	return ""
}

// Symbol reads a symbol field
func (r *FieldReader) Symbol(i int) Symbol {
	v := r.Any(i)
	switch s := v.(type) {
	case nil:
		return ""
	case Symbol:
		return s
	}
	r.fail(i, v)
	return ""
}

// Binary reads a binary field
func (r *FieldReader) Binary(i int) []byte {
	v := r.Any(i)
	switch b := v.(type) {
	case nil:
		return nil
	case []byte:
		return b
	}
	r.fail(i, v)
	return nil
}

// Time reads a timestamp field; absent fields return the zero time
func (r *FieldReader) Time(i int) time.Time {
	v := r.Any(i)
	switch t := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return t
	}
	r.fail(i, v)
	return time.Time{}
}

// Symbols reads a multiple symbol field, accepting a single symbol or an array
func (r *FieldReader) Symbols(i int) []Symbol {
	v := r.Any(i)
	switch s := v.(type) {
	case nil:
		return nil
	case Symbol:
		return []Symbol{s}
	case Array:
		out := make([]Symbol, 0, len(s))
		for _, e := range s {
			sym, ok := e.(Symbol)
			if !ok {
				r.fail(i, e)
				return nil
			}
			out = append(out, sym)
		}
		return out
	}
	r.fail(i, v)
	return nil
}

// SymbolMap reads a fields map (symbol keys)
func (r *FieldReader) SymbolMap(i int) map[Symbol]any {
	v := r.Any(i)
	if v == nil {
		return nil
	}
	m, ok := v.(Map)
	if !ok {
		r.fail(i, v)
		return nil
	}
	out, err := SymbolKeyed(m)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s field %d: %w", r.name, i, err)
	}
	return out
}

// Map reads a map field preserving key order
func (r *FieldReader) Map(i int) Map {
	v := r.Any(i)
	switch m := v.(type) {
	case nil:
		return nil
	case Map:
		return m
	}
	r.fail(i, v)
	return nil
}

// Described reads a described field
func (r *FieldReader) Described(i int) *Described {
	v := r.Any(i)
	switch d := v.(type) {
	case nil:
		return nil
	case *Described:
		return d
	}
	r.fail(i, v)
	return nil
}

// List reads a list field
func (r *FieldReader) List(i int) []any {
	v := r.Any(i)
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	}
	r.fail(i, v)
	return nil
}

// SymbolKeyed converts a decoded map whose keys are all symbols
func SymbolKeyed(m Map) (map[Symbol]any, error) {
	out := make(map[Symbol]any, len(m))
	for _, e := range m {
		k, ok := e.Key.(Symbol)
		if !ok {
			return nil, &DecodeError{Kind: ErrKindInvalidValue, Reason: fmt.Sprintf("map key of type %T, want symbol", e.Key)}
		}
		out[k] = e.Value
	}
	return out, nil
}

// StringKeyed converts a decoded map whose keys are all strings
func StringKeyed(m Map) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for _, e := range m {
		k, ok := e.Key.(string)
		if !ok {
			return nil, &DecodeError{Kind: ErrKindInvalidValue, Reason: fmt.Sprintf("map key of type %T, want string", e.Key)}
		}
		out[k] = e.Value
	}
	return out, nil
}
