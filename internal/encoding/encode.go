package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf8"
)

// Marshaler is implemented by types that write their own AMQP representation.
// Implementations on pointer receivers must write null for a nil receiver.
type Marshaler interface {
	MarshalAMQP(e *Encoder) error
}

// Encoder appends AMQP encoded values to an internal buffer.
// Encoding is deterministic: equal values always produce equal bytes.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with the given initial capacity
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Reset discards the encoded bytes, keeping the buffer
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Marshal encodes a single value
func Marshal(v any) ([]byte, error) {
	e := &Encoder{}
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Encode appends the encoding of v
func (e *Encoder) Encode(v any) error {
	switch v := v.(type) {
	case nil:
		e.WriteNull()
	case Marshaler:
		return v.MarshalAMQP(e)
	case bool:
		e.WriteBool(v)
	case uint8:
		e.buf = append(e.buf, byte(TypeCodeUbyte), v)
	case uint16:
		e.buf = append(e.buf, byte(TypeCodeUshort))
		e.buf = binary.BigEndian.AppendUint16(e.buf, v)
	case uint32:
		e.WriteUint(v)
	case uint64:
		e.WriteUlong(v)
	case int8:
		e.buf = append(e.buf, byte(TypeCodeByte), byte(v))
	case int16:
		e.buf = append(e.buf, byte(TypeCodeShort))
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v))
	case int32:
		e.writeInt(v)
	case int64:
		e.writeLong(v)
	case int:
		e.writeLong(int64(v))
	case float32:
		e.buf = append(e.buf, byte(TypeCodeFloat))
		e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(v))
	case float64:
		e.buf = append(e.buf, byte(TypeCodeDouble))
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
	case Decimal32:
		e.buf = append(append(e.buf, byte(TypeCodeDecimal32)), v[:]...)
	case Decimal64:
		e.buf = append(append(e.buf, byte(TypeCodeDecimal64)), v[:]...)
	case Decimal128:
		e.buf = append(append(e.buf, byte(TypeCodeDecimal128)), v[:]...)
	case Char:
		e.buf = append(e.buf, byte(TypeCodeChar))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
	case time.Time:
		e.WriteTimestamp(v)
	case UUID:
		e.buf = append(append(e.buf, byte(TypeCodeUUID)), v[:]...)
	case []byte:
		e.WriteBinary(v)
	case string:
		return e.WriteString(v)
	case Symbol:
		e.WriteSymbol(v)
	case []any:
		return e.WriteList(v)
	case Map:
		return e.writeMap(v)
	case map[Symbol]any:
		m := make(Map, 0, len(v))
		for k, val := range v {
			m = append(m, MapEntry{Key: k, Value: val})
		}
		return e.writeSortedMap(m)
	case map[string]any:
		m := make(Map, 0, len(v))
		for k, val := range v {
			m = append(m, MapEntry{Key: k, Value: val})
		}
		return e.writeSortedMap(m)
	case map[any]any:
		m := make(Map, 0, len(v))
		for k, val := range v {
			m = append(m, MapEntry{Key: k, Value: val})
		}
		return e.writeSortedMap(m)
	case Array:
		return e.writeArray(v)
	case []Symbol:
		return e.writeArray(toArray(v), TypeCodeSym8)
	case []string:
		return e.writeArray(toArray(v), TypeCodeStr8)
	case []int32:
		return e.writeArray(toArray(v), TypeCodeInt)
	case []int64:
		return e.writeArray(toArray(v), TypeCodeLong)
	case []uint32:
		return e.writeArray(toArray(v), TypeCodeUint)
	case []uint64:
		return e.writeArray(toArray(v), TypeCodeUlong)
	case *Described:
		if v == nil {
			e.WriteNull()
			return nil
		}
		return e.WriteDescribed(v.Descriptor, v.Value)
	case Described:
		return e.WriteDescribed(v.Descriptor, v.Value)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// WriteNull appends a null
func (e *Encoder) WriteNull() {
	e.buf = append(e.buf, byte(TypeCodeNull))
}

// WriteBool appends a boolean using the zero-width true/false constructors
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, byte(TypeCodeBoolTrue))
	} else {
		e.buf = append(e.buf, byte(TypeCodeBoolFalse))
	}
}

// WriteUint appends a uint in its smallest legal width
func (e *Encoder) WriteUint(v uint32) {
	switch {
	case v == 0:
		e.buf = append(e.buf, byte(TypeCodeUint0))
	case v < 256:
		e.buf = append(e.buf, byte(TypeCodeSmallUint), byte(v))
	default:
		e.buf = append(e.buf, byte(TypeCodeUint))
		e.buf = binary.BigEndian.AppendUint32(e.buf, v)
	}
}

// WriteUlong appends a ulong in its smallest legal width
func (e *Encoder) WriteUlong(v uint64) {
	switch {
	case v == 0:
		e.buf = append(e.buf, byte(TypeCodeUlong0))
	case v < 256:
		e.buf = append(e.buf, byte(TypeCodeSmallUlong), byte(v))
	default:
		e.buf = append(e.buf, byte(TypeCodeUlong))
		e.buf = binary.BigEndian.AppendUint64(e.buf, v)
	}
}

func (e *Encoder) writeInt(v int32) {
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		e.buf = append(e.buf, byte(TypeCodeSmallInt), byte(int8(v)))
		return
	}
	e.buf = append(e.buf, byte(TypeCodeInt))
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
}

func (e *Encoder) writeLong(v int64) {
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		e.buf = append(e.buf, byte(TypeCodeSmallLong), byte(int8(v)))
		return
	}
	e.buf = append(e.buf, byte(TypeCodeLong))
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

// WriteTimestamp appends a timestamp with millisecond precision
func (e *Encoder) WriteTimestamp(t time.Time) {
	e.buf = append(e.buf, byte(TypeCodeTimestamp))
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(t.UnixMilli()))
}

// WriteBinary appends a vbin8 or vbin32
func (e *Encoder) WriteBinary(v []byte) {
	if len(v) <= math.MaxUint8 {
		e.buf = append(e.buf, byte(TypeCodeVbin8), byte(len(v)))
	} else {
		e.buf = append(e.buf, byte(TypeCodeVbin32))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(v)))
	}
	e.buf = append(e.buf, v...)
}

// WriteString appends a str8 or str32; the string must be valid UTF-8
func (e *Encoder) WriteString(v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: string is not valid UTF-8", ErrUnsupportedType)
	}
	if len(v) <= math.MaxUint8 {
		e.buf = append(e.buf, byte(TypeCodeStr8), byte(len(v)))
	} else {
		e.buf = append(e.buf, byte(TypeCodeStr32))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(v)))
	}
	e.buf = append(e.buf, v...)
	return nil
}

// WriteSymbol appends a sym8 or sym32
func (e *Encoder) WriteSymbol(v Symbol) {
	if len(v) <= math.MaxUint8 {
		e.buf = append(e.buf, byte(TypeCodeSym8), byte(len(v)))
	} else {
		e.buf = append(e.buf, byte(TypeCodeSym32))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(v)))
	}
	e.buf = append(e.buf, v...)
}

// WriteDescribed appends a described value
func (e *Encoder) WriteDescribed(descriptor, value any) error {
	e.buf = append(e.buf, byte(TypeCodeDescribed))
	switch d := descriptor.(type) {
	case uint64:
		e.WriteUlong(d)
	case Symbol:
		e.WriteSymbol(d)
	default:
		return fmt.Errorf("%w: descriptor %T", ErrUnsupportedType, descriptor)
	}
	return e.Encode(value)
}

// WriteComposite appends a described list under a numeric descriptor.
// Absent fields are nil and trailing nils are omitted.
func (e *Encoder) WriteComposite(code uint64, fields ...any) error {
	n := len(fields)
	for n > 0 && fields[n-1] == nil {
		n--
	}
	e.buf = append(e.buf, byte(TypeCodeDescribed))
	e.WriteUlong(code)
	return e.WriteList(fields[:n])
}

// WriteList appends a list, choosing list0, list8 or list32
func (e *Encoder) WriteList(items []any) error {
	if len(items) == 0 {
		e.buf = append(e.buf, byte(TypeCodeList0))
		return nil
	}
	body := &Encoder{}
	for _, item := range items {
		if err := body.Encode(item); err != nil {
			return err
		}
	}
	e.writeCompound(TypeCodeList8, TypeCodeList32, len(items), body.buf)
	return nil
}

func (e *Encoder) writeMap(m Map) error {
	body := &Encoder{}
	for _, entry := range m {
		if err := body.Encode(entry.Key); err != nil {
			return err
		}
		if err := body.Encode(entry.Value); err != nil {
			return err
		}
	}
	e.writeCompound(TypeCodeMap8, TypeCodeMap32, 2*len(m), body.buf)
	return nil
}

// writeSortedMap orders Go map entries by their encoded keys
func (e *Encoder) writeSortedMap(m Map) error {
	keys := make([][]byte, len(m))
	for i, entry := range m {
		k, err := Marshal(entry.Key)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	idx := make([]int, len(m))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return bytes.Compare(keys[idx[a]], keys[idx[b]]) < 0
	})
	sorted := make(Map, len(m))
	for i, j := range idx {
		sorted[i] = m[j]
	}
	return e.writeMap(sorted)
}

// writeCompound writes the size/count header for lists and maps
func (e *Encoder) writeCompound(small, large TypeCode, count int, body []byte) {
	if len(body)+1 <= math.MaxUint8 && count <= math.MaxUint8 {
		e.buf = append(e.buf, byte(small), byte(len(body)+1), byte(count))
	} else {
		e.buf = append(e.buf, byte(large))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(body)+4))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(count))
	}
	e.buf = append(e.buf, body...)
}

func toArray[T any](s []T) Array {
	a := make(Array, len(s))
	for i, v := range s {
		a[i] = v
	}
	return a
}

// writeArray appends a homogeneous array. emptyCode names the element
// constructor used when the array has no elements.
func (e *Encoder) writeArray(a Array, emptyCode ...TypeCode) error {
	code := TypeCodeNull
	if len(emptyCode) > 0 {
		code = emptyCode[0]
	}
	if len(a) > 0 {
		var ok bool
		if code, ok = arrayElementCode(a[0]); !ok {
			return fmt.Errorf("%w: array element %T", ErrUnsupportedType, a[0])
		}
	}

	wide := false
	for _, v := range a {
		c, ok := arrayElementCode(v)
		if !ok || c != code {
			return fmt.Errorf("%w: array elements must share one type, got %T", ErrUnsupportedType, v)
		}
		switch v := v.(type) {
		case []byte:
			wide = wide || len(v) > math.MaxUint8
		case string:
			wide = wide || len(v) > math.MaxUint8
		case Symbol:
			wide = wide || len(v) > math.MaxUint8
		}
	}
	if wide {
		switch code {
		case TypeCodeVbin8:
			code = TypeCodeVbin32
		case TypeCodeStr8:
			code = TypeCodeStr32
		case TypeCodeSym8:
			code = TypeCodeSym32
		}
	}

	body := &Encoder{}
	for _, v := range a {
		if err := body.writeRaw(code, v); err != nil {
			return err
		}
	}

	if len(body.buf)+2 <= math.MaxUint8 && len(a) <= math.MaxUint8 {
		e.buf = append(e.buf, byte(TypeCodeArray8), byte(len(body.buf)+2), byte(len(a)), byte(code))
	} else {
		e.buf = append(e.buf, byte(TypeCodeArray32))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(body.buf)+5))
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(a)))
		e.buf = append(e.buf, byte(code))
	}
	e.buf = append(e.buf, body.buf...)
	return nil
}

// arrayElementCode returns the shared constructor for an element type
func arrayElementCode(v any) (TypeCode, bool) {
	switch v.(type) {
	case nil:
		return TypeCodeNull, true
	case bool:
		return TypeCodeBool, true
	case uint8:
		return TypeCodeUbyte, true
	case uint16:
		return TypeCodeUshort, true
	case uint32:
		return TypeCodeUint, true
	case uint64:
		return TypeCodeUlong, true
	case int8:
		return TypeCodeByte, true
	case int16:
		return TypeCodeShort, true
	case int32:
		return TypeCodeInt, true
	case int64:
		return TypeCodeLong, true
	case float32:
		return TypeCodeFloat, true
	case float64:
		return TypeCodeDouble, true
	case Decimal32:
		return TypeCodeDecimal32, true
	case Decimal64:
		return TypeCodeDecimal64, true
	case Decimal128:
		return TypeCodeDecimal128, true
	case Char:
		return TypeCodeChar, true
	case time.Time:
		return TypeCodeTimestamp, true
	case UUID:
		return TypeCodeUUID, true
	case []byte:
		return TypeCodeVbin8, true
	case string:
		return TypeCodeStr8, true
	case Symbol:
		return TypeCodeSym8, true
	}
	return 0, false
}

// writeRaw appends the value of v without a constructor
func (e *Encoder) writeRaw(code TypeCode, v any) error {
	switch code {
	case TypeCodeNull:
	case TypeCodeBool:
		if v.(bool) {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case TypeCodeUbyte:
		e.buf = append(e.buf, v.(uint8))
	case TypeCodeUshort:
		e.buf = binary.BigEndian.AppendUint16(e.buf, v.(uint16))
	case TypeCodeUint:
		e.buf = binary.BigEndian.AppendUint32(e.buf, v.(uint32))
	case TypeCodeUlong:
		e.buf = binary.BigEndian.AppendUint64(e.buf, v.(uint64))
	case TypeCodeByte:
		e.buf = append(e.buf, byte(v.(int8)))
	case TypeCodeShort:
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v.(int16)))
	case TypeCodeInt:
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v.(int32)))
	case TypeCodeLong:
		e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v.(int64)))
	case TypeCodeFloat:
		e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(v.(float32)))
	case TypeCodeDouble:
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v.(float64)))
	case TypeCodeDecimal32:
		d := v.(Decimal32)
		e.buf = append(e.buf, d[:]...)
	case TypeCodeDecimal64:
		d := v.(Decimal64)
		e.buf = append(e.buf, d[:]...)
	case TypeCodeDecimal128:
		d := v.(Decimal128)
		e.buf = append(e.buf, d[:]...)
	case TypeCodeChar:
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v.(Char)))
	case TypeCodeTimestamp:
		e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v.(time.Time).UnixMilli()))
	case TypeCodeUUID:
		u := v.(UUID)
		e.buf = append(e.buf, u[:]...)
	case TypeCodeVbin8:
		b := v.([]byte)
		e.buf = append(append(e.buf, byte(len(b))), b...)
	case TypeCodeVbin32:
		b := v.([]byte)
		e.buf = append(binary.BigEndian.AppendUint32(e.buf, uint32(len(b))), b...)
	case TypeCodeStr8, TypeCodeStr32:
		s := v.(string)
		if !utf8.ValidString(s) {
			return fmt.Errorf("%w: string is not valid UTF-8", ErrUnsupportedType)
		}
		if code == TypeCodeStr8 {
			e.buf = append(append(e.buf, byte(len(s))), s...)
		} else {
			e.buf = append(binary.BigEndian.AppendUint32(e.buf, uint32(len(s))), s...)
		}
	case TypeCodeSym8:
		s := v.(Symbol)
		e.buf = append(append(e.buf, byte(len(s))), s...)
	case TypeCodeSym32:
		s := v.(Symbol)
		e.buf = append(binary.BigEndian.AppendUint32(e.buf, uint32(len(s))), s...)
	default:
		return fmt.Errorf("%w: array constructor %s", ErrUnsupportedType, code)
	}
	return nil
}
