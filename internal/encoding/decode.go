package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

const (
	maxNesting        = 64
	maxNullArrayCount = 1 << 16
)

// Decoder reads AMQP encoded values from a byte slice
type Decoder struct {
	buf    []byte
	off    int
	strict bool
	depth  int
}

// NewDecoder creates a decoder over b
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// SetStrict makes the decoder reject descriptors that were never registered
func (d *Decoder) SetStrict(strict bool) {
	d.strict = strict
}

// Offset returns the number of bytes consumed
func (d *Decoder) Offset() int {
	return d.off
}

// Remaining returns the bytes not yet consumed
func (d *Decoder) Remaining() []byte {
	return d.buf[d.off:]
}

// Unmarshal decodes exactly one value from b and reports the bytes consumed
func Unmarshal(b []byte) (any, int, error) {
	d := NewDecoder(b)
	v, err := d.Decode()
	return v, d.off, err
}

// Decode reads one complete value
func (d *Decoder) Decode() (any, error) {
	code, err := d.readByte()
	if err != nil {
		return nil, err
	}
	return d.decodeValue(TypeCode(code))
}

func (d *Decoder) errorf(kind DecodeErrorKind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Offset: d.off, Reason: fmt.Sprintf(format, args...)}
}

func (d *Decoder) readByte() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, &DecodeError{Kind: ErrKindTruncated, Offset: d.off}
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, d.errorf(ErrKindTruncated, "need %d bytes, have %d", n, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) readUint64() (uint64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// readLength reads a one or four byte length prefix
func (d *Decoder) readLength(wide bool) (int, error) {
	if !wide {
		b, err := d.readByte()
		return int(b), err
	}
	n, err := d.readUint32()
	if err != nil {
		return 0, err
	}
	if uint64(n) > uint64(len(d.buf)) {
		return 0, d.errorf(ErrKindTruncated, "declared length %d exceeds input", n)
	}
	return int(n), nil
}

func (d *Decoder) decodeValue(code TypeCode) (any, error) {
	switch code {
	case TypeCodeDescribed:
		return d.decodeDescribed()
	case TypeCodeNull:
		return nil, nil
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	case TypeCodeBool:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, d.errorf(ErrKindInvalidValue, "boolean byte 0x%02x", b)
	case TypeCodeUbyte:
		b, err := d.readByte()
		return b, err
	case TypeCodeUshort:
		v, err := d.readUint16()
		return v, err
	case TypeCodeUint:
		v, err := d.readUint32()
		return v, err
	case TypeCodeSmallUint:
		b, err := d.readByte()
		return uint32(b), err
	case TypeCodeUint0:
		return uint32(0), nil
	case TypeCodeUlong:
		v, err := d.readUint64()
		return v, err
	case TypeCodeSmallUlong:
		b, err := d.readByte()
		return uint64(b), err
	case TypeCodeUlong0:
		return uint64(0), nil
	case TypeCodeByte:
		b, err := d.readByte()
		return int8(b), err
	case TypeCodeShort:
		v, err := d.readUint16()
		return int16(v), err
	case TypeCodeInt:
		v, err := d.readUint32()
		return int32(v), err
	case TypeCodeSmallInt:
		b, err := d.readByte()
		return int32(int8(b)), err
	case TypeCodeLong:
		v, err := d.readUint64()
		return int64(v), err
	case TypeCodeSmallLong:
		b, err := d.readByte()
		return int64(int8(b)), err
	case TypeCodeFloat:
		v, err := d.readUint32()
		return math.Float32frombits(v), err
	case TypeCodeDouble:
		v, err := d.readUint64()
		return math.Float64frombits(v), err
	case TypeCodeDecimal32:
		var v Decimal32
		b, err := d.readN(len(v))
		if err != nil {
			return nil, err
		}
		copy(v[:], b)
		return v, nil
	case TypeCodeDecimal64:
		var v Decimal64
		b, err := d.readN(len(v))
		if err != nil {
			return nil, err
		}
		copy(v[:], b)
		return v, nil
	case TypeCodeDecimal128:
		var v Decimal128
		b, err := d.readN(len(v))
		if err != nil {
			return nil, err
		}
		copy(v[:], b)
		return v, nil
	case TypeCodeChar:
		v, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if !utf8.ValidRune(rune(v)) {
			return nil, d.errorf(ErrKindInvalidValue, "char 0x%x", v)
		}
		return Char(v), nil
	case TypeCodeTimestamp:
		v, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(v)).UTC(), nil
	case TypeCodeUUID:
		var v UUID
		b, err := d.readN(len(v))
		if err != nil {
			return nil, err
		}
		copy(v[:], b)
		return v, nil
	case TypeCodeVbin8, TypeCodeVbin32:
		b, err := d.readVariable(code == TypeCodeVbin32)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case TypeCodeStr8, TypeCodeStr32:
		b, err := d.readVariable(code == TypeCodeStr32)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, d.errorf(ErrKindInvalidValue, "string is not valid UTF-8")
		}
		return string(b), nil
	case TypeCodeSym8, TypeCodeSym32:
		b, err := d.readVariable(code == TypeCodeSym32)
		if err != nil {
			return nil, err
		}
		return Symbol(b), nil
	case TypeCodeList0:
		return []any{}, nil
	case TypeCodeList8, TypeCodeList32:
		return d.decodeList(code == TypeCodeList32)
	case TypeCodeMap8, TypeCodeMap32:
		return d.decodeMap(code == TypeCodeMap32)
	case TypeCodeArray8, TypeCodeArray32:
		return d.decodeArray(code == TypeCodeArray32)
	}
	return nil, &DecodeError{
		Kind:   ErrKindMalformedConstructor,
		Offset: d.off - 1,
		Reason: fmt.Sprintf("format code 0x%02x", byte(code)),
	}
}

func (d *Decoder) readVariable(wide bool) ([]byte, error) {
	n, err := d.readLength(wide)
	if err != nil {
		return nil, err
	}
	return d.readN(n)
}

func (d *Decoder) decodeDescribed() (any, error) {
	if d.depth >= maxNesting {
		return nil, d.errorf(ErrKindInvalidValue, "nesting deeper than %d", maxNesting)
	}
	d.depth++
	defer func() { d.depth-- }()

	start := d.off
	descriptor, err := d.Decode()
	if err != nil {
		return nil, err
	}
	switch desc := descriptor.(type) {
	case uint64:
		if d.strict {
			if _, ok := DescriptorName(desc); !ok {
				return nil, &DecodeError{Kind: ErrKindUnknownDescriptor, Offset: start, Reason: fmt.Sprintf("0x%x", desc)}
			}
		}
	case Symbol:
		if d.strict {
			if _, ok := LookupDescriptor(desc); !ok {
				return nil, &DecodeError{Kind: ErrKindUnknownDescriptor, Offset: start, Reason: string(desc)}
			}
		}
	default:
		return nil, &DecodeError{Kind: ErrKindInvalidValue, Offset: start, Reason: fmt.Sprintf("descriptor of type %T", descriptor)}
	}

	value, err := d.Decode()
	if err != nil {
		return nil, err
	}
	return &Described{Descriptor: descriptor, Value: value}, nil
}

// compound reads the size and count header of a list, map or array and
// returns a decoder bounded to the compound body.
func (d *Decoder) compound(wide bool) (*Decoder, int, error) {
	if d.depth >= maxNesting {
		return nil, 0, d.errorf(ErrKindInvalidValue, "nesting deeper than %d", maxNesting)
	}
	size, err := d.readLength(wide)
	if err != nil {
		return nil, 0, err
	}
	end := d.off + size
	if end > len(d.buf) {
		return nil, 0, d.errorf(ErrKindTruncated, "compound size %d exceeds input", size)
	}
	sub := &Decoder{buf: d.buf[:end], off: d.off, strict: d.strict, depth: d.depth + 1}
	if !wide {
		count, err := sub.readByte()
		return sub, int(count), err
	}
	count, err := sub.readUint32()
	if err != nil {
		return nil, 0, err
	}
	if uint64(count) > math.MaxInt32 {
		return nil, 0, sub.errorf(ErrKindInvalidValue, "count %d too large", count)
	}
	return sub, int(count), nil
}

func (d *Decoder) finish(sub *Decoder) error {
	if sub.off != len(sub.buf) {
		return sub.errorf(ErrKindInvalidValue, "%d trailing bytes in compound", len(sub.buf)-sub.off)
	}
	d.off = sub.off
	return nil
}

func (d *Decoder) decodeList(wide bool) (any, error) {
	sub, count, err := d.compound(wide)
	if err != nil {
		return nil, err
	}
	if count > len(sub.buf)-sub.off {
		return nil, sub.errorf(ErrKindInvalidValue, "list count %d exceeds size", count)
	}
	items := make([]any, 0, count)
	for i := 0; i < count; i++ {
		v, err := sub.Decode()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := d.finish(sub); err != nil {
		return nil, err
	}
	return items, nil
}

func (d *Decoder) decodeMap(wide bool) (any, error) {
	sub, count, err := d.compound(wide)
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, sub.errorf(ErrKindInvalidValue, "map count %d is odd", count)
	}
	if count > len(sub.buf)-sub.off {
		return nil, sub.errorf(ErrKindInvalidValue, "map count %d exceeds size", count)
	}
	m := make(Map, 0, count/2)
	for i := 0; i < count; i += 2 {
		k, err := sub.Decode()
		if err != nil {
			return nil, err
		}
		v, err := sub.Decode()
		if err != nil {
			return nil, err
		}
		m = append(m, MapEntry{Key: k, Value: v})
	}
	if err := d.finish(sub); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Decoder) decodeArray(wide bool) (any, error) {
	sub, count, err := d.compound(wide)
	if err != nil {
		return nil, err
	}
	b, err := sub.readByte()
	if err != nil {
		return nil, err
	}
	code := TypeCode(b)

	var descriptor any
	if code == TypeCodeDescribed {
		if descriptor, err = sub.Decode(); err != nil {
			return nil, err
		}
		if b, err = sub.readByte(); err != nil {
			return nil, err
		}
		code = TypeCode(b)
	}

	switch code {
	case TypeCodeNull:
		if count > maxNullArrayCount {
			return nil, sub.errorf(ErrKindInvalidValue, "array count %d too large", count)
		}
	case TypeCodeBoolTrue, TypeCodeBoolFalse, TypeCodeUint0, TypeCodeUlong0, TypeCodeList0, TypeCodeDescribed:
		return nil, sub.errorf(ErrKindMalformedConstructor, "array element constructor %s", code)
	default:
		if count > len(sub.buf)-sub.off {
			return nil, sub.errorf(ErrKindInvalidValue, "array count %d exceeds size", count)
		}
	}

	items := make(Array, 0, count)
	for i := 0; i < count; i++ {
		v, err := sub.decodeValue(code)
		if err != nil {
			return nil, err
		}
		if descriptor != nil {
			v = &Described{Descriptor: descriptor, Value: v}
		}
		items = append(items, v)
	}
	if err := d.finish(sub); err != nil {
		return nil, err
	}
	return items, nil
}
