package encoding

import "fmt"

// TypeCode is an AMQP 1.0 format code (constructor byte)
type TypeCode byte

// Fixed width and variable width format codes
const (
	TypeCodeDescribed TypeCode = 0x00

	TypeCodeNull TypeCode = 0x40

	TypeCodeBool      TypeCode = 0x56
	TypeCodeBoolTrue  TypeCode = 0x41
	TypeCodeBoolFalse TypeCode = 0x42

	TypeCodeUbyte      TypeCode = 0x50
	TypeCodeUshort     TypeCode = 0x60
	TypeCodeUint       TypeCode = 0x70
	TypeCodeSmallUint  TypeCode = 0x52
	TypeCodeUint0      TypeCode = 0x43
	TypeCodeUlong      TypeCode = 0x80
	TypeCodeSmallUlong TypeCode = 0x53
	TypeCodeUlong0     TypeCode = 0x44

	TypeCodeByte      TypeCode = 0x51
	TypeCodeShort     TypeCode = 0x61
	TypeCodeInt       TypeCode = 0x71
	TypeCodeSmallInt  TypeCode = 0x54
	TypeCodeLong      TypeCode = 0x81
	TypeCodeSmallLong TypeCode = 0x55

	TypeCodeFloat  TypeCode = 0x72
	TypeCodeDouble TypeCode = 0x82

	TypeCodeDecimal32  TypeCode = 0x74
	TypeCodeDecimal64  TypeCode = 0x84
	TypeCodeDecimal128 TypeCode = 0x94

	TypeCodeChar      TypeCode = 0x73
	TypeCodeTimestamp TypeCode = 0x83
	TypeCodeUUID      TypeCode = 0x98

	TypeCodeVbin8  TypeCode = 0xa0
	TypeCodeVbin32 TypeCode = 0xb0
	TypeCodeStr8   TypeCode = 0xa1
	TypeCodeStr32  TypeCode = 0xb1
	TypeCodeSym8   TypeCode = 0xa3
	TypeCodeSym32  TypeCode = 0xb3

	TypeCodeList0  TypeCode = 0x45
	TypeCodeList8  TypeCode = 0xc0
	TypeCodeList32 TypeCode = 0xd0
	TypeCodeMap8   TypeCode = 0xc1
	TypeCodeMap32  TypeCode = 0xd1

	TypeCodeArray8  TypeCode = 0xe0
	TypeCodeArray32 TypeCode = 0xf0
)

// String returns the AMQP type name of the format code
func (c TypeCode) String() string {
	switch c {
	case TypeCodeDescribed:
		return "described"
	case TypeCodeNull:
		return "null"
	case TypeCodeBool, TypeCodeBoolTrue, TypeCodeBoolFalse:
		return "boolean"
	case TypeCodeUbyte:
		return "ubyte"
	case TypeCodeUshort:
		return "ushort"
	case TypeCodeUint, TypeCodeSmallUint, TypeCodeUint0:
		return "uint"
	case TypeCodeUlong, TypeCodeSmallUlong, TypeCodeUlong0:
		return "ulong"
	case TypeCodeByte:
		return "byte"
	case TypeCodeShort:
		return "short"
	case TypeCodeInt, TypeCodeSmallInt:
		return "int"
	case TypeCodeLong, TypeCodeSmallLong:
		return "long"
	case TypeCodeFloat:
		return "float"
	case TypeCodeDouble:
		return "double"
	case TypeCodeDecimal32:
		return "decimal32"
	case TypeCodeDecimal64:
		return "decimal64"
	case TypeCodeDecimal128:
		return "decimal128"
	case TypeCodeChar:
		return "char"
	case TypeCodeTimestamp:
		return "timestamp"
	case TypeCodeUUID:
		return "uuid"
	case TypeCodeVbin8, TypeCodeVbin32:
		return "binary"
	case TypeCodeStr8, TypeCodeStr32:
		return "string"
	case TypeCodeSym8, TypeCodeSym32:
		return "symbol"
	case TypeCodeList0, TypeCodeList8, TypeCodeList32:
		return "list"
	case TypeCodeMap8, TypeCodeMap32:
		return "map"
	case TypeCodeArray8, TypeCodeArray32:
		return "array"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(c))
	}
}
