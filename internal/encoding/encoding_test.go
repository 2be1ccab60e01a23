package encoding

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestSmallestWidth checks the constructor chosen for each value
func TestSmallestWidth(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []byte
	}{
		{"null", nil, []byte{0x40}},
		{"true", true, []byte{0x41}},
		{"false", false, []byte{0x42}},
		{"uint zero", uint32(0), []byte{0x43}},
		{"small uint", uint32(255), []byte{0x52, 0xff}},
		{"uint", uint32(256), []byte{0x70, 0x00, 0x00, 0x01, 0x00}},
		{"ulong zero", uint64(0), []byte{0x44}},
		{"small ulong", uint64(0x10), []byte{0x53, 0x10}},
		{"ulong", uint64(1 << 32), []byte{0x80, 0, 0, 0, 1, 0, 0, 0, 0}},
		{"small int", int32(-1), []byte{0x54, 0xff}},
		{"int", int32(128), []byte{0x71, 0, 0, 0, 0x80}},
		{"small long", int64(127), []byte{0x55, 0x7f}},
		{"long", int64(-129), []byte{0x81, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
		{"ubyte", uint8(7), []byte{0x50, 0x07}},
		{"ushort", uint16(0x0102), []byte{0x60, 0x01, 0x02}},
		{"str8", "hi", []byte{0xa1, 0x02, 'h', 'i'}},
		{"sym8", Symbol("a"), []byte{0xa3, 0x01, 'a'}},
		{"vbin8", []byte{1, 2}, []byte{0xa0, 0x02, 1, 2}},
		{"list0", []any{}, []byte{0x45}},
		{"list8", []any{true, uint32(0)}, []byte{0xc0, 0x03, 0x02, 0x41, 0x43}},
		{"map8", Map{{Key: Symbol("k"), Value: nil}}, []byte{0xc1, 0x05, 0x02, 0xa3, 0x01, 'k', 0x40}},
		{"array8 of symbols", []Symbol{"a", "bc"}, []byte{0xe0, 0x07, 0x02, 0xa3, 0x01, 'a', 0x02, 'b', 'c'}},
		{"described", &Described{Descriptor: uint64(0x24), Value: []any{}}, []byte{0x00, 0x53, 0x24, 0x45}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encoding: got % x, want % x", got, tt.want)
			}
		})
	}
}

// TestWideVariants checks the 32-bit constructors for large values
func TestWideVariants(t *testing.T) {
	long := strings.Repeat("x", 300)

	t.Run("str32", func(t *testing.T) {
		got, err := Marshal(long)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if got[0] != byte(TypeCodeStr32) {
			t.Errorf("Constructor: got 0x%02x, want 0x%02x", got[0], byte(TypeCodeStr32))
		}
		if len(got) != 1+4+300 {
			t.Errorf("Length: got %d, want %d", len(got), 305)
		}
	})

	t.Run("list32 by count", func(t *testing.T) {
		items := make([]any, 300)
		got, err := Marshal(items)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if got[0] != byte(TypeCodeList32) {
			t.Errorf("Constructor: got 0x%02x, want 0x%02x", got[0], byte(TypeCodeList32))
		}
	})

	t.Run("array32 of long strings", func(t *testing.T) {
		got, err := Marshal([]string{long})
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if got[0] != byte(TypeCodeArray32) {
			t.Errorf("Constructor: got 0x%02x, want 0x%02x", got[0], byte(TypeCodeArray32))
		}
		if got[9] != byte(TypeCodeStr32) {
			t.Errorf("Element constructor: got 0x%02x, want 0x%02x", got[9], byte(TypeCodeStr32))
		}
	})
}

// TestRoundTrip checks decode(encode(v)) == v for canonical values
func TestRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1700000000123).UTC()
	values := []any{
		nil,
		true,
		false,
		uint8(200),
		uint16(65535),
		uint32(0),
		uint32(17),
		uint32(math.MaxUint32),
		uint64(0),
		uint64(math.MaxUint64),
		int8(-5),
		int16(-300),
		int32(math.MinInt32),
		int64(math.MaxInt64),
		float32(1.5),
		float64(-2.25),
		Decimal32{1, 2, 3, 4},
		Decimal64{1, 2, 3, 4, 5, 6, 7, 8},
		Decimal128{15: 1},
		Char('λ'),
		ts,
		UUID{0: 0xde, 15: 0xad},
		[]byte{},
		[]byte("payload"),
		"",
		"héllo",
		strings.Repeat("y", 1000),
		Symbol("amqp:accepted:list"),
		[]any{},
		[]any{uint32(1), "two", []any{Symbol("three")}},
		Map{},
		Map{{Key: "a", Value: int32(1)}, {Key: Symbol("b"), Value: []byte{2}}},
		Array{},
		Array{int32(1), int32(-2), int32(300)},
		Array{Symbol("x"), Symbol("y")},
		Array{true, false},
		Array{ts, ts},
		&Described{Descriptor: uint64(0x77), Value: "v"},
		&Described{Descriptor: Symbol("com.example:thing"), Value: []any{nil, uint64(9)}},
	}

	for _, v := range values {
		data, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%#v) failed: %v", v, err)
		}
		got, n, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal(% x) failed: %v", data, err)
		}
		if n != len(data) {
			t.Errorf("Consumed for %#v: got %d, want %d", v, n, len(data))
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("Round trip: got %#v, want %#v", got, v)
		}
	}
}

// TestDeterministicMaps checks that Go maps encode in a stable order
func TestDeterministicMaps(t *testing.T) {
	m := map[Symbol]any{"z": uint32(1), "a": uint32(2), "m": uint32(3), "b": nil}

	first, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(m)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Encoding changed between runs: % x vs % x", first, again)
		}
	}

	v, _, err := Unmarshal(first)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	decoded := v.(Map)
	if decoded[0].Key != Symbol("a") {
		t.Errorf("First key: got %v, want a", decoded[0].Key)
	}
}

// TestDecodeErrors checks the error kinds reported for bad input
func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", []byte{}, ErrTruncated},
		{"short uint", []byte{0x70, 0x00, 0x01}, ErrTruncated},
		{"short string", []byte{0xa1, 0x05, 'a'}, ErrTruncated},
		{"unknown constructor", []byte{0x01}, ErrMalformed},
		{"list size beyond input", []byte{0xc0, 0x10, 0x01, 0x40}, ErrTruncated},
		{"list trailing bytes", []byte{0xc0, 0x03, 0x01, 0x40, 0x40}, ErrInvalidValue},
		{"odd map count", []byte{0xc1, 0x02, 0x01, 0x40}, ErrInvalidValue},
		{"bad utf8", []byte{0xa1, 0x01, 0xff}, ErrInvalidValue},
		{"bad boolean", []byte{0x56, 0x02}, ErrInvalidValue},
		{"bad descriptor type", []byte{0x00, 0x41, 0x40}, ErrInvalidValue},
		{"huge count", []byte{0xd0, 0x00, 0x00, 0x00, 0x04, 0xff, 0xff, 0xff, 0xff}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Unmarshal(tt.data)
			if err == nil {
				t.Fatal("Expected error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Error type: got %T, want *DecodeError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Error kind: got %v, want %v", de.Kind, tt.want.(*DecodeError).Kind)
			}
		})
	}
}

// TestStrictDescriptors checks strict rejection of unregistered descriptors
func TestStrictDescriptors(t *testing.T) {
	RegisterDescriptor(0x7000_0001, "test:known:list")

	known, _ := Marshal(&Described{Descriptor: uint64(0x7000_0001), Value: []any{}})
	unknown, _ := Marshal(&Described{Descriptor: uint64(0x7000_0002), Value: []any{}})

	d := NewDecoder(known)
	d.SetStrict(true)
	if _, err := d.Decode(); err != nil {
		t.Errorf("Known descriptor: unexpected error %v", err)
	}

	d = NewDecoder(unknown)
	d.SetStrict(true)
	if _, err := d.Decode(); !errors.Is(err, ErrUnknownDescriptor) {
		t.Errorf("Unknown descriptor in strict mode: got %v, want %v", err, ErrUnknownDescriptor)
	}

	if _, _, err := Unmarshal(unknown); err != nil {
		t.Errorf("Unknown descriptor in lenient mode: unexpected error %v", err)
	}

	sym := &Described{Descriptor: Symbol("test:known:list"), Value: []any{}}
	if code, ok := sym.Code(); !ok || code != 0x7000_0001 {
		t.Errorf("Symbolic descriptor: got 0x%x %v, want 0x70000001 true", code, ok)
	}
}

// TestUnsupportedValues checks that the encoder refuses values outside the model
func TestUnsupportedValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"struct", struct{}{}},
		{"mixed array", Array{int32(1), "two"}},
		{"invalid utf8", string([]byte{0xff})},
		{"channel", make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Marshal(tt.value); !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("Marshal error: got %v, want %v", err, ErrUnsupportedType)
			}
		})
	}
}

// TestWriteComposite checks trailing null trimming and field order
func TestWriteComposite(t *testing.T) {
	e := NewEncoder(16)
	if err := e.WriteComposite(0x16, uint32(3), true, nil, nil); err != nil {
		t.Fatalf("WriteComposite failed: %v", err)
	}
	want := []byte{0x00, 0x53, 0x16, 0xc0, 0x04, 0x02, 0x52, 0x03, 0x41}
	if !bytes.Equal(e.Bytes(), want) {
		t.Errorf("Encoding: got % x, want % x", e.Bytes(), want)
	}

	v, _, err := Unmarshal(e.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	r, err := ReadComposite(v, 0x16, "detach")
	if err != nil {
		t.Fatalf("ReadComposite failed: %v", err)
	}
	if got := r.Uint32(0, 0); got != 3 {
		t.Errorf("Field 0: got %d, want 3", got)
	}
	if !r.Bool(1, false) {
		t.Error("Field 1: got false, want true")
	}
	if r.Present(2) {
		t.Error("Field 2 should be absent")
	}
	if r.Err() != nil {
		t.Errorf("Unexpected reader error: %v", r.Err())
	}

	r.Require(5)
	if r.Err() == nil {
		t.Error("Expected missing field error")
	}
}
