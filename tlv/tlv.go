// Package tlv implements the small tag/length/value subset of the protobuf
// wire format used by CRX3 file headers.
//
// Only two wire types exist here: varints and length-delimited byte strings.
// Messages are plain concatenations of fields; there is no schema compiler and
// no reflection. The primitives sit on top of protowire so varint and tag
// encoding match what every protobuf decoder expects.
package tlv

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// WireType is the low three bits of an encoded tag.
type WireType uint8

const (
	Varint          WireType = WireType(protowire.VarintType)
	LengthDelimited WireType = WireType(protowire.BytesType)
)

func (t WireType) String() string {
	switch t {
	case Varint:
		return "varint"
	case LengthDelimited:
		return "length-delimited"
	default:
		return fmt.Sprintf("wire(%d)", uint8(t))
	}
}

// Number is a field number. Valid numbers are 1 through MaxNumber.
type Number uint32

// MaxNumber is the largest field number a tag can carry.
const MaxNumber Number = Number(protowire.MaxValidNumber)

// ErrInvalidNumber is returned when encoding a field number outside [1, MaxNumber].
var ErrInvalidNumber = errors.New("tlv: invalid field number")

// ErrInvalidWireType is returned when encoding a field with an unsupported wire type.
var ErrInvalidWireType = errors.New("tlv: unsupported wire type")

// Field is one decoded or to-be-encoded field.
//
// Value holds the integer for Varint fields; Payload holds the bytes for
// LengthDelimited fields. Decoded payloads alias the input buffer.
type Field struct {
	Number  Number
	Type    WireType
	Value   uint64
	Payload []byte
}

// BytesField returns a length-delimited field.
func BytesField(num Number, payload []byte) Field {
	return Field{Number: num, Type: LengthDelimited, Payload: payload}
}

// VarintField returns a varint field.
func VarintField(num Number, v uint64) Field {
	return Field{Number: num, Type: Varint, Value: v}
}

// Tag returns the tag value (num << 3) | wt.
func Tag(num Number, wt WireType) uint64 {
	return uint64(num)<<3 | uint64(wt&7)
}

// AppendVarint appends v 7 bits at a time, low to high, with the
// continuation bit set on every byte except the last.
func AppendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// EncodeVarint returns the varint encoding of v.
func EncodeVarint(v uint64) []byte {
	return AppendVarint(nil, v)
}

// AppendField appends the encoding of f to b.
func AppendField(b []byte, f Field) ([]byte, error) {
	if f.Number < 1 || f.Number > MaxNumber {
		return b, fmt.Errorf("%w: %d", ErrInvalidNumber, f.Number)
	}
	switch f.Type {
	case Varint:
		b = AppendVarint(b, Tag(f.Number, f.Type))
		return AppendVarint(b, f.Value), nil
	case LengthDelimited:
		b = AppendVarint(b, Tag(f.Number, f.Type))
		b = AppendVarint(b, uint64(len(f.Payload)))
		return append(b, f.Payload...), nil
	default:
		return b, fmt.Errorf("%w: %s", ErrInvalidWireType, f.Type)
	}
}

// EncodeField returns the encoding of a single field.
func EncodeField(f Field) ([]byte, error) {
	return AppendField(nil, f)
}

// Marshal concatenates the encodings of fields, in order.
func Marshal(fields ...Field) ([]byte, error) {
	var out []byte
	for _, f := range fields {
		var err error
		out, err = AppendField(out, f)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SizeVarint returns the number of bytes AppendVarint would write for v.
func SizeVarint(v uint64) int {
	return protowire.SizeVarint(v)
}
