package tlv

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DecodeError reports a structurally invalid encoding.
//
// Offset is the position in the decoded buffer where the failing element
// starts and Remaining is the number of bytes left from that position.
type DecodeError struct {
	Offset    int
	Remaining int
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tlv: %s at offset %d (%d bytes remaining)", e.Reason, e.Offset, e.Remaining)
}

func decodeErr(buf []byte, off int, format string, args ...any) error {
	rem := len(buf) - off
	if rem < 0 {
		rem = 0
	}
	return &DecodeError{Offset: off, Remaining: rem, Reason: fmt.Sprintf(format, args...)}
}

// DecodeVarint reads a varint starting at buf[off] and returns its value and
// the offset just past it.
func DecodeVarint(buf []byte, off int) (uint64, int, error) {
	if off < 0 || off > len(buf) {
		return 0, off, decodeErr(buf, off, "offset out of range")
	}
	v, n := protowire.ConsumeVarint(buf[off:])
	if n < 0 {
		return 0, off, decodeErr(buf, off, "bad varint: %v", protowire.ParseError(n))
	}
	return v, off + n, nil
}

// ReadField decodes the field starting at buf[off] and returns it with the
// offset just past it. The payload of a length-delimited field aliases buf.
func ReadField(buf []byte, off int) (Field, int, error) {
	tag, next, err := DecodeVarint(buf, off)
	if err != nil {
		return Field{}, off, err
	}
	num, typ := protowire.DecodeTag(tag)
	if num < protowire.MinValidNumber || num > protowire.MaxValidNumber {
		return Field{}, off, decodeErr(buf, off, "invalid field number in tag %#x", tag)
	}
	f := Field{Number: Number(num), Type: WireType(typ)}

	switch f.Type {
	case Varint:
		v, end, err := DecodeVarint(buf, next)
		if err != nil {
			return Field{}, off, err
		}
		f.Value = v
		return f, end, nil
	case LengthDelimited:
		n, start, err := DecodeVarint(buf, next)
		if err != nil {
			return Field{}, off, err
		}
		if n > uint64(len(buf)-start) {
			return Field{}, off, decodeErr(buf, start, "field %d declares length %d beyond end of buffer", f.Number, n)
		}
		end := start + int(n)
		f.Payload = buf[start:end:end]
		return f, end, nil
	default:
		return Field{}, off, decodeErr(buf, off, "field %d has unsupported %s", f.Number, f.Type)
	}
}

// Fields decodes buf as a flat sequence of fields.
func Fields(buf []byte) ([]Field, error) {
	var out []Field
	for off := 0; off < len(buf); {
		f, next, err := ReadField(buf, off)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		off = next
	}
	return out, nil
}
