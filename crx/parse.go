package crx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"xdao.co/crx/keys"
	"xdao.co/crx/tlv"
)

// Algorithm names a version 3 key proof type.
type Algorithm string

const (
	SHA256WithRSA   Algorithm = "sha256_with_rsa"
	SHA256WithECDSA Algorithm = "sha256_with_ecdsa"
)

// Container is a parsed container. Byte slices alias the parsed input.
type Container struct {
	Version uint32
	// Size is the total number of bytes parsed.
	Size int
	// ArchiveOffset is where the ZIP archive starts; everything before it is header.
	ArchiveOffset int
	Archive       []byte

	V2 *HeaderV2
	V3 *HeaderV3
}

// HeaderV2 holds the version 2 key material and its offsets.
type HeaderV2 struct {
	PublicKeyOffset int
	PublicKey       []byte
	SignatureOffset int
	Signature       []byte
}

// HeaderV3 holds the decoded version 3 header.
//
// Fields is the full field tree; node offsets are relative to Offset.
type HeaderV3 struct {
	Offset int
	Length int
	Raw    []byte
	Fields []tlv.Node

	Proofs           []Proof
	SignedHeaderData []byte
	CrxID            []byte
}

// Proof is one key proof from a version 3 header.
type Proof struct {
	Algorithm Algorithm
	PublicKey []byte
	Signature []byte
}

func truncated(off, need, have int, what string) error {
	return newError(KindFormat, "CRX-FMT-003",
		fmt.Sprintf("truncated %s: need %d bytes at offset %d, %d remaining", what, need, off, have))
}

func readUint32(data []byte, off int, what string) (uint32, error) {
	if len(data)-off < 4 {
		return 0, truncated(off, 4, len(data)-off, what)
	}
	return binary.LittleEndian.Uint32(data[off:]), nil
}

// slice returns data[off:off+n] or a format error naming what and the
// remaining byte count.
func slice(data []byte, off int, n uint32, what string) ([]byte, error) {
	rem := len(data) - off
	if uint64(n) > uint64(rem) {
		return nil, newError(KindFormat, "CRX-FMT-004",
			fmt.Sprintf("%s length %d at offset %d exceeds remaining %d bytes", what, n, off, rem))
	}
	end := off + int(n)
	return data[off:end:end], nil
}

// Parse decodes a container held in memory.
func Parse(data []byte) (*Container, error) {
	if len(data) < len(Magic) {
		return nil, truncated(0, len(Magic), len(data), "magic")
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, newError(KindFormat, "CRX-FMT-001", fmt.Sprintf("bad magic %q", data[:len(Magic)]))
	}
	version, err := readUint32(data, 4, "version")
	if err != nil {
		return nil, err
	}

	c := &Container{Version: version, Size: len(data)}
	switch version {
	case Version2:
		err = parseV2(data, c)
	case Version3:
		err = parseV3(data, c)
	default:
		return nil, newError(KindFormat, "CRX-FMT-002", fmt.Sprintf("unsupported container version %d", version))
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ParseFile reads and parses the container at path.
func ParseFile(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(KindIO, "CRX-IO-003", "read "+path, err)
	}
	return Parse(data)
}

func parseV2(data []byte, c *Container) error {
	pubLen, err := readUint32(data, 8, "public key length")
	if err != nil {
		return err
	}
	sigLen, err := readUint32(data, 12, "signature length")
	if err != nil {
		return err
	}
	h := &HeaderV2{PublicKeyOffset: v2FixedSize}
	if h.PublicKey, err = slice(data, h.PublicKeyOffset, pubLen, "public key"); err != nil {
		return err
	}
	h.SignatureOffset = h.PublicKeyOffset + len(h.PublicKey)
	if h.Signature, err = slice(data, h.SignatureOffset, sigLen, "signature"); err != nil {
		return err
	}
	c.V2 = h
	c.ArchiveOffset = h.SignatureOffset + len(h.Signature)
	c.Archive = data[c.ArchiveOffset:]
	return nil
}

func parseV3(data []byte, c *Container) error {
	headerLen, err := readUint32(data, 8, "header length")
	if err != nil {
		return err
	}
	raw, err := slice(data, v3FixedSize, headerLen, "header")
	if err != nil {
		return err
	}
	h, err := DecodeHeaderV3(raw)
	if err != nil {
		return err
	}
	h.Offset = v3FixedSize
	c.V3 = h
	c.ArchiveOffset = v3FixedSize + len(raw)
	c.Archive = data[c.ArchiveOffset:]
	return nil
}

// DecodeHeaderV3 decodes a CrxFileHeader. Unknown fields are kept in Fields
// and otherwise ignored.
func DecodeHeaderV3(raw []byte) (*HeaderV3, error) {
	nodes, err := tlv.Walk(raw, HeaderSchema)
	if err != nil {
		var de *tlv.DecodeError
		if errors.As(err, &de) {
			return nil, wrapError(KindFormat, "CRX-FMT-005",
				fmt.Sprintf("malformed header at header offset %d (%d bytes remaining)", de.Offset, de.Remaining), err)
		}
		return nil, wrapError(KindFormat, "CRX-FMT-005", "malformed header", err)
	}

	h := &HeaderV3{Length: len(raw), Raw: raw, Fields: nodes}
	for _, n := range nodes {
		if n.Type != tlv.LengthDelimited {
			continue
		}
		switch n.Number {
		case FieldSHA256WithRSA:
			h.Proofs = append(h.Proofs, proofFrom(SHA256WithRSA, n))
		case FieldSHA256WithECDSA:
			h.Proofs = append(h.Proofs, proofFrom(SHA256WithECDSA, n))
		case FieldSignedHeaderData:
			// Last occurrence wins, as for any non-repeated bytes field.
			h.SignedHeaderData = n.Payload
			h.CrxID = nil
			if id, ok := lastBytes(n.Children, FieldCrxID); ok {
				h.CrxID = id
			}
		}
	}
	return h, nil
}

func proofFrom(alg Algorithm, n tlv.Node) Proof {
	p := Proof{Algorithm: alg}
	p.PublicKey, _ = lastBytes(n.Children, FieldPublicKey)
	p.Signature, _ = lastBytes(n.Children, FieldSignature)
	return p
}

func lastBytes(nodes []tlv.Node, num tlv.Number) ([]byte, bool) {
	var out []byte
	found := false
	for _, n := range tlv.FindAll(nodes, num) {
		if n.Type == tlv.LengthDelimited {
			out, found = n.Payload, true
		}
	}
	return out, found
}

// PublicKey returns the key that identifies the container: the version 2
// key, or the first sha256_with_rsa proof key of a version 3 header.
func (c *Container) PublicKey() []byte {
	switch {
	case c.V2 != nil:
		return c.V2.PublicKey
	case c.V3 != nil:
		for _, p := range c.V3.Proofs {
			if p.Algorithm == SHA256WithRSA {
				return p.PublicKey
			}
		}
	}
	return nil
}

// ExtensionID returns the browser extension ID. For version 3 it is taken
// from the declared crx_id when present.
func (c *Container) ExtensionID() string {
	if c.V3 != nil && len(c.V3.CrxID) == keys.IDSize {
		return keys.IDString(c.V3.CrxID)
	}
	if pub := c.PublicKey(); pub != nil {
		return keys.ExtensionID(pub)
	}
	return ""
}
