package crx

import (
	"encoding/hex"
	"fmt"
	"io"

	"xdao.co/crx/keys"
	"xdao.co/crx/tlv"
)

// hexPreview is the number of hex characters shown for opaque payloads.
const hexPreview = 20

// Summary is a serializable view of a parsed container.
type Summary struct {
	Version       uint32     `json:"version"`
	Size          int        `json:"size"`
	ExtensionID   string     `json:"extensionId,omitempty"`
	ArchiveOffset int        `json:"archiveOffset"`
	ArchiveLength int        `json:"archiveLength"`
	V2            *SummaryV2 `json:"v2,omitempty"`
	V3            *SummaryV3 `json:"v3,omitempty"`
}

// SummaryV2 locates the version 2 key and signature.
type SummaryV2 struct {
	PublicKeyOffset int `json:"publicKeyOffset"`
	PublicKeyLength int `json:"publicKeyLength"`
	SignatureOffset int `json:"signatureOffset"`
	SignatureLength int `json:"signatureLength"`
}

// SummaryV3 is the version 3 header and its field tree.
type SummaryV3 struct {
	HeaderOffset int            `json:"headerOffset"`
	HeaderLength int            `json:"headerLength"`
	CrxID        string         `json:"crxId,omitempty"`
	Fields       []SummaryField `json:"fields"`
}

// SummaryField is one header field. Offset is absolute within the container.
type SummaryField struct {
	Number   uint32         `json:"number"`
	Wire     string         `json:"wire"`
	Label    string         `json:"label,omitempty"`
	Offset   int            `json:"offset"`
	Length   int            `json:"length"`
	Value    *uint64        `json:"value,omitempty"`
	Hex      string         `json:"hex,omitempty"`
	Children []SummaryField `json:"children,omitempty"`
}

// Summarize returns the serializable view of c.
func Summarize(c *Container) Summary {
	s := Summary{
		Version:       c.Version,
		Size:          c.Size,
		ExtensionID:   c.ExtensionID(),
		ArchiveOffset: c.ArchiveOffset,
		ArchiveLength: len(c.Archive),
	}
	if c.V2 != nil {
		s.V2 = &SummaryV2{
			PublicKeyOffset: c.V2.PublicKeyOffset,
			PublicKeyLength: len(c.V2.PublicKey),
			SignatureOffset: c.V2.SignatureOffset,
			SignatureLength: len(c.V2.Signature),
		}
	}
	if c.V3 != nil {
		s.V3 = &SummaryV3{
			HeaderOffset: c.V3.Offset,
			HeaderLength: c.V3.Length,
			Fields:       summarizeFields(c.V3.Fields, c.V3.Offset),
		}
		if c.V3.CrxID != nil {
			s.V3.CrxID = hex.EncodeToString(c.V3.CrxID)
		}
	}
	return s
}

func summarizeFields(nodes []tlv.Node, base int) []SummaryField {
	out := make([]SummaryField, 0, len(nodes))
	for _, n := range nodes {
		f := SummaryField{
			Number: uint32(n.Number),
			Wire:   n.Type.String(),
			Label:  n.Label,
			Offset: base + n.Offset,
		}
		switch n.Type {
		case tlv.Varint:
			v := n.Value
			f.Value = &v
		case tlv.LengthDelimited:
			f.Length = len(n.Payload)
			if n.Children != nil {
				f.Children = summarizeFields(n.Children, base)
			} else {
				f.Hex = preview(n.Payload)
			}
		}
		out = append(out, f)
	}
	return out
}

func preview(b []byte) string {
	h := hex.EncodeToString(b)
	if len(h) > hexPreview {
		return h[:hexPreview] + "..."
	}
	return h
}

// Describe writes a human-readable report of c to w.
func Describe(w io.Writer, c *Container) error {
	pw := &printer{w: w}
	pw.printf("Version: %d\n", c.Version)
	pw.printf("Size: %d bytes\n", c.Size)

	switch {
	case c.V2 != nil:
		h := c.V2
		pw.printf("CRX2 Header:\n")
		pw.printf("  Public Key: offset %d, length %d\n", h.PublicKeyOffset, len(h.PublicKey))
		pw.printf("  Signature: offset %d, length %d\n", h.SignatureOffset, len(h.Signature))
	case c.V3 != nil:
		h := c.V3
		pw.printf("CRX3 Header: offset %d, length %d\n", h.Offset, h.Length)
		describeNodes(pw, h.Fields, h.Offset, "  ")
	}

	pw.printf("Archive: offset %d, length %d\n", c.ArchiveOffset, len(c.Archive))
	if id := c.ExtensionID(); id != "" {
		pw.printf("Extension ID: %s\n", id)
	}
	return pw.err
}

func describeNodes(pw *printer, nodes []tlv.Node, base int, indent string) {
	for _, n := range nodes {
		name := fmt.Sprintf("Field %d", n.Number)
		if n.Label != "" {
			name += " " + n.Label
		}
		at := base + n.Offset
		if n.Type == tlv.Varint {
			pw.printf("%s[%d] %s (varint): %d\n", indent, at, name, n.Value)
			continue
		}
		switch {
		case n.Children != nil:
			pw.printf("%s[%d] %s (len %d)\n", indent, at, name, len(n.Payload))
			describeNodes(pw, n.Children, base, indent+"  ")
		case n.Known && n.Label == "crx_id":
			pw.printf("%s[%d] %s: %s\n", indent, at, name, hex.EncodeToString(n.Payload))
		case n.Known && n.Label == "public_key":
			pw.printf("%s[%d] %s (len %d) -> ID %s\n", indent, at, name, len(n.Payload), hex.EncodeToString(keys.DeriveID(n.Payload)))
		case n.Known:
			pw.printf("%s[%d] %s (len %d)\n", indent, at, name, len(n.Payload))
		default:
			pw.printf("%s[%d] %s (len %d): %s\n", indent, at, name, len(n.Payload), preview(n.Payload))
		}
	}
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
