package tlv

// Schema names the fields a walker knows about at one nesting level.
type Schema map[Number]Spec

// Spec describes one known field. A non-nil Message means the payload of a
// length-delimited field is itself a sequence of fields and is walked with it.
type Spec struct {
	Label   string
	Message Schema
}

// Node is a field found by Walk.
//
// Offset is the position of the field's tag relative to the start of the
// buffer passed to Walk, including for nested fields. PayloadOffset is the
// position of the first payload byte (length-delimited fields only).
type Node struct {
	Field
	Offset        int
	PayloadOffset int
	Label         string
	Known         bool
	Children      []Node
}

// Walk decodes buf recursively using schema. Fields whose numbers are not in
// schema are returned as opaque nodes with Known == false; they never cause
// an error. Structurally invalid encodings do.
func Walk(buf []byte, schema Schema) ([]Node, error) {
	return walk(buf, 0, schema)
}

func walk(buf []byte, base int, schema Schema) ([]Node, error) {
	var nodes []Node
	for off := 0; off < len(buf); {
		f, next, err := ReadField(buf, off)
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Offset += base
			}
			return nil, err
		}
		n := Node{Field: f, Offset: base + off}
		if f.Type == LengthDelimited {
			n.PayloadOffset = base + next - len(f.Payload)
		}
		if spec, ok := schema[f.Number]; ok {
			n.Known = true
			n.Label = spec.Label
			if spec.Message != nil && f.Type == LengthDelimited {
				children, err := walk(f.Payload, n.PayloadOffset, spec.Message)
				if err != nil {
					return nil, err
				}
				n.Children = children
			}
		}
		nodes = append(nodes, n)
		off = next
	}
	return nodes, nil
}

// Find returns the first node in nodes with the given number.
func Find(nodes []Node, num Number) (Node, bool) {
	for _, n := range nodes {
		if n.Number == num {
			return n, true
		}
	}
	return Node{}, false
}

// FindAll returns every node in nodes with the given number, in order.
func FindAll(nodes []Node, num Number) []Node {
	var out []Node
	for _, n := range nodes {
		if n.Number == num {
			out = append(out, n)
		}
	}
	return out
}
