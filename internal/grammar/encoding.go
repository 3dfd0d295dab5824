package grammar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/covfuzz/covfuzz/internal/sample"
)

// EncodeSample renders tree to text and writes it into out, length-prefixed
// and followed by a re-decodable structural encoding of the tree itself:
// the flattened string first (so a grammar-unaware consumer can still read
// the byte payload a target actually sees at the start of the file), then
// the tree structure needed to decode and mutate it again later.
func EncodeSample(tree *TreeNode, out *sample.Sample) {
	var buf bytes.Buffer
	rendered := ToString(tree)
	writeString(&buf, rendered)
	encodeTree(tree, &buf)
	out.Init(buf.Bytes())
}

// DecodeSample parses a Sample previously produced by EncodeSample back
// into a tree, using g to resolve symbol references.
func DecodeSample(g *Grammar, s *sample.Sample) (*TreeNode, error) {
	r := bytes.NewReader(s.Bytes())
	if _, err := readString(r); err != nil {
		return nil, fmt.Errorf("grammar: decode sample: %w", err)
	}
	tree, err := decodeTree(g, r)
	if err != nil {
		return nil, fmt.Errorf("grammar: decode sample: %w", err)
	}
	return tree, nil
}

func encodeTree(tree *TreeNode, buf *bytes.Buffer) {
	buf.WriteByte(byte(tree.Type))
	if tree.Type == StringType {
		writeString(buf, tree.String)
	} else {
		writeString(buf, tree.Symbol.Name)
	}
	writeU64(buf, uint64(len(tree.Children)))
	for _, c := range tree.Children {
		encodeTree(c, buf)
	}
}

func decodeTree(g *Grammar, r *bytes.Reader) (*TreeNode, error) {
	typByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	tree := &TreeNode{Type: NodeType(typByte)}

	if tree.Type == StringType {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		tree.String = s
	} else {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		symbol := g.GetSymbol(name)
		if symbol == nil {
			return nil, fmt.Errorf("unknown symbol %q", name)
		}
		tree.Symbol = symbol
	}

	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		child, err := decodeTree(g, r)
		if err != nil {
			return nil, err
		}
		tree.Children = append(tree.Children, child)
	}
	return tree, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeU64(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU64(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
