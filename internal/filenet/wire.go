package filenet

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/distrfoundry/sbox/internal/sboxerr"
	"github.com/distrfoundry/sbox/internal/stream"
)

// restrictedName replaces any decoded name that could escape the
// destination directory (an embedded '/' or a literal "..").
const restrictedName = "_name_restricted_"

// sanitizeForEncode reduces a Node's Name to the single path element the
// wire format allows. A top-level Node's Name can be an arbitrary given
// path (see Node's doc comment), so the basename is taken first, exactly
// where the original tool's file_net_get_basename does it: at the moment
// of writing the entry, never by mutating the node itself.
func sanitizeForEncode(name string) string {
	base := filepath.Base(name)
	if base == "" || base == ".." || strings.ContainsRune(base, '/') {
		return "."
	}
	return base
}

func sanitizeForDecode(name string) string {
	if name == ".." || strings.ContainsRune(name, '/') {
		return restrictedName
	}
	return name
}

func opcodeLetter(n *Node) byte {
	if n.Kind == KindDir {
		if len(n.Children) == 0 {
			return 'e'
		}
		return 'd'
	}
	return 'f'
}

// Encode writes root's children (the root itself is synthetic and never
// serialized) in prefix order: one opcode byte per node (upper-case iff a
// sibling follows), a 4-byte big-endian mode, a 4-byte big-endian size for
// files only, and a NUL-terminated name.
func Encode(root *Node, w stream.Writer) error {
	return encodeSiblings(root.Children, w)
}

func encodeSiblings(nodes []*Node, w stream.Writer) error {
	for i, n := range nodes {
		hasSibling := i < len(nodes)-1
		if err := encodeNode(n, hasSibling, w); err != nil {
			return err
		}
	}
	return nil
}

func encodeNode(n *Node, hasSibling bool, w stream.Writer) error {
	letter := opcodeLetter(n)
	opcode := letter
	if hasSibling {
		opcode = letter - ('a' - 'A')
	}
	if err := w.WriteAll([]byte{opcode}); err != nil {
		return err
	}

	var modeBuf [4]byte
	binary.BigEndian.PutUint32(modeBuf[:], n.Mode)
	if err := w.WriteAll(modeBuf[:]); err != nil {
		return err
	}

	if letter == 'f' {
		var sizeBuf [4]byte
		binary.BigEndian.PutUint32(sizeBuf[:], n.Size)
		if err := w.WriteAll(sizeBuf[:]); err != nil {
			return err
		}
	}

	name := append([]byte(sanitizeForEncode(n.Name)), 0)
	if err := w.WriteAll(name); err != nil {
		return err
	}

	if letter == 'd' {
		return encodeSiblings(n.Children, w)
	}
	return nil
}

// Decode reads back the tree Encode wrote, returning a synthetic root
// whose children are the archive's top-level entries. An empty archive
// body (zero top-level entries — Encode of a root with no children
// writes nothing) is a clean EOF on the very first opcode byte, not an
// error: Decode peeks for it explicitly rather than treating it as a
// malformed read-exact.
func Decode(r stream.Reader) (*Node, error) {
	root := &Node{Kind: KindDir}

	var first [1]byte
	n, err := r.ReadAtMost(first[:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return root, nil
	}

	hasSibling := true
	opcode := first[0]
	for hasSibling {
		child, next, err := decodeNodeFromOpcode(opcode, r)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
		hasSibling = next
		if hasSibling {
			var opcodeBuf [1]byte
			if err := r.ReadExact(opcodeBuf[:]); err != nil {
				return nil, err
			}
			opcode = opcodeBuf[0]
		}
	}
	return root, nil
}

func decodeNode(r stream.Reader) (*Node, bool, error) {
	var opcodeBuf [1]byte
	if err := r.ReadExact(opcodeBuf[:]); err != nil {
		return nil, false, err
	}
	return decodeNodeFromOpcode(opcodeBuf[0], r)
}

func decodeNodeFromOpcode(opcode byte, r stream.Reader) (*Node, bool, error) {
	hasSibling := opcode >= 'A' && opcode <= 'Z'
	letter := opcode
	if hasSibling {
		letter = opcode + ('a' - 'A')
	}
	if letter != 'f' && letter != 'd' && letter != 'e' {
		return nil, false, &sboxerr.FormatError{Reason: "unrecognized FileNet opcode"}
	}

	var modeBuf [4]byte
	if err := r.ReadExact(modeBuf[:]); err != nil {
		return nil, false, err
	}
	mode := binary.BigEndian.Uint32(modeBuf[:])

	var size uint32
	if letter == 'f' {
		var sizeBuf [4]byte
		if err := r.ReadExact(sizeBuf[:]); err != nil {
			return nil, false, err
		}
		size = binary.BigEndian.Uint32(sizeBuf[:])
	}

	name, err := readCString(r)
	if err != nil {
		return nil, false, err
	}
	name = sanitizeForDecode(name)

	kind := KindFile
	if letter == 'd' || letter == 'e' {
		kind = KindDir
	}
	node := &Node{Name: name, Kind: kind, Mode: mode, Size: size}

	if letter == 'd' {
		childHasSibling := true
		for childHasSibling {
			child, next, err := decodeNode(r)
			if err != nil {
				return nil, false, err
			}
			node.Children = append(node.Children, child)
			childHasSibling = next
		}
	}
	return node, hasSibling, nil
}

func readCString(r stream.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if err := r.ReadExact(b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}
