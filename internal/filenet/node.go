// Package filenet builds and serializes the in-memory file tree sbox packs
// into and unpacks from an archive: a prefix-order (depth-first, pre-order)
// tree with a compact binary encoding where the opcode's letter case marks
// "has a following sibling".
package filenet

import (
	"math"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/xerrors"

	"github.com/distrfoundry/sbox/internal/fsiface"
)

// Kind tags a node as a directory or a regular file. It is carried
// explicitly rather than derived from Mode's S_IFDIR bit, since Mode is
// otherwise just advisory permission/ownership data round-tripped through
// the archive.
type Kind byte

const (
	KindFile Kind = 'f'
	KindDir  Kind = 'd'
)

// Node is one entry in the tree. Children is nil for files and for empty
// directories.
//
// Name does double duty, same as the original tool's node->name: for a
// top-level entry (a direct child of the synthetic root) it is the real
// path Scan was given for it, which may have more than one path
// component (an absolute path, "dir/file", "./file", ...); for every
// deeper entry it is just the directory-entry basename readdir handed
// back while descending. Iterate's "/"-joined traversal path reassembles
// the real on-disk path from that chain, which is what Pack's body
// streaming pass opens and stats. Only the wire encoder reduces a name to
// its final path element (via filepath.Base), and only at the moment it
// writes the bytes — Name itself is never rewritten to a basename.
type Node struct {
	Name     string
	Kind     Kind
	Mode     uint32
	Mtime    int64
	Size     uint32
	Children []*Node
}

func (n *Node) IsDir() bool { return n.Kind == KindDir }

// rawMode masks the file-type bits (S_IFDIR/S_IFREG/...) out of the raw
// stat mode, keeping only the permission word (rwxrwxrwx plus
// setuid/setgid/sticky). The wire format's opcode letter already carries
// the node's kind, so Mode is round-tripped as the advisory permission
// bits a real archiver's "mode 0644" example shows, not a duplicate type
// tag.
func rawMode(info os.FileInfo) uint32 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint32(st.Mode) &^ 0170000
	}
	return uint32(info.Mode().Perm())
}

// Scan builds the synthetic root node for a pack operation: one child per
// input path, following symlinks the same way the original tool's stat(2)
// based walk does (a symlinked file or directory is archived as its
// target's content, not as a link).
//
// Each top-level child's Name is the given path verbatim, not just its
// base — Pack needs the real path to reopen the file for body streaming,
// and the wire encoder strips it down to a basename on its own.
func Scan(fs fsiface.FS, paths []string) (*Node, error) {
	if len(paths) == 0 {
		return nil, xerrors.New("filenet: no input paths given")
	}
	root := &Node{Kind: KindDir}
	for _, p := range paths {
		child, err := scanPath(fs, p, p)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

func scanPath(fs fsiface.FS, fullPath, name string) (*Node, error) {
	info, err := fs.Stat(fullPath)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", fullPath, err)
	}
	node := &Node{
		Name:  name,
		Mode:  rawMode(info),
		Mtime: info.ModTime().Unix(),
	}
	if info.IsDir() {
		node.Kind = KindDir
		entries, err := fs.ReadDir(fullPath)
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", fullPath, err)
		}
		for _, e := range entries {
			childName := e.Name()
			if childName == "." || childName == ".." {
				continue
			}
			child, err := scanPath(fs, filepath.Join(fullPath, childName), childName)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}
	node.Kind = KindFile
	if info.Size() > math.MaxUint32 {
		return nil, xerrors.Errorf("%s: %d bytes exceeds the per-file limit of %d bytes", fullPath, info.Size(), uint64(math.MaxUint32))
	}
	node.Size = uint32(info.Size())
	return node, nil
}
