package filenet

import (
	"strings"

	"golang.org/x/xerrors"
)

// VisitResult tells Iterate whether to continue the traversal or stop.
type VisitResult int

const (
	Continue VisitResult = iota
	Abort
)

// Visitor is called once per non-root node in prefix order with the
// node's path assembled from its ancestors' names and its own, joined by
// "/". The root
// itself (the synthetic Scan/Decode container) is never visited.
type Visitor func(n *Node, path string) (VisitResult, error)

var errAbort = xerrors.New("filenet: traversal aborted")

// Iterate performs the depth-first, pre-order walk spec'd for pack and
// unpack alike: a node's body (if any) is visited before its children.
func Iterate(root *Node, visit Visitor) error {
	stack := make([]string, 0, 16)
	var walk func(n *Node) error
	walk = func(n *Node) error {
		stack = append(stack, n.Name)
		path := strings.Join(stack, "/")
		res, err := visit(n, path)
		if err != nil {
			return err
		}
		if res == Abort {
			return errAbort
		}
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		return nil
	}
	for _, c := range root.Children {
		if err := walk(c); err != nil {
			if err == errAbort {
				return nil
			}
			return err
		}
	}
	return nil
}
