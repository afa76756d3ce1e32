// Package docpath converts between syntax-tree nodes and JSON paths.
package docpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/samvidmistry/Armls/internal/cst"
)

// ErrNodeNotInArray reports an array ancestor none of whose elements
// contains the node being resolved. It indicates a malformed tree.
var ErrNodeNotInArray = errors.New("docpath: node not contained in any array element")

// Path is an ordered list of property names and decimal array indices,
// root first.
type Path []string

func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Resolve returns the JSON path of node within tree. Resource declarations
// passed on the way up contribute their type value as a synthetic segment
// in front of their own properties, so ["resources", "0", "<type>", ...].
// The caller must hold the tree's lock.
func Resolve(tree *cst.Tree, node *sitter.Node) (Path, error) {
	var rev []string
	prev := node
	for cur := node.Parent(); cur != nil; prev, cur = cur, cur.Parent() {
		switch cur.Type() {
		case "pair":
			if key := cur.ChildByFieldName("key"); key != nil {
				rev = append(rev, tree.Unquote(key))
			}
		case "array":
			idx := elementIndex(cur, prev)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s at %d", ErrNodeNotInArray, prev.Type(), prev.StartByte())
			}
			rev = append(rev, strconv.Itoa(idx))
		case "object":
			if IsResourceDeclaration(tree, cur) {
				if typ := tree.Member(cur, "type"); typ != nil && typ.Type() == "string" {
					rev = append(rev, tree.Unquote(typ))
				}
			}
		}
	}

	path := make(Path, len(rev))
	for i, seg := range rev {
		path[len(rev)-1-i] = seg
	}
	return path, nil
}

// IsResourceDeclaration reports whether obj declares a resource. The check
// is heuristic: any object with a direct apiVersion key qualifies, wherever
// it sits in the document.
func IsResourceDeclaration(tree *cst.Tree, obj *sitter.Node) bool {
	for _, k := range tree.Keys(obj) {
		if k == "apiVersion" {
			return true
		}
	}
	return false
}

// elementIndex returns the position of the element of arr containing n,
// counting only values, or -1.
func elementIndex(arr, n *sitter.Node) int {
	for i, el := range cst.Elements(arr) {
		if cst.Contains(el, n) {
			return i
		}
	}
	return -1
}

// Lookup walks path from the document's top value using literal keys and
// indices and returns the deepest node reached along with how many segments
// it consumed. Synthetic resource-type segments are not understood here;
// Lookup is for locations reported by schema validation.
func Lookup(tree *cst.Tree, path []string) (*sitter.Node, int) {
	cur := tree.Top()
	if cur == nil {
		return tree.Root(), 0
	}
	for i, seg := range path {
		var next *sitter.Node
		switch cur.Type() {
		case "object":
			next = tree.Member(cur, seg)
		case "array":
			if idx, err := strconv.Atoi(seg); err == nil && idx >= 0 {
				if els := cst.Elements(cur); idx < len(els) {
					next = els[idx]
				}
			}
		}
		if next == nil {
			return cur, i
		}
		cur = next
	}
	return cur, len(path)
}
