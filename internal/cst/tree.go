package cst

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Point is a zero-based (row, byte column) position in a document.
type Point = sitter.Point

// Tree is a parsed document together with the source it was parsed from.
//
// smacker/go-tree-sitter caches Node wrappers in an unsynchronized map on
// the tree, so every walk over a Tree's nodes must hold its lock. Trees are
// never mutated after Parse; a document edit produces a new Tree.
type Tree struct {
	sync.Mutex

	tree *sitter.Tree
	src  []byte
}

// Root returns the document node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Source returns the bytes the tree was parsed from.
func (t *Tree) Source() []byte {
	return t.src
}

// Text returns the literal source text spanned by n.
func (t *Tree) Text(n *sitter.Node) string {
	return n.Content(t.src)
}

// Unquote returns the decoded value of a string node. Malformed escapes
// fall back to the raw text with the surrounding quotes trimmed.
func (t *Tree) Unquote(n *sitter.Node) string {
	raw := t.Text(n)
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return strings.Trim(raw, `"`)
}

// Top returns the document's first value, skipping comments. Nil when the
// document is empty.
func (t *Tree) Top() *sitter.Node {
	root := t.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child != nil && child.Type() != "comment" {
			return child
		}
	}
	return nil
}

// Member returns the value node stored under key in an object node, or nil.
// When a key repeats, the last occurrence wins.
func (t *Tree) Member(obj *sitter.Node, key string) *sitter.Node {
	if obj == nil || obj.Type() != "object" {
		return nil
	}
	var found *sitter.Node
	for i := 0; i < int(obj.NamedChildCount()); i++ {
		pair := obj.NamedChild(i)
		if pair == nil || pair.Type() != "pair" {
			continue
		}
		k := pair.ChildByFieldName("key")
		if k != nil && t.Unquote(k) == key {
			found = pair.ChildByFieldName("value")
		}
	}
	return found
}

// Keys returns the unquoted keys of an object node in source order.
func (t *Tree) Keys(obj *sitter.Node) []string {
	if obj == nil || obj.Type() != "object" {
		return nil
	}
	var keys []string
	for i := 0; i < int(obj.NamedChildCount()); i++ {
		pair := obj.NamedChild(i)
		if pair == nil || pair.Type() != "pair" {
			continue
		}
		if k := pair.ChildByFieldName("key"); k != nil {
			keys = append(keys, t.Unquote(k))
		}
	}
	return keys
}

// Elements returns the value nodes of an array in order, skipping comments.
func Elements(arr *sitter.Node) []*sitter.Node {
	if arr == nil || arr.Type() != "array" {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(arr.NamedChildCount()); i++ {
		child := arr.NamedChild(i)
		if child == nil || child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

// NodeAt returns the smallest node, named or anonymous, whose range
// contains p. A node ending exactly at p is used when nothing strictly
// contains it, so a cursor placed right after a token still lands on it.
func (t *Tree) NodeAt(p Point) *sitter.Node {
	return descend(t.Root(), p, false)
}

// NamedNodeAt is NodeAt restricted to named nodes.
func (t *Tree) NamedNodeAt(p Point) *sitter.Node {
	return descend(t.Root(), p, true)
}

func descend(n *sitter.Node, p Point, named bool) *sitter.Node {
	for {
		next := childAt(n, p, named)
		if next == nil {
			return n
		}
		n = next
	}
}

func childAt(n *sitter.Node, p Point, named bool) *sitter.Node {
	count := int(n.ChildCount())
	if named {
		count = int(n.NamedChildCount())
	}
	var touching *sitter.Node
	for i := 0; i < count; i++ {
		var c *sitter.Node
		if named {
			c = n.NamedChild(i)
		} else {
			c = n.Child(i)
		}
		if c == nil {
			continue
		}
		if Before(p, c.StartPoint()) {
			break
		}
		if Before(p, c.EndPoint()) {
			return c
		}
		if p == c.EndPoint() && touching == nil {
			touching = c
		}
	}
	return touching
}

// Before reports whether a precedes b.
func Before(a, b Point) bool {
	return a.Row < b.Row || (a.Row == b.Row && a.Column < b.Column)
}

// Contains reports whether outer's byte range covers inner's.
func Contains(outer, inner *sitter.Node) bool {
	return outer.StartByte() <= inner.StartByte() && inner.EndByte() <= outer.EndByte()
}

// Match maps capture names to the nodes captured by one query match.
type Match map[string]*sitter.Node

// compiled caches queries by pattern. Queries are immutable once built and
// safe to share between cursors.
var compiled sync.Map // pattern -> *sitter.Query

func compile(pattern string) (*sitter.Query, error) {
	if q, ok := compiled.Load(pattern); ok {
		return q.(*sitter.Query), nil
	}
	q, err := sitter.NewQuery([]byte(pattern), Language())
	if err != nil {
		return nil, fmt.Errorf("cst: invalid query %q: %w", pattern, err)
	}
	if prev, loaded := compiled.LoadOrStore(pattern, q); loaded {
		q.Close()
		return prev.(*sitter.Query), nil
	}
	return q, nil
}

// Query runs a tree-sitter pattern against node (the root when nil) and
// returns one Match per result, with predicates applied.
func (t *Tree) Query(pattern string, node *sitter.Node) ([]Match, error) {
	q, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	if node == nil {
		node = t.Root()
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, node)

	var matches []Match
	for {
		m, ok := cursor.NextMatch()
		if !ok {
			break
		}
		m = cursor.FilterPredicates(m, t.src)
		if len(m.Captures) == 0 {
			continue
		}
		match := make(Match, len(m.Captures))
		for _, c := range m.Captures {
			match[q.CaptureNameForId(c.Index)] = c.Node
		}
		matches = append(matches, match)
	}
	return matches, nil
}

const errorQuery = `(ERROR) @error`

// Errors returns the outermost ERROR nodes plus every MISSING node the
// parser inserted during recovery, ordered by position.
func (t *Tree) Errors() ([]*sitter.Node, error) {
	root := t.Root()
	if !root.HasError() {
		return nil, nil
	}

	matches, err := t.Query(errorQuery, root)
	if err != nil {
		return nil, err
	}
	var out []*sitter.Node
	for _, m := range matches {
		n := m["error"]
		if n != nil && !insideError(n) {
			out = append(out, n)
		}
	}
	collectMissing(root, &out)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartByte() < out[j].StartByte()
	})
	return out, nil
}

func insideError(n *sitter.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == "ERROR" {
			return true
		}
	}
	return false
}

func collectMissing(n *sitter.Node, out *[]*sitter.Node) {
	if n.IsMissing() {
		*out = append(*out, n)
		return
	}
	if n.Type() == "ERROR" || !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			collectMissing(c, out)
		}
	}
}
