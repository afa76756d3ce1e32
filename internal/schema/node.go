// Package schema models dereferenced validation schemas and walks them by
// JSON path.
package schema

import (
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind tags the variant a Node represents.
type Kind int

const (
	Leaf Kind = iota
	Object
	Array
	Combinator
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Array:
		return "array"
	case Combinator:
		return "combinator"
	default:
		return "leaf"
	}
}

// CombinatorKind identifies a combinator keyword. The declaration order is
// the navigation priority.
type CombinatorKind int

const (
	AnyOf CombinatorKind = iota
	AllOf
	OneOf
)

func (c CombinatorKind) String() string {
	switch c {
	case AnyOf:
		return "anyOf"
	case AllOf:
		return "allOf"
	default:
		return "oneOf"
	}
}

// Node is one vertex of a dereferenced schema graph.
//
// A Combinator node navigates through Branches of its highest-priority
// populated keyword only. Lists of the lower-priority keywords are kept for
// completion, which offers properties from every branch.
type Node struct {
	Kind        Kind
	Types       []string
	Description string

	// Object
	Properties map[string]*Node

	// Array
	Items *Node

	// Combinator
	Combinator CombinatorKind
	Branches   []*Node

	allOf, anyOf, oneOf []*Node
}

// HasType reports whether the node declares typ among its types.
func (n *Node) HasType(typ string) bool {
	return slices.Contains(n.Types, typ)
}

// AllBranches returns allOf, anyOf and oneOf branches concatenated in that
// order.
func (n *Node) AllBranches() []*Node {
	out := make([]*Node, 0, len(n.allOf)+len(n.anyOf)+len(n.oneOf))
	out = append(out, n.allOf...)
	out = append(out, n.anyOf...)
	return append(out, n.oneOf...)
}

// Builder constructs Nodes by hand. Used for stub schemas and tests.
type Builder struct {
	n *Node
}

// New starts a Node with the given types.
func New(types ...string) *Builder {
	return &Builder{n: &Node{Types: types, Properties: map[string]*Node{}}}
}

func (b *Builder) Describe(desc string) *Builder {
	b.n.Description = desc
	return b
}

func (b *Builder) Prop(name string, child *Node) *Builder {
	b.n.Properties[name] = child
	return b
}

func (b *Builder) Items(item *Node) *Builder {
	b.n.Items = item
	return b
}

func (b *Builder) AnyOf(branches ...*Node) *Builder {
	b.n.anyOf = append(b.n.anyOf, branches...)
	return b
}

func (b *Builder) AllOf(branches ...*Node) *Builder {
	b.n.allOf = append(b.n.allOf, branches...)
	return b
}

func (b *Builder) OneOf(branches ...*Node) *Builder {
	b.n.oneOf = append(b.n.oneOf, branches...)
	return b
}

// Build classifies the node and returns it.
func (b *Builder) Build() *Node {
	b.n.classify()
	return b.n
}

// classify sets Kind from the populated fields. The first populated
// combinator list in priority order becomes Branches.
func (n *Node) classify() {
	switch {
	case len(n.anyOf) > 0:
		n.Kind, n.Combinator, n.Branches = Combinator, AnyOf, n.anyOf
	case len(n.allOf) > 0:
		n.Kind, n.Combinator, n.Branches = Combinator, AllOf, n.allOf
	case len(n.oneOf) > 0:
		n.Kind, n.Combinator, n.Branches = Combinator, OneOf, n.oneOf
	case n.HasType("array") || (n.Items != nil && len(n.Types) == 0):
		n.Kind = Array
	case len(n.Properties) > 0 || n.HasType("object"):
		n.Kind = Object
	default:
		n.Kind = Leaf
	}
}

// FromCompiled converts a compiled schema into a Node graph, following $ref
// links. Shared and recursive subschemas map to shared Nodes.
func FromCompiled(s *jsonschema.Schema) *Node {
	c := &converter{
		done:     make(map[*jsonschema.Schema]*Node),
		visiting: make(map[*jsonschema.Schema]bool),
	}
	return c.convert(s)
}

type converter struct {
	done     map[*jsonschema.Schema]*Node
	visiting map[*jsonschema.Schema]bool
}

func (c *converter) convert(s *jsonschema.Schema) *Node {
	if s == nil {
		return nil
	}
	if n, ok := c.done[s]; ok {
		return n
	}

	if s.Ref != nil && refOnly(s) {
		if c.visiting[s] {
			// A cycle made only of references describes nothing.
			return &Node{Kind: Leaf}
		}
		c.visiting[s] = true
		target := c.convert(s.Ref)
		delete(c.visiting, s)
		n := target
		if s.Description != "" && target != nil && target.Description != s.Description {
			// Keep the referring description for hover; navigation passes
			// straight through the single branch.
			n = &Node{Description: s.Description, Properties: map[string]*Node{}, allOf: []*Node{target}}
			n.classify()
		}
		c.done[s] = n
		return n
	}

	n := &Node{Description: s.Description, Properties: map[string]*Node{}}
	c.done[s] = n
	if s.Types != nil {
		n.Types = s.Types.ToStrings()
	}

	for name, prop := range s.Properties {
		n.Properties[name] = c.convert(prop)
	}
	switch items := s.Items.(type) {
	case *jsonschema.Schema:
		n.Items = c.convert(items)
	case []*jsonschema.Schema:
		// Tuple forms are not used by templates; the first entry stands
		// for every element.
		if len(items) > 0 {
			n.Items = c.convert(items[0])
		}
	}
	if n.Items == nil && s.Items2020 != nil {
		n.Items = c.convert(s.Items2020)
	}

	for _, b := range s.AllOf {
		n.allOf = append(n.allOf, c.convert(b))
	}
	for _, b := range s.AnyOf {
		n.anyOf = append(n.anyOf, c.convert(b))
	}
	for _, b := range s.OneOf {
		n.oneOf = append(n.oneOf, c.convert(b))
	}
	// Draft 2019+ applies $ref alongside sibling keywords.
	if s.Ref != nil {
		n.allOf = append([]*Node{c.convert(s.Ref)}, n.allOf...)
	}

	n.classify()
	return n
}

// refOnly reports whether $ref is the schema's only structural content.
// Draft-04 schemas ignore every sibling of $ref.
func refOnly(s *jsonschema.Schema) bool {
	if s.DraftVersion < 2019 {
		return true
	}
	return len(s.Properties) == 0 && s.Items == nil && s.Items2020 == nil &&
		len(s.AllOf) == 0 && len(s.AnyOf) == 0 && len(s.OneOf) == 0 && s.Types == nil
}
