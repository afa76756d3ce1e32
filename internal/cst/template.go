package cst

import (
	sitter "github.com/smacker/go-tree-sitter"
)

const topLevelPairQuery = `(document (object (pair key: (string) @key value: (_) @value)))`

// topLevel returns the value stored under key in the document's root object.
func (t *Tree) topLevel(key string) (*sitter.Node, error) {
	matches, err := t.Query(topLevelPairQuery, nil)
	if err != nil {
		return nil, err
	}
	var found *sitter.Node
	for _, m := range matches {
		if k := m["key"]; k != nil && t.Unquote(k) == key {
			found = m["value"]
		}
	}
	return found, nil
}

// StringValue returns the unquoted string stored under key in the root
// object. ok is false when the key is absent or its value is not a string.
func (t *Tree) StringValue(key string) (value string, ok bool) {
	n, err := t.topLevel(key)
	if err != nil || n == nil || n.Type() != "string" {
		return "", false
	}
	return t.Unquote(n), true
}

// Resource is one resource declaration found in the root resources array.
type Resource struct {
	Type       string
	APIVersion string
	Node       *sitter.Node
}

// ResourceList returns the declarations in the root resources array that
// carry both a string type and a string apiVersion, in source order.
func (t *Tree) ResourceList() []Resource {
	arr, err := t.topLevel("resources")
	if err != nil || arr == nil {
		return nil
	}
	var out []Resource
	for _, el := range Elements(arr) {
		typ := t.Member(el, "type")
		ver := t.Member(el, "apiVersion")
		if typ == nil || ver == nil || typ.Type() != "string" || ver.Type() != "string" {
			continue
		}
		out = append(out, Resource{Type: t.Unquote(typ), APIVersion: t.Unquote(ver), Node: el})
	}
	return out
}

// Resources maps each declared resource type to its apiVersion. Duplicate
// types keep the last declaration.
func (t *Tree) Resources() map[string]string {
	out := make(map[string]string)
	for _, r := range t.ResourceList() {
		out[r.Type] = r.APIVersion
	}
	return out
}
