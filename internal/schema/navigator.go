package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// resourceTypePattern matches provider-qualified resource types such as
// Microsoft.Storage/storageAccounts or Microsoft.Storage/storageAccounts/blobServices.
var resourceTypePattern = regexp.MustCompile(`^[A-Za-z][\w-]*(\.[\w-]+)+/[\w.-]+(/[\w.-]+)*$`)

// IsResourceType reports whether a path segment names a resource type.
func IsResourceType(segment string) bool {
	return resourceTypePattern.MatchString(segment)
}

// FindByPath walks root along path and returns the node describing that
// location, or nil.
//
// At a Combinator the remaining path is tried against each branch and the
// first branch that resolves wins; property lookup on the combinator node
// itself is never attempted. Numeric segments step into the item schema of
// array nodes. Resource-type segments select the resource schema whose
// description equals the type, descending through parent resources' nested
// resources lists when the description is a strict prefix of the type.
func FindByPath(root *Node, path []string) *Node {
	cur := root
	for i := 0; i < len(path); i++ {
		if cur == nil {
			return nil
		}
		seg := path[i]

		if cur.Kind == Combinator {
			for _, branch := range cur.Branches {
				if found := FindByPath(branch, path[i:]); found != nil {
					return found
				}
			}
			return nil
		}

		if child, ok := cur.Properties[seg]; ok {
			cur = child
			continue
		}

		if cur.Kind == Array {
			if idx, err := strconv.Atoi(seg); err == nil && idx >= 0 {
				if cur.Items == nil {
					return nil
				}
				cur = cur.Items
				continue
			}
		}

		if IsResourceType(seg) {
			cur = matchResource(cur, seg, 0)
			continue
		}

		return nil
	}
	return cur
}

// maxResourceDepth bounds the walk through nested child resources.
const maxResourceDepth = 8

// matchResource returns the schema for resource type typ starting from n.
func matchResource(n *Node, typ string, depth int) *Node {
	if n == nil || depth > maxResourceDepth {
		return nil
	}
	if n.Kind == Combinator {
		for _, branch := range n.Branches {
			if found := matchResource(branch, typ, depth); found != nil {
				return found
			}
		}
		return nil
	}
	if n.Description == "" {
		return nil
	}
	if strings.EqualFold(n.Description, typ) {
		return n
	}
	if !strings.HasPrefix(strings.ToLower(typ), strings.ToLower(n.Description)+"/") {
		return nil
	}

	// n is an ancestor resource; its children live under resources[*].
	nested, ok := n.Properties["resources"]
	if !ok || nested == nil {
		return nil
	}
	if nested.Kind == Combinator {
		for _, branch := range nested.Branches {
			if branch.Items != nil {
				if found := matchResource(branch.Items, typ, depth+1); found != nil {
					return found
				}
			}
		}
		return nil
	}
	return matchResource(nested.Items, typ, depth+1)
}

// Candidate is a property name offered for completion.
type Candidate struct {
	Name        string
	Description string
}

// Candidates lists the property names allowed at n. Combinator nodes
// contribute the properties of every branch of every combinator keyword.
// Names are de-duplicated keeping the first occurrence.
func Candidates(n *Node) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	visited := make(map[*Node]bool)
	collectCandidates(n, &out, seen, visited)
	return out
}

func collectCandidates(n *Node, out *[]Candidate, seen map[string]bool, visited map[*Node]bool) {
	if n == nil || visited[n] {
		return
	}
	visited[n] = true

	if n.Kind == Combinator {
		for _, branch := range n.AllBranches() {
			collectCandidates(branch, out, seen, visited)
		}
		return
	}

	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		desc := ""
		if p := n.Properties[name]; p != nil {
			desc = p.Description
		}
		*out = append(*out, Candidate{Name: name, Description: desc})
	}
}
