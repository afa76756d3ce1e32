package compose

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/speakeasy-api/jsonpath/pkg/jsonpath"
	"github.com/speakeasy-api/jsonpath/pkg/jsonpath/config"
	"github.com/vmware-labs/yaml-jsonpath/pkg/yamlpath"
	"gopkg.in/yaml.v3"
)

// Default rewrite targets inside deploymentTemplate.json.
const (
	DefaultResourceRefsPath     = "$.definitions.resource.oneOf[0].allOf[1].oneOf"
	DefaultResourceBranchesPath = "$.definitions.resource.oneOf"
)

// queryable selects nodes of a parsed document.
type queryable interface {
	Query(root *yaml.Node) ([]*yaml.Node, error)
}

type rfcPath struct {
	path *jsonpath.JSONPath
}

func (p rfcPath) Query(root *yaml.Node) ([]*yaml.Node, error) {
	return p.path.Query(root), nil
}

type legacyPath struct {
	path *yamlpath.Path
}

func (l legacyPath) Query(root *yaml.Node) ([]*yaml.Node, error) {
	return l.path.Find(root)
}

// newPath compiles target as an RFC 9535 JSONPath, falling back to the
// legacy yaml-jsonpath dialect for expressions the RFC parser rejects.
func newPath(target string) (queryable, error) {
	p, err := jsonpath.NewPath(target, config.WithPropertyNameExtension())
	if err == nil {
		return rfcPath{path: p}, nil
	}
	legacy, lerr := yamlpath.NewPath(target)
	if lerr != nil {
		return nil, fmt.Errorf("invalid path %q: %w", target, err)
	}
	return legacyPath{path: legacy}, nil
}

// rewriter narrows a deployment-template schema to a given list of
// resource references.
type rewriter struct {
	refs     queryable
	branches queryable
}

func newRewriter(refsPath, branchesPath string) (*rewriter, error) {
	refs, err := newPath(refsPath)
	if err != nil {
		return nil, err
	}
	branches, err := newPath(branchesPath)
	if err != nil {
		return nil, err
	}
	return &rewriter{refs: refs, branches: branches}, nil
}

// apply replaces the resource reference list with one {"$ref": ref} entry
// per ref, keeps only the first branch of the enclosing combinator, and
// returns the result as a schema document.
func (r *rewriter) apply(src []byte, refs []string) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, fmt.Errorf("parse base schema: %w", err)
	}

	targets, err := r.refs.Query(&root)
	if err != nil {
		return nil, fmt.Errorf("query resource reference list: %w", err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("base schema has no resource reference list")
	}
	for _, n := range targets {
		if n.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("resource reference list is a %s, not a sequence", kindName(n.Kind))
		}
		n.Content = refNodes(refs)
	}

	branches, err := r.branches.Query(&root)
	if err != nil {
		return nil, fmt.Errorf("query resource branches: %w", err)
	}
	for _, n := range branches {
		if n.Kind == yaml.SequenceNode && len(n.Content) > 0 {
			n.Content = n.Content[:1]
		}
	}

	var doc any
	if err := root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rewritten schema: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode rewritten schema: %w", err)
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

// refNodes builds the replacement list. An empty list is not a valid
// combinator, so a template without resources gets a single empty schema.
func refNodes(refs []string) []*yaml.Node {
	if len(refs) == 0 {
		return []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	out := make([]*yaml.Node, 0, len(refs))
	for _, ref := range refs {
		out = append(out, &yaml.Node{
			Kind: yaml.MappingNode,
			Tag:  "!!map",
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: "$ref"},
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: ref},
			},
		})
	}
	return out
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "sequence"
	}
}
