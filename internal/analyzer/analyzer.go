// Package analyzer produces diagnostics for template documents: syntax
// errors first, then schema violations against the composed schema, then
// custom rule findings.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/op/go-logging"
	"github.com/santhosh-tekuri/jsonschema/v6"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/samvidmistry/Armls/internal/buffer"
	"github.com/samvidmistry/Armls/internal/compose"
	"github.com/samvidmistry/Armls/internal/cst"
	"github.com/samvidmistry/Armls/internal/docpath"
	"github.com/samvidmistry/Armls/internal/runtime"
	"github.com/samvidmistry/Armls/internal/schema"
)

var log = logging.MustGetLogger("armls.analyzer")

// Source labels diagnostics produced by the analyzer itself.
const Source = "armls"

// SyntaxErrorMessage is reported for every syntax error node.
const SyntaxErrorMessage = "syntax error"

// Severity follows the editor protocol's numbering.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity maps a severity name to its Severity.
func ParseSeverity(name string) (Severity, bool) {
	switch strings.ToLower(name) {
	case "error":
		return SeverityError, true
	case "warning":
		return SeverityWarning, true
	case "information", "info":
		return SeverityInformation, true
	case "hint":
		return SeverityHint, true
	}
	return 0, false
}

// Range is a zero-based, end-exclusive span of (row, byte column) points.
type Range struct {
	Start cst.Point
	End   cst.Point
}

// NodeRange returns the span of n.
func NodeRange(n *sitter.Node) Range {
	return Range{Start: n.StartPoint(), End: n.EndPoint()}
}

// Diagnostic is one finding attached to a document range.
type Diagnostic struct {
	Range    Range
	Severity Severity
	Message  string
	Source   string
}

// Composer yields the schema a document validates against.
type Composer interface {
	Compose(ctx context.Context, url string, resources map[string]string) (*compose.Composed, error)
}

// Rules checks a document with custom rules.
type Rules interface {
	Check(ctx context.Context, doc runtime.Document) []runtime.Finding
}

// Analyzer computes diagnostics. It only reads the documents it is given.
type Analyzer struct {
	composer Composer
	rules    Rules
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRules adds custom rule checks after schema validation.
func WithRules(r Rules) Option {
	return func(a *Analyzer) {
		a.rules = r
	}
}

// New creates an Analyzer composing schemas through c.
func New(c Composer, opts ...Option) *Analyzer {
	a := &Analyzer{composer: c}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze returns the diagnostics of every document, keyed by path. Every
// analyzed path has an entry, empty when the document is clean. When ctx is
// cancelled between documents the results so far are returned along with
// the context's error.
func (a *Analyzer) Analyze(ctx context.Context, docs map[string]buffer.Document) (map[string][]Diagnostic, error) {
	paths := make([]string, 0, len(docs))
	for path := range docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make(map[string][]Diagnostic, len(docs))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out[path] = a.AnalyzeDocument(ctx, docs[path])
	}
	return out, nil
}

// AnalyzeDocument returns the diagnostics of one document.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, doc buffer.Document) []Diagnostic {
	diags := []Diagnostic{}
	tree := doc.Tree
	if tree == nil {
		return diags
	}

	tree.Lock()
	syntax, err := syntaxDiagnostics(tree)
	if err != nil {
		tree.Unlock()
		log.Warningf("%s: %v", doc.Path, err)
		return diags
	}
	if len(syntax) > 0 {
		tree.Unlock()
		return syntax
	}
	url, ok := tree.StringValue("$schema")
	resources := tree.Resources()
	tree.Unlock()
	if !ok {
		return diags
	}

	// Composition may block on retrieval; the tree stays unlocked.
	composed, err := a.composer.Compose(ctx, url, resources)
	if err != nil {
		log.Warningf("%s: %v", doc.Path, err)
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("failed to load schema `%s`", url),
			Source:   Source,
		})
	} else {
		diags = append(diags, a.schemaDiagnostics(doc, composed)...)
	}

	if a.rules != nil {
		tree.Lock()
		findings := a.rules.Check(ctx, runtime.Document{Path: doc.Path, Tree: tree})
		tree.Unlock()
		for _, f := range findings {
			sev, ok := ParseSeverity(f.Severity)
			if !ok {
				sev = SeverityWarning
			}
			diags = append(diags, Diagnostic{
				Range:    Range{Start: f.Start, End: f.End},
				Severity: sev,
				Message:  f.Message,
				Source:   strings.TrimSuffix(f.Rule, ".risor"),
			})
		}
	}
	return diags
}

// syntaxDiagnostics reports one error per syntax error node. The caller
// holds the tree's lock.
func syntaxDiagnostics(tree *cst.Tree) ([]Diagnostic, error) {
	nodes, err := tree.Errors()
	if err != nil {
		return nil, err
	}
	out := make([]Diagnostic, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Diagnostic{
			Range:    NodeRange(n),
			Severity: SeverityError,
			Message:  SyntaxErrorMessage,
			Source:   Source,
		})
	}
	return out, nil
}

// schemaDiagnostics validates the document and reports one warning per
// leaf validation error over the node it points at.
func (a *Analyzer) schemaDiagnostics(doc buffer.Document, composed *compose.Composed) []Diagnostic {
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(doc.Text))
	if err != nil {
		// Comments and trailing commas parse but do not decode.
		log.Debugf("%s: skipping schema validation: %v", doc.Path, err)
		return nil
	}

	tree := doc.Tree
	tree.Lock()
	defer tree.Unlock()

	locate := func(loc []string) (line, column int) {
		n, _ := docpath.Lookup(tree, loc)
		p := n.StartPoint()
		return int(p.Row) + 1, int(p.Column) + 1
	}
	root := schema.Validate(composed.Validator, instance, locate)
	if root == nil {
		return nil
	}

	var out []Diagnostic
	for _, leaf := range schema.Leaves(root) {
		if leaf.ArrayForObject() {
			continue
		}
		n := tree.NamedNodeAt(cst.Point{Row: uint32(leaf.Line - 1), Column: uint32(leaf.Column - 1)})
		if n == nil {
			n = tree.Root()
		}
		out = append(out, Diagnostic{
			Range:    NodeRange(n),
			Severity: SeverityWarning,
			Message:  leaf.Message,
			Source:   Source,
		})
	}
	return out
}
