package armls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvidmistry/Armls/internal/compose"
	"github.com/samvidmistry/Armls/internal/cst"
	"github.com/samvidmistry/Armls/internal/docpath"
	"github.com/samvidmistry/Armls/internal/schema"
	"github.com/samvidmistry/Armls/internal/store"
)

const (
	schemaDir   = "testdata/schemas"
	templateDir = "testdata/templates"

	storageURL = "https://schema.management.azure.com/schemas/2021-04-01/Microsoft.Storage.json"
	commonURL  = "https://schema.management.azure.com/schemas/common/definitions.json"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSchemaDir(schemaDir), WithRemote(false)}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func readTemplate(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(templateDir, name))
	require.NoError(t, err)
	return string(data)
}

func openTemplate(t *testing.T, e *Engine, name string) string {
	t.Helper()
	require.NoError(t, e.Open(context.Background(), name, readTemplate(t, name)))
	return name
}

// countingIndex records every provider lookup.
type countingIndex struct {
	inner compose.Index
	mu    sync.Mutex
	urls  []string
}

func (c *countingIndex) Lookup(ctx context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	c.urls = append(c.urls, url)
	c.mu.Unlock()
	return c.inner.Lookup(ctx, url)
}

func (c *countingIndex) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.urls...)
	sort.Strings(out)
	return out
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(WithRemote(false))
	require.Error(t, err)
}

func TestNew_SchemaDirWithoutIndex(t *testing.T) {
	e, err := New(WithSchemaDir(t.TempDir()), WithRemote(false))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestNew_InvalidCatalogPath(t *testing.T) {
	_, err := New(WithSchemaDir(schemaDir), WithCatalog("/nonexistent/dir/catalog.db"))
	require.Error(t, err)
}

func TestNew_InvalidRewritePath(t *testing.T) {
	_, err := New(WithSchemaDir(schemaDir), WithRewritePaths("$[", "$"))
	require.Error(t, err)
}

// =============================================================================
// Analyze
// =============================================================================

func TestAnalyze_ValidTemplate(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")

	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.Contains(t, diags, path)
	assert.Empty(t, diags[path])
}

func TestAnalyze_SchemaViolation(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "incomplete.json")

	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, diags[path], 1)

	d := diags[path][0]
	assert.Equal(t, SeverityWarning, d.Severity)
	assert.Equal(t, Point{Row: 10, Column: 21}, d.Range.Start)
	assert.Equal(t, Point{Row: 10, Column: 26}, d.Range.End)
}

func TestAnalyze_ScenarioA_OnlyDeclaredProviderLoaded(t *testing.T) {
	idx, err := compose.OpenDirIndex(os.DirFS(schemaDir))
	require.NoError(t, err)
	counting := &countingIndex{inner: idx}
	e := newTestEngine(t, WithIndex(counting))

	text := `{"$schema":"https://schema.management.azure.com/schemas/2019-04-01/deploymentTemplate.json#","resources":[{"type":"Microsoft.Storage/storageAccounts","apiVersion":"2021-04-01","properties":{}}]}`
	require.NoError(t, e.Open(context.Background(), "a.json", text))

	_, err = e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{storageURL, commonURL}, counting.Calls())

	// The resource object itself resolves to the storage account schema.
	items, err := e.Complete(context.Background(), "a.json", Point{Row: 0, Column: 109})
	require.NoError(t, err)
	assert.Contains(t, candidateNames(items), "kind")
}

func TestAnalyze_ScenarioB_SyntaxErrorOnly(t *testing.T) {
	idx, err := compose.OpenDirIndex(os.DirFS(schemaDir))
	require.NoError(t, err)
	counting := &countingIndex{inner: idx}
	e := newTestEngine(t, WithIndex(counting))
	path := openTemplate(t, e, "broken.json")

	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, diags[path], 1)
	d := diags[path][0]
	assert.Equal(t, SeverityError, d.Severity)
	assert.Equal(t, Point{Row: 7, Column: 5}, d.Range.Start)
	assert.Equal(t, d.Range.Start, d.Range.End, "missing bracket has no width")
	assert.Empty(t, counting.Calls())
}

// editingIndex runs edit once, on the first provider lookup.
type editingIndex struct {
	inner compose.Index
	once  sync.Once
	edit  func()
}

func (x *editingIndex) Lookup(ctx context.Context, url string) ([]byte, error) {
	x.once.Do(x.edit)
	return x.inner.Lookup(ctx, url)
}

func TestAnalyzeDocuments_EditDuringPass(t *testing.T) {
	idx, err := compose.OpenDirIndex(os.DirFS(schemaDir))
	require.NoError(t, err)
	editing := &editingIndex{inner: idx}
	e := newTestEngine(t, WithIndex(editing))

	original := readTemplate(t, "incomplete.json")
	edited := readTemplate(t, "storage.json")
	path := openTemplate(t, e, "incomplete.json")
	editing.edit = func() {
		assert.NoError(t, e.Change(context.Background(), path, edited))
	}

	first, err := e.AnalyzeDocuments(context.Background())
	require.NoError(t, err)
	require.Contains(t, first, path)
	assert.Equal(t, original, first[path].Text)
	assert.Len(t, first[path].Diagnostics, 1)

	second, err := e.AnalyzeDocuments(context.Background())
	require.NoError(t, err)
	require.Contains(t, second, path, "edited document stays pending")
	assert.Equal(t, edited, second[path].Text)
	assert.Empty(t, second[path].Diagnostics)

	third, err := e.AnalyzeDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestAnalyze_NoSchemaKey(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "plain.json")

	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.Contains(t, diags, path)
	assert.Empty(t, diags[path])
}

func TestAnalyze_OnlyChangedDocuments(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	openTemplate(t, e, "storage.json")
	openTemplate(t, e, "incomplete.json")

	first, err := e.Analyze(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := e.Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, e.Diagnostics("incomplete.json"), 1, "last results are retained")

	require.NoError(t, e.Change(ctx, "incomplete.json", readTemplate(t, "storage.json")))
	third, err := e.Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Empty(t, third["incomplete.json"])
	assert.Empty(t, e.Diagnostics("incomplete.json"))
}

func TestAnalyze_Cancelled(t *testing.T) {
	e := newTestEngine(t)
	openTemplate(t, e, "storage.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Analyze(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Nothing was analyzed, so the document is still pending.
	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Contains(t, diags, "storage.json")
}

func TestAnalyze_WithRules(t *testing.T) {
	rules := fstest.MapFS{
		"location.risor": {Data: []byte(`
matches := query('(pair key: (string (string_content) @key) value: (_) @value (#eq? @key "location"))', tree)
for _, m := range matches {
    report(m["value"], "use a location parameter", "hint")
}
`)},
	}
	e := newTestEngine(t, WithRulesFS(rules))
	path := openTemplate(t, e, "storage.json")

	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, diags[path], 1)
	assert.Equal(t, SeverityHint, diags[path][0].Severity)
	assert.Equal(t, "location", diags[path][0].Source)
	assert.Equal(t, Point{Row: 8, Column: 18}, diags[path][0].Range.Start)
}

func TestAnalyze_WithCatalog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	_, err = s.ImportIndex(context.Background(), schemaDir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	e := newTestEngine(t, WithCatalog(dbPath))
	path := openTemplate(t, e, "incomplete.json")

	diags, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Len(t, diags[path], 1)
}

func TestCloseDocument(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "incomplete.json")
	_, err := e.Analyze(context.Background())
	require.NoError(t, err)

	e.CloseDocument(path)
	assert.Empty(t, e.Paths())
	assert.Nil(t, e.Diagnostics(path))
}

// =============================================================================
// Hover
// =============================================================================

func TestHover(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")

	tests := []struct {
		name string
		pos  Point
		want string
	}{
		{"scenario C location value", Point{Row: 8, Column: 20}, "Required. Gets or sets the location of the resource."},
		{"location key", Point{Row: 8, Column: 9}, "Required. Gets or sets the location of the resource."},
		{"kind value", Point{Row: 9, Column: 16}, "Required. Indicates the type of storage account."},
		{"top-level property", Point{Row: 2, Column: 5}, "A 4 number format for the version number of this template file. For example, 1.0.0.0"},
		{"nested property", Point{Row: 11, Column: 10}, "The SKU name."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := e.Hover(context.Background(), path, tt.pos)
			require.NoError(t, err)
			require.NotNil(t, h)
			assert.Equal(t, tt.want, h.Contents)
			assert.False(t, tt.pos.Row < h.Range.Start.Row || tt.pos.Row > h.Range.End.Row)
		})
	}
}

func TestHover_RangeIsHoveredNode(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")

	h, err := e.Hover(context.Background(), path, Point{Row: 8, Column: 20})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, Range{Start: Point{Row: 8, Column: 19}, End: Point{Row: 8, Column: 25}}, h.Range)
}

func TestHover_Nothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	path := openTemplate(t, e, "storage.json")
	plain := openTemplate(t, e, "plain.json")

	tests := []struct {
		name string
		path string
		pos  Point
	}{
		{"unknown document", "missing.json", Point{}},
		{"root brace has empty path", path, Point{Row: 0, Column: 0}},
		{"no $schema", plain, Point{Row: 1, Column: 4}},
		{"no description", path, Point{Row: 6, Column: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := e.Hover(ctx, tt.path, tt.pos)
			require.NoError(t, err)
			assert.Nil(t, h)
		})
	}
}

func TestHover_SchemaUnavailable(t *testing.T) {
	e := newTestEngine(t)
	text := `{"$schema": "https://schema.management.azure.com/schemas/missing.json#", "a": 1}`
	require.NoError(t, e.Open(context.Background(), "a.json", text))

	h, err := e.Hover(context.Background(), "a.json", Point{Row: 0, Column: 74})
	require.NoError(t, err)
	assert.Nil(t, h)
}

// =============================================================================
// Path round trip
// =============================================================================

type stepKind int

const (
	keyStep stepKind = iota
	indexStep
	typeStep
)

// step is one move of a top-down walk from the document root to a node.
type step struct {
	seg  string
	kind stepKind
}

// ancestorSteps records the move each proper ancestor of n contributes,
// root first.
func ancestorSteps(tree *cst.Tree, n *sitter.Node) []step {
	var chain []*sitter.Node
	for cur := n; cur != nil; cur = cur.Parent() {
		chain = append(chain, cur)
	}
	slices.Reverse(chain)

	var steps []step
	for i := 0; i < len(chain)-1; i++ {
		a, next := chain[i], chain[i+1]
		switch a.Type() {
		case "pair":
			if key := a.ChildByFieldName("key"); key != nil {
				steps = append(steps, step{seg: tree.Unquote(key), kind: keyStep})
			}
		case "array":
			for j, el := range cst.Elements(a) {
				if cst.Contains(el, next) {
					steps = append(steps, step{seg: strconv.Itoa(j), kind: indexStep})
					break
				}
			}
		case "object":
			typ := tree.Member(a, "type")
			if typ != nil && typ.Type() == "string" && slices.Contains(tree.Keys(a), "apiVersion") {
				steps = append(steps, step{seg: tree.Unquote(typ), kind: typeStep})
			}
		}
	}
	return steps
}

func stepSegments(steps []step, keep func(step) bool) []string {
	out := []string{}
	for _, s := range steps {
		if keep(s) {
			out = append(out, s.seg)
		}
	}
	return out
}

// walkSchema follows steps from n. Combinators try their navigable
// branches in order, keys select properties, indices select the item
// schema and types select the matching resource schema.
func walkSchema(n *schema.Node, steps []step) *schema.Node {
	if n == nil || len(steps) == 0 {
		return n
	}
	if n.Kind == schema.Combinator {
		for _, b := range n.Branches {
			if found := walkSchema(b, steps); found != nil {
				return found
			}
		}
		return nil
	}
	s, rest := steps[0], steps[1:]
	switch s.kind {
	case keyStep:
		return walkSchema(n.Properties[s.seg], rest)
	case indexStep:
		if n.Kind != schema.Array {
			return nil
		}
		return walkSchema(n.Items, rest)
	default:
		for _, r := range describedResources(n, s.seg, 0) {
			if strings.EqualFold(r.Description, s.seg) {
				return walkSchema(r, rest)
			}
		}
		return nil
	}
}

// describedResources lists, depth first, the described schemas reachable
// from n, entering the child resource lists of ancestors of typ.
func describedResources(n *schema.Node, typ string, depth int) []*schema.Node {
	if n == nil || depth > 8 {
		return nil
	}
	var out []*schema.Node
	if n.Kind == schema.Combinator {
		for _, b := range n.Branches {
			out = append(out, describedResources(b, typ, depth)...)
		}
		return out
	}
	if n.Description == "" {
		return nil
	}
	out = append(out, n)
	if !strings.HasPrefix(strings.ToLower(typ), strings.ToLower(n.Description)+"/") {
		return out
	}
	nested := n.Properties["resources"]
	if nested == nil {
		return out
	}
	lists := []*schema.Node{nested}
	if nested.Kind == schema.Combinator {
		lists = nested.Branches
	}
	for _, l := range lists {
		if l.Items != nil {
			out = append(out, describedResources(l.Items, typ, depth+1)...)
		}
	}
	return out
}

func TestResolveThenFindByPath_MatchesManualWalk(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")
	doc, ok := e.docs.Get(path)
	require.True(t, ok)
	composed := e.compose(context.Background(), doc)
	require.NotNil(t, composed)

	tree := doc.Tree
	tree.Lock()
	defer tree.Unlock()

	var nodes []*sitter.Node
	var collect func(n *sitter.Node)
	collect = func(n *sitter.Node) {
		nodes = append(nodes, n)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			collect(n.NamedChild(i))
		}
	}
	collect(tree.Root())
	require.Greater(t, len(nodes), 20)

	described := 0
	for _, n := range nodes {
		start := n.StartPoint()
		t.Run(fmt.Sprintf("%s_%d_%d", n.Type(), start.Row, start.Column), func(t *testing.T) {
			steps := ancestorSteps(tree, n)
			p, err := docpath.Resolve(tree, n)
			require.NoError(t, err)
			require.Equal(t, stepSegments(steps, func(step) bool { return true }), []string(p))

			want := walkSchema(composed.Root, steps)
			got := schema.FindByPath(composed.Root, p)
			if want == nil {
				assert.Nil(t, got, "path %s", p)
			} else {
				assert.Same(t, want, got, "path %s", p)
				described++
			}

			// The literal keys and indices locate the value holding n.
			literal := stepSegments(steps, func(s step) bool { return s.kind != typeStep })
			if len(literal) == 0 {
				return
			}
			found, consumed := docpath.Lookup(tree, literal)
			require.Equal(t, len(literal), consumed, "path %s", p)
			holder := found
			if parent := found.Parent(); parent != nil && parent.Type() == "pair" {
				holder = parent
			}
			assert.True(t, cst.Contains(holder, n), "path %s", p)
		})
	}
	assert.Greater(t, described, 10)
}

// =============================================================================
// Complete
// =============================================================================

func candidateNames(items []Candidate) []string {
	names := make([]string, len(items))
	for i, c := range items {
		names[i] = c.Name
	}
	return names
}

func TestComplete_ResourceProperties(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")

	items, err := e.Complete(context.Background(), path, Point{Row: 7, Column: 8})
	require.NoError(t, err)
	names := candidateNames(items)
	for _, want := range []string{"name", "location", "kind", "sku", "properties"} {
		assert.Contains(t, names, want)
	}
	assert.Len(t, names, len(uniq(names)), "candidates are de-duplicated")
}

func TestComplete_NestedObject(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")

	items, err := e.Complete(context.Background(), path, Point{Row: 11, Column: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "name", items[0].Name)
	assert.Equal(t, "The SKU name.", items[0].Description)
}

func TestComplete_Empty(t *testing.T) {
	e := newTestEngine(t)
	path := openTemplate(t, e, "storage.json")

	items, err := e.Complete(context.Background(), path, Point{Row: 0, Column: 0})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = e.Complete(context.Background(), "missing.json", Point{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func uniq(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// ClearCache
// =============================================================================

func TestClearCache_RecomposesOnNextRequest(t *testing.T) {
	idx, err := compose.OpenDirIndex(os.DirFS(schemaDir))
	require.NoError(t, err)
	counting := &countingIndex{inner: idx}
	e := newTestEngine(t, WithIndex(counting))
	path := openTemplate(t, e, "storage.json")
	ctx := context.Background()

	_, err = e.Hover(ctx, path, Point{Row: 8, Column: 20})
	require.NoError(t, err)
	_, err = e.Hover(ctx, path, Point{Row: 9, Column: 16})
	require.NoError(t, err)
	assert.Len(t, counting.Calls(), 2)

	e.ClearCache()
	_, err = e.Hover(ctx, path, Point{Row: 8, Column: 20})
	require.NoError(t, err)
	assert.Len(t, counting.Calls(), 4)
}
