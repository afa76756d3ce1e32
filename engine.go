package armls

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/samvidmistry/Armls/internal/analyzer"
	"github.com/samvidmistry/Armls/internal/buffer"
	"github.com/samvidmistry/Armls/internal/compose"
	"github.com/samvidmistry/Armls/internal/cst"
	"github.com/samvidmistry/Armls/internal/docpath"
	"github.com/samvidmistry/Armls/internal/runtime"
	"github.com/samvidmistry/Armls/internal/schema"
	"github.com/samvidmistry/Armls/internal/store"
)

var log = logging.MustGetLogger("armls")

// DefaultFetchTimeout bounds one remote schema retrieval.
const DefaultFetchTimeout = 30 * time.Second

// Engine ties the document store, schema composition, and analysis together.
// All methods are safe for concurrent use.
type Engine struct {
	docs     *buffer.Store
	composer *compose.Composer
	analyzer *analyzer.Analyzer
	catalog  *store.Store

	mu          sync.Mutex
	diagnostics map[string][]Diagnostic
}

// config collects option values before the Engine is assembled.
type config struct {
	schemaDir    string
	base         string
	catalogPath  string
	source       compose.Source
	index        compose.Index
	remote       bool
	fetchTimeout time.Duration
	composeOpts  []compose.Option
	rulesDir     string
	rulesFS      fs.FS
}

// Option configures an Engine.
type Option func(*config)

// WithSchemaDir serves schemas from a local directory mirroring the schema
// host. A schema_index.json in dir, when present, becomes the provider index.
func WithSchemaDir(dir string) Option {
	return func(c *config) {
		c.schemaDir = dir
	}
}

// WithCatalog resolves provider schemas through the SQLite catalog at path
// instead of schema_index.json.
func WithCatalog(path string) Option {
	return func(c *config) {
		c.catalogPath = path
	}
}

// WithSource replaces every built-in schema source.
func WithSource(src compose.Source) Option {
	return func(c *config) {
		c.source = src
	}
}

// WithIndex replaces the provider index.
func WithIndex(idx compose.Index) Option {
	return func(c *config) {
		c.index = idx
	}
}

// WithRemote controls retrieval from the schema host over HTTP. Enabled by
// default; local sources are always consulted first.
func WithRemote(remote bool) Option {
	return func(c *config) {
		c.remote = remote
	}
}

// WithFetchTimeout sets the remote retrieval timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) {
		c.fetchTimeout = d
	}
}

// WithBaseURL sets the schema host prefix.
func WithBaseURL(base string) Option {
	return func(c *config) {
		c.base = base
		c.composeOpts = append(c.composeOpts, compose.WithBaseURL(base))
	}
}

// WithCommonDefinitions sets the URL always included in composition.
func WithCommonDefinitions(url string) Option {
	return func(c *config) {
		c.composeOpts = append(c.composeOpts, compose.WithCommonDefinitions(url))
	}
}

// WithRewritePaths sets the JSONPath expressions locating the resource
// reference list and its enclosing combinator in the template schema.
func WithRewritePaths(refs, branches string) Option {
	return func(c *config) {
		c.composeOpts = append(c.composeOpts, compose.WithRewritePaths(refs, branches))
	}
}

// WithRulesDir runs the Risor rule scripts in dir after schema validation.
func WithRulesDir(dir string) Option {
	return func(c *config) {
		c.rulesDir = dir
	}
}

// WithRulesFS loads rule scripts from fsys instead of from disk.
func WithRulesFS(fsys fs.FS) Option {
	return func(c *config) {
		c.rulesFS = fsys
	}
}

// New assembles an Engine. With no options, schemas are retrieved from the
// public schema host and composition has no provider index.
func New(opts ...Option) (*Engine, error) {
	c := &config{remote: true, fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(c)
	}

	e := &Engine{
		docs:        buffer.NewStore(),
		diagnostics: make(map[string][]Diagnostic),
	}

	src, err := c.buildSource()
	if err != nil {
		return nil, err
	}
	idx, err := e.buildIndex(c)
	if err != nil {
		return nil, err
	}

	composeOpts := c.composeOpts
	if idx != nil {
		composeOpts = append([]compose.Option{compose.WithIndex(idx)}, composeOpts...)
	}
	e.composer, err = compose.New(src, composeOpts...)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("armls: composer: %w", err)
	}

	var analyzerOpts []analyzer.Option
	if c.rulesFS != nil || c.rulesDir != "" {
		var rtOpts []runtime.RuntimeOption
		if c.rulesFS != nil {
			rtOpts = append(rtOpts, runtime.WithRuntimeFS(c.rulesFS))
		}
		analyzerOpts = append(analyzerOpts, analyzer.WithRules(runtime.NewRuntime(c.rulesDir, rtOpts...)))
	}
	e.analyzer = analyzer.New(e.composer, analyzerOpts...)
	return e, nil
}

func (c *config) buildSource() (compose.Source, error) {
	if c.source != nil {
		return c.source, nil
	}
	var sources compose.Sources
	if c.schemaDir != "" {
		sources = append(sources, compose.DirSource{BaseURL: c.baseURL(), Dir: c.schemaDir})
	}
	if c.remote {
		sources = append(sources, compose.NewHTTPSource(c.fetchTimeout))
	}
	if len(sources) == 0 {
		return nil, errors.New("armls: no schema source configured")
	}
	return sources, nil
}

func (c *config) baseURL() string {
	if c.base == "" {
		return compose.DefaultBaseURL
	}
	if !strings.HasSuffix(c.base, "/") {
		return c.base + "/"
	}
	return c.base
}

func (e *Engine) buildIndex(c *config) (compose.Index, error) {
	switch {
	case c.index != nil:
		return c.index, nil
	case c.catalogPath != "":
		s, err := store.Open(c.catalogPath)
		if err != nil {
			return nil, fmt.Errorf("armls: open catalog: %w", err)
		}
		e.catalog = s
		return s, nil
	case c.schemaDir != "":
		idx, err := compose.OpenDirIndex(os.DirFS(c.schemaDir))
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("no %s in %s", compose.IndexFileName, c.schemaDir)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("armls: schema index: %w", err)
		}
		return idx, nil
	}
	return nil, nil
}

// Close releases the provider catalog, if one is open.
func (e *Engine) Close() error {
	if e.catalog != nil {
		return e.catalog.Close()
	}
	return nil
}

// Open parses text and records it as the latest content of path.
func (e *Engine) Open(ctx context.Context, path, text string) error {
	tree, err := cst.ParseString(ctx, text)
	if err != nil {
		return fmt.Errorf("armls: open %s: %w", path, err)
	}
	e.docs.Put(path, text, tree)
	return nil
}

// Change replaces the content of path. Documents are always synchronized
// in full.
func (e *Engine) Change(ctx context.Context, path, text string) error {
	return e.Open(ctx, path, text)
}

// CloseDocument forgets path and its last diagnostics.
func (e *Engine) CloseDocument(path string) {
	e.docs.Delete(path)
	e.mu.Lock()
	delete(e.diagnostics, path)
	e.mu.Unlock()
}

// Text returns the latest content of path.
func (e *Engine) Text(path string) (string, bool) {
	doc, ok := e.docs.Get(path)
	return doc.Text, ok
}

// Paths lists every open document.
func (e *Engine) Paths() []string {
	return e.docs.Paths()
}

// Analyze computes diagnostics for every document changed since the last
// pass and returns them keyed by path. Documents edited while the pass runs
// stay pending for the next one.
func (e *Engine) Analyze(ctx context.Context) (map[string][]Diagnostic, error) {
	analyses, err := e.AnalyzeDocuments(ctx)
	results := make(map[string][]Diagnostic, len(analyses))
	for path, a := range analyses {
		results[path] = a.Diagnostics
	}
	return results, err
}

// AnalyzeDocuments is Analyze, also returning the text each result was
// computed from.
func (e *Engine) AnalyzeDocuments(ctx context.Context) (map[string]Analysis, error) {
	snapshot := e.docs.AllDirty()
	results, err := e.analyzer.Analyze(ctx, snapshot)

	out := make(map[string]Analysis, len(results))
	analyzed := make(map[string]buffer.Document, len(results))
	e.mu.Lock()
	for path, diags := range results {
		out[path] = Analysis{Text: snapshot[path].Text, Diagnostics: diags}
		if _, open := e.docs.Get(path); !open {
			continue
		}
		e.diagnostics[path] = diags
		analyzed[path] = snapshot[path]
	}
	e.mu.Unlock()
	e.docs.MarkAnalyzed(analyzed)

	if err != nil {
		return out, fmt.Errorf("armls: analyze: %w", err)
	}
	return out, nil
}

// Diagnostics returns the result of the last pass that analyzed path.
func (e *Engine) Diagnostics(path string) []Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.diagnostics[path]
}

// ClearCache drops every retrieved and composed schema.
func (e *Engine) ClearCache() {
	e.composer.ClearCache()
}

// Hover describes the schema element under pos. It returns nil when the
// document is unknown, declares no schema, or the schema has no
// description for that location.
func (e *Engine) Hover(ctx context.Context, path string, pos Point) (*Hover, error) {
	doc, ok := e.docs.Get(path)
	if !ok {
		return nil, nil
	}

	tree := doc.Tree
	tree.Lock()
	node := tree.NodeAt(pos)
	docPath, err := docpath.Resolve(tree, node)
	rng := analyzer.NodeRange(node)
	tree.Unlock()
	if err != nil {
		return nil, fmt.Errorf("armls: hover %s: %w", path, err)
	}
	if len(docPath) == 0 {
		return nil, nil
	}

	composed := e.compose(ctx, doc)
	if composed == nil {
		return nil, nil
	}
	target := schema.FindByPath(composed.Root, docPath)
	if target == nil || target.Description == "" {
		log.Debugf("%s: no description at %s", path, docPath)
		return nil, nil
	}
	return &Hover{Contents: target.Description, Range: rng}, nil
}

// Complete lists the property names the schema allows in the object
// enclosing pos. The list is empty when nothing is known about it.
func (e *Engine) Complete(ctx context.Context, path string, pos Point) ([]Candidate, error) {
	doc, ok := e.docs.Get(path)
	if !ok {
		return nil, nil
	}

	tree := doc.Tree
	tree.Lock()
	var (
		docPath docpath.Path
		err     error
	)
	if parent := completionAnchor(tree.NodeAt(pos)).Parent(); parent != nil {
		docPath, err = docpath.Resolve(tree, parent)
	}
	tree.Unlock()
	if err != nil {
		return nil, fmt.Errorf("armls: complete %s: %w", path, err)
	}
	if len(docPath) == 0 {
		return nil, nil
	}

	composed := e.compose(ctx, doc)
	if composed == nil {
		return nil, nil
	}
	return schema.Candidates(schema.FindByPath(composed.Root, docPath)), nil
}

// completionAnchor lifts a cursor inside a string's quotes or content to
// the string itself.
func completionAnchor(n *sitter.Node) *sitter.Node {
	switch n.Type() {
	case "string_content", "escape_sequence", `"`:
		if p := n.Parent(); p != nil && p.Type() == "string" {
			return p
		}
	}
	return n
}

// compose returns the schema for doc, or nil when it declares none or the
// schema is unavailable.
func (e *Engine) compose(ctx context.Context, doc buffer.Document) *compose.Composed {
	doc.Tree.Lock()
	url, ok := doc.Tree.StringValue("$schema")
	resources := doc.Tree.Resources()
	doc.Tree.Unlock()
	if !ok {
		return nil
	}
	composed, err := e.composer.Compose(ctx, url, resources)
	if err != nil {
		log.Debugf("%s: %v", doc.Path, err)
		return nil
	}
	return composed
}

// absPath normalizes a file path the way documents are keyed.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
