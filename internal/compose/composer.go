// Package compose builds minimal validation schemas for template documents.
//
// A deployment template's base schema references every resource type of
// every provider. Compose rewrites it to reference only the resource types
// a document declares and compiles it against provider schemas preloaded
// from a local Index, so composition never touches the thousands of
// provider schemas a document does not use.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/op/go-logging"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/samvidmistry/Armls/internal/schema"
)

var log = logging.MustGetLogger("armls.compose")

// DefaultBaseURL is the host every template schema is published under.
const DefaultBaseURL = "https://schema.management.azure.com/schemas/"

// deploymentTemplateMarker identifies the root template schema kind.
const deploymentTemplateMarker = "deploymentTemplate.json"

// Composed is a compiled schema ready for validation and navigation.
type Composed struct {
	URL       string
	Validator *jsonschema.Schema
	Root      *schema.Node
}

// Composer builds and caches composed schemas. Safe for concurrent use.
type Composer struct {
	source    Source
	index     Index
	texts     *Cache[[]byte]
	schemas   *Cache[*Composed]
	baseURL   string
	commonURL string
	refsPath  string
	branches  string
	rewriter  *rewriter
	fetches   singleflight.Group
}

// Option configures a Composer.
type Option func(*Composer)

// WithIndex sets the provider-schema index used for deployment templates.
func WithIndex(idx Index) Option {
	return func(c *Composer) {
		c.index = idx
	}
}

// WithTextCache injects the raw schema text cache.
func WithTextCache(cache *Cache[[]byte]) Option {
	return func(c *Composer) {
		c.texts = cache
	}
}

// WithSchemaCache injects the composed schema cache.
func WithSchemaCache(cache *Cache[*Composed]) Option {
	return func(c *Composer) {
		c.schemas = cache
	}
}

// WithBaseURL overrides the schema host used to derive provider URLs.
func WithBaseURL(base string) Option {
	return func(c *Composer) {
		if base != "" && !strings.HasSuffix(base, "/") {
			base += "/"
		}
		c.baseURL = base
	}
}

// WithCommonDefinitions overrides the common-definitions URL preloaded
// into every deployment-template composition.
func WithCommonDefinitions(url string) Option {
	return func(c *Composer) {
		c.commonURL = url
	}
}

// WithRewritePaths overrides the JSONPath targets of the base-schema
// rewrite: the resource reference list and its enclosing combinator.
func WithRewritePaths(refs, branches string) Option {
	return func(c *Composer) {
		c.refsPath = refs
		c.branches = branches
	}
}

// New creates a Composer retrieving base schemas through source.
func New(source Source, opts ...Option) (*Composer, error) {
	c := &Composer{
		source:   source,
		baseURL:  DefaultBaseURL,
		refsPath: DefaultResourceRefsPath,
		branches: DefaultResourceBranchesPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.texts == nil {
		c.texts = NewCache[[]byte]()
	}
	if c.schemas == nil {
		c.schemas = NewCache[*Composed]()
	}
	if c.commonURL == "" {
		c.commonURL = c.baseURL + "common/definitions.json"
	}
	rw, err := newRewriter(c.refsPath, c.branches)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	c.rewriter = rw
	return c, nil
}

// ClearCache drops every cached schema text and composed schema.
func (c *Composer) ClearCache() {
	c.texts.Clear()
	c.schemas.Clear()
}

// IsDeploymentTemplate reports whether url names the root template schema.
func IsDeploymentTemplate(url string) bool {
	return strings.Contains(url, deploymentTemplateMarker)
}

// Compose returns the schema a document declaring url and resources
// (resource type to apiVersion) validates against. Any failure yields an
// error and no schema; callers treat that as "schema unavailable".
func (c *Composer) Compose(ctx context.Context, url string, resources map[string]string) (composed *Composed, err error) {
	key := cacheKey(url, resources)
	if cached, ok := c.schemas.Get(key); ok {
		log.Debugf("composed schema cache hit: %s", url)
		return cached, nil
	}

	defer func() {
		if r := recover(); r != nil {
			composed, err = nil, fmt.Errorf("compose: %s: %v", url, r)
		}
	}()

	text, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var sch *jsonschema.Schema
	if IsDeploymentTemplate(url) {
		sch, err = c.composeTemplate(ctx, url, text, resources)
	} else {
		sch, err = c.compileDirect(ctx, url, text)
	}
	if err != nil {
		return nil, err
	}

	composed = &Composed{URL: url, Validator: sch, Root: schema.FromCompiled(sch)}
	c.schemas.Put(key, composed)
	return composed, nil
}

// fetch returns the raw text at url, retrieving it at most once per cache
// lifetime. Concurrent callers for the same url share one retrieval, which
// runs detached from any single caller's cancellation.
func (c *Composer) fetch(ctx context.Context, url string) ([]byte, error) {
	if b, ok := c.texts.Get(url); ok {
		return b, nil
	}
	detached := context.WithoutCancel(ctx)
	ch := c.fetches.DoChan(url, func() (any, error) {
		if b, ok := c.texts.Get(url); ok {
			return b, nil
		}
		log.Debugf("fetching schema %s", url)
		b, err := c.source.Fetch(detached, url)
		if err != nil {
			return nil, err
		}
		c.texts.Put(url, b)
		return b, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("compose: fetch %s: %w", url, res.Err)
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("compose: fetch %s: %w", url, ctx.Err())
	}
}

// compileDirect compiles a non-template schema as published, resolving its
// external references through the Source.
func (c *Composer) compileDirect(ctx context.Context, url string, text []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("compose: parse %s: %w", url, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.UseLoader(loaderFunc(func(ref string) (any, error) {
		b, err := c.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		return jsonschema.UnmarshalJSON(bytes.NewReader(b))
	}))
	loc := stripFragment(url)
	if err := compiler.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("compose: add %s: %w", url, err)
	}
	sch, err := compiler.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compose: compile %s: %w", url, err)
	}
	return sch, nil
}

// composeTemplate narrows the deployment-template schema to resources and
// compiles it against locally indexed provider schemas only.
func (c *Composer) composeTemplate(ctx context.Context, url string, text []byte, resources map[string]string) (*jsonschema.Schema, error) {
	refs, urls := c.references(resources)

	providers, err := c.loadProviders(ctx, urls)
	if err != nil {
		return nil, err
	}

	doc, err := c.rewriter.apply(text, refs)
	if err != nil {
		return nil, fmt.Errorf("compose: rewrite %s: %w", url, err)
	}

	compiler := jsonschema.NewCompiler()
	// Schemas reached only through a provider's own references come from
	// the index too; nothing is fetched remotely here.
	compiler.UseLoader(loaderFunc(func(ref string) (any, error) {
		if c.index == nil {
			return nil, fmt.Errorf("%s is not preloaded", ref)
		}
		data, err := c.index.Lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		return jsonschema.UnmarshalJSON(bytes.NewReader(data))
	}))
	for _, p := range providers {
		if err := compiler.AddResource(p.url, p.doc); err != nil {
			return nil, fmt.Errorf("compose: add %s: %w", p.url, err)
		}
	}
	loc := stripFragment(url)
	if err := compiler.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("compose: add %s: %w", url, err)
	}
	sch, err := compiler.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compose: compile %s: %w", url, err)
	}
	log.Debugf("composed %s with %d resource reference(s) and %d provider schema(s)", url, len(refs), len(providers))
	return sch, nil
}

// references derives one resource-definition reference per declared type,
// in sorted type order, and the provider URLs they point into. The common
// definitions URL is always included.
func (c *Composer) references(resources map[string]string) (refs, urls []string) {
	types := make([]string, 0, len(resources))
	for typ := range resources {
		types = append(types, typ)
	}
	sort.Strings(types)

	seen := map[string]bool{c.commonURL: true}
	urls = []string{c.commonURL}
	for _, typ := range types {
		providerURL, ref, ok := c.ResourceReference(typ, resources[typ])
		if !ok {
			continue
		}
		refs = append(refs, ref)
		if !seen[providerURL] {
			seen[providerURL] = true
			urls = append(urls, providerURL)
		}
	}
	return refs, urls
}

// ResourceReference returns the provider schema URL for a resource type
// and apiVersion, and the reference to the type's resource definition in
// it. ok is false for types without a provider/name shape.
func (c *Composer) ResourceReference(resourceType, apiVersion string) (providerURL, ref string, ok bool) {
	parts := strings.Split(resourceType, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" || apiVersion == "" {
		return "", "", false
	}
	providerURL = c.baseURL + apiVersion + "/" + parts[0] + ".json"
	return providerURL, providerURL + "#/resourceDefinitions/" + parts[1], true
}

type provider struct {
	url string
	doc any
}

// loadProviders reads every url available in the index in parallel. URLs
// the index does not hold, or holds unreadable content for, are skipped.
func (c *Composer) loadProviders(ctx context.Context, urls []string) ([]provider, error) {
	if c.index == nil {
		return nil, nil
	}
	slots := make([]*provider, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, u := range urls {
		g.Go(func() error {
			data, err := c.index.Lookup(gctx, u)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Debugf("provider schema unavailable: %s: %v", u, err)
				return nil
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				log.Warningf("provider schema %s is not valid JSON: %v", u, err)
				return nil
			}
			slots[i] = &provider{url: u, doc: doc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compose: load provider schemas: %w", err)
	}

	var out []provider
	for _, p := range slots {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// cacheKey identifies a composition by schema URL and resource set.
func cacheKey(url string, resources map[string]string) string {
	types := make([]string, 0, len(resources))
	for typ := range resources {
		types = append(types, typ)
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString(url)
	if IsDeploymentTemplate(url) {
		for _, typ := range types {
			b.WriteString("\x00")
			b.WriteString(typ)
			b.WriteString("@")
			b.WriteString(resources[typ])
		}
	}
	return b.String()
}

// loaderFunc adapts a function to jsonschema.URLLoader.
type loaderFunc func(url string) (any, error)

func (f loaderFunc) Load(url string) (any, error) {
	return f(url)
}
