// Package runtime runs user-supplied Risor rule scripts against parsed
// template documents. Rules inspect the syntax tree through host functions
// and call report() for every finding.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/op/go-logging"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/samvidmistry/Armls/internal/cst"
)

var log = logging.MustGetLogger("armls.runtime")

// ruleExt is the extension of rule scripts.
const ruleExt = ".risor"

// Severity levels a rule may report.
const (
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
	SeverityHint        = "hint"
)

// Finding is one report() call made by a rule.
type Finding struct {
	Rule     string
	Start    cst.Point
	End      cst.Point
	Message  string
	Severity string
}

// Document is the input a rule runs against. The caller holds Tree's lock
// for the duration of the run.
type Document struct {
	Path string
	Tree *cst.Tree
}

// Runtime embeds a Risor VM and provides tree-sitter host functions to
// rule scripts.
type Runtime struct {
	rulesDir string
	fsys     fs.FS
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load rules from an fs.FS instead
// of from disk. Also configures the Risor importer to use FSImporter for
// import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// NewRuntime creates a Runtime loading rules from rulesDir.
func NewRuntime(rulesDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{rulesDir: rulesDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules lists the rule scripts at the top level of the rules directory,
// sorted by name. Subdirectories hold importable helpers and are not run.
func (r *Runtime) Rules() ([]string, error) {
	var (
		entries []fs.DirEntry
		err     error
	)
	switch {
	case r.fsys != nil:
		entries, err = fs.ReadDir(r.fsys, ".")
	case r.rulesDir != "":
		entries, err = os.ReadDir(r.rulesDir)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runtime: list rules: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ruleExt) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Check runs every rule against doc. A rule that fails contributes a single
// warning naming the failure instead of its findings; the remaining rules
// still run.
func (r *Runtime) Check(ctx context.Context, doc Document) []Finding {
	rules, err := r.Rules()
	if err != nil {
		log.Warningf("%v", err)
		return nil
	}
	var out []Finding
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		findings, err := r.RunRule(ctx, rule, doc)
		if err != nil {
			log.Warningf("%s: %v", doc.Path, err)
			out = append(out, Finding{
				Rule:     rule,
				Message:  fmt.Sprintf("rule %s failed: %v", strings.TrimSuffix(rule, ruleExt), err),
				Severity: SeverityWarning,
			})
			continue
		}
		out = append(out, findings...)
	}
	return out
}

// RunRule loads and executes one rule script against doc.
func (r *Runtime) RunRule(ctx context.Context, scriptPath string, doc Document) ([]Finding, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, doc, nil)
}

// RunSource executes Risor source code directly against doc with all
// standard globals plus any extra globals. Useful for testing without
// script files.
func (r *Runtime) RunSource(ctx context.Context, source string, doc Document, extraGlobals map[string]any) ([]Finding, error) {
	return r.eval(ctx, source, "<inline>", doc, extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, doc Document, extraGlobals map[string]any) ([]Finding, error) {
	rep := &reporter{rule: label}
	globals := buildGlobals(doc, rep, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: rule %s: %w", label, err)
	}
	return rep.findings, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor rulesDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{ruleExt},
		})
	}
	if r.rulesDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.rulesDir,
			Extensions:  []string{ruleExt},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on that filesystem.
// Otherwise, uses os.ReadFile with rulesDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading rule %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.rulesDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading rule %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to rule scripts.
func buildGlobals(doc Document, rep *reporter, extra map[string]any) map[string]any {
	globals := map[string]any{
		"path":       doc.Path,
		"query":      makeQueryFn(doc.Tree),
		"node_text":  makeNodeTextFn(doc.Tree),
		"node_value": makeNodeValueFn(doc.Tree),
		"node_child": makeNodeChildFn(),
		"member":     makeMemberFn(doc.Tree),
		"json_path":  makeJSONPathFn(doc.Tree),
		"report":     makeReportFn(rep),
		"log":        mustProxy(&logObject{prefix: doc.Path}),
	}
	if doc.Tree != nil {
		globals["tree"] = nodeObject(doc.Tree.Root())
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
