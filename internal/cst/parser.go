package cst

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	tree_sitter_json "github.com/tree-sitter/tree-sitter-json/bindings/go"
)

// jsonLanguage is the tree-sitter JSON grammar. Lazily initialized on first
// call via sync.Once.
var (
	jsonLanguage *sitter.Language
	languageOnce sync.Once
)

// Language returns the tree-sitter grammar used for template documents.
func Language() *sitter.Language {
	languageOnce.Do(func() {
		jsonLanguage = sitter.NewLanguage(tree_sitter_json.Language())
	})
	return jsonLanguage
}

// Parse builds a concrete syntax tree for src. The grammar tolerates
// comments, so JSONC documents parse without errors.
func Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(Language())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("cst: parse: %w", err)
	}
	return &Tree{tree: tree, src: src}, nil
}

// ParseString is Parse for callers holding text rather than bytes.
func ParseString(ctx context.Context, text string) (*Tree, error) {
	return Parse(ctx, []byte(text))
}
