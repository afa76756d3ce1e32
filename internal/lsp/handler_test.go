package lsp

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/samvidmistry/Armls"
	"github.com/samvidmistry/Armls/internal/compose"
)

const (
	schemaDir   = "../../testdata/schemas"
	templateDir = "../../testdata/templates"
)

// notifications records every server notification.
type notifications struct {
	mu   sync.Mutex
	sent []*protocol.PublishDiagnosticsParams
}

func (n *notifications) notify(method string, params any) {
	if method != protocol.ServerTextDocumentPublishDiagnostics {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, params.(*protocol.PublishDiagnosticsParams))
}

func (n *notifications) last(uri string) *protocol.PublishDiagnosticsParams {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].URI == uri {
			return n.sent[i]
		}
	}
	return nil
}

func newTestHandler(t *testing.T, opts ...armls.Option) (*Handler, *glsp.Context, *notifications) {
	t.Helper()
	opts = append([]armls.Option{armls.WithSchemaDir(schemaDir), armls.WithRemote(false)}, opts...)
	e, err := armls.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	h := NewHandler(e, "test")
	h.async = false
	n := &notifications{}
	return h, &glsp.Context{Notify: n.notify}, n
}

func open(t *testing.T, h *Handler, ctx *glsp.Context, uri, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(templateDir, name))
	require.NoError(t, err)
	require.NoError(t, h.didOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "json", Version: 1, Text: string(data)},
	}))
	return string(data)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestInitialize_AdvertisesCapabilities(t *testing.T) {
	t.Parallel()
	h, ctx, _ := newTestHandler(t)

	res, err := h.initialize(ctx, &protocol.InitializeParams{})
	require.NoError(t, err)
	result, ok := res.(protocol.InitializeResult)
	require.True(t, ok)

	syncOpts, ok := result.Capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	require.True(t, ok)
	assert.Equal(t, protocol.TextDocumentSyncKindFull, *syncOpts.Change)
	assert.True(t, *syncOpts.OpenClose)
	require.NotNil(t, result.Capabilities.CompletionProvider)
	assert.Equal(t, []string{`"`}, result.Capabilities.CompletionProvider.TriggerCharacters)
	assert.NotNil(t, result.Capabilities.HoverProvider)
	assert.Equal(t, Name, result.ServerInfo.Name)
	assert.Equal(t, "test", *result.ServerInfo.Version)
}

// =============================================================================
// Diagnostics
// =============================================================================

func TestDidOpen_PublishesDiagnostics(t *testing.T) {
	t.Parallel()
	h, ctx, n := newTestHandler(t)

	open(t, h, ctx, "file:///incomplete.json", "incomplete.json")
	open(t, h, ctx, "file:///storage.json", "storage.json")

	got := n.last("file:///incomplete.json")
	require.NotNil(t, got)
	require.Len(t, got.Diagnostics, 1)
	d := got.Diagnostics[0]
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *d.Severity)
	assert.Equal(t, protocol.Position{Line: 10, Character: 21}, d.Range.Start)
	assert.Equal(t, protocol.Position{Line: 10, Character: 26}, d.Range.End)

	valid := n.last("file:///storage.json")
	require.NotNil(t, valid)
	assert.Empty(t, valid.Diagnostics)
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

func TestDiagnostics_NotPublishedForTextEditedDuringPass(t *testing.T) {
	t.Parallel()
	idx, err := compose.OpenDirIndex(os.DirFS(schemaDir))
	require.NoError(t, err)
	editing := &editingIndex{inner: idx}
	h, ctx, n := newTestHandler(t, armls.WithIndex(editing))

	uri := "file:///t.json"
	data, err := os.ReadFile(filepath.Join(templateDir, "storage.json"))
	require.NoError(t, err)
	edited := string(data)
	editing.edit = func() {
		assert.NoError(t, h.engine.Change(context.Background(), uri, edited))
	}

	// incomplete.json has one warning, but its text is replaced mid-pass.
	open(t, h, ctx, uri, "incomplete.json")
	assert.Nil(t, n.last(uri))

	require.NoError(t, h.didChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: edited}},
	}))
	got := n.last(uri)
	require.NotNil(t, got)
	assert.Empty(t, got.Diagnostics)
}

func TestDidChange_ReanalyzesWholeText(t *testing.T) {
	t.Parallel()
	h, ctx, n := newTestHandler(t)
	uri := "file:///t.json"
	open(t, h, ctx, uri, "storage.json")

	require.NoError(t, h.didChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: `{"a": [`}},
	}))

	got := n.last(uri)
	require.NotNil(t, got)
	require.NotEmpty(t, got.Diagnostics)
	for _, d := range got.Diagnostics {
		assert.Equal(t, protocol.DiagnosticSeverityError, *d.Severity)
	}
	text, ok := h.engine.Text(uri)
	require.True(t, ok)
	assert.Equal(t, `{"a": [`, text)
}

func TestDidChange_NoChanges(t *testing.T) {
	t.Parallel()
	h, ctx, n := newTestHandler(t)
	uri := "file:///t.json"
	open(t, h, ctx, uri, "storage.json")
	before := len(n.sent)

	require.NoError(t, h.didChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
		},
	}))
	assert.Len(t, n.sent, before)
}

func TestDidClose_ClearsDiagnostics(t *testing.T) {
	t.Parallel()
	h, ctx, n := newTestHandler(t)
	uri := "file:///incomplete.json"
	open(t, h, ctx, uri, "incomplete.json")

	require.NoError(t, h.didClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))

	got := n.last(uri)
	require.NotNil(t, got)
	assert.Empty(t, got.Diagnostics)
	assert.Empty(t, h.engine.Paths())
}

// =============================================================================
// Hover and completion
// =============================================================================

func TestHover(t *testing.T) {
	t.Parallel()
	h, ctx, _ := newTestHandler(t)
	uri := "file:///storage.json"
	open(t, h, ctx, uri, "storage.json")

	got, err := h.hover(ctx, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 8, Character: 20},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	content, ok := got.Contents.(protocol.MarkupContent)
	require.True(t, ok)
	assert.Equal(t, protocol.MarkupKindMarkdown, content.Kind)
	assert.Equal(t, "Required. Gets or sets the location of the resource.", content.Value)
	assert.Equal(t, protocol.Position{Line: 8, Character: 19}, got.Range.Start)
}

func TestHover_UnknownDocument(t *testing.T) {
	t.Parallel()
	h, ctx, _ := newTestHandler(t)

	got, err := h.hover(ctx, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///nope.json"},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCompletion(t *testing.T) {
	t.Parallel()
	h, ctx, _ := newTestHandler(t)
	uri := "file:///storage.json"
	open(t, h, ctx, uri, "storage.json")

	res, err := h.completion(ctx, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 11, Character: 10},
		},
	})
	require.NoError(t, err)
	list, ok := res.(protocol.CompletionList)
	require.True(t, ok)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "name", list.Items[0].Label)
	assert.Equal(t, protocol.CompletionItemKindProperty, *list.Items[0].Kind)
}

func TestCompletion_UnknownDocument(t *testing.T) {
	t.Parallel()
	h, ctx, _ := newTestHandler(t)

	res, err := h.completion(ctx, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///nope.json"},
		},
	})
	require.NoError(t, err)
	list, ok := res.(protocol.CompletionList)
	require.True(t, ok)
	assert.Empty(t, list.Items)
}
