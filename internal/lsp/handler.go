// Package lsp serves an Engine over the Language Server Protocol.
package lsp

import (
	"context"
	"sync"

	"github.com/op/go-logging"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/samvidmistry/Armls"
)

var log = logging.MustGetLogger("armls.lsp")

// Name is the server name reported to clients.
const Name = "armls"

// Handler maps protocol requests onto an Engine. Documents are keyed by
// their URI.
type Handler struct {
	protocol.Handler
	engine  *armls.Engine
	version string

	// async runs analysis passes off the request goroutine.
	async bool

	// passMu serializes analysis passes; cancel stops the running one.
	passMu   sync.Mutex
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewHandler creates a Handler for e.
func NewHandler(e *armls.Engine, version string) *Handler {
	h := &Handler{engine: e, version: version, async: true}
	h.Handler = protocol.Handler{
		Initialize:             h.initialize,
		Initialized:            h.initialized,
		Shutdown:               h.shutdown,
		SetTrace:               h.setTrace,
		TextDocumentDidOpen:    h.didOpen,
		TextDocumentDidChange:  h.didChange,
		TextDocumentDidClose:   h.didClose,
		TextDocumentHover:      h.hover,
		TextDocumentCompletion: h.completion,
	}
	return h
}

// RunStdio serves e on stdin and stdout until the client exits.
func RunStdio(e *armls.Engine, version string, debug bool) error {
	return server.NewServer(NewHandler(e, version), Name, debug).RunStdio()
}

func (h *Handler) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	if params.ClientInfo != nil {
		log.Infof("initializing for %s", params.ClientInfo.Name)
	}

	capabilities := h.CreateServerCapabilities()
	openClose := true
	change := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &openClose,
		Change:    &change,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{`"`},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &h.version,
		},
	}, nil
}

func (h *Handler) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (h *Handler) shutdown(ctx *glsp.Context) error {
	h.cancelPass()
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (h *Handler) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (h *Handler) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := params.TextDocument
	if err := h.engine.Open(context.Background(), doc.URI, doc.Text); err != nil {
		return err
	}
	h.schedule(ctx.Notify)
	return nil
}

func (h *Handler) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// Full sync: the last change carries the whole text.
	var (
		text string
		ok   bool
	)
	for _, change := range params.ContentChanges {
		switch v := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text, ok = v.Text, true
		case protocol.TextDocumentContentChangeEvent:
			text, ok = v.Text, true
		}
	}
	if !ok {
		return nil
	}
	if err := h.engine.Change(context.Background(), params.TextDocument.URI, text); err != nil {
		return err
	}
	h.schedule(ctx.Notify)
	return nil
}

func (h *Handler) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	h.engine.CloseDocument(params.TextDocument.URI)
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (h *Handler) hover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri := params.TextDocument.URI
	text, ok := h.engine.Text(uri)
	if !ok {
		return nil, nil
	}
	res, err := h.engine.Hover(context.Background(), uri, toPoint(text, params.Position))
	if err != nil {
		log.Warningf("hover %s: %v", uri, err)
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	rng := toRange(text, res.Range)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: res.Contents},
		Range:    &rng,
	}, nil
}

func (h *Handler) completion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	list := protocol.CompletionList{Items: []protocol.CompletionItem{}}
	uri := params.TextDocument.URI
	text, ok := h.engine.Text(uri)
	if !ok {
		return list, nil
	}
	candidates, err := h.engine.Complete(context.Background(), uri, toPoint(text, params.Position))
	if err != nil {
		log.Warningf("completion %s: %v", uri, err)
		return nil, err
	}

	kind := protocol.CompletionItemKindProperty
	for _, c := range candidates {
		item := protocol.CompletionItem{Label: c.Name, Kind: &kind}
		if c.Description != "" {
			item.Documentation = protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: c.Description}
		}
		list.Items = append(list.Items, item)
	}
	return list, nil
}

// schedule starts an analysis pass, cancelling the one in flight.
func (h *Handler) schedule(notify glsp.NotifyFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancelMu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.cancelMu.Unlock()

	if h.async {
		go h.analyze(ctx, notify)
		return
	}
	h.analyze(ctx, notify)
}

func (h *Handler) cancelPass() {
	h.cancelMu.Lock()
	defer h.cancelMu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// analyze runs one pass and publishes every result it produced, including
// those of a pass cut short by a newer edit, for documents still holding
// the analyzed text.
func (h *Handler) analyze(ctx context.Context, notify glsp.NotifyFunc) {
	h.passMu.Lock()
	defer h.passMu.Unlock()

	results, err := h.engine.AnalyzeDocuments(ctx)
	if err != nil {
		log.Debugf("%v", err)
	}
	for uri, a := range results {
		// An edit during the pass schedules another one that will publish.
		current, ok := h.engine.Text(uri)
		if !ok || current != a.Text {
			log.Debugf("%s changed during analysis, not publishing", uri)
			continue
		}
		notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: toDiagnostics(a.Text, a.Diagnostics),
		})
	}
}

func toDiagnostics(text string, diags []armls.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		severity := protocol.DiagnosticSeverity(d.Severity)
		source := d.Source
		out = append(out, protocol.Diagnostic{
			Range:    toRange(text, d.Range),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}
