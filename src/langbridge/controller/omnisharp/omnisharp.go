// Package omnisharp translates LSP requests from IDE clients into the
// line-delimited command protocol spoken by OmniSharp-style backends, and
// maps the responses and out-of-band events back into LSP shapes.
package omnisharp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	lsuri "go.lsp.dev/uri"
	"go.uber.org/fx"
	"go.uber.org/zap"

	docsync "github.com/junolab/langbridge/src/langbridge/controller/doc-sync"
	"github.com/junolab/langbridge/src/langbridge/entity"
	notifier "github.com/junolab/langbridge/src/langbridge/gateway/ide-client"
	"github.com/junolab/langbridge/src/langbridge/internal/lineproto"
	"github.com/junolab/langbridge/src/langbridge/mapper"
)

const _nameKey = "omnisharp"

// _metadataScheme prefixes virtual document URIs whose text lives only in
// the backend's decompiler, never on disk.
const _metadataScheme = "omnisharp-metadata"

// _defaultTruncationLimit is the word length at or below which the backend
// is assumed to have truncated its completion candidates.
const _defaultTruncationLimit = 1

// Controller translates between the LSP surface exposed to IDE clients and
// an attached line-protocol backend. All methods except AttachSession
// require a session UUID on the context.
type Controller interface {
	// AttachSession binds a backend client to a session. Subsequent LSP
	// traffic for the session is translated onto this client.
	AttachSession(ctx context.Context, id uuid.UUID, client *lineproto.Client, truncationLimit int) error

	// DetachSession drops the backend binding for a session.
	DetachSession(ctx context.Context, id uuid.UUID)

	Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error)
	DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error
	DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error
	DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error
	Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error)
	Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error)
	Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error)
	CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error)
	CodeLens(ctx context.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error)
	DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error)

	// Metadata fetches the decompiled text behind a virtual document URI
	// previously handed out by Definition.
	Metadata(ctx context.Context, params *mapper.MetadataParams) (string, error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Documents docsync.Controller
	IDEClient notifier.Gateway
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
}

type backendBinding struct {
	client          *lineproto.Client
	truncationLimit int
}

type controller struct {
	documents docsync.Controller
	ideClient notifier.Gateway
	logger    *zap.SugaredLogger
	stats     tally.Scope

	mu       sync.RWMutex
	backends map[uuid.UUID]*backendBinding
}

// New creates a new controller for protocol translation.
func New(p Params) Controller {
	return &controller{
		documents: p.Documents,
		ideClient: p.IDEClient,
		logger:    p.Logger.With("component", _nameKey),
		stats:     p.Stats.SubScope("omnisharp"),
		backends:  make(map[uuid.UUID]*backendBinding),
	}
}

func (c *controller) AttachSession(ctx context.Context, id uuid.UUID, client *lineproto.Client, truncationLimit int) error {
	if client == nil {
		return fmt.Errorf("attaching session %s: backend client is nil", id)
	}
	if truncationLimit <= 0 {
		truncationLimit = _defaultTruncationLimit
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.backends[id]; ok {
		return fmt.Errorf("session %s already has an attached backend", id)
	}
	c.backends[id] = &backendBinding{client: client, truncationLimit: truncationLimit}

	// Events arrive on the backend's pump goroutine with no request in
	// flight, so they carry a fresh context bound to this session.
	eventCtx := context.WithValue(context.Background(), entity.SessionContextKey, id)
	client.SetEventHandler(func(_ context.Context, event string, body json.RawMessage) {
		c.handleEvent(eventCtx, event, body)
	})
	return nil
}

func (c *controller) DetachSession(_ context.Context, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.backends, id)
}

func (c *controller) Initialize(_ context.Context, _ *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindIncremental,
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"."},
			},
			HoverProvider:             true,
			DefinitionProvider:        true,
			CodeActionProvider:        true,
			CodeLensProvider:          &protocol.CodeLensOptions{},
			DocumentHighlightProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{
			Name: "langbridge",
		},
	}, nil
}

func (c *controller) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc, err := c.documents.DidOpen(ctx, params)
	if err != nil {
		return err
	}
	if err := c.updateBuffer(ctx, doc); err != nil {
		return err
	}
	c.checkDocument(ctx, doc.URI)
	return nil
}

func (c *controller) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	doc, err := c.documents.DidChange(ctx, params)
	if err != nil {
		return err
	}
	if err := c.updateBuffer(ctx, doc); err != nil {
		return err
	}
	c.checkDocument(ctx, doc.URI)
	return nil
}

func (c *controller) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	if err := c.documents.DidClose(ctx, params); err != nil {
		return err
	}
	// Clear stale squiggles for the closed buffer.
	if err := c.ideClient.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []protocol.Diagnostic{},
	}); err != nil {
		c.logger.Debugw("publishing empty diagnostics on close", "error", err)
	}
	return nil
}

func (c *controller) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	binding, err := c.binding(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	word, err := wordAt(doc.Text, params.Position)
	if err != nil {
		return nil, err
	}

	var items []autoCompleteItem
	req := autoCompleteRequest{
		FileName:       fileName(doc.URI),
		Line:           int(params.Position.Line) + 1,
		Column:         int(params.Position.Character) + 1,
		WordToComplete: word,
		WantKind:       true,
		WantReturnType: true,

		WantDocumentationForEveryCompletionResult: true,
	}
	if err := binding.client.Call(ctx, commandAutoComplete, req, &items); err != nil {
		return nil, err
	}

	list := &protocol.CompletionList{
		// Short words make the backend truncate its candidate set, so the
		// client must re-query as the user keeps typing.
		IsIncomplete: len(word) <= binding.truncationLimit,
		Items:        groupCompletions(items),
	}
	return list, nil
}

// groupCompletions folds backend candidates that share a display text (the
// overloads of one member) into a single item, annotated with the number of
// siblings it stands for. Backend ordering is preserved.
func groupCompletions(items []autoCompleteItem) []protocol.CompletionItem {
	out := make([]protocol.CompletionItem, 0, len(items))
	index := make(map[string]int, len(items))
	overloads := make(map[string]int, len(items))

	for _, item := range items {
		if i, ok := index[item.DisplayText]; ok {
			overloads[item.DisplayText]++
			if item.Preselect {
				out[i].Preselect = true
			}
			continue
		}
		index[item.DisplayText] = len(out)
		out = append(out, protocol.CompletionItem{
			Label:      item.DisplayText,
			InsertText: item.CompletionText,
			Detail:     completionDetail(item),
			Kind:       completionKind(item.Kind),
			Preselect:  item.Preselect,
		})
	}

	for label, n := range overloads {
		i := index[label]
		out[i].Detail = strings.TrimSpace(fmt.Sprintf("%s (+ %d overload(s))", out[i].Detail, n))
	}
	return out
}

func completionDetail(item autoCompleteItem) string {
	if item.Description != "" {
		return item.Description
	}
	return item.ReturnType
}

var _completionKinds = map[string]protocol.CompletionItemKind{
	"Class":      protocol.CompletionItemKindClass,
	"Delegate":   protocol.CompletionItemKindClass,
	"Enum":       protocol.CompletionItemKindEnum,
	"EnumMember": protocol.CompletionItemKindEnumMember,
	"Event":      protocol.CompletionItemKindEvent,
	"Field":      protocol.CompletionItemKindField,
	"Interface":  protocol.CompletionItemKindInterface,
	"Keyword":    protocol.CompletionItemKindKeyword,
	"Local":      protocol.CompletionItemKindVariable,
	"Method":     protocol.CompletionItemKindMethod,
	"Module":     protocol.CompletionItemKindModule,
	"Namespace":  protocol.CompletionItemKindModule,
	"Parameter":  protocol.CompletionItemKindVariable,
	"Property":   protocol.CompletionItemKindProperty,
	"Struct":     protocol.CompletionItemKindStruct,
}

func completionKind(kind string) protocol.CompletionItemKind {
	if k, ok := _completionKinds[kind]; ok {
		return k
	}
	return protocol.CompletionItemKindText
}

func (c *controller) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	binding, err := c.binding(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}

	var resp typeLookupResponse
	req := typeLookupRequest{
		FileName:             fileName(doc.URI),
		Line:                 int(params.Position.Line) + 1,
		Column:               int(params.Position.Character) + 1,
		IncludeDocumentation: true,
	}
	if err := binding.client.Call(ctx, commandTypeLookup, req, &resp); err != nil {
		return nil, err
	}
	if resp.Type == "" {
		return nil, nil
	}

	value := fmt.Sprintf("```csharp\n%s\n```", resp.Type)
	if resp.Documentation != "" {
		value += "\n\n" + resp.Documentation
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: value,
		},
	}, nil
}

func (c *controller) Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	binding, err := c.binding(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}

	var resp gotoDefinitionResponse
	req := gotoDefinitionRequest{
		FileName:     fileName(doc.URI),
		Line:         int(params.Position.Line) + 1,
		Column:       int(params.Position.Character) + 1,
		WantMetadata: true,
	}
	if err := binding.client.Call(ctx, commandGotoDefinition, req, &resp); err != nil {
		return nil, err
	}

	switch {
	case resp.MetadataSource != nil:
		pos := protocol.Position{}
		if resp.Line > 0 {
			pos = protocol.Position{Line: uint32(resp.Line - 1), Character: uint32(resp.Column - 1)}
		}
		return []protocol.Location{{
			URI:   metadataURI(*resp.MetadataSource),
			Range: protocol.Range{Start: pos, End: pos},
		}}, nil
	case resp.FileName != "":
		pos := protocol.Position{Line: uint32(resp.Line - 1), Character: uint32(resp.Column - 1)}
		return []protocol.Location{{
			URI:   lsuri.File(resp.FileName),
			Range: protocol.Range{Start: pos, End: pos},
		}}, nil
	default:
		return []protocol.Location{}, nil
	}
}

func (c *controller) Metadata(ctx context.Context, params *mapper.MetadataParams) (string, error) {
	binding, err := c.binding(ctx)
	if err != nil {
		return "", err
	}

	source := metadataSource{
		AssemblyName:  params.AssemblyName,
		ProjectName:   params.ProjectName,
		VersionNumber: params.VersionNumber,
		TypeName:      params.TypeName,
		Language:      params.Language,
	}
	if params.TextDocumentURI != "" {
		parsed, err := parseMetadataURI(params.TextDocumentURI)
		if err != nil {
			return "", err
		}
		source = parsed
	}

	var resp metadataResponse
	if err := binding.client.Call(ctx, commandMetadata, metadataRequest{metadataSource: source}, &resp); err != nil {
		return "", err
	}
	return resp.Source, nil
}

func (c *controller) CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	binding, err := c.binding(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}

	var resp codeActionsResponse
	req := codeActionsRequest{
		FileName: fileName(doc.URI),
		Line:     int(params.Range.Start.Line) + 1,
		Column:   int(params.Range.Start.Character) + 1,
	}
	if err := binding.client.Call(ctx, commandGetCodeActions, req, &resp); err != nil {
		return nil, err
	}

	actions := make([]protocol.CodeAction, 0, len(resp.CodeActions))
	for _, a := range resp.CodeActions {
		actions = append(actions, protocol.CodeAction{
			Title: a.Name,
			Kind:  protocol.QuickFix,
			Command: &protocol.Command{
				Title:     a.Name,
				Command:   "omnisharp/runCodeAction",
				Arguments: []interface{}{a.Identifier, string(doc.URI)},
			},
		})
	}
	return actions, nil
}

// CodeLens is advertised so clients keep their lens gutters stable, but the
// backend wire has no equivalent to map onto yet.
func (c *controller) CodeLens(_ context.Context, _ *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	return []protocol.CodeLens{}, nil
}

// DocumentHighlight is advertised but unmapped, matching CodeLens.
func (c *controller) DocumentHighlight(_ context.Context, _ *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error) {
	return []protocol.DocumentHighlight{}, nil
}

func (c *controller) updateBuffer(ctx context.Context, doc protocol.TextDocumentItem) error {
	binding, err := c.binding(ctx)
	if err != nil {
		return err
	}
	req := updateBufferRequest{
		FileName: fileName(doc.URI),
		Buffer:   doc.Text,
	}
	return binding.client.Call(ctx, commandUpdateBuffer, req, nil)
}

// checkDocument requests diagnostics off the synchronization path; results
// are pushed to the client when they arrive.
func (c *controller) checkDocument(ctx context.Context, docURI lsuri.URI) {
	binding, err := c.binding(ctx)
	if err != nil {
		return
	}
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return
	}

	go func() {
		pushCtx := context.WithValue(context.Background(), entity.SessionContextKey, id)
		var resp codeCheckResponse
		if err := binding.client.Call(pushCtx, commandCodeCheck, codeCheckRequest{FileName: fileName(docURI)}, &resp); err != nil {
			c.logger.Debugw("code check failed", "uri", docURI, "error", err)
			return
		}
		params := &protocol.PublishDiagnosticsParams{
			URI:         docURI,
			Diagnostics: diagnosticsFromQuickFixes(resp.QuickFixes, fileName(docURI)),
		}
		if err := c.ideClient.PublishDiagnostics(pushCtx, params); err != nil {
			c.logger.Debugw("publishing diagnostics", "uri", docURI, "error", err)
		}
		c.stats.Counter("diagnostics_published").Inc(1)
	}()
}

func diagnosticsFromQuickFixes(fixes []quickFix, file string) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(fixes))
	for _, f := range fixes {
		if f.FileName != "" && f.FileName != file {
			continue
		}
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: uint32(f.Line - 1), Character: uint32(f.Column - 1)},
				End:   protocol.Position{Line: uint32(f.EndLine - 1), Character: uint32(f.EndColumn - 1)},
			},
			Severity: diagnosticSeverity(f.LogLevel),
			Source:   "omnisharp",
			Message:  f.Text,
		})
	}
	return out
}

func diagnosticSeverity(level string) protocol.DiagnosticSeverity {
	switch strings.ToLower(level) {
	case "error":
		return protocol.DiagnosticSeverityError
	case "warning":
		return protocol.DiagnosticSeverityWarning
	case "hidden":
		return protocol.DiagnosticSeverityHint
	default:
		return protocol.DiagnosticSeverityInformation
	}
}

func (c *controller) handleEvent(ctx context.Context, event string, body json.RawMessage) {
	if event != eventLog {
		return
	}
	var msg logEventBody
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Debugw("malformed backend log event", "error", err)
		return
	}
	params := &protocol.LogMessageParams{
		Type:    messageType(msg.LogLevel),
		Message: strings.TrimSpace(fmt.Sprintf("%s %s", msg.Name, msg.Message)),
	}
	if err := c.ideClient.LogMessage(ctx, params); err != nil {
		c.logger.Debugw("forwarding backend log event", "error", err)
	}
}

func messageType(level string) protocol.MessageType {
	switch strings.ToLower(level) {
	case "error", "critical":
		return protocol.MessageTypeError
	case "warning":
		return protocol.MessageTypeWarning
	case "information":
		return protocol.MessageTypeInfo
	default:
		return protocol.MessageTypeLog
	}
}

func (c *controller) binding(ctx context.Context) (*backendBinding, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	binding, ok := c.backends[id]
	if !ok {
		return nil, fmt.Errorf("session %s has no attached backend", id)
	}
	return binding, nil
}

// metadataURI builds the virtual URI for a decompiled definition target.
// Segments are path-escaped because type names routinely contain generic
// arity markers and nested-type separators.
func metadataURI(src metadataSource) lsuri.URI {
	return lsuri.URI(fmt.Sprintf("%s://%s/%s/%s/%s",
		_metadataScheme,
		url.PathEscape(src.ProjectName),
		url.PathEscape(src.AssemblyName),
		url.PathEscape(src.VersionNumber),
		url.PathEscape(strings.TrimPrefix(src.TypeName, "/")),
	))
}

func parseMetadataURI(raw string) (metadataSource, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return metadataSource{}, fmt.Errorf("parsing metadata uri %q: %w", raw, err)
	}
	if u.Scheme != _metadataScheme {
		return metadataSource{}, fmt.Errorf("unexpected scheme %q in metadata uri %q", u.Scheme, raw)
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 3)
	if len(parts) != 3 {
		return metadataSource{}, fmt.Errorf("malformed metadata uri %q", raw)
	}
	assembly, err := url.PathUnescape(parts[0])
	if err != nil {
		return metadataSource{}, fmt.Errorf("malformed metadata uri %q: %w", raw, err)
	}
	version, err := url.PathUnescape(parts[1])
	if err != nil {
		return metadataSource{}, fmt.Errorf("malformed metadata uri %q: %w", raw, err)
	}
	typ, err := url.PathUnescape(parts[2])
	if err != nil {
		return metadataSource{}, fmt.Errorf("malformed metadata uri %q: %w", raw, err)
	}
	project, err := url.PathUnescape(u.Host)
	if err != nil {
		return metadataSource{}, fmt.Errorf("malformed metadata uri %q: %w", raw, err)
	}
	return metadataSource{
		ProjectName:   project,
		AssemblyName:  assembly,
		VersionNumber: version,
		TypeName:      typ,
		Language:      "C#",
	}, nil
}

// fileName strips the scheme so the backend sees plain paths for disk files
// and the full URI for virtual documents it issued itself.
func fileName(u lsuri.URI) string {
	if strings.HasPrefix(string(u), "file://") {
		return u.Filename()
	}
	return string(u)
}

// wordAt returns the identifier characters immediately preceding the cursor.
func wordAt(text string, pos protocol.Position) (string, error) {
	offset, err := mapper.PositionToOffset(text, pos)
	if err != nil {
		return "", err
	}
	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		start -= size
	}
	return text[start:offset], nil
}
