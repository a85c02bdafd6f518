// Package docsync tracks each session's open documents, mirroring the
// client's editor state so backend requests can be built with full-buffer
// context.
package docsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/junolab/langbridge/src/langbridge/mapper"
	"github.com/junolab/langbridge/src/langbridge/repository/session"
)

const _nameKey = "doc-sync"

// Controller defines the interface for a document sync controller. Entries
// are mutated only by the owning session's synchronization path; there is no
// cross-session sharing.
type Controller interface {
	// InitSession prepares tracking for a new session.
	InitSession(ctx context.Context) error

	// EndSession discards all documents tracked for a session.
	EndSession(ctx context.Context, id uuid.UUID) error

	// DidOpen starts tracking a document from its full initial text.
	DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) (protocol.TextDocumentItem, error)

	// DidChange applies the incoming edits in arrival order (or replaces the
	// full text) and bumps the version. Returns the updated document.
	DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) (protocol.TextDocumentItem, error)

	// DidClose discards the entry for a closed document.
	DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error

	// GetTextDocument returns the current text of the document as of the last
	// received DidChange event.
	GetTextDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) (protocol.TextDocumentItem, error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Sessions session.Repository
	Logger   *zap.SugaredLogger
	Stats    tally.Scope
}

type documentStore map[uuid.UUID]map[protocol.TextDocumentIdentifier]*protocol.TextDocumentItem

type controller struct {
	sessions    session.Repository
	logger      *zap.SugaredLogger
	documents   documentStore
	documentsMu sync.RWMutex
	stats       tally.Scope
}

// New creates a new controller for document sync.
func New(p Params) Controller {
	return &controller{
		sessions:  p.Sessions,
		logger:    p.Logger.With("component", _nameKey),
		documents: make(documentStore),
		stats:     p.Stats.SubScope("doc_sync"),
	}
}

func (c *controller) InitSession(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	c.documents[s.UUID] = make(map[protocol.TextDocumentIdentifier]*protocol.TextDocumentItem)
	return nil
}

func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	defer c.updateMetrics()
	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	delete(c.documents, id)
	return nil
}

func (c *controller) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) (protocol.TextDocumentItem, error) {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return protocol.TextDocumentItem{}, err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	if c.documents[s.UUID] == nil {
		return protocol.TextDocumentItem{}, &errors.UUIDNotFoundError{UUID: s.UUID}
	}

	doc := params.TextDocument
	c.documents[s.UUID][protocol.TextDocumentIdentifier{URI: doc.URI}] = &doc
	return doc, nil
}

func (c *controller) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) (protocol.TextDocumentItem, error) {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return protocol.TextDocumentItem{}, err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()

	entry, ok := c.documents[s.UUID][params.TextDocument.TextDocumentIdentifier]
	if !ok {
		return protocol.TextDocumentItem{}, &errors.DocumentNotFoundError{Document: params.TextDocument.TextDocumentIdentifier}
	}

	// Version counters are non-decreasing per file.
	if params.TextDocument.Version < entry.Version {
		return protocol.TextDocumentItem{}, &errors.DocumentOutdatedError{
			URI:             entry.URI,
			CurrentVersion:  entry.Version,
			ReceivedVersion: params.TextDocument.Version,
		}
	}

	text, err := mapper.ApplyContentChanges(entry.Text, params.ContentChanges)
	if err != nil {
		return protocol.TextDocumentItem{}, fmt.Errorf("adding changes to document %q: %w", entry.URI, err)
	}

	entry.Text = text
	entry.Version = params.TextDocument.Version
	return *entry, nil
}

func (c *controller) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	delete(c.documents[s.UUID], protocol.TextDocumentIdentifier{URI: params.TextDocument.URI})
	return nil
}

func (c *controller) GetTextDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) (protocol.TextDocumentItem, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return protocol.TextDocumentItem{}, err
	}

	c.documentsMu.RLock()
	defer c.documentsMu.RUnlock()

	if _, ok := c.documents[s.UUID]; !ok {
		return protocol.TextDocumentItem{}, &errors.UUIDNotFoundError{UUID: s.UUID}
	}
	entry, ok := c.documents[s.UUID][doc]
	if !ok {
		return protocol.TextDocumentItem{}, &errors.DocumentNotFoundError{Document: doc}
	}
	return *entry, nil
}

func (c *controller) updateMetrics() {
	c.documentsMu.RLock()
	defer c.documentsMu.RUnlock()

	openDocs := 0
	openBytes := 0
	for _, sessionDocs := range c.documents {
		openDocs += len(sessionDocs)
		for _, entry := range sessionDocs {
			openBytes += len(entry.Text)
		}
	}
	c.stats.Gauge("open_docs").Update(float64(openDocs))
	c.stats.Gauge("open_bytes").Update(float64(openBytes))
}
