package bridgedaemon

import (
	"context"

	"go.lsp.dev/protocol"
)

// DidOpen syncs a newly opened document to the backend.
func (c *controller) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	return c.translator.DidOpen(ctx, params)
}

// DidChange syncs document edits to the backend.
func (c *controller) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	return c.translator.DidChange(ctx, params)
}

// DidClose stops tracking a document.
func (c *controller) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	return c.translator.DidClose(ctx, params)
}
