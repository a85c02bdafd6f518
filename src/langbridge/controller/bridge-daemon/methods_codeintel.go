package bridgedaemon

import (
	"context"

	"go.lsp.dev/protocol"

	"github.com/junolab/langbridge/src/langbridge/mapper"
)

// Completion returns grouped completion candidates at a position.
func (c *controller) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	return c.translator.Completion(ctx, params)
}

// Hover returns type information at a position.
func (c *controller) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	return c.translator.Hover(ctx, params)
}

// GotoDefinition resolves a definition location, which may be a virtual
// document for targets with no source on disk.
func (c *controller) GotoDefinition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	return c.translator.Definition(ctx, params)
}

// CodeAction returns available refactorings for a range.
func (c *controller) CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	return c.translator.CodeAction(ctx, params)
}

// CodeLens is advertised but currently unmapped for all families.
func (c *controller) CodeLens(ctx context.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	return c.translator.CodeLens(ctx, params)
}

// DocumentHighlight is advertised but currently unmapped for all families.
func (c *controller) DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error) {
	return c.translator.DocumentHighlight(ctx, params)
}

// Metadata returns the decompiled text behind a virtual document URI.
func (c *controller) Metadata(ctx context.Context, params *mapper.MetadataParams) (string, error) {
	return c.translator.Metadata(ctx, params)
}
