package bridgedaemon

import (
	"context"

	"go.lsp.dev/jsonrpc2"

	"github.com/junolab/langbridge/src/langbridge/mapper"
)

func (r *jsonRPCRouter) Completion(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCompletionParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.daemon.Completion(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) Hover(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToHoverParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.daemon.Hover(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) GotoDefinition(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToDefinitionParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.daemon.GotoDefinition(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) CodeAction(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCodeActionParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.daemon.CodeAction(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) CodeLens(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCodeLensParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.daemon.CodeLens(ctx, params)
	return reply(ctx, result, err)
}

func (r *jsonRPCRouter) DocumentHighlight(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToDocumentHighlightParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.daemon.DocumentHighlight(ctx, params)
	return reply(ctx, result, err)
}

// Metadata returns the decompiled source for a virtual document so the IDE
// can render definition targets that have no file on disk.
func (r *jsonRPCRouter) Metadata(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToMetadataParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	source, err := r.daemon.Metadata(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}

	return reply(ctx, metadataResult{Source: source}, nil)
}

type metadataResult struct {
	Source string `json:"source"`
}
