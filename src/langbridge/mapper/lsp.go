package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

func wrapErrParse(err error) error {
	return fmt.Errorf("%w: %s", jsonrpc2.ErrParse, err)
}

// RequestToInitializeParams maps the parameters from a jsonrpc2.Request into protocol.InitializeParams.
func RequestToInitializeParams(req jsonrpc2.Request) (*protocol.InitializeParams, error) {
	params := protocol.InitializeParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToInitializedParams maps the parameters from a jsonrpc2.Request into protocol.InitializedParams.
func RequestToInitializedParams(req jsonrpc2.Request) (*protocol.InitializedParams, error) {
	params := protocol.InitializedParams{}
	if len(req.Params()) > 0 {
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return nil, wrapErrParse(err)
		}
	}
	return &params, nil
}

// RequestToDidOpenTextDocumentParams maps the parameters from a jsonrpc2.Request into protocol.DidOpenTextDocumentParams.
func RequestToDidOpenTextDocumentParams(req jsonrpc2.Request) (*protocol.DidOpenTextDocumentParams, error) {
	params := protocol.DidOpenTextDocumentParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToDidChangeTextDocumentParams maps the parameters from a jsonrpc2.Request into protocol.DidChangeTextDocumentParams.
func RequestToDidChangeTextDocumentParams(req jsonrpc2.Request) (*protocol.DidChangeTextDocumentParams, error) {
	params := protocol.DidChangeTextDocumentParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToDidCloseTextDocumentParams maps the parameters from a jsonrpc2.Request into protocol.DidCloseTextDocumentParams.
func RequestToDidCloseTextDocumentParams(req jsonrpc2.Request) (*protocol.DidCloseTextDocumentParams, error) {
	params := protocol.DidCloseTextDocumentParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToCompletionParams maps the parameters from a jsonrpc2.Request into protocol.CompletionParams.
func RequestToCompletionParams(req jsonrpc2.Request) (*protocol.CompletionParams, error) {
	params := protocol.CompletionParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToHoverParams maps the parameters from a jsonrpc2.Request into protocol.HoverParams.
func RequestToHoverParams(req jsonrpc2.Request) (*protocol.HoverParams, error) {
	params := protocol.HoverParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToDefinitionParams maps the parameters from a jsonrpc2.Request into protocol.DefinitionParams.
func RequestToDefinitionParams(req jsonrpc2.Request) (*protocol.DefinitionParams, error) {
	params := protocol.DefinitionParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToCodeActionParams maps the parameters from a jsonrpc2.Request into protocol.CodeActionParams.
func RequestToCodeActionParams(req jsonrpc2.Request) (*protocol.CodeActionParams, error) {
	params := protocol.CodeActionParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToCodeLensParams maps the parameters from a jsonrpc2.Request into protocol.CodeLensParams.
func RequestToCodeLensParams(req jsonrpc2.Request) (*protocol.CodeLensParams, error) {
	params := protocol.CodeLensParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToDocumentHighlightParams maps the parameters from a jsonrpc2.Request into protocol.DocumentHighlightParams.
func RequestToDocumentHighlightParams(req jsonrpc2.Request) (*protocol.DocumentHighlightParams, error) {
	params := protocol.DocumentHighlightParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// RequestToCancelParams maps the parameters from a jsonrpc2.Request into protocol.CancelParams.
func RequestToCancelParams(req jsonrpc2.Request) (*protocol.CancelParams, error) {
	params := protocol.CancelParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// MetadataParams identify a virtual document whose text is decompiled lazily.
type MetadataParams struct {
	ProjectName      string `json:"projectName"`
	AssemblyName     string `json:"assemblyName"`
	VersionNumber    string `json:"versionNumber"`
	TypeName         string `json:"typeName"`
	Language         string `json:"language"`
	TextDocumentURI  string `json:"textDocumentUri,omitempty"`
}

// RequestToMetadataParams maps the parameters from a jsonrpc2.Request into MetadataParams.
func RequestToMetadataParams(req jsonrpc2.Request) (*MetadataParams, error) {
	params := MetadataParams{}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return nil, wrapErrParse(err)
	}
	return &params, nil
}

// ApplyContentChanges applies the given content change events to a given text
// string. Incremental range replacements are applied strictly in the order
// given; an event without a range replaces the full text.
func ApplyContentChanges(initialText string, changes []protocol.TextDocumentContentChangeEvent) (string, error) {
	content := initialText
	for _, change := range changes {
		if change.Range == nil {
			content = change.Text
			continue
		}

		start, err := PositionToOffset(content, change.Range.Start)
		if err != nil {
			return "", fmt.Errorf("unable to apply changes: %w", err)
		}
		end, err := PositionToOffset(content, change.Range.End)
		if err != nil {
			return "", fmt.Errorf("unable to apply changes: %w", err)
		}
		if end < start {
			return "", fmt.Errorf("unable to apply changes: range end precedes start")
		}

		var buf bytes.Buffer
		buf.WriteString(content[:start])
		buf.WriteString(change.Text)
		buf.WriteString(content[end:])
		content = buf.String()
	}

	return content, nil
}
