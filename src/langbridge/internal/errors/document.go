package errors

import (
	"fmt"

	"go.lsp.dev/protocol"
)

// DocumentNotFoundError indicates a position-based call against a document
// the client never opened. This is a client protocol violation and is
// answered with an error rather than faulting internally.
type DocumentNotFoundError struct {
	Document protocol.TextDocumentIdentifier
}

// Error is an implementation of the error interface.
func (n *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", n.Document.URI)
}

// DocumentOutdatedError indicates that a change arrived with a version older
// than the tracked one. Version counters are non-decreasing per document.
type DocumentOutdatedError struct {
	URI             protocol.DocumentURI
	CurrentVersion  int32
	ReceivedVersion int32
}

// Error is an implementation of the error interface.
func (n *DocumentOutdatedError) Error() string {
	return fmt.Sprintf("document %q version is outdated. current version: %v, received version: %v", n.URI, n.CurrentVersion, n.ReceivedVersion)
}
