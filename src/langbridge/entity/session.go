// Package entity contains the domain types for the langbridge gateway.
package entity

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// FamilyName tags one supported backend family.
type FamilyName string

// TranslationMode describes how a family's wire traffic is handled.
type TranslationMode string

const (
	// ModeFramed relays Content-Length framed payloads verbatim in both directions.
	ModeFramed TranslationMode = "framed"
	// ModeLine translates LSP calls onto a newline-delimited, sequence-numbered pipe.
	ModeLine TranslationMode = "line"
)

// ProcessOwner is the narrow surface a session exposes for its backend
// process owner. Exactly one live owner exists per session.
type ProcessOwner interface {
	// Dispose is idempotent: the first call kills the process and releases
	// resources, later calls are no-ops.
	Dispose(ctx context.Context) error
	// Done is closed once the owner has reached its terminal state.
	Done() <-chan struct{}
}

// Session represents a single browser editing context. Disposal is terminal:
// a session is never resumed, only recreated under a new UUID.
type Session struct {
	UUID             uuid.UUID                  `json:"uuid" zap:"uuid"`
	Family           FamilyName                 `json:"family" zap:"family"`
	CreatedAt        time.Time                  `json:"createdAt" zap:"createdAt"`
	WorkDir          string                     `json:"workDir" zap:"workDir"`
	InitializeParams *protocol.InitializeParams `json:"-" zap:"-"`
	Conn             *jsonrpc2.Conn             `json:"-" zap:"-"`
	Owner            ProcessOwner               `json:"-" zap:"-"`
}
