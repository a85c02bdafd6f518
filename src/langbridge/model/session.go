package model

import (
	"time"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/junolab/langbridge/src/langbridge/entity"
)

// Session is the repository layer model for an individual IDE session.
type Session struct {
	UUID             uuid.UUID
	Family           string
	CreatedAt        time.Time
	WorkDir          string
	InitializeParams *protocol.InitializeParams
	Conn             *jsonrpc2.Conn
	Owner            entity.ProcessOwner
}
