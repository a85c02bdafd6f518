// Package bridgedaemon implements the bridge-daemon business logic: session
// lifecycle for every connected IDE client and delegation of LSP traffic to
// the per-family translation path.
package bridgedaemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	docsync "github.com/junolab/langbridge/src/langbridge/controller/doc-sync"
	"github.com/junolab/langbridge/src/langbridge/controller/omnisharp"
	"github.com/junolab/langbridge/src/langbridge/entity"
	ideclient "github.com/junolab/langbridge/src/langbridge/gateway/ide-client"
	"github.com/junolab/langbridge/src/langbridge/internal/executor"
	"github.com/junolab/langbridge/src/langbridge/internal/resolver"
	"github.com/junolab/langbridge/src/langbridge/mapper"
	"github.com/junolab/langbridge/src/langbridge/repository/session"
)

const (
	// Configuration keys
	_idleTimeoutMinutesKey = "idleTimeoutMinutes"
)

// Controller orchestrates the business logic for each request.
type Controller interface {
	// LSP Methods defined per protocol.
	Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error)
	Initialized(ctx context.Context, params *protocol.InitializedParams) error
	Shutdown(ctx context.Context) error
	Exit(ctx context.Context) error

	// Document related methods.
	DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error
	DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error
	DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error

	// Codeintel related methods.
	Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error)
	Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error)
	GotoDefinition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error)
	CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error)
	CodeLens(ctx context.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error)
	DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error)
	Metadata(ctx context.Context, params *mapper.MetadataParams) (string, error)

	// Custom methods for use within this service.
	RequestFullShutdown(ctx context.Context) error
	InitSession(ctx context.Context, family entity.FamilyName, conn *jsonrpc2.Conn) (uuid.UUID, error)
	// InitFramedSession adopts the channel and relays it to a fresh backend.
	// The returned channel closes when the session is disposed.
	InitFramedSession(ctx context.Context, family entity.FamilyName, channel io.ReadWriteCloser) (uuid.UUID, <-chan struct{}, error)
	EndSession(ctx context.Context, uuid uuid.UUID) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Shutdowner fx.Shutdowner
	Sessions   session.Repository
	IdeGateway ideclient.Gateway
	Logger     *zap.SugaredLogger
	Stats      tally.Scope
	Config     config.Provider
	Resolver   resolver.Resolver
	Executor   executor.Executor

	Documents  docsync.Controller
	Translator omnisharp.Controller
}

type controller struct {
	sessions           session.Repository
	shutdowner         fx.Shutdowner
	fullShutdown       bool
	idleTimer          *time.Timer
	idleTimerMu        sync.Mutex
	idleTimeoutMinutes time.Duration
	logger             *zap.SugaredLogger
	stats              tally.Scope
	ideGateway         ideclient.Gateway
	resolver           resolver.Resolver
	executor           executor.Executor
	documents          docsync.Controller
	translator         omnisharp.Controller
}

// New constructs a new top-level controller for the service.
func New(p Params) (Controller, error) {
	ctx := context.Background()

	var timeoutMinutesRaw int64
	if err := p.Config.Get(_idleTimeoutMinutesKey).Populate(&timeoutMinutesRaw); err != nil || timeoutMinutesRaw == 0 {
		return nil, fmt.Errorf("unable to get idle timeout from config: %w", err)
	}

	c := &controller{
		sessions:   p.Sessions,
		shutdowner: p.Shutdowner,
		logger:     p.Logger,
		stats:      p.Stats.SubScope("bridge_daemon"),
		ideGateway: p.IdeGateway,
		resolver:   p.Resolver,
		executor:   p.Executor,
		documents:  p.Documents,
		translator: p.Translator,

		idleTimeoutMinutes: time.Duration(timeoutMinutesRaw) * time.Minute,
	}
	c.refreshIdleTimer(ctx)

	return c, nil
}

// refreshIdleTimer ensures that the service shuts down after a defined
// inactivity period with no connections.
func (c *controller) refreshIdleTimer(ctx context.Context) error {
	c.idleTimerMu.Lock()
	defer c.idleTimerMu.Unlock()

	// First call initializes new timer and leaves it running prior to first connection.
	if c.idleTimer == nil {
		c.idleTimer = time.NewTimer(c.idleTimeoutMinutes)
		go func() {
			<-c.idleTimer.C
			c.logger.Info("Shutdown signal received.")
			if err := c.shutdowner.Shutdown(); err != nil {
				os.Exit(1)
			}
		}()
		return nil
	}

	// Subsequent calls stop the timer and reset it only if no connections are active.
	currentSessions, err := c.sessions.SessionCount(ctx)
	if err != nil {
		return fmt.Errorf("error resetting timeout: %w", err)
	}

	c.idleTimer.Stop()
	if currentSessions == 0 {
		c.idleTimer.Reset(c.idleTimeoutMinutes)
	}
	return nil
}
