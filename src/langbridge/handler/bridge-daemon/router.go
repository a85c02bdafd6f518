package bridgedaemon

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	controller "github.com/junolab/langbridge/src/langbridge/controller/bridge-daemon"
	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
)

// MethodRequestFullShutdown directs the server to shut down on the next JSON-RPC 'exit' method call.
const MethodRequestFullShutdown = "langbridge/requestFullShutdown"

// MethodMetadata serves the text of virtual documents referenced from
// definition results.
const MethodMetadata = "omnisharp/metadata"

type jsonRPCRouter struct {
	daemon controller.Controller
	uuid   uuid.UUID
	logger *zap.SugaredLogger
	stats  tally.Scope

	// inFlight tracks cancel funcs for requests currently being handled, so
	// $/cancelRequest can abort the matching backend call.
	inFlightMu sync.Mutex
	inFlight   map[string]context.CancelFunc
}

func newRouter(ctrl controller.Controller, id uuid.UUID, logger *zap.SugaredLogger, stats tally.Scope) *jsonRPCRouter {
	return &jsonRPCRouter{
		daemon:   ctrl,
		uuid:     id,
		logger:   logger,
		stats:    stats,
		inFlight: make(map[string]context.CancelFunc),
	}
}

// HandleReq handles routing for a single request.
func (r *jsonRPCRouter) HandleReq(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	ctx = context.WithValue(ctx, entity.SessionContextKey, r.uuid)

	if call, ok := req.(*jsonrpc2.Call); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		key := fmt.Sprintf("%q", call.ID())
		r.trackRequest(key, cancel)
		defer r.untrackRequest(key)

		// An aborted backend call is a normal outcome, not a fault.
		inner := reply
		reply = func(ctx context.Context, result interface{}, err error) error {
			if errors.IsCanceled(err) {
				r.logger.Debugw("request aborted by cancel", "method", req.Method(), "id", key)
				r.stats.Counter("requests_aborted").Inc(1)
			}
			return inner(ctx, result, err)
		}
	}

	// Routing to each of the available methods in go.lsp.dev/protocol will occur here.
	// Results are passed back to reply to be returned to the client.
	switch req.Method() {
	// Lifecycle related methods.
	case protocol.MethodInitialize:
		return r.Initialize(ctx, reply, req)

	case protocol.MethodInitialized:
		return r.Initialized(ctx, reply, req)

	case protocol.MethodShutdown:
		return r.Shutdown(ctx, reply, req)

	case protocol.MethodExit:
		return r.Exit(ctx, reply, req)

	case MethodRequestFullShutdown:
		return r.RequestFullShutdown(ctx, reply, req)

	// Document related methods.
	case protocol.MethodTextDocumentDidOpen:
		return r.DidOpen(ctx, reply, req)

	case protocol.MethodTextDocumentDidChange:
		return r.DidChange(ctx, reply, req)

	case protocol.MethodTextDocumentDidClose:
		return r.DidClose(ctx, reply, req)

	// Code intel related methods.
	case protocol.MethodTextDocumentCompletion:
		return r.Completion(ctx, reply, req)

	case protocol.MethodTextDocumentHover:
		return r.Hover(ctx, reply, req)

	case protocol.MethodTextDocumentDefinition:
		return r.GotoDefinition(ctx, reply, req)

	case protocol.MethodTextDocumentCodeAction:
		return r.CodeAction(ctx, reply, req)

	case protocol.MethodTextDocumentCodeLens:
		return r.CodeLens(ctx, reply, req)

	case protocol.MethodTextDocumentDocumentHighlight:
		return r.DocumentHighlight(ctx, reply, req)

	case MethodMetadata:
		return r.Metadata(ctx, reply, req)

	// Miscellaneous methods.
	case protocol.MethodCancelRequest:
		return r.CancelRequest(ctx, reply, req)

	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

func (r *jsonRPCRouter) UUID() uuid.UUID {
	return r.uuid
}

func (r *jsonRPCRouter) trackRequest(key string, cancel context.CancelFunc) {
	r.inFlightMu.Lock()
	defer r.inFlightMu.Unlock()
	r.inFlight[key] = cancel
}

func (r *jsonRPCRouter) untrackRequest(key string) {
	r.inFlightMu.Lock()
	defer r.inFlightMu.Unlock()
	if cancel, ok := r.inFlight[key]; ok {
		cancel()
		delete(r.inFlight, key)
	}
}

// cancelRequest aborts the in-flight request with the given wire identifier,
// if it is still running. Late or unknown cancels are no-ops.
func (r *jsonRPCRouter) cancelRequest(rawID interface{}) {
	key, ok := cancelKey(rawID)
	if !ok {
		r.logger.Debugw("ignoring cancel with unusable id", "id", rawID)
		return
	}

	r.inFlightMu.Lock()
	cancel, ok := r.inFlight[key]
	r.inFlightMu.Unlock()
	if !ok {
		return
	}
	cancel()
	r.stats.Counter("requests_canceled").Inc(1)
}

// cancelKey renders a $/cancelRequest id the same way jsonrpc2.ID.String
// renders request ids, so map lookups line up.
func cancelKey(rawID interface{}) (string, bool) {
	switch v := rawID.(type) {
	case string:
		return strconv.Quote(v), true
	case float64:
		return "#" + strconv.FormatInt(int64(v), 10), true
	case int32:
		return "#" + strconv.FormatInt(int64(v), 10), true
	case int64:
		return "#" + strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}
