package bridgedaemon

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/junolab/langbridge/src/langbridge/mapper"
)

// fakeDaemon is a scriptable stand-in for the bridge-daemon controller.
type fakeDaemon struct {
	mu    sync.Mutex
	calls []string

	err error

	completionStarted chan struct{}
	completionResult  *protocol.CompletionList
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{completionStarted: make(chan struct{}, 1)}
}

func (d *fakeDaemon) record(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
}

func (d *fakeDaemon) called(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (d *fakeDaemon) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	d.record("Initialize")
	return &protocol.InitializeResult{}, d.err
}

func (d *fakeDaemon) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	d.record("Initialized")
	return d.err
}

func (d *fakeDaemon) Shutdown(ctx context.Context) error {
	d.record("Shutdown")
	return d.err
}

func (d *fakeDaemon) Exit(ctx context.Context) error {
	d.record("Exit")
	return d.err
}

func (d *fakeDaemon) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	d.record("DidOpen")
	return d.err
}

func (d *fakeDaemon) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	d.record("DidChange")
	return d.err
}

func (d *fakeDaemon) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	d.record("DidClose")
	return d.err
}

// Completion blocks until the request context ends when no result is
// configured, so cancellation can be observed.
func (d *fakeDaemon) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	d.record("Completion")
	select {
	case d.completionStarted <- struct{}{}:
	default:
	}
	if d.completionResult != nil {
		return d.completionResult, d.err
	}
	<-ctx.Done()
	return nil, errors.ErrCanceled
}

func (d *fakeDaemon) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	d.record("Hover")
	return &protocol.Hover{}, d.err
}

func (d *fakeDaemon) GotoDefinition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	d.record("GotoDefinition")
	return []protocol.Location{}, d.err
}

func (d *fakeDaemon) CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	d.record("CodeAction")
	return []protocol.CodeAction{}, d.err
}

func (d *fakeDaemon) CodeLens(ctx context.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	d.record("CodeLens")
	return []protocol.CodeLens{}, d.err
}

func (d *fakeDaemon) DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error) {
	d.record("DocumentHighlight")
	return []protocol.DocumentHighlight{}, d.err
}

func (d *fakeDaemon) Metadata(ctx context.Context, params *mapper.MetadataParams) (string, error) {
	d.record("Metadata")
	return "// decompiled", d.err
}

func (d *fakeDaemon) RequestFullShutdown(ctx context.Context) error {
	d.record("RequestFullShutdown")
	return d.err
}

func (d *fakeDaemon) InitSession(ctx context.Context, family entity.FamilyName, conn *jsonrpc2.Conn) (uuid.UUID, error) {
	d.record("InitSession")
	return uuid.Nil, d.err
}

func (d *fakeDaemon) InitFramedSession(ctx context.Context, family entity.FamilyName, channel io.ReadWriteCloser) (uuid.UUID, <-chan struct{}, error) {
	d.record("InitFramedSession")
	return uuid.Nil, nil, d.err
}

func (d *fakeDaemon) EndSession(ctx context.Context, id uuid.UUID) error {
	d.record("EndSession")
	return d.err
}

type replyRecord struct {
	mu      sync.Mutex
	results []interface{}
	errs    []error
}

func (r *replyRecord) replier(ctx context.Context, result interface{}, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.errs = append(r.errs, err)
	return err
}

func (r *replyRecord) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func newTestRouter(t *testing.T, daemon *fakeDaemon) *jsonRPCRouter {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return newRouter(daemon, id, zap.NewNop().Sugar(), tally.NoopScope)
}

func TestHandleReqDispatch(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		params     interface{}
		calledName string
	}{
		{name: "initialize", method: protocol.MethodInitialize, params: protocol.InitializeParams{}, calledName: "Initialize"},
		{name: "initialized", method: protocol.MethodInitialized, params: protocol.InitializedParams{}, calledName: "Initialized"},
		{name: "shutdown", method: protocol.MethodShutdown, calledName: "Shutdown"},
		{name: "request full shutdown", method: MethodRequestFullShutdown, calledName: "RequestFullShutdown"},
		{name: "did open", method: protocol.MethodTextDocumentDidOpen, params: protocol.DidOpenTextDocumentParams{}, calledName: "DidOpen"},
		{name: "did change", method: protocol.MethodTextDocumentDidChange, params: protocol.DidChangeTextDocumentParams{}, calledName: "DidChange"},
		{name: "did close", method: protocol.MethodTextDocumentDidClose, params: protocol.DidCloseTextDocumentParams{}, calledName: "DidClose"},
		{name: "hover", method: protocol.MethodTextDocumentHover, params: protocol.HoverParams{}, calledName: "Hover"},
		{name: "definition", method: protocol.MethodTextDocumentDefinition, params: protocol.DefinitionParams{}, calledName: "GotoDefinition"},
		{name: "code action", method: protocol.MethodTextDocumentCodeAction, params: protocol.CodeActionParams{}, calledName: "CodeAction"},
		{name: "code lens", method: protocol.MethodTextDocumentCodeLens, params: protocol.CodeLensParams{}, calledName: "CodeLens"},
		{name: "document highlight", method: protocol.MethodTextDocumentDocumentHighlight, params: protocol.DocumentHighlightParams{}, calledName: "DocumentHighlight"},
		{name: "metadata", method: MethodMetadata, params: mapper.MetadataParams{}, calledName: "Metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daemon := newFakeDaemon()
			r := newTestRouter(t, daemon)
			rec := &replyRecord{}

			req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), tt.method, tt.params)
			require.NoError(t, err)
			require.NoError(t, r.HandleReq(context.Background(), rec.replier, req))
			assert.True(t, daemon.called(tt.calledName))
			assert.NoError(t, rec.lastErr())
		})
	}
}

func TestHandleReqSessionOnContext(t *testing.T) {
	daemon := newFakeDaemon()
	r := newTestRouter(t, daemon)

	var gotID uuid.UUID
	replier := func(ctx context.Context, result interface{}, err error) error {
		id, idErr := mapper.ContextToSessionUUID(ctx)
		require.NoError(t, idErr)
		gotID = id
		return err
	}

	req, err := jsonrpc2.NewNotification(protocol.MethodShutdown, nil)
	require.NoError(t, err)
	require.NoError(t, r.HandleReq(context.Background(), replier, req))
	assert.Equal(t, r.UUID(), gotID)
}

func TestHandleReqUnknownMethod(t *testing.T) {
	daemon := newFakeDaemon()
	r := newTestRouter(t, daemon)
	rec := &replyRecord{}

	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), "workspace/unsupported", nil)
	require.NoError(t, err)

	handleErr := r.HandleReq(context.Background(), rec.replier, req)
	assert.ErrorIs(t, handleErr, jsonrpc2.ErrMethodNotFound)
	assert.Empty(t, daemon.calls)
}

func TestHandleReqMalformedParams(t *testing.T) {
	daemon := newFakeDaemon()
	r := newTestRouter(t, daemon)
	rec := &replyRecord{}

	// A bare number can never unmarshal into the params struct.
	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), protocol.MethodTextDocumentHover, 5)
	require.NoError(t, err)

	assert.Error(t, r.HandleReq(context.Background(), rec.replier, req))
	assert.Error(t, rec.lastErr())
	assert.Empty(t, daemon.calls)
}

func TestExitRepliesBeforeController(t *testing.T) {
	daemon := newFakeDaemon()
	r := newTestRouter(t, daemon)

	var order []string
	replier := func(ctx context.Context, result interface{}, err error) error {
		order = append(order, "reply")
		return err
	}

	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), protocol.MethodExit, nil)
	require.NoError(t, err)
	require.NoError(t, r.HandleReq(context.Background(), replier, req))

	require.True(t, daemon.called("Exit"))
	require.NotEmpty(t, order)
	assert.Equal(t, "reply", order[0])
}

func TestCancelRequestAbortsInFlightCall(t *testing.T) {
	daemon := newFakeDaemon()
	r := newTestRouter(t, daemon)

	done := make(chan error, 1)
	completionReplied := make(chan error, 1)
	go func() {
		replier := func(ctx context.Context, result interface{}, err error) error {
			completionReplied <- err
			return err
		}
		req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(7), protocol.MethodTextDocumentCompletion, protocol.CompletionParams{})
		if err != nil {
			done <- err
			return
		}
		done <- r.HandleReq(context.Background(), replier, req)
	}()

	select {
	case <-daemon.completionStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("completion call never started")
	}

	rec := &replyRecord{}
	cancelReq, err := jsonrpc2.NewNotification(protocol.MethodCancelRequest, protocol.CancelParams{ID: float64(7)})
	require.NoError(t, err)
	require.NoError(t, r.HandleReq(context.Background(), rec.replier, cancelReq))

	select {
	case err := <-completionReplied:
		assert.ErrorIs(t, err, errors.ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("completion was never unblocked by the cancel")
	}
	<-done
}

func TestCancelRequestUnknownIDIsNoOp(t *testing.T) {
	daemon := newFakeDaemon()
	r := newTestRouter(t, daemon)
	rec := &replyRecord{}

	req, err := jsonrpc2.NewNotification(protocol.MethodCancelRequest, protocol.CancelParams{ID: float64(99)})
	require.NoError(t, err)
	assert.NoError(t, r.HandleReq(context.Background(), rec.replier, req))
}

func TestCancelKey(t *testing.T) {
	tests := []struct {
		name   string
		rawID  interface{}
		want   string
		wantOK bool
	}{
		{name: "string id", rawID: "abc", want: `"abc"`, wantOK: true},
		{name: "json number", rawID: float64(7), want: "#7", wantOK: true},
		{name: "int32 id", rawID: int32(7), want: "#7", wantOK: true},
		{name: "int64 id", rawID: int64(7), want: "#7", wantOK: true},
		{name: "unusable type", rawID: true, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cancelKey(tt.rawID)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The tracked key for a call must match what cancelKey produces for the same
// id after a JSON round trip.
func TestTrackedKeyMatchesWireID(t *testing.T) {
	call, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(42), protocol.MethodTextDocumentHover, nil)
	require.NoError(t, err)
	key, ok := cancelKey(float64(42))
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("%q", call.ID()), key)

	strCall, err := jsonrpc2.NewCall(jsonrpc2.NewStringID("req-1"), protocol.MethodTextDocumentHover, nil)
	require.NoError(t, err)
	key, ok = cancelKey("req-1")
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("%q", strCall.ID()), key)
}
