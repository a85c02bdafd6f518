package bridgedaemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	uberconfig "go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	docsync "github.com/junolab/langbridge/src/langbridge/controller/doc-sync"
	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/executor"
	"github.com/junolab/langbridge/src/langbridge/internal/lineproto"
	"github.com/junolab/langbridge/src/langbridge/internal/resolver"
	"github.com/junolab/langbridge/src/langbridge/mapper"
	"github.com/junolab/langbridge/src/langbridge/repository/session"
)

type fakeShutdowner struct {
	calls chan struct{}
}

func newFakeShutdowner() *fakeShutdowner {
	return &fakeShutdowner{calls: make(chan struct{}, 1)}
}

func (f *fakeShutdowner) Shutdown(opts ...fx.ShutdownOption) error {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return nil
}

type fakeGateway struct {
	mu           sync.Mutex
	registered   []uuid.UUID
	deregistered []uuid.UUID
	messages     []*protocol.ShowMessageParams
}

func (g *fakeGateway) RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registered = append(g.registered, id)
	return nil
}

func (g *fakeGateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deregistered = append(g.deregistered, id)
	return nil
}

func (g *fakeGateway) LogMessage(ctx context.Context, params *protocol.LogMessageParams) error {
	return nil
}

func (g *fakeGateway) PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error {
	return nil
}

func (g *fakeGateway) ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, params)
	return nil
}

// fakeTranslator records session attachment without a live backend.
type fakeTranslator struct {
	mu        sync.Mutex
	attached  map[uuid.UUID]int
	detached  []uuid.UUID
	attachErr error
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{attached: make(map[uuid.UUID]int)}
}

func (f *fakeTranslator) AttachSession(ctx context.Context, id uuid.UUID, client *lineproto.Client, truncationLimit int) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[id] = truncationLimit
	return nil
}

func (f *fakeTranslator) DetachSession(ctx context.Context, id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, id)
}

func (f *fakeTranslator) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	return &protocol.InitializeResult{ServerInfo: &protocol.ServerInfo{Name: "langbridge"}}, nil
}

func (f *fakeTranslator) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	return nil
}

func (f *fakeTranslator) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	return nil
}

func (f *fakeTranslator) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	return nil
}

func (f *fakeTranslator) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	return &protocol.CompletionList{}, nil
}

func (f *fakeTranslator) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	return nil, nil
}

func (f *fakeTranslator) Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	return []protocol.Location{}, nil
}

func (f *fakeTranslator) CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	return []protocol.CodeAction{}, nil
}

func (f *fakeTranslator) CodeLens(ctx context.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	return []protocol.CodeLens{}, nil
}

func (f *fakeTranslator) DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error) {
	return []protocol.DocumentHighlight{}, nil
}

func (f *fakeTranslator) Metadata(ctx context.Context, params *mapper.MetadataParams) (string, error) {
	return "", nil
}

type staticResolver struct {
	families map[entity.FamilyName]resolver.FamilyConfig
	root     string
}

func (r *staticResolver) Families() map[entity.FamilyName]resolver.FamilyConfig {
	return r.families
}

func (r *staticResolver) Family(name entity.FamilyName) (resolver.FamilyConfig, error) {
	cfg, ok := r.families[name]
	if !ok {
		return resolver.FamilyConfig{}, fmt.Errorf("unknown backend family %q", name)
	}
	return cfg, nil
}

func (r *staticResolver) Resolve(family entity.FamilyName, id uuid.UUID) (resolver.Launch, error) {
	cfg, err := r.Family(family)
	if err != nil {
		return resolver.Launch{}, err
	}
	workDir := filepath.Join(r.root, id.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return resolver.Launch{}, err
	}
	return resolver.Launch{Path: "/bin/" + cfg.Command, WorkDir: workDir}, nil
}

type fakeHandle struct {
	exited   chan struct{}
	killOnce sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{exited: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return 4242 }

func (h *fakeHandle) Wait() error {
	<-h.exited
	return nil
}

func (h *fakeHandle) Kill() error {
	h.killOnce.Do(func() { close(h.exited) })
	return nil
}

// exit simulates the backend process terminating on its own.
func (h *fakeHandle) exit() {
	h.killOnce.Do(func() { close(h.exited) })
}

type testEnv struct {
	ctrl       Controller
	sessions   session.Repository
	gateway    *fakeGateway
	translator *fakeTranslator
	shutdowner *fakeShutdowner
	handles    chan *fakeHandle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg, err := uberconfig.NewYAML(uberconfig.Source(strings.NewReader("idleTimeoutMinutes: 120")))
	require.NoError(t, err)

	sessions := session.New(tally.NoopScope)
	gateway := &fakeGateway{}
	translator := newFakeTranslator()
	shutdowner := newFakeShutdowner()
	res := &staticResolver{
		root: t.TempDir(),
		families: map[entity.FamilyName]resolver.FamilyConfig{
			"omnisharp": {
				Mode:                      entity.ModeLine,
				Command:                   "omnisharp",
				CompletionTruncationLimit: 2,
			},
			"csharp-lsp": {
				Mode:    entity.ModeFramed,
				Command: "csharp-ls",
			},
		},
	}
	handles := make(chan *fakeHandle, 4)
	exe := executor.NewExecutor(executor.WithStartFunc(func(cmd *exec.Cmd) (executor.Handle, error) {
		h := newFakeHandle()
		select {
		case handles <- h:
		default:
		}
		return h, nil
	}))

	ctrl, err := New(Params{
		Shutdowner: shutdowner,
		Sessions:   sessions,
		IdeGateway: gateway,
		Logger:     zap.NewNop().Sugar(),
		Stats:      tally.NoopScope,
		Config:     cfg,
		Resolver:   res,
		Executor:   exe,
		Documents: docsync.New(docsync.Params{
			Sessions: sessions,
			Logger:   zap.NewNop().Sugar(),
			Stats:    tally.NoopScope,
		}),
		Translator: translator,
	})
	require.NoError(t, err)

	return &testEnv{
		ctrl:       ctrl,
		sessions:   sessions,
		gateway:    gateway,
		translator: translator,
		shutdowner: shutdowner,
		handles:    handles,
	}
}

func sessionContext(id uuid.UUID) context.Context {
	return context.WithValue(context.Background(), entity.SessionContextKey, id)
}

func TestNewRequiresIdleTimeout(t *testing.T) {
	cfg, err := uberconfig.NewYAML(uberconfig.Source(strings.NewReader("unrelated: 1")))
	require.NoError(t, err)

	_, err = New(Params{
		Shutdowner: newFakeShutdowner(),
		Sessions:   session.New(tally.NoopScope),
		IdeGateway: &fakeGateway{},
		Logger:     zap.NewNop().Sugar(),
		Stats:      tally.NoopScope,
		Config:     cfg,
		Resolver:   &staticResolver{},
		Executor:   executor.NewExecutor(),
		Documents:  nil,
		Translator: newFakeTranslator(),
	})
	assert.Error(t, err)
}

func TestInitSession(t *testing.T) {
	t.Run("line family", func(t *testing.T) {
		env := newTestEnv(t)

		id, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, id)

		s, err := env.sessions.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.FamilyName("omnisharp"), s.Family)
		assert.NotEmpty(t, s.WorkDir)

		assert.Equal(t, []uuid.UUID{id}, env.gateway.registered)
		assert.Equal(t, 2, env.translator.attached[id], "truncation limit comes from the family config")
	})

	t.Run("framed family is rejected", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.ctrl.InitSession(context.Background(), "csharp-lsp", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured for line translation")
	})

	t.Run("unknown family", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.ctrl.InitSession(context.Background(), "rustls", nil)
		assert.Error(t, err)
	})

	t.Run("attach failure disposes the backend", func(t *testing.T) {
		env := newTestEnv(t)
		env.translator.attachErr = fmt.Errorf("translator rejected the session")

		_, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
		require.Error(t, err)

		count, err := env.sessions.SessionCount(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, count, "the half-initialized session is rolled back")
		assert.Len(t, env.gateway.deregistered, 1)
	})
}

func TestInitFramedSession(t *testing.T) {
	env := newTestEnv(t)
	clientSide, gatewaySide := net.Pipe()
	defer clientSide.Close()

	id, done, err := env.ctrl.InitFramedSession(context.Background(), "csharp-lsp", gatewaySide)
	require.NoError(t, err)
	require.NotNil(t, done)

	count, err := env.sessions.SessionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, env.ctrl.EndSession(context.Background(), id))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("done channel did not close on disposal")
	}

	t.Run("line family is rejected", func(t *testing.T) {
		_, _, err := env.ctrl.InitFramedSession(context.Background(), "omnisharp", gatewaySide)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured for framed relay")
	})
}

func TestBackendExitClosesClientChannel(t *testing.T) {
	env := newTestEnv(t)

	clientSide, gatewaySide := net.Pipe()
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(gatewaySide))
	conn.Go(context.Background(), jsonrpc2.MethodNotFoundHandler)
	t.Cleanup(func() {
		conn.Close()
		<-conn.Done()
	})

	id, err := env.ctrl.InitSession(context.Background(), "omnisharp", &conn)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	var handle *fakeHandle
	select {
	case handle = <-env.handles:
	case <-time.After(5 * time.Second):
		t.Fatal("backend was never launched")
	}
	handle.exit()

	// The client must learn the session is gone through its channel closing,
	// not by issuing calls that fail.
	require.NoError(t, clientSide.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, readErr := clientSide.Read(make([]byte, 1))
	assert.ErrorIs(t, readErr, io.EOF)

	require.Eventually(t, func() bool {
		count, err := env.sessions.SessionCount(context.Background())
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond, "session entry was never removed")
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
	require.NoError(t, err)

	require.NoError(t, env.ctrl.EndSession(context.Background(), id))

	count, err := env.sessions.SessionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, []uuid.UUID{id}, env.translator.detached)
	assert.Equal(t, []uuid.UUID{id}, env.gateway.deregistered)

	t.Run("repeat end is a no-op", func(t *testing.T) {
		assert.NoError(t, env.ctrl.EndSession(context.Background(), id))
	})

	t.Run("never-registered id is a no-op", func(t *testing.T) {
		assert.NoError(t, env.ctrl.EndSession(context.Background(), uuid.Must(uuid.NewV4())))
	})
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
	require.NoError(t, err)
	ctx := sessionContext(id)

	params := &protocol.InitializeParams{RootURI: "file:///work"}
	result, err := env.ctrl.Initialize(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "langbridge", result.ServerInfo.Name)

	s, err := env.sessions.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, s.InitializeParams)
	assert.Equal(t, params.RootURI, s.InitializeParams.RootURI)
}

func TestInitializedAnnouncesBackend(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
	require.NoError(t, err)

	require.NoError(t, env.ctrl.Initialized(sessionContext(id), &protocol.InitializedParams{}))
	require.Len(t, env.gateway.messages, 1)
	assert.Contains(t, env.gateway.messages[0].Message, `"omnisharp"`)
}

func TestExit(t *testing.T) {
	t.Run("per-session exit ends only the session", func(t *testing.T) {
		env := newTestEnv(t)

		id, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
		require.NoError(t, err)

		require.NoError(t, env.ctrl.Exit(sessionContext(id)))

		count, err := env.sessions.SessionCount(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		select {
		case <-env.shutdowner.calls:
			t.Fatal("per-session exit must not shut the daemon down")
		default:
		}
	})

	t.Run("exit after full shutdown request stops the daemon", func(t *testing.T) {
		env := newTestEnv(t)

		id, err := env.ctrl.InitSession(context.Background(), "omnisharp", nil)
		require.NoError(t, err)

		require.NoError(t, env.ctrl.RequestFullShutdown(context.Background()))
		require.NoError(t, env.ctrl.Exit(sessionContext(id)))

		select {
		case <-env.shutdowner.calls:
		case <-time.After(5 * time.Second):
			t.Fatal("full shutdown was never signaled")
		}
	})
}

func TestShutdownIsDeferredToExit(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.ctrl.Shutdown(context.Background()))
}
