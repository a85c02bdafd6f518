package docsync

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	lsuri "go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/junolab/langbridge/src/langbridge/mapper"
	"github.com/junolab/langbridge/src/langbridge/repository/session"
)

const _testURI = lsuri.URI("file:///work/Program.cs")

func newTestController(t *testing.T) (Controller, context.Context) {
	t.Helper()

	sessions := session.New(tally.NoopScope)
	id, err := uuid.NewV4()
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), entity.SessionContextKey, id)
	require.NoError(t, sessions.Put(ctx, mapper.UUIDToSession(id, "omnisharp")))

	c := New(Params{
		Sessions: sessions,
		Logger:   zap.NewNop().Sugar(),
		Stats:    tally.NoopScope,
	})
	require.NoError(t, c.InitSession(ctx))
	return c, ctx
}

func openDocument(t *testing.T, c Controller, ctx context.Context, text string) protocol.TextDocumentItem {
	t.Helper()
	doc, err := c.DidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        _testURI,
			LanguageID: "csharp",
			Version:    1,
			Text:       text,
		},
	})
	require.NoError(t, err)
	return doc
}

func changeParams(version int32, changes ...protocol.TextDocumentContentChangeEvent) *protocol.DidChangeTextDocumentParams {
	return &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: _testURI},
			Version:                version,
		},
		ContentChanges: changes,
	}
}

func TestDidOpenAndGet(t *testing.T) {
	c, ctx := newTestController(t)
	openDocument(t, c, ctx, "class C { }")

	doc, err := c.GetTextDocument(ctx, protocol.TextDocumentIdentifier{URI: _testURI})
	require.NoError(t, err)
	assert.Equal(t, "class C { }", doc.Text)
	assert.Equal(t, int32(1), doc.Version)
}

func TestGetUnopenedDocument(t *testing.T) {
	c, ctx := newTestController(t)

	_, err := c.GetTextDocument(ctx, protocol.TextDocumentIdentifier{URI: _testURI})
	var notFound *errors.DocumentNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDidChange(t *testing.T) {
	t.Run("full replacement", func(t *testing.T) {
		c, ctx := newTestController(t)
		openDocument(t, c, ctx, "class C { }")

		doc, err := c.DidChange(ctx, changeParams(2, protocol.TextDocumentContentChangeEvent{Text: "class D { }"}))
		require.NoError(t, err)
		assert.Equal(t, "class D { }", doc.Text)
		assert.Equal(t, int32(2), doc.Version)
	})

	t.Run("incremental edit", func(t *testing.T) {
		c, ctx := newTestController(t)
		openDocument(t, c, ctx, "class C { }")

		doc, err := c.DidChange(ctx, changeParams(2, protocol.TextDocumentContentChangeEvent{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 6},
				End:   protocol.Position{Line: 0, Character: 7},
			},
			Text: "Widget",
		}))
		require.NoError(t, err)
		assert.Equal(t, "class Widget { }", doc.Text)
	})

	t.Run("equal version is accepted", func(t *testing.T) {
		c, ctx := newTestController(t)
		openDocument(t, c, ctx, "one")

		doc, err := c.DidChange(ctx, changeParams(1, protocol.TextDocumentContentChangeEvent{Text: "two"}))
		require.NoError(t, err)
		assert.Equal(t, "two", doc.Text)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		c, ctx := newTestController(t)
		openDocument(t, c, ctx, "one")

		_, err := c.DidChange(ctx, changeParams(5, protocol.TextDocumentContentChangeEvent{Text: "five"}))
		require.NoError(t, err)

		_, err = c.DidChange(ctx, changeParams(3, protocol.TextDocumentContentChangeEvent{Text: "three"}))
		var outdated *errors.DocumentOutdatedError
		require.ErrorAs(t, err, &outdated)
		assert.Equal(t, int32(5), outdated.CurrentVersion)
		assert.Equal(t, int32(3), outdated.ReceivedVersion)

		// The rejected change must not have touched the stored text.
		doc, err := c.GetTextDocument(ctx, protocol.TextDocumentIdentifier{URI: _testURI})
		require.NoError(t, err)
		assert.Equal(t, "five", doc.Text)
	})

	t.Run("unopened document", func(t *testing.T) {
		c, ctx := newTestController(t)

		_, err := c.DidChange(ctx, changeParams(1, protocol.TextDocumentContentChangeEvent{Text: "x"}))
		var notFound *errors.DocumentNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestDidClose(t *testing.T) {
	c, ctx := newTestController(t)
	openDocument(t, c, ctx, "class C { }")

	err := c.DidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: _testURI},
	})
	require.NoError(t, err)

	_, err = c.GetTextDocument(ctx, protocol.TextDocumentIdentifier{URI: _testURI})
	var notFound *errors.DocumentNotFoundError
	assert.ErrorAs(t, err, &notFound)

	// Closing an already closed document stays a no-op.
	assert.NoError(t, c.DidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: _testURI},
	}))
}

func TestEndSessionDropsDocuments(t *testing.T) {
	c, ctx := newTestController(t)
	openDocument(t, c, ctx, "class C { }")

	id, err := mapper.ContextToSessionUUID(ctx)
	require.NoError(t, err)
	require.NoError(t, c.EndSession(ctx, id))

	_, err = c.GetTextDocument(ctx, protocol.TextDocumentIdentifier{URI: _testURI})
	var unknown *errors.UUIDNotFoundError
	assert.ErrorAs(t, err, &unknown)
}

func TestUninitializedSession(t *testing.T) {
	sessions := session.New(tally.NoopScope)
	id, err := uuid.NewV4()
	require.NoError(t, err)
	ctx := context.WithValue(context.Background(), entity.SessionContextKey, id)
	require.NoError(t, sessions.Put(ctx, mapper.UUIDToSession(id, "omnisharp")))

	c := New(Params{Sessions: sessions, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope})

	_, err = c.DidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: _testURI, Text: "x"},
	})
	var unknown *errors.UUIDNotFoundError
	assert.ErrorAs(t, err, &unknown)
}
