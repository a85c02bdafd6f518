package framing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestStreamWriteThenRead(t *testing.T) {
	buf := &bufferCloser{}
	out := NewStream(buf)

	call, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(7), "textDocument/hover", map[string]string{"key": "value"})
	require.NoError(t, err)

	n, err := out.Write(context.Background(), call)
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))

	in := NewStream(buf)
	msg, _, err := in.Read(context.Background())
	require.NoError(t, err)

	got, ok := msg.(*jsonrpc2.Call)
	require.True(t, ok)
	assert.Equal(t, "textDocument/hover", got.Method())
}

func TestStreamReadCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewStream(&bufferCloser{})
	_, _, err := s.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamClose(t *testing.T) {
	buf := &bufferCloser{}
	s := NewStream(buf)
	require.NoError(t, s.Close())
	assert.True(t, buf.closed)
}
