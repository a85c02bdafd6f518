package framing

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.lsp.dev/jsonrpc2"
)

// Stream adapts a framed byte channel into a jsonrpc2.Stream, so the same
// framer serves both process stdio and socket transports.
type Stream struct {
	rwc     io.ReadWriteCloser
	dec     *Decoder
	writeMu sync.Mutex
}

var _ jsonrpc2.Stream = (*Stream)(nil)

// NewStream returns a jsonrpc2.Stream carrying Content-Length framed messages
// over rwc.
func NewStream(rwc io.ReadWriteCloser) *Stream {
	return &Stream{
		rwc: rwc,
		dec: NewDecoder(rwc),
	}
}

// Read blocks until the next complete frame and decodes it as a JSON-RPC message.
func (s *Stream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	payload, err := s.dec.Next()
	if err != nil {
		return nil, 0, err
	}

	msg, err := jsonrpc2.DecodeMessage(payload)
	if err != nil {
		return nil, 0, err
	}
	return msg, int64(len(payload)), nil
}

// Write encodes msg and sends it as one atomic frame.
func (s *Stream) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := Encode(s.rwc, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Close closes the underlying channel.
func (s *Stream) Close() error {
	return s.rwc.Close()
}
