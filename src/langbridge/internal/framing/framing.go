// Package framing encodes and decodes Content-Length framed protocol
// payloads over raw byte streams.
package framing

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	_headerContentLength = "Content-Length"
	_headerSeparator     = "\r\n"
)

// FramingError reports a malformed or truncated frame. The stream carrying it
// is no longer usable; callers are expected to dispose the connection.
type FramingError struct {
	Reason string
	Err    error
}

// Error is an implementation of the error interface.
func (f *FramingError) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("framing: %s: %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("framing: %s", f.Reason)
}

// Unwrap returns the underlying cause, if any.
func (f *FramingError) Unwrap() error {
	return f.Err
}

// Encode writes a single frame to w: a Content-Length header block followed
// by exactly that many payload bytes. The declared length is the byte length
// of the payload, not its rune count, so multi-byte text frames correctly.
func Encode(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "%s: %d%s%s", _headerContentLength, len(payload), _headerSeparator, _headerSeparator); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// Decoder consumes a byte stream and yields successive frame payloads.
// It is not restartable: after the first error, no further frames follow.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a full frame has arrived and returns its payload.
// io.EOF is returned on clean end of stream before any header bytes; a stream
// that ends mid-frame yields a *FramingError instead.
func (d *Decoder) Next() ([]byte, error) {
	length := -1
	seenHeader := false
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && !seenHeader && line == "" {
				return nil, io.EOF
			}
			return nil, &FramingError{Reason: "stream ended inside header block", Err: err}
		}
		seenHeader = true

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// End of header block.
			break
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, &FramingError{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		if !strings.EqualFold(strings.TrimSpace(name), _headerContentLength) {
			// Unknown headers (e.g. Content-Type) are tolerated and skipped.
			continue
		}

		length, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 {
			return nil, &FramingError{Reason: fmt.Sprintf("invalid Content-Length %q", strings.TrimSpace(value)), Err: err}
		}
	}

	if length < 0 {
		return nil, &FramingError{Reason: "missing Content-Length header"}
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("stream ended %d bytes into a %d byte payload", n, length), Err: err}
	}
	return payload, nil
}
