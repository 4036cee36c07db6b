// internal/protocol/frame.go
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxFrameSize is the largest payload a peer may declare. Oversize frames are
// a fatal protocol error on that connection.
const MaxFrameSize = 1 << 20

// ErrMalformedFrame indicates a frame whose declared length is invalid or
// whose payload is not a JSON object. The connection must be closed.
var ErrMalformedFrame = errors.New("malformed frame")

// Conn wraps a net.Conn with length-prefixed JSON framing: a 4-byte big-endian
// length followed by exactly that many bytes of a JSON object. Writes are
// mutex-guarded so unsolicited event pushes may interleave with responses.
type Conn struct {
	c  net.Conn
	r  *bufio.Reader
	wm sync.Mutex
}

// NewConn wraps c for framed JSON exchange.
func NewConn(c net.Conn) *Conn {
	return &Conn{c: c, r: bufio.NewReader(c)}
}

// RemoteAddr returns the peer address.
func (fc *Conn) RemoteAddr() net.Addr { return fc.c.RemoteAddr() }

// Close closes the underlying connection.
func (fc *Conn) Close() error { return fc.c.Close() }

// Write marshals v and sends it as a single frame.
func (fc *Conn) Write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: payload %d bytes exceeds %d", ErrMalformedFrame, len(payload), MaxFrameSize)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	fc.wm.Lock()
	defer fc.wm.Unlock()
	_, err = fc.c.Write(buf)
	return err
}

// Read blocks until one complete frame arrives and returns its raw payload.
// The payload is validated to be a JSON object; anything else fails with
// ErrMalformedFrame. A declared length over MaxFrameSize fails without
// consuming past the header.
func (fc *Conn) Read() (json.RawMessage, error) {
	return fc.read()
}

// ReadDeadline behaves like Read but fails if no frame completes within d.
func (fc *Conn) ReadDeadline(d time.Duration) (json.RawMessage, error) {
	if err := fc.c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return nil, err
	}
	defer fc.c.SetReadDeadline(time.Time{})
	return fc.read()
}

func (fc *Conn) read() (json.RawMessage, error) {
	var header [4]byte
	if _, err := io.ReadFull(fc.r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d", ErrMalformedFrame, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(fc.r, payload); err != nil {
		return nil, err
	}
	if !isJSONObject(payload) {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedFrame)
	}
	return payload, nil
}

// ReadInto reads one frame and unmarshals it into v.
func (fc *Conn) ReadInto(v any) error {
	raw, err := fc.read()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// isJSONObject checks that the payload decodes and its first token opens an
// object. Arrays, scalars and garbage are all rejected.
func isJSONObject(payload []byte) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal(payload, &probe) == nil
}
