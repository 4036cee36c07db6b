// internal/protocol/frame_test.go
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func framePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewConn(a), NewConn(b)
}

func rawFrame(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := framePair(t)

	go func() {
		client.Write(Request{Action: "login", Data: json.RawMessage(`{"email":"a@b.c"}`)})
	}()

	var req Request
	require.NoError(t, server.ReadInto(&req))
	assert.Equal(t, "login", req.Action)
	assert.JSONEq(t, `{"email":"a@b.c"}`, string(req.Data))
}

func TestFrameInterleavedWrites(t *testing.T) {
	client, server := framePair(t)

	go func() {
		for i := 0; i < 3; i++ {
			client.Write(Response{Status: StatusSuccess, Message: "ok"})
		}
	}()

	for i := 0; i < 3; i++ {
		raw, err := server.Read()
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.Equal(t, StatusSuccess, resp.Status)
	}
}

func TestReadRejectsOversizeDeclaredLength(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
		a.Write(header[:])
		a.Write(rawFrame([]byte(`{"status":"success"}`)))
	}()

	fc := NewConn(b)
	_, err := fc.Read()
	require.ErrorIs(t, err, ErrMalformedFrame)

	// The failure consumes only the bad header; the stream stays aligned.
	raw, err := fc.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(raw))
}

func TestReadRejectsZeroLength(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		a.Write([]byte{0, 0, 0, 0})
	}()

	_, err := NewConn(b).Read()
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadRejectsNonObjectPayload(t *testing.T) {
	for _, payload := range []string{`[1,2,3]`, `"hello"`, `42`, `not json`} {
		a, b := net.Pipe()

		go func() {
			a.Write(rawFrame([]byte(payload)))
		}()

		_, err := NewConn(b).Read()
		assert.ErrorIs(t, err, ErrMalformedFrame, "payload %s", payload)
		a.Close()
		b.Close()
	}
}

func TestWriteRejectsOversizePayload(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	huge := Response{Status: StatusSuccess, Data: strings.Repeat("x", MaxFrameSize+1)}
	err := NewConn(a).Write(huge)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestErrorResponseCarriesKind(t *testing.T) {
	resp := ErrorResponse(KindCapacity, "room is full")
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Kind string `json:"kind"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, StatusError, decoded.Status)
	assert.Equal(t, "Capacity", decoded.Data.Kind)
	assert.Equal(t, "room is full", decoded.Message)
}
