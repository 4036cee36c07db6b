// internal/dbclient/client_test.go
package dbclient

import (
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/tetrion/internal/protocol"
)

func TestDialFailsWithoutServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err = Dial(addr, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestKindOf(t *testing.T) {
	err := &Error{Kind: protocol.KindEmailTaken, Message: "email already registered"}
	assert.Equal(t, protocol.KindEmailTaken, KindOf(err))

	wrapped := fmt.Errorf("handling request: %w", err)
	assert.Equal(t, protocol.KindEmailTaken, KindOf(wrapped))

	assert.Empty(t, KindOf(fmt.Errorf("plain failure")))
	assert.Empty(t, KindOf(nil))
}
