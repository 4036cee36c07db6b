// internal/auth/password_test.go
package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveVerifierIsDeterministic(t *testing.T) {
	a := DeriveVerifier("alice@example.com", "hunter2")
	b := DeriveVerifier("alice@example.com", "hunter2")
	assert.Equal(t, a, b)
}

func TestDeriveVerifierFoldsEmailCase(t *testing.T) {
	a := DeriveVerifier("alice@example.com", "hunter2")
	b := DeriveVerifier("Alice@Example.COM", "hunter2")
	assert.Equal(t, a, b)
}

func TestDeriveVerifierSeparatesInputs(t *testing.T) {
	base := DeriveVerifier("alice@example.com", "hunter2")
	assert.NotEqual(t, base, DeriveVerifier("alice@example.com", "hunter3"))
	assert.NotEqual(t, base, DeriveVerifier("bob@example.com", "hunter2"))
}

func TestDeriveVerifierEncoding(t *testing.T) {
	v := DeriveVerifier("alice@example.com", "hunter2")
	require.True(t, strings.HasPrefix(v, "$argon2id$"))
	parts := strings.Split(v, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, "m=32768,t=3,p=2", parts[3])
}

func TestVerifierEqual(t *testing.T) {
	a := DeriveVerifier("alice@example.com", "hunter2")
	assert.True(t, VerifierEqual(a, DeriveVerifier("alice@example.com", "hunter2")))
	assert.False(t, VerifierEqual(a, DeriveVerifier("alice@example.com", "wrong")))
	assert.False(t, VerifierEqual(a, ""))
}
