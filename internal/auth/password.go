// internal/auth/password.go

// Package auth derives the opaque password verifiers stored by the
// persistence service. The verifier must be deterministic: login_user
// authenticates by comparing the submitted verifier against the stored one,
// so the salt is derived from the case-folded email instead of being random.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Modest on purpose: login happens inline on an
// interactive TCP session and must finish within a read deadline.
const (
	argonMemory      = 32 * 1024
	argonIterations  = 3
	argonParallelism = 2
	saltLength       = 16
	keyLength        = 32
)

// saltDomain separates this deployment's salts from any other use of the
// same email string.
const saltDomain = "tetrion/v1/"

// DeriveVerifier computes the Argon2id verifier for an email/password pair.
// The same pair always yields the same encoded string.
func DeriveVerifier(email, password string) string {
	sum := sha256.Sum256([]byte(saltDomain + strings.ToLower(email)))
	salt := sum[:saltLength]

	key := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, keyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// VerifierEqual compares two encoded verifiers in constant time.
func VerifierEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
