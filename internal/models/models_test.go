// internal/models/models_test.go
package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserPublicStripsVerifier(t *testing.T) {
	u := User{ID: 1, Name: "alice", Email: "alice@example.com", PasswordHash: "$argon2id$..."}
	pub := u.Public()

	assert.Empty(t, pub.PasswordHash)
	assert.Equal(t, "$argon2id$...", u.PasswordHash, "the receiver is untouched")

	b, err := json.Marshal(pub)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "password_hash")
}

func TestRoomMembershipHelpers(t *testing.T) {
	r := Room{HostUserID: 1, Members: []int64{1, 2}, InviteList: []int64{3}}

	assert.True(t, r.HasMember(1))
	assert.True(t, r.HasMember(2))
	assert.False(t, r.HasMember(3))

	assert.True(t, r.IsInvited(3))
	assert.False(t, r.IsInvited(2))
}

func TestPlayerResultWireNames(t *testing.T) {
	b, err := json.Marshal(PlayerResult{UserID: 7, Score: 800, Lines: 6})
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":7,"score":800,"lines":6,"maxCombo":0}`, string(b))
}
