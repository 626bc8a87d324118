package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")
	assert.False(t, NeedsRehash(hash))

	assert.NoError(t, VerifyPassword("correct horse battery staple", hash))
	assert.ErrorIs(t, VerifyPassword("wrong", hash), ErrPasswordMismatch)
}

func TestVerifyPassword_LegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, NeedsRehash(string(legacy)))
	assert.NoError(t, VerifyPassword("s3cret", string(legacy)))
	assert.ErrorIs(t, VerifyPassword("nope", string(legacy)), ErrPasswordMismatch)
}

func TestVerifyPassword_GarbageHash(t *testing.T) {
	assert.Error(t, VerifyPassword("anything", "not-a-hash"))
}
