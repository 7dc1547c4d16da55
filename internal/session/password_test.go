package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPassword_Plain(t *testing.T) {
	ok, err := CheckPassword("777", "777")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("778", "777")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPassword_Argon(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := CheckPassword("correct-horse-battery-staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPassword_MalformedHash(t *testing.T) {
	_, err := CheckPassword("x", "$argon2id$garbage")
	assert.Error(t, err)
}
