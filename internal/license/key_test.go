package license

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyPattern = regexp.MustCompile(`^[0-9A-F]{20}$`)

func TestNewKey_Format(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)
	assert.Len(t, k, KeyLen)
	assert.Regexp(t, keyPattern, k)
}

func TestNewKey_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		k, err := NewKey()
		require.NoError(t, err)
		_, dup := seen[k]
		require.False(t, dup, "duplicate key %s", k)
		seen[k] = struct{}{}
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "ABCD****WXYZ", MaskKey("ABCD0123456789ABWXYZ"))
	assert.Equal(t, "****", MaskKey("SHORT"))
}
