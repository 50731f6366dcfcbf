package avatarkey

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsDeterministicAndParses(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	id := uuid.New().String()
	key := c.Key(id)
	assert.Equal(t, key, c.Key(id))
	assert.Len(t, key, len(id)+1+macLen)

	got, err := c.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDistinctIDsGiveDistinctKeys(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		k := c.Key(uuid.New().String())
		_, dup := seen[k]
		require.False(t, dup)
		seen[k] = struct{}{}
	}
}

func TestParseRejectsForgedKeys(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)
	other, err := New("other")
	require.NoError(t, err)

	id := "42"
	for _, key := range []string{
		"",
		"42",
		"-0123456789",
		"42-",
		"42-0123456789",
		other.Key(id),
		c.Key(id) + "0",
	} {
		_, err := c.Parse(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
