package crypt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCodec(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	again, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestCodecRawKey(t *testing.T) {
	c, err := NewCodec(strings.Repeat("k", 32))
	require.NoError(t, err)
	sealed, err := c.Encrypt("x")
	require.NoError(t, err)
	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "x", plain)
}

func TestCodecRejectsBadInput(t *testing.T) {
	_, err := NewCodec("short")
	assert.Error(t, err)

	c, err := NewCodec(strings.Repeat("k", 32))
	require.NoError(t, err)
	_, err = c.Decrypt("not base64!")
	assert.Error(t, err)
	_, err = c.Decrypt("AAAA")
	assert.Error(t, err)

	other, err := NewCodec(strings.Repeat("z", 32))
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = c.Decrypt(sealed)
	assert.Error(t, err)
}

func TestCodecWithoutKey(t *testing.T) {
	c, err := NewCodec("")
	require.NoError(t, err)
	_, err = c.Decrypt("anything")
	assert.ErrorIs(t, err, ErrNoKey)
	var nilCodec *Codec
	_, err = nilCodec.Encrypt("x")
	assert.ErrorIs(t, err, ErrNoKey)
}
