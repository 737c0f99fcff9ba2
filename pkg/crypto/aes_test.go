package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := NewKey(nil)
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"type":"offer","sdp":"v=0"}`)

	ciphertext, nonce, err := Seal(plaintext, key)
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
	assert.NotEqual(t, plaintext, ciphertext)

	opened, err := Open(ciphertext, nonce, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealUsesFreshNonce(t *testing.T) {
	key := testKey(t)

	_, n1, err := Seal([]byte("same"), key)
	require.NoError(t, err)
	_, n2, err := Seal([]byte("same"), key)
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
}

func TestOpenRejectsTampering(t *testing.T) {
	key := testKey(t)
	ciphertext, nonce, err := Seal([]byte("secret"), key)
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		bad := bytes.Clone(ciphertext)
		bad[0] ^= 0x01
		_, err := Open(bad, nonce, key)
		assert.Error(t, err)
	})

	t.Run("wrong nonce", func(t *testing.T) {
		bad := bytes.Clone(nonce)
		bad[len(bad)-1] ^= 0x01
		_, err := Open(ciphertext, bad, key)
		assert.Error(t, err)
	})

	t.Run("short nonce", func(t *testing.T) {
		_, err := Open(ciphertext, nonce[:4], key)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := Open(ciphertext, nonce, testKey(t))
		assert.Error(t, err)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	key := testKey(t)

	encoded, err := Encrypt("hello &amp; goodbye", key)
	require.NoError(t, err)

	plain, err := Decrypt(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, "hello &amp; goodbye", plain)

	_, err = Decrypt("AAAA", key)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Decrypt("not base64!", key)
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, KeySize)

	key, err := DeriveKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	_, err = DeriveKey("abcd")
	assert.Error(t, err)

	_, err = DeriveKey(strings.Repeat("zz", KeySize))
	assert.Error(t, err)
}

func TestDeriveKeyFromPasswordIsDeterministic(t *testing.T) {
	a := DeriveKeyFromPassword("pw", []byte("salt"))
	b := DeriveKeyFromPassword("pw", []byte("salt"))
	c := DeriveKeyFromPassword("other", []byte("salt"))

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestContentCipher(t *testing.T) {
	c, err := NewContentCipher("", "password")
	require.NoError(t, err)

	sealed, err := c.EncryptString("hi there")
	require.NoError(t, err)
	assert.NotEqual(t, "hi there", sealed)
	assert.Equal(t, "hi there", c.DecryptString(sealed))

	empty, err := c.EncryptString("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	// legacy plaintext rows come back unchanged
	assert.Equal(t, "plain legacy row", c.DecryptString("plain legacy row"))

	_, err = NewContentCipher("", "")
	assert.Error(t, err)

	_, err = NewContentCipher("nothex", "password")
	assert.Error(t, err)
}
