package auth

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

func TestBcryptHasher_HashAndVerify(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)

	ok, err := h.Verify(hash, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(hash, "secret2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasher_DefaultCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
}

func TestBcryptHasher_Hash_RejectsOverByteLimit(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("a", MaxPasswordBytes))
	require.NoError(t, err)

	_, err = h.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	// 30文字でも3バイト文字なら90バイトになる
	_, err = h.Hash(strings.Repeat("あ", 30))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func legacyHash(t *testing.T, salt, password string) string {
	t.Helper()
	key, err := scrypt.Key([]byte(password), []byte(salt), 16384, 16, 1, 64)
	require.NoError(t, err)
	return salt + ":" + hex.EncodeToString(key)
}

func TestBcryptHasher_VerifiesLegacyScryptHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash := legacyHash(t, "9f86d081884c7d659a2feaa0c55ad015", "secret1")

	ok, err := h.Verify(hash, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(hash, "secret2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasher_VerifiesLongLegacyPassword(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	password := strings.Repeat("long-passphrase-", 8)
	hash := legacyHash(t, "0f1e2d3c4b5a69788796a5b4c3d2e1f0", password)

	ok, err := h.Verify(hash, password)
	require.NoError(t, err)
	assert.True(t, ok)
}

// 全角文字はNFKC正規化してから鍵導出する
func TestBcryptHasher_LegacyScryptNormalizesPassword(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash := legacyHash(t, "00112233445566778899aabbccddeeff", "secret1")

	ok, err := h.Verify(hash, "ｓｅｃｒｅｔ１")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBcryptHasher_InvalidLegacyKey(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Verify("salt:not-hex", "secret1")
	assert.Error(t, err)
}

func TestBcryptHasher_UnknownFormat(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Verify("plaintext", "secret1")
	assert.ErrorIs(t, err, ErrUnknownHashFormat)
}
