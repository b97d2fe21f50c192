package auth

import (
	"testing"
	"time"

	"filippo.io/age"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestEd25519SignerFromAgeKey(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	key, recipient, err := KeyFromAgeSecret(identity.String())
	require.NoError(t, err)
	assert.Equal(t, identity.Recipient().String(), recipient)

	again, _, err := KeyFromAgeSecret(identity.String())
	require.NoError(t, err)
	assert.Equal(t, key, again, "derivation is deterministic")

	signer, err := NewEd25519Signer(key)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := signer.Sign(Claims{
		Name:             "alice",
		IsAdmin:          true,
		RegisteredClaims: registeredClaims("id-1", now, now.Add(time.Hour)),
	})
	require.NoError(t, err)

	claims, err := signer.Parse(token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Name)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "id-1", claims.ID)

	_, err = signer.Parse(token, now.Add(2*time.Hour))
	assert.Error(t, err)
}

func TestKeyFromAgeSecretRejectsGarbage(t *testing.T) {
	_, _, err := KeyFromAgeSecret("AGE-SECRET-KEY-NOPE")
	assert.Error(t, err)
	_, _, err = KeyFromAgeSecret("")
	assert.Error(t, err)
}

func TestSignerRejectsAlgorithmMismatch(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	key, _, err := KeyFromAgeSecret(identity.String())
	require.NoError(t, err)

	ed, err := NewEd25519Signer(key)
	require.NoError(t, err)
	hmac, err := NewHMACSigner([]byte("secret"))
	require.NoError(t, err)

	now := time.Now()
	token, err := hmac.Sign(Claims{Name: "a", RegisteredClaims: registeredClaims("1", now, now.Add(time.Hour))})
	require.NoError(t, err)

	_, err = ed.Parse(token, now)
	assert.Error(t, err)
}

func TestSignerRequiresExpiry(t *testing.T) {
	signer, err := NewHMACSigner([]byte("secret"))
	require.NoError(t, err)

	token, err := signer.Sign(Claims{Name: "a"})
	require.NoError(t, err)

	_, err = signer.Parse(token, time.Now())
	assert.Error(t, err)
}

func TestSignerExpiryBoundary(t *testing.T) {
	signer, err := NewHMACSigner([]byte("secret"))
	require.NoError(t, err)

	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := issued.Add(time.Hour)
	token, err := signer.Sign(Claims{Name: "a", RegisteredClaims: registeredClaims("1", issued, expires)})
	require.NoError(t, err)

	_, err = signer.Parse(token, expires)
	require.NoError(t, err)

	_, err = signer.Parse(token, expires.Add(time.Nanosecond))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestNewSignersValidateKeys(t *testing.T) {
	_, err := NewHMACSigner(nil)
	assert.Error(t, err)
	_, err = NewEd25519Signer(nil)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "S3cret"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret"))

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	fallback, err := HashPassword("pw", 99)
	require.NoError(t, err)
	cost, err = bcrypt.Cost([]byte(fallback))
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, cost)
}
