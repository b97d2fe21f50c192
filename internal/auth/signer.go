package auth

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the signed contents of a bearer token.
type Claims struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Signer signs and verifies bearer tokens.
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewHMACSigner signs tokens with HS256 and a shared secret.
func NewHMACSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	return &Signer{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret}, nil
}

// NewEd25519Signer signs tokens with EdDSA.
func NewEd25519Signer(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key")
	}
	return &Signer{
		method:    jwt.SigningMethodEdDSA,
		signKey:   key,
		verifyKey: key.Public(),
	}, nil
}

// Sign returns the compact serialization of claims.
func (s *Signer) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
}

// Parse verifies the signature of token and that now is not past its expiry,
// and returns its claims.
func (s *Signer) Parse(token string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.verifyKey, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, err
	}
	// Expiry is checked here so a token stays valid at exactly exp, matching
	// the stored token record.
	if claims.ExpiresAt == nil {
		return nil, errors.New("token has no expiry")
	}
	if now.After(claims.ExpiresAt.Time) {
		return nil, jwt.ErrTokenExpired
	}
	if claims.Name == "" {
		return nil, errors.New("token has no subject name")
	}
	return claims, nil
}

func registeredClaims(id string, issued, expires time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
}
