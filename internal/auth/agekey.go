package auth

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

// KeyFromAgeSecret derives an Ed25519 token signing key from an age X25519
// secret key ("AGE-SECRET-KEY-1..."). The age recipient is returned so that
// operators can tell which key is in use.
func KeyFromAgeSecret(secret string) (ed25519.PrivateKey, string, error) {
	secret = strings.TrimSpace(secret)

	identity, err := age.ParseX25519Identity(secret)
	if err != nil {
		return nil, "", fmt.Errorf("parse age secret key: %w", err)
	}

	seed, err := decodeAgeSecretKey(secret)
	if err != nil {
		return nil, "", fmt.Errorf("decode age secret key: %w", err)
	}

	return ed25519.NewKeyFromSeed(seed), identity.Recipient().String(), nil
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
