package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestNewKeyManager_GeneratesP384Key(t *testing.T) {
	t.Parallel()
	km, err := NewKeyManager()
	assert.NoError(t, err)
	assert.NotNil(t, km.PublicKey)
	check.Equal(t, elliptic.P384().Params().Name, km.PublicKey.Curve.Params().Name)
}

func TestKeyManager_PublicKeyPEMRoundTrips(t *testing.T) {
	t.Parallel()
	km, err := NewKeyManager()
	assert.NoError(t, err)

	pemStr, err := km.PublicKeyPEM()
	assert.NoError(t, err)

	block, rest := pem.Decode([]byte(pemStr))
	assert.NotNil(t, block)
	check.Equal(t, 0, len(rest))
	check.Equal(t, "PUBLIC KEY", block.Type)

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	assert.NoError(t, err)
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	assert.True(t, ok)
	check.True(t, ecdsaKey.Equal(km.PublicKey))
}

func TestKeyManager_KeysAreUnique(t *testing.T) {
	t.Parallel()
	first, err := NewKeyManager()
	assert.NoError(t, err)
	second, err := NewKeyManager()
	assert.NoError(t, err)
	check.False(t, first.PublicKey.Equal(second.PublicKey))
}
