package types

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDisplayName(t *testing.T) {
	for _, name := range []string{"alice", "bob_2", "Node-01", strings.Repeat("a", 255)} {
		assert.NoError(t, ValidateDisplayName(name), name)
	}
	for _, name := range []string{"", "ab", "has space", "dot.name", "ütf", strings.Repeat("a", 256)} {
		assert.ErrorIs(t, ValidateDisplayName(name), ErrBadDisplayName, name)
	}
}

func pemFor(t *testing.T, bits int) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), key
}

func TestParseRSAPublicKey(t *testing.T) {
	pemText, key := pemFor(t, 2048)
	pub, err := ParseRSAPublicKey(pemText)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, pub.N)

	// PKCS#1 encoding is accepted too.
	pkcs1 := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	_, err = ParseRSAPublicKey(string(pkcs1))
	assert.NoError(t, err)
}

func TestParseRSAPublicKeyRejects(t *testing.T) {
	_, err := ParseRSAPublicKey("not pem at all")
	assert.ErrorIs(t, err, ErrBadPublicKey)

	weak, _ := pemFor(t, 1024)
	_, err = ParseRSAPublicKey(weak)
	assert.ErrorIs(t, err, ErrWeakPublicKey)
}

func TestCreatorKeyFacts(t *testing.T) {
	pemText, _ := pemFor(t, 2048)
	c := &Creator{DisplayName: "alice", PublicKeyPEM: pemText}
	assert.Equal(t, 2048, c.KeyBits())

	size, err := c.WrappedKeySize()
	require.NoError(t, err)
	assert.Equal(t, 256, size)

	c.PublicKeyPEM = "garbage"
	assert.Equal(t, 0, c.KeyBits())
}
