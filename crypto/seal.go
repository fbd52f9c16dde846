// Package crypto implements the hybrid sealing scheme used by blocks: a
// fresh AES-256 data key encrypts the plaintext under GCM, and the data
// key is wrapped with the creator's RSA public key using OAEP/SHA-256.
// Signatures are RSA-SHA256 over the ASCII hex block hash.
package crypto

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/seal-network/gseal/params"
)

const dataKeySize = 32

var (
	ErrCiphertextTooShort = errors.New("ciphertext shorter than auth tag")
	ErrBadDataKey         = errors.New("unwrapped data key is not 32 bytes")
)

// Sealed bundles the three artifacts a block carries for its payload.
type Sealed struct {
	Ciphertext []byte // ciphertext || 16-byte GCM tag
	IV         []byte // 16-byte GCM nonce
	WrappedKey []byte // RSA-OAEP wrapped data key
}

// Size returns the total payload size recorded as data_size.
func (s *Sealed) Size() int {
	return len(s.Ciphertext) + len(s.IV) + len(s.WrappedKey)
}

// Seal encrypts plaintext under a fresh random data key and wraps the key
// for the given RSA public key.
func Seal(pub *rsa.PublicKey, plaintext []byte) (*Sealed, error) {
	key := make([]byte, dataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	iv := make([]byte, params.DataIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ct, err := EncryptGCM(key, iv, plaintext)
	if err != nil {
		return nil, err
	}
	wrapped, err := WrapKey(pub, key)
	if err != nil {
		return nil, err
	}
	return &Sealed{Ciphertext: ct, IV: iv, WrappedKey: wrapped}, nil
}

// Open unwraps the data key with the private key and decrypts the
// payload.
func Open(priv *rsa.PrivateKey, s *Sealed) ([]byte, error) {
	key, err := UnwrapKey(priv, s.WrappedKey)
	if err != nil {
		return nil, err
	}
	return DecryptGCM(key, s.IV, s.Ciphertext)
}

// EncryptGCM seals plaintext with AES-256-GCM using a 16-byte nonce. The
// returned slice is ciphertext with the tag appended.
func EncryptGCM(key, iv, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// DecryptGCM reverses EncryptGCM.
func DecryptGCM(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < params.GCMTagSize {
		return nil, ErrCiphertextTooShort
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, iv, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, params.DataIVSize)
}

// WrapKey encrypts the AES data key under RSA-OAEP with SHA-256.
func WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	if len(key) != dataKeySize {
		return nil, ErrBadDataKey
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
}

// UnwrapKey decrypts an RSA-OAEP wrapped data key.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	if len(key) != dataKeySize {
		return nil, ErrBadDataKey
	}
	return key, nil
}

// SignHash signs the ASCII hex block hash with RSA-SHA256 (PKCS#1 v1.5).
func SignHash(priv *rsa.PrivateKey, blockHash string) ([]byte, error) {
	digest := sha256.Sum256([]byte(blockHash))
	return rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, digest[:])
}

// VerifyHashSignature verifies an RSA-SHA256 signature over the ASCII hex
// block hash.
func VerifyHashSignature(pub *rsa.PublicKey, blockHash string, sig []byte) error {
	digest := sha256.Sum256([]byte(blockHash))
	return rsa.VerifyPKCS1v15(pub, stdcrypto.SHA256, digest[:], sig)
}
