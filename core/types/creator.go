package types

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/seal-network/gseal/params"
)

var (
	ErrBadDisplayName = errors.New("display_name must be 3-255 chars of [A-Za-z0-9_-]")
	ErrBadPublicKey   = errors.New("public_key_pem is not a valid RSA public key")
	ErrWeakPublicKey  = errors.New("RSA modulus below 2048 bits")
)

var displayNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,255}$`)

// Creator is a named signing principal. The node only ever holds the
// public half; private keys stay with clients.
type Creator struct {
	ID           uuid.UUID
	DisplayName  string
	PublicKeyPEM string
	Active       bool
	CreatedAt    time.Time
}

// PublicKey parses the stored PEM into an RSA public key. Both PKIX
// ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") encodings are accepted.
func (c *Creator) PublicKey() (*rsa.PublicKey, error) {
	return ParseRSAPublicKey(c.PublicKeyPEM)
}

// KeyBits returns the RSA modulus size in bits, or 0 if the PEM does not
// parse.
func (c *Creator) KeyBits() int {
	pub, err := c.PublicKey()
	if err != nil {
		return 0
	}
	return pub.N.BitLen()
}

// WrappedKeySize returns the byte length an RSA-OAEP wrapped data key
// must have under this creator's key.
func (c *Creator) WrappedKeySize() (int, error) {
	pub, err := c.PublicKey()
	if err != nil {
		return 0, err
	}
	return pub.Size(), nil
}

// ValidateDisplayName checks the registration naming rule.
func ValidateDisplayName(name string) error {
	if !displayNameRe.MatchString(name) {
		return ErrBadDisplayName
	}
	return nil
}

// ParseRSAPublicKey decodes a PEM encoded RSA public key and enforces the
// minimum modulus size.
func ParseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, ErrBadPublicKey
	}
	var pub *rsa.PublicKey
	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
		}
		pub = key
	default:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not RSA", ErrBadPublicKey)
		}
		pub = rsaKey
	}
	if pub.N.BitLen() < params.MinCreatorKeyBits {
		return nil, fmt.Errorf("%w: %d", ErrWeakPublicKey, pub.N.BitLen())
	}
	return pub, nil
}
