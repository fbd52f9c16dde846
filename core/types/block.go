// Package types holds the wire and storage representations of sealed
// blocks and their creators, together with the canonical hash input that
// every node and client must reproduce byte for byte.
package types

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seal-network/gseal/params"
)

// Shape errors reported by SanityCheck. The commit pipeline and the
// verifier both surface these as shape-invalid.
var (
	ErrBadIVSize       = errors.New("data_iv must be exactly 16 bytes")
	ErrBadWrappedKey   = errors.New("encrypted_data_key size does not match creator key")
	ErrCiphertextShort = errors.New("encrypted_data too small to carry an auth tag")
	ErrBadDataSize     = errors.New("declared data_size outside tolerance")
	ErrBadDifficulty   = errors.New("difficulty out of range")
	ErrBadHashFormat   = errors.New("block_hash is not a lowercase hex sha-256 digest")
)

// Block is a single sealed record in the chain. Internal representation
// is raw bytes for all binary fields; the HTTP and gossip boundaries
// coerce hex and base64 into this form before anything else runs.
type Block struct {
	ID               uuid.UUID
	Number           uint64
	CreatorID        uuid.UUID
	PreviousHash     string // lowercase hex, empty only for the genesis block
	Hash             string // lowercase hex
	Nonce            uint64
	Difficulty       int
	EncryptedData    []byte // ciphertext || 16-byte GCM tag
	DataIV           []byte
	EncryptedDataKey []byte // RSA-OAEP wrapped AES key
	DataSize         int
	Signature        []byte // RSA-SHA256 over the ASCII hex of Hash
	CreatedAt        time.Time
	Verified         bool
	VerifiedAt       *time.Time
	MiningDurationMs int64
}

// IsGenesis reports whether the block occupies the first chain slot.
func (b *Block) IsGenesis() bool {
	return b.Number == 1
}

// ParentHash returns the previous hash as used in the canonical hash
// input: the stored hash, or the genesis sentinel when absent.
func (b *Block) ParentHash() string {
	if b.PreviousHash == "" {
		return params.GenesisParentHash
	}
	return b.PreviousHash
}

// CanonicalTime renders t in the protocol's ISO-8601 form: millisecond
// precision, UTC, trailing Z. Clients and servers must agree on this
// rendering or PoW verification breaks.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(params.TimestampLayout)
}

// HashInput assembles the canonical pre-image string. Field order and the
// '|' delimiter are fixed by the peer protocol.
func (b *Block) HashInput() string {
	var sb strings.Builder
	sb.WriteString(b.ParentHash())
	sb.WriteByte('|')
	sb.WriteString(hex.EncodeToString(b.EncryptedData))
	sb.WriteByte('|')
	sb.WriteString(hex.EncodeToString(b.DataIV))
	sb.WriteByte('|')
	sb.WriteString(hex.EncodeToString(b.EncryptedDataKey))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))
	sb.WriteByte('|')
	sb.WriteString(CanonicalTime(b.CreatedAt))
	sb.WriteByte('|')
	if b.CreatorID != uuid.Nil {
		sb.WriteString(b.CreatorID.String())
	}
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(b.Difficulty))
	return sb.String()
}

// ComputeHash hashes the canonical input with SHA-256 and returns the
// lowercase hex digest.
func (b *Block) ComputeHash() string {
	sum := sha256.Sum256([]byte(b.HashInput()))
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes the canonical hash and compares it against the
// stored one in constant time.
func (b *Block) VerifyHash() bool {
	computed := b.ComputeHash()
	if len(computed) != len(b.Hash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(b.Hash)) == 1
}

// CheckPoW reports whether hash satisfies the given difficulty, i.e.
// carries at least that many leading '0' hex digits.
func CheckPoW(hash string, difficulty int) bool {
	if difficulty < params.MinBlockDifficulty || difficulty > params.MaxBlockDifficulty {
		return false
	}
	if len(hash) < difficulty {
		return false
	}
	return hash[:difficulty] == strings.Repeat("0", difficulty)
}

// VerifyPoW checks the block's own hash against its own difficulty.
func (b *Block) VerifyPoW() bool {
	return CheckPoW(b.Hash, b.Difficulty)
}

// IsHexHash reports whether s looks like a lowercase hex SHA-256 digest.
func IsHexHash(s string) bool {
	if len(s) != params.HashHexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// SanityCheck validates the structural shape of the block against the
// given wrapped-key size (derived from the creator's RSA modulus). It
// does not touch the database and does not verify hash, PoW or
// signature.
func (b *Block) SanityCheck(wrappedKeySize int) error {
	if len(b.DataIV) != params.DataIVSize {
		return fmt.Errorf("%w: got %d", ErrBadIVSize, len(b.DataIV))
	}
	if len(b.EncryptedDataKey) != wrappedKeySize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadWrappedKey, len(b.EncryptedDataKey), wrappedKeySize)
	}
	if len(b.EncryptedData) < params.GCMTagSize {
		return fmt.Errorf("%w: got %d bytes", ErrCiphertextShort, len(b.EncryptedData))
	}
	if b.Difficulty < params.MinBlockDifficulty || b.Difficulty > params.MaxBlockDifficulty {
		return fmt.Errorf("%w: %d", ErrBadDifficulty, b.Difficulty)
	}
	if !IsHexHash(b.Hash) {
		return ErrBadHashFormat
	}
	measured := len(b.EncryptedData) + len(b.DataIV) + len(b.EncryptedDataKey)
	diff := b.DataSize - measured
	if diff < 0 {
		diff = -diff
	}
	if b.DataSize <= 0 || diff > params.DataSizeTolerance {
		return fmt.Errorf("%w: declared %d, measured %d", ErrBadDataSize, b.DataSize, measured)
	}
	return nil
}
