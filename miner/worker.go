package miner

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/crypto"
	"github.com/seal-network/gseal/params"
)

// Worker is the client-side sealing engine. It owns the creator's
// private key, which never leaves the process: the server only ever sees
// the finished commit payload.
type Worker struct {
	key *rsa.PrivateKey
}

// NewWorker wraps a creator private key.
func NewWorker(key *rsa.PrivateKey) *Worker {
	return &Worker{key: key}
}

// SealAndMine encrypts plaintext under the preparation's public key,
// searches for a nonce satisfying the difficulty, and signs the winning
// hash. The search honors ctx, so callers can bound it with the advisory
// mining timeout from the preparation.
func (w *Worker) SealAndMine(ctx context.Context, prep *Preparation, plaintext []byte) (*CommitPayload, error) {
	pub, err := types.ParseRSAPublicKey(prep.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(pub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}

	start := time.Now()
	candidate := &types.Block{
		CreatorID:        prep.CreatorID,
		Difficulty:       prep.Difficulty,
		EncryptedData:    sealed.Ciphertext,
		DataIV:           sealed.IV,
		EncryptedDataKey: sealed.WrappedKey,
		DataSize:         sealed.Size(),
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	if prep.PreviousHash != params.GenesisParentHash {
		candidate.PreviousHash = prep.PreviousHash
	}

	hash, nonce, err := w.search(ctx, candidate)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.SignHash(w.key, hash)
	if err != nil {
		return nil, fmt.Errorf("sign block hash: %w", err)
	}

	return &CommitPayload{
		CreatorID:        prep.CreatorID,
		PreviousHash:     prep.PreviousHash,
		BlockHash:        hash,
		Nonce:            fmt.Sprintf("%d", nonce),
		Difficulty:       prep.Difficulty,
		EncryptedData:    sealed.Ciphertext,
		DataIV:           sealed.IV,
		EncryptedDataKey: sealed.WrappedKey,
		DataSize:         sealed.Size(),
		Signature:        sig,
		CreatedAt:        types.CanonicalTime(candidate.CreatedAt),
		MiningDurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// search increments the nonce until the canonical hash clears the
// difficulty. It checks ctx every few thousand iterations to keep the
// cancellation path off the hot loop.
func (w *Worker) search(ctx context.Context, candidate *types.Block) (string, uint64, error) {
	for nonce := uint64(0); ; nonce++ {
		if nonce%4096 == 0 {
			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			default:
			}
		}
		candidate.Nonce = nonce
		hash := candidate.ComputeHash()
		if types.CheckPoW(hash, candidate.Difficulty) {
			return hash, nonce, nil
		}
	}
}

// Decrypt opens an envelope fetched from the decrypt endpoint with the
// worker's private key.
func (w *Worker) Decrypt(env *types.Envelope) ([]byte, error) {
	return crypto.Open(w.key, &crypto.Sealed{
		Ciphertext: env.EncryptedData,
		IV:         env.DataIV,
		WrappedKey: env.EncryptedDataKey,
	})
}
