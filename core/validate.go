package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/crypto"
)

// CreatorLookup resolves a creator for signature checks during chain
// validation.
type CreatorLookup func(ctx context.Context, id uuid.UUID) (*types.Creator, error)

// ValidateChain fully re-validates a candidate chain: numbering from 1
// with no gaps, previous-hash links, canonical hash, proof of work,
// structural shape and every signature. Chains received from peers must
// pass this before ReplaceChain is allowed to swap them in.
func ValidateChain(ctx context.Context, chain []*types.Block, lookup CreatorLookup) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty chain")
	}
	for i, b := range chain {
		want := uint64(i + 1)
		if b.Number != want {
			return fmt.Errorf("block %d: number %d out of order", i, b.Number)
		}
		if i == 0 {
			if b.PreviousHash != "" {
				return fmt.Errorf("genesis block references previous hash %s", b.PreviousHash)
			}
		} else if b.PreviousHash != chain[i-1].Hash {
			return fmt.Errorf("block %d: broken link to %d", b.Number, b.Number-1)
		}
		if err := ValidateBlock(ctx, b, lookup); err != nil {
			return fmt.Errorf("block %d: %w", b.Number, err)
		}
	}
	return nil
}

// ValidateBlock checks a single block's intrinsic validity: proof of
// work, canonical hash, shape and signature. Link and ordering checks
// are the chain-level caller's job.
func ValidateBlock(ctx context.Context, b *types.Block, lookup CreatorLookup) error {
	if !b.VerifyPoW() {
		return fmt.Errorf("proof of work below difficulty %d", b.Difficulty)
	}
	if !b.VerifyHash() {
		return fmt.Errorf("hash does not match canonical input")
	}
	creator, err := lookup(ctx, b.CreatorID)
	if err != nil {
		return fmt.Errorf("creator %s: %w", b.CreatorID, err)
	}
	keySize, err := creator.WrappedKeySize()
	if err != nil {
		return err
	}
	if err := b.SanityCheck(keySize); err != nil {
		return err
	}
	pub, err := creator.PublicKey()
	if err != nil {
		return err
	}
	if err := crypto.VerifyHashSignature(pub, b.Hash, b.Signature); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	return nil
}
