package miner

import (
	"crypto/rsa"

	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/crypto"
)

// publicKey returns the creator's parsed RSA key, memoized per creator
// id. Creator keys are immutable once registered, so the cache never
// needs invalidation.
func (c *Coordinator) publicKey(creator *types.Creator) (*rsa.PublicKey, error) {
	if cached, ok := c.keyCache.Get(creator.ID); ok {
		return cached.(*rsa.PublicKey), nil
	}
	pub, err := creator.PublicKey()
	if err != nil {
		return nil, err
	}
	c.keyCache.Add(creator.ID, pub)
	return pub, nil
}

func verifySignature(pub *rsa.PublicKey, blockHash string, sig []byte) error {
	return crypto.VerifyHashSignature(pub, blockHash, sig)
}
