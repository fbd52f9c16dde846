// Package blocktest builds small valid chains for tests. All blocks are
// mined at difficulty 1 and signed with a process-wide RSA test key so
// helpers stay fast.
package blocktest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/crypto"
)

// Difficulty used by all generated blocks.
const Difficulty = 1

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

// Key returns the process-wide RSA-2048 test key. Generated once; key
// generation dominates test startup otherwise.
func Key() *rsa.PrivateKey {
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(fmt.Sprintf("generate test key: %v", err))
		}
		testKey = k
	})
	return testKey
}

// PublicKeyPEM returns the PKIX encoding of Key's public half.
func PublicKeyPEM() string {
	der, err := x509.MarshalPKIXPublicKey(&Key().PublicKey)
	if err != nil {
		panic(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// NewCreator returns a fresh creator record backed by Key.
func NewCreator(name string) *types.Creator {
	return &types.Creator{
		ID:           uuid.New(),
		DisplayName:  name,
		PublicKeyPEM: PublicKeyPEM(),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewBlock seals plaintext for the creator, mines it onto parent (nil
// for a genesis block) and signs the winning hash with Key.
func NewBlock(creator *types.Creator, parent *types.Block, plaintext []byte) *types.Block {
	sealed, err := crypto.Seal(&Key().PublicKey, plaintext)
	if err != nil {
		panic(err)
	}
	b := &types.Block{
		ID:               uuid.New(),
		Number:           1,
		CreatorID:        creator.ID,
		Difficulty:       Difficulty,
		EncryptedData:    sealed.Ciphertext,
		DataIV:           sealed.IV,
		EncryptedDataKey: sealed.WrappedKey,
		DataSize:         sealed.Size(),
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	if parent != nil {
		b.Number = parent.Number + 1
		b.PreviousHash = parent.Hash
	}
	Mine(b)
	return b
}

// Mine searches the nonce space until the block's hash clears its
// difficulty, then signs the hash. Re-callable after mutating a block.
func Mine(b *types.Block) {
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		if hash := b.ComputeHash(); types.CheckPoW(hash, b.Difficulty) {
			b.Hash = hash
			break
		}
	}
	sig, err := crypto.SignHash(Key(), b.Hash)
	if err != nil {
		panic(err)
	}
	b.Signature = sig
}

// NewChain builds n linked blocks for the creator.
func NewChain(creator *types.Creator, n int) []*types.Block {
	chain := make([]*types.Block, 0, n)
	var parent *types.Block
	for i := 0; i < n; i++ {
		b := NewBlock(creator, parent, []byte(fmt.Sprintf("record %d", i+1)))
		chain = append(chain, b)
		parent = b
	}
	return chain
}
