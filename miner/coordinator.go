// Package miner contains both halves of the two-phase mine-and-commit
// protocol: the server-side Coordinator that hands out pre-image material
// and validates finished blocks, and the client-side Worker that seals a
// plaintext, searches for a nonce and signs the result. The node never
// performs the proof-of-work itself.
package miner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/metrics"
	"github.com/seal-network/gseal/params"
)

var log = logrus.WithField("prefix", "miner")

// ChainStore is the minimal store interface the coordinator consumes.
// Satisfied by core.ChainStore.
type ChainStore interface {
	CurrentBlock() *types.Block
	AppendBlock(ctx context.Context, b *types.Block) (core.AppendResult, *types.Block, error)
	CreatorByName(ctx context.Context, displayName string) (*types.Creator, error)
	CreatorByID(ctx context.Context, id uuid.UUID) (*types.Creator, error)
}

// Broadcaster receives freshly appended blocks for gossip. Satisfied by
// p2p.Gossip; a no-op implementation is fine for single-node setups.
type Broadcaster interface {
	BroadcastBlock(b *types.Block)
}

// Config tunes the coordinator.
type Config struct {
	Difficulty    int
	MaxDataSize   int
	MiningTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Difficulty < params.MinConfigDifficulty || c.Difficulty > params.MaxConfigDifficulty {
		c.Difficulty = params.DefaultDifficulty
	}
	if c.MaxDataSize <= 0 {
		c.MaxDataSize = params.DefaultMaxDataSize
	}
	if c.MiningTimeout <= 0 {
		c.MiningTimeout = params.DefaultMiningTimeout
	}
	return c
}

// Coordinator serves prepare-mining and commit.
type Coordinator struct {
	store     ChainStore
	broadcast Broadcaster
	cfg       Config
	keyCache  *lru.Cache // creator id -> *rsa.PublicKey
}

// NewCoordinator wires a coordinator to its store and broadcaster.
func NewCoordinator(store ChainStore, broadcast Broadcaster, cfg Config) *Coordinator {
	cache, _ := lru.New(256)
	return &Coordinator{
		store:     store,
		broadcast: broadcast,
		cfg:       cfg.withDefaults(),
		keyCache:  cache,
	}
}

// Preparation is the phase-one response: everything a client needs to
// seal, mine and sign offline.
type Preparation struct {
	CreatorID       uuid.UUID `json:"creator_id"`
	PublicKeyPEM    string    `json:"public_key_pem"`
	PreviousHash    string    `json:"previous_hash"`
	Difficulty      int       `json:"difficulty"`
	MaxDataSize     int       `json:"max_data_size"`
	MiningTimeoutMs int64     `json:"mining_timeout_ms"`
}

// PrepareMining resolves the creator and returns the current tip hash
// (or the genesis sentinel) together with the node's difficulty. It has
// no side effects on the chain.
func (c *Coordinator) PrepareMining(ctx context.Context, displayName string, dataTextLength int) (*Preparation, error) {
	if dataTextLength > c.cfg.MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrDataTooLarge, dataTextLength, c.cfg.MaxDataSize)
	}
	creator, err := c.store.CreatorByName(ctx, displayName)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCreator) {
			return nil, ErrCreatorMissing
		}
		return nil, err
	}
	prev := params.GenesisParentHash
	if tip := c.store.CurrentBlock(); tip != nil {
		prev = tip.Hash
	}
	return &Preparation{
		CreatorID:       creator.ID,
		PublicKeyPEM:    creator.PublicKeyPEM,
		PreviousHash:    prev,
		Difficulty:      c.cfg.Difficulty,
		MaxDataSize:     c.cfg.MaxDataSize,
		MiningTimeoutMs: c.cfg.MiningTimeout.Milliseconds(),
	}, nil
}

// CommitPayload is the phase-two submission. Binary fields are raw bytes;
// the API boundary decodes hex before constructing one.
type CommitPayload struct {
	CreatorID        uuid.UUID
	PreviousHash     string // may equal the genesis sentinel
	BlockHash        string
	Nonce            string // decimal string
	Difficulty       int
	EncryptedData    []byte
	DataIV           []byte
	EncryptedDataKey []byte
	DataSize         int
	Signature        []byte
	CreatedAt        string // ISO-8601, exactly as used in the hash input
	MiningDurationMs int64
}

// CommitBlock runs the validation pipeline and appends through the
// store. The returned AppendResult distinguishes a fresh append from a
// duplicate; duplicates return the previously stored block.
func (c *Coordinator) CommitBlock(ctx context.Context, p *CommitPayload) (*types.Block, core.AppendResult, error) {
	// 1. Creator existence.
	creator, err := c.store.CreatorByID(ctx, p.CreatorID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCreator) {
			return nil, core.Rejected, ErrCreatorMissing
		}
		return nil, core.Rejected, err
	}

	block, err := c.payloadToBlock(p)
	if err != nil {
		return nil, core.Rejected, err
	}

	// 2. Signature over the ASCII hex block hash.
	pub, err := c.publicKey(creator)
	if err != nil {
		return nil, core.Rejected, fmt.Errorf("%w: %v", ErrShapeInvalid, err)
	}
	if err := verifySignature(pub, block.Hash, block.Signature); err != nil {
		return nil, core.Rejected, ErrSignatureInvalid
	}

	// 3. Proof of work.
	if !types.CheckPoW(block.Hash, block.Difficulty) {
		return nil, core.Rejected, ErrPoWFailed
	}

	// 4. Canonical hash recomputation, constant-time compare.
	if !block.VerifyHash() {
		return nil, core.Rejected, ErrHashMismatch
	}

	// 5. Shape checks against the creator's modulus.
	keySize, err := creator.WrappedKeySize()
	if err != nil {
		return nil, core.Rejected, fmt.Errorf("%w: %v", ErrShapeInvalid, err)
	}
	if err := block.SanityCheck(keySize); err != nil {
		return nil, core.Rejected, fmt.Errorf("%w: %v", ErrShapeInvalid, err)
	}

	// 6. Previous hash against the current tip. The store re-checks this
	// inside the insert transaction; rejecting here gives the client a
	// deterministic tip-moved instead of a constraint error.
	tip := c.store.CurrentBlock()
	if tip != nil && block.PreviousHash != tip.Hash {
		return nil, core.Rejected, ErrTipMoved
	}
	if tip == nil && block.PreviousHash != "" {
		return nil, core.Rejected, ErrTipMoved
	}

	// 7. Append.
	result, stored, err := c.store.AppendBlock(ctx, block)
	if err != nil {
		var rej *core.RejectedError
		if errors.As(err, &rej) && rej.Constraint == "blocks_previous_hash" {
			metrics.BlocksRejected.Inc()
			return nil, core.Rejected, ErrTipMoved
		}
		metrics.BlocksRejected.Inc()
		return nil, core.Rejected, err
	}
	switch result {
	case core.Duplicate:
		metrics.BlocksDuplicate.Inc()
		log.WithField("hash", block.Hash[:12]).Debug("Duplicate commit ignored")
		return stored, core.Duplicate, nil
	case core.Inserted:
		if c.broadcast != nil {
			c.broadcast.BroadcastBlock(stored)
		}
		return stored, core.Inserted, nil
	default:
		metrics.BlocksRejected.Inc()
		return nil, core.Rejected, fmt.Errorf("unexpected append result %s", result)
	}
}

func (c *Coordinator) payloadToBlock(p *CommitPayload) (*types.Block, error) {
	nonce, err := strconv.ParseUint(strings.TrimSpace(p.Nonce), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce: %v", ErrShapeInvalid, err)
	}
	createdAt, err := types.ParseTimestamp(p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeInvalid, err)
	}
	b := &types.Block{
		CreatorID:        p.CreatorID,
		Hash:             strings.ToLower(strings.TrimSpace(p.BlockHash)),
		Nonce:            nonce,
		Difficulty:       p.Difficulty,
		EncryptedData:    p.EncryptedData,
		DataIV:           p.DataIV,
		EncryptedDataKey: p.EncryptedDataKey,
		DataSize:         p.DataSize,
		Signature:        p.Signature,
		CreatedAt:        createdAt,
		MiningDurationMs: p.MiningDurationMs,
	}
	prev := strings.ToLower(strings.TrimSpace(p.PreviousHash))
	if prev != "" && prev != params.GenesisParentHash {
		b.PreviousHash = prev
	}
	return b, nil
}
