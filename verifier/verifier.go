// Package verifier re-checks committed blocks in the background: hash,
// proof of work, chain link, signature and shape. Outcomes are the only
// mutation ever applied to a stored block.
package verifier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/crypto"
	"github.com/seal-network/gseal/metrics"
	"github.com/seal-network/gseal/params"
)

var log = logrus.WithField("prefix", "verifier")

// ChainStore is the minimal store interface the verifier consumes.
// Satisfied by core.ChainStore.
type ChainStore interface {
	PendingBlocks(ctx context.Context, limit int, minAge time.Duration) ([]*types.Block, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	CreatorByID(ctx context.Context, id uuid.UUID) (*types.Creator, error)
	MarkVerified(ctx context.Context, blockID uuid.UUID, ok bool, reason string) error
}

// Config tunes the verification loop.
type Config struct {
	Interval time.Duration
	Batch    int
	MinAge   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = params.DefaultVerifyInterval
	}
	if c.Batch <= 0 {
		c.Batch = params.DefaultVerifyBatch
	}
	if c.MinAge < 0 {
		c.MinAge = params.DefaultVerifyMinAge
	}
	return c
}

// Verifier runs the periodic verification ticks.
type Verifier struct {
	store ChainStore
	cfg   Config
	quit  chan struct{}
	done  chan struct{}
}

// New creates a stopped verifier.
func New(store ChainStore, cfg Config) *Verifier {
	return &Verifier{
		store: store,
		cfg:   cfg.withDefaults(),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start begins ticking in a background goroutine.
func (v *Verifier) Start() {
	go v.loop()
}

// Stop shuts the loop down and waits for the in-flight tick to finish.
func (v *Verifier) Stop() {
	close(v.quit)
	<-v.done
}

func (v *Verifier) loop() {
	defer close(v.done)
	ticker := time.NewTicker(v.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := v.Tick(context.Background()); err != nil {
				log.WithError(err).Warn("Verification tick failed")
			}
		case <-v.quit:
			return
		}
	}
}

// Tick verifies one batch of pending blocks, ascending by block number.
// Per-block failures mark the block unverified and continue; only
// store-level errors abort the tick.
func (v *Verifier) Tick(ctx context.Context) error {
	pending, err := v.store.PendingBlocks(ctx, v.cfg.Batch, v.cfg.MinAge)
	if err != nil {
		return err
	}
	for _, b := range pending {
		ok, reason := v.check(ctx, b)
		if err := v.store.MarkVerified(ctx, b.ID, ok, reason); err != nil {
			log.WithError(err).WithField("number", b.Number).Warn("Failed to record verification outcome")
			continue
		}
		if ok {
			metrics.VerifierPassed.Inc()
		} else {
			metrics.VerifierFailed.Inc()
			log.WithFields(logrus.Fields{"number": b.Number, "reason": reason}).Warn("Block failed verification")
		}
	}
	if len(pending) > 0 {
		log.WithField("count", len(pending)).Debug("Verification tick complete")
	}
	return nil
}

// check runs the five verification checks and returns the outcome with
// its audit reason.
func (v *Verifier) check(ctx context.Context, b *types.Block) (bool, string) {
	if !b.VerifyHash() {
		return false, "hash mismatch against canonical input"
	}
	if !b.VerifyPoW() {
		return false, "proof of work below difficulty"
	}
	if b.Number > 1 {
		parent, err := v.store.BlockByNumber(ctx, b.Number-1)
		if err != nil {
			return false, "parent block missing"
		}
		if b.PreviousHash != parent.Hash {
			return false, "previous hash does not match parent"
		}
	} else if b.PreviousHash != "" && b.PreviousHash != params.GenesisParentHash {
		return false, "genesis block references a previous hash"
	}
	creator, err := v.store.CreatorByID(ctx, b.CreatorID)
	if err != nil {
		return false, "creator missing or inactive"
	}
	pub, err := creator.PublicKey()
	if err != nil {
		return false, "creator key unparsable"
	}
	if err := crypto.VerifyHashSignature(pub, b.Hash, b.Signature); err != nil {
		return false, "signature invalid"
	}
	keySize, err := creator.WrappedKeySize()
	if err == nil {
		if err := b.SanityCheck(keySize); err != nil {
			return false, "shape invalid: " + err.Error()
		}
	}
	return true, "all checks passed"
}

var _ ChainStore = (*core.ChainStore)(nil)
