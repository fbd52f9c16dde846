// Package core implements the chain store: a Postgres backed append-only
// block log with a cached in-memory view of the chain. All writes happen
// inside a single transaction serialized by an advisory lock; the cached
// view is refreshed only after a successful commit and is a read
// optimization, never the authority.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/metrics"
)

var log = logrus.WithField("prefix", "core")

// ChainStore owns the persistent block log and the creators table.
type ChainStore struct {
	db *sql.DB

	mu     sync.RWMutex
	blocks []*types.Block // ascending by block number

	feed *eventFeed
}

// NewChainStore applies the schema and warms the in-memory view.
func NewChainStore(ctx context.Context, db *sql.DB) (*ChainStore, error) {
	cs := &ChainStore{db: db, feed: newEventFeed()}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := cs.Reload(ctx); err != nil {
		return nil, err
	}
	log.WithField("blocks", cs.ChainLength()).Info("Chain store initialised")
	return cs, nil
}

// Ping reports database liveness.
func (cs *ChainStore) Ping(ctx context.Context) error {
	return cs.db.PingContext(ctx)
}

// SubscribeChainEvent registers ch for new-tip notifications.
func (cs *ChainStore) SubscribeChainEvent(ch chan<- ChainEvent) *Subscription {
	return cs.feed.subscribe(ch)
}

// Reload replaces the cached view with the stored chain. Called at
// startup and whenever the view may have diverged from the database.
func (cs *ChainStore) Reload(ctx context.Context) error {
	blocks, err := cs.loadChain(ctx)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.blocks = blocks
	cs.mu.Unlock()
	return nil
}

func (cs *ChainStore) loadChain(ctx context.Context) ([]*types.Block, error) {
	rows, err := cs.db.QueryContext(ctx, selectBlock+` ORDER BY block_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	defer rows.Close()
	var blocks []*types.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// CurrentBlock returns the cached tip, or nil on an empty chain. Writers
// must not trust it: the authoritative tip is re-read inside the append
// transaction.
func (cs *ChainStore) CurrentBlock() *types.Block {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if len(cs.blocks) == 0 {
		return nil
	}
	return cs.blocks[len(cs.blocks)-1]
}

// ChainLength returns the cached chain length.
func (cs *ChainStore) ChainLength() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.blocks)
}

// Chain returns a snapshot of the cached view.
func (cs *ChainStore) Chain() []*types.Block {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*types.Block, len(cs.blocks))
	copy(out, cs.blocks)
	return out
}

// AppendBlock atomically extends the chain with b. The block number is
// assigned inside the transaction from the authoritative tip; a non-zero
// b.Number (gossiped blocks carry one) must match it. A block whose hash
// already exists yields Duplicate and the stored block. Constraint
// violations yield Rejected with a *RejectedError.
func (cs *ChainStore) AppendBlock(ctx context.Context, b *types.Block) (AppendResult, *types.Block, error) {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return Rejected, nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
		return Rejected, nil, err
	}

	if existing, err := cs.blockByHashTx(ctx, tx, b.Hash); err == nil {
		return Duplicate, existing, nil
	} else if !errors.Is(err, ErrUnknownBlock) {
		return Rejected, nil, err
	}

	tipNumber, tipHash, err := tipTx(ctx, tx)
	if err != nil && !errors.Is(err, ErrNoTip) {
		return Rejected, nil, err
	}

	next := tipNumber + 1
	if b.Number != 0 && b.Number != next {
		return Rejected, nil, &RejectedError{Constraint: "blocks_number_monotone",
			Reason: fmt.Sprintf("block number %d, chain expects %d", b.Number, next)}
	}
	if next == 1 {
		if b.PreviousHash != "" {
			return Rejected, nil, &RejectedError{Constraint: "blocks_genesis_shape",
				Reason: "genesis block must not reference a previous hash"}
		}
	} else if b.PreviousHash != tipHash {
		return Rejected, nil, &RejectedError{Constraint: "blocks_previous_hash",
			Reason: fmt.Sprintf("previous_hash %s does not match tip %s", b.PreviousHash, tipHash)}
	}

	ins := *b
	ins.Number = next
	if ins.ID == uuid.Nil {
		ins.ID = uuid.New()
	}
	ins.CreatedAt = ins.CreatedAt.UTC().Truncate(time.Millisecond)

	if err := insertBlockTx(ctx, tx, &ins); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			if pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == "blocks_block_hash_key" {
				// Lost a race after the duplicate pre-check. The insert
				// transaction is aborted at this point, so the stored row
				// is re-read outside it.
				existing, derr := cs.blockByHash(ctx, b.Hash)
				if derr != nil {
					return Rejected, nil, derr
				}
				return Duplicate, existing, nil
			}
			return Rejected, nil, &RejectedError{Constraint: pqErr.Constraint, Reason: pqErr.Message}
		}
		return Rejected, nil, err
	}
	if err := auditTx(ctx, tx, "BLOCK_APPENDED", ins.ID, ins.Hash,
		fmt.Sprintf("block %d appended", ins.Number)); err != nil {
		return Rejected, nil, err
	}
	if err := tx.Commit(); err != nil {
		return Rejected, nil, err
	}

	cs.mu.Lock()
	cs.blocks = append(cs.blocks, &ins)
	cs.mu.Unlock()
	metrics.BlocksAppended.Inc()
	cs.feed.post(ChainEvent{Block: &ins})
	log.WithFields(logrus.Fields{"number": ins.Number, "hash": short(ins.Hash)}).Info("Block appended")
	return Inserted, &ins, nil
}

// ReplaceChain atomically swaps the stored chain for candidate. The
// candidate must be strictly longer than the local chain; callers are
// responsible for fully validating it first (see ValidateChain). On any
// failure the previous chain is left intact.
func (cs *ChainStore) ReplaceChain(ctx context.Context, candidate []*types.Block) error {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
		return err
	}
	var current int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM blocks`).Scan(&current); err != nil {
		return err
	}
	if len(candidate) <= current {
		return ErrChainTooShort
	}
	if _, err := tx.ExecContext(ctx, `SET LOCAL gseal.allow_replace = 'on'`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks`); err != nil {
		return fmt.Errorf("clear chain: %w", err)
	}
	for _, b := range candidate {
		ins := *b
		if ins.ID == uuid.Nil {
			ins.ID = uuid.New()
		}
		ins.CreatedAt = ins.CreatedAt.UTC().Truncate(time.Millisecond)
		if err := insertBlockTx(ctx, tx, &ins); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return &RejectedError{Constraint: pqErr.Constraint, Reason: pqErr.Message}
			}
			return err
		}
	}
	tip := candidate[len(candidate)-1]
	if err := auditTx(ctx, tx, "CHAIN_REPLACED", tip.ID, tip.Hash,
		fmt.Sprintf("chain of %d replaced by %d blocks", current, len(candidate))); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.ChainReplacements.Inc()
	if err := cs.Reload(ctx); err != nil {
		// The swap is committed at this point, so a failed cache refresh
		// is not a failed replacement. The view catches up on the next
		// successful reload.
		log.WithError(err).Error("Chain replaced but cache reload failed")
	}
	cs.feed.post(ChainEvent{Block: tip, Replaced: true})
	log.WithFields(logrus.Fields{"old": current, "new": len(candidate)}).Info("Chain replaced")
	return nil
}

// MarkVerified records a verification outcome. The row update and the
// audit event commit in the same transaction, so no outcome is ever
// recorded without its audit trail.
func (cs *ChainStore) MarkVerified(ctx context.Context, blockID uuid.UUID, ok bool, reason string) error {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE blocks SET verified = $2, verified_at = now() WHERE block_id = $1`, blockID, ok)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownBlock
	}
	event := "BLOCK_VERIFIED_OK"
	if !ok {
		event = "BLOCK_VERIFIED_FAIL"
	}
	if err := auditTx(ctx, tx, event, blockID, "", reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Copy-on-write: Chain() snapshots share block pointers with the
	// cached view, so the entry is replaced rather than mutated in place.
	cs.mu.Lock()
	now := time.Now().UTC()
	for i, b := range cs.blocks {
		if b.ID == blockID {
			cp := *b
			cp.Verified = ok
			cp.VerifiedAt = &now
			cs.blocks[i] = &cp
			break
		}
	}
	cs.mu.Unlock()
	return nil
}

// PendingBlocks returns up to limit unverified blocks older than minAge,
// ascending by block number.
func (cs *ChainStore) PendingBlocks(ctx context.Context, limit int, minAge time.Duration) ([]*types.Block, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := cs.db.QueryContext(ctx, selectBlock+`
		WHERE NOT verified AND created_at <= $1
		ORDER BY block_number ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BlockByNumber fetches a single block from the store.
func (cs *ChainStore) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	row := cs.db.QueryRowContext(ctx, selectBlock+` WHERE block_number = $1`, int64(number))
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownBlock
	}
	return b, err
}

// PageSort selects the ordering of paginated reads.
type PageSort string

const (
	SortNewest      PageSort = "newest"
	SortOldest      PageSort = "oldest"
	SortBlockNumber PageSort = "block_number"
)

// VerifiedFilter narrows paginated reads by verification state.
type VerifiedFilter string

const (
	VerifiedAll  VerifiedFilter = "all"
	VerifiedOnly VerifiedFilter = "true"
	VerifiedNone VerifiedFilter = "false"
)

// PaginatedBlocks serves the external chain view. Returns the page and
// the total number of matching blocks.
func (cs *ChainStore) PaginatedBlocks(ctx context.Context, page, limit int, filter VerifiedFilter, sort PageSort) ([]*types.Block, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	where := ""
	switch filter {
	case VerifiedOnly:
		where = ` WHERE verified`
	case VerifiedNone:
		where = ` WHERE NOT verified`
	}
	order := ` ORDER BY block_number DESC`
	switch sort {
	case SortOldest, SortBlockNumber:
		order = ` ORDER BY block_number ASC`
	}

	var total int
	if err := cs.db.QueryRowContext(ctx, `SELECT count(*) FROM blocks`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := cs.db.QueryContext(ctx,
		selectBlock+where+order+` LIMIT $1 OFFSET $2`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*types.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// EnvelopesByCreator returns the decryption envelopes for every block the
// creator sealed, ascending by block number.
func (cs *ChainStore) EnvelopesByCreator(ctx context.Context, creatorID uuid.UUID) ([]*types.Envelope, error) {
	rows, err := cs.db.QueryContext(ctx,
		selectBlock+` WHERE creator_id = $1 ORDER BY block_number ASC`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Envelope
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, types.NewEnvelope(b))
	}
	return out, rows.Err()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
