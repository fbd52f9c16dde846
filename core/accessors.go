package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seal-network/gseal/core/types"
)

const selectBlock = `
	SELECT block_id, block_number, creator_id, previous_hash, block_hash,
	       nonce::text, difficulty, encrypted_data, data_iv,
	       encrypted_data_key, data_size, signature, created_at,
	       verified, verified_at, mining_duration_ms
	FROM blocks`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (*types.Block, error) {
	var (
		b          types.Block
		prevHash   sql.NullString
		nonceText  string
		createdAt  time.Time
		verifiedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Number, &b.CreatorID, &prevHash, &b.Hash,
		&nonceText, &b.Difficulty, &b.EncryptedData, &b.DataIV,
		&b.EncryptedDataKey, &b.DataSize, &b.Signature, &createdAt,
		&b.Verified, &verifiedAt, &b.MiningDurationMs)
	if err != nil {
		return nil, err
	}
	nonce, err := strconv.ParseUint(strings.TrimSpace(nonceText), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stored nonce %q: %w", nonceText, err)
	}
	b.Nonce = nonce
	b.Hash = strings.TrimSpace(b.Hash)
	if prevHash.Valid {
		b.PreviousHash = strings.TrimSpace(prevHash.String)
	}
	b.CreatedAt = createdAt.UTC()
	if verifiedAt.Valid {
		at := verifiedAt.Time.UTC()
		b.VerifiedAt = &at
	}
	return &b, nil
}

func insertBlockTx(ctx context.Context, tx *sql.Tx, b *types.Block) error {
	var prev interface{}
	if b.PreviousHash != "" {
		prev = b.PreviousHash
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (
			block_id, block_number, creator_id, previous_hash, block_hash,
			nonce, difficulty, encrypted_data, data_iv, encrypted_data_key,
			data_size, signature, created_at, verified, verified_at,
			mining_duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		b.ID, int64(b.Number), b.CreatorID, prev, b.Hash,
		strconv.FormatUint(b.Nonce, 10), b.Difficulty, b.EncryptedData,
		b.DataIV, b.EncryptedDataKey, b.DataSize, b.Signature,
		b.CreatedAt, b.Verified, b.VerifiedAt, b.MiningDurationMs)
	return err
}

func tipTx(ctx context.Context, tx *sql.Tx) (uint64, string, error) {
	var (
		number int64
		hash   string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT block_number, block_hash FROM blocks ORDER BY block_number DESC LIMIT 1`).
		Scan(&number, &hash)
	if err == sql.ErrNoRows {
		return 0, "", ErrNoTip
	}
	if err != nil {
		return 0, "", err
	}
	return uint64(number), strings.TrimSpace(hash), nil
}

func (cs *ChainStore) blockByHashTx(ctx context.Context, tx *sql.Tx, hash string) (*types.Block, error) {
	row := tx.QueryRowContext(ctx, selectBlock+` WHERE block_hash = $1`, hash)
	b, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownBlock
	}
	return b, err
}

func (cs *ChainStore) blockByHash(ctx context.Context, hash string) (*types.Block, error) {
	row := cs.db.QueryRowContext(ctx, selectBlock+` WHERE block_hash = $1`, hash)
	b, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownBlock
	}
	return b, err
}

func auditTx(ctx context.Context, tx *sql.Tx, event string, blockID uuid.UUID, blockHash, detail string) error {
	var hash interface{}
	if blockHash != "" {
		hash = blockHash
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit.events (event_type, block_id, block_hash, detail) VALUES ($1,$2,$3,$4)`,
		event, blockID, hash, detail)
	return err
}
