package core

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/seal-network/gseal/core/types"
)

// CreatorInfo is a creator joined with its block count, for listings.
type CreatorInfo struct {
	Creator    types.Creator
	BlockCount int
}

// CreatorByName looks up an active creator by display name.
func (cs *ChainStore) CreatorByName(ctx context.Context, displayName string) (*types.Creator, error) {
	return cs.creatorWhere(ctx, `display_name = $1 AND active`, displayName)
}

// CreatorByID looks up an active creator by id.
func (cs *ChainStore) CreatorByID(ctx context.Context, id uuid.UUID) (*types.Creator, error) {
	return cs.creatorWhere(ctx, `creator_id = $1 AND active`, id)
}

func (cs *ChainStore) creatorWhere(ctx context.Context, where string, arg interface{}) (*types.Creator, error) {
	var c types.Creator
	err := cs.db.QueryRowContext(ctx, `
		SELECT creator_id, display_name, public_key_pem, active, created_at
		FROM creators WHERE `+where, arg).
		Scan(&c.ID, &c.DisplayName, &c.PublicKeyPEM, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownCreator
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// RegisterCreator validates and inserts a new creator record.
func (cs *ChainStore) RegisterCreator(ctx context.Context, displayName, publicKeyPEM string) (*types.Creator, error) {
	if err := types.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if _, err := types.ParseRSAPublicKey(publicKeyPEM); err != nil {
		return nil, err
	}
	c := &types.Creator{
		ID:           uuid.New(),
		DisplayName:  displayName,
		PublicKeyPEM: publicKeyPEM,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := cs.db.ExecContext(ctx, `
		INSERT INTO creators (creator_id, display_name, public_key_pem, active, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.DisplayName, c.PublicKeyPEM, c.Active, c.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return nil, ErrDuplicateName
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Creators lists all active creators with their block counts.
func (cs *ChainStore) Creators(ctx context.Context) ([]*CreatorInfo, error) {
	rows, err := cs.db.QueryContext(ctx, `
		SELECT c.creator_id, c.display_name, c.public_key_pem, c.active,
		       c.created_at, count(b.block_id)
		FROM creators c
		LEFT JOIN blocks b ON b.creator_id = c.creator_id
		WHERE c.active
		GROUP BY c.creator_id
		ORDER BY c.display_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CreatorInfo
	for rows.Next() {
		var info CreatorInfo
		if err := rows.Scan(&info.Creator.ID, &info.Creator.DisplayName,
			&info.Creator.PublicKeyPEM, &info.Creator.Active,
			&info.Creator.CreatedAt, &info.BlockCount); err != nil {
			return nil, err
		}
		info.Creator.CreatedAt = info.Creator.CreatedAt.UTC()
		out = append(out, &info)
	}
	return out, rows.Err()
}

// CreatorStats aggregates the creator table.
type CreatorStats struct {
	TotalCreators  int     `json:"total_creators"`
	ActiveCreators int     `json:"active_creators"`
	AvgKeySize     float64 `json:"avg_key_size"`
	TotalBlocks    int     `json:"total_blocks"`
}

// CreatorStatsSummary computes aggregate creator statistics. Key sizes
// are derived from the stored PEMs in process since the database has no
// notion of RSA moduli.
func (cs *ChainStore) CreatorStatsSummary(ctx context.Context) (*CreatorStats, error) {
	var stats CreatorStats
	err := cs.db.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE active), (SELECT count(*) FROM blocks)
		FROM creators`).
		Scan(&stats.TotalCreators, &stats.ActiveCreators, &stats.TotalBlocks)
	if err != nil {
		return nil, err
	}
	infos, err := cs.Creators(ctx)
	if err != nil {
		return nil, err
	}
	var bits, counted int
	for _, info := range infos {
		if kb := info.Creator.KeyBits(); kb > 0 {
			bits += kb
			counted++
		}
	}
	if counted > 0 {
		stats.AvgKeySize = float64(bits) / float64(counted)
	}
	return &stats, nil
}

// ChainStats aggregates the block table.
type ChainStats struct {
	TotalBlocks     int     `json:"total_blocks"`
	VerifiedBlocks  int     `json:"verified_blocks"`
	PendingBlocks   int     `json:"pending_blocks"`
	AvgMiningTimeMs float64 `json:"avg_mining_time_ms"`
	AvgDifficulty   float64 `json:"avg_difficulty"`
	LatestBlock     uint64  `json:"latest_block_number"`
	TotalDataBytes  int64   `json:"total_data_bytes"`
}

// ChainStatsSummary computes aggregate chain statistics.
func (cs *ChainStore) ChainStatsSummary(ctx context.Context) (*ChainStats, error) {
	var (
		stats  ChainStats
		avgMs  sql.NullFloat64
		avgDif sql.NullFloat64
		latest sql.NullInt64
		bytes  sql.NullInt64
	)
	err := cs.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE verified),
		       count(*) FILTER (WHERE NOT verified),
		       avg(mining_duration_ms),
		       avg(difficulty),
		       max(block_number),
		       sum(data_size)
		FROM blocks`).
		Scan(&stats.TotalBlocks, &stats.VerifiedBlocks, &stats.PendingBlocks,
			&avgMs, &avgDif, &latest, &bytes)
	if err != nil {
		return nil, err
	}
	stats.AvgMiningTimeMs = avgMs.Float64
	stats.AvgDifficulty = avgDif.Float64
	if latest.Valid {
		stats.LatestBlock = uint64(latest.Int64)
	}
	stats.TotalDataBytes = bytes.Int64
	return &stats, nil
}
