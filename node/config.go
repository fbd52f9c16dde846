package node

import (
	"fmt"
	"time"

	"github.com/seal-network/gseal/params"
)

// Config collects everything a node needs to run. Zero values fall back
// to the defaults in params.
type Config struct {
	HTTPPort int
	P2PPort  int
	Peers    []string

	DatabaseURL string

	Difficulty    int
	MaxDataSize   int
	MiningTimeout time.Duration

	VerifyInterval time.Duration
	VerifyBatch    int
	VerifyMinAge   time.Duration

	EnableMetrics bool
}

// Sanitize applies defaults and rejects unusable settings.
func (c *Config) Sanitize() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = params.DefaultHTTPPort
	}
	if c.P2PPort == 0 {
		c.P2PPort = params.DefaultP2PPort
	}
	if c.Difficulty == 0 {
		c.Difficulty = params.DefaultDifficulty
	}
	if c.Difficulty < params.MinConfigDifficulty || c.Difficulty > params.MaxConfigDifficulty {
		return fmt.Errorf("difficulty %d outside [%d, %d]",
			c.Difficulty, params.MinConfigDifficulty, params.MaxConfigDifficulty)
	}
	if c.MaxDataSize == 0 {
		c.MaxDataSize = params.DefaultMaxDataSize
	}
	if c.MiningTimeout == 0 {
		c.MiningTimeout = params.DefaultMiningTimeout
	}
	if c.VerifyInterval == 0 {
		c.VerifyInterval = params.DefaultVerifyInterval
	}
	if c.VerifyBatch == 0 {
		c.VerifyBatch = params.DefaultVerifyBatch
	}
	if c.VerifyMinAge == 0 {
		c.VerifyMinAge = params.DefaultVerifyMinAge
	}
	return nil
}
