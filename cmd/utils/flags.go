// Package utils holds the flag definitions shared by the gseal command
// line tools, mirroring the environment keys the node reads in
// production deployments.
package utils

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/seal-network/gseal/internal/flags"
	"github.com/seal-network/gseal/node"
	"github.com/seal-network/gseal/params"
)

var (
	HTTPPortFlag = &cli.IntFlag{
		Name:     "port",
		Usage:    "HTTP API listening port",
		Value:    params.DefaultHTTPPort,
		EnvVars:  []string{"PORT"},
		Category: flags.APICategory,
	}
	P2PPortFlag = &cli.IntFlag{
		Name:     "p2p.port",
		Usage:    "Gossip listening port",
		Value:    params.DefaultP2PPort,
		EnvVars:  []string{"P2P_PORT"},
		Category: flags.NetworkingCategory,
	}
	PeersFlag = &cli.StringFlag{
		Name:     "peers",
		Usage:    "Comma separated peer gossip endpoints (host:port or ws:// URLs)",
		EnvVars:  []string{"PEERS"},
		Category: flags.NetworkingCategory,
	}
	DatabaseURLFlag = &cli.StringFlag{
		Name:     "db.url",
		Usage:    "PostgreSQL connection string",
		EnvVars:  []string{"DATABASE_URL"},
		Category: flags.DatabaseCategory,
	}
	DifficultyFlag = &cli.IntFlag{
		Name:     "difficulty",
		Usage:    "Required leading zero hex digits for new blocks (1-8)",
		Value:    params.DefaultDifficulty,
		EnvVars:  []string{"DIFFICULTY"},
		Category: flags.MiningCategory,
	}
	MiningTimeoutFlag = &cli.Int64Flag{
		Name:     "mining.timeout",
		Usage:    "Advisory mining timeout handed to clients, in milliseconds",
		Value:    params.DefaultMiningTimeout.Milliseconds(),
		EnvVars:  []string{"MINING_TIMEOUT_MS"},
		Category: flags.MiningCategory,
	}
	MaxDataSizeFlag = &cli.IntFlag{
		Name:     "maxdatasize",
		Usage:    "Plaintext upper bound in bytes",
		Value:    params.DefaultMaxDataSize,
		EnvVars:  []string{"MAX_DATA_SIZE"},
		Category: flags.MiningCategory,
	}
	VerifyIntervalFlag = &cli.Int64Flag{
		Name:     "verify.interval",
		Usage:    "Verifier tick period in milliseconds",
		Value:    params.DefaultVerifyInterval.Milliseconds(),
		EnvVars:  []string{"VERIFY_INTERVAL_MS"},
		Category: flags.VerifierCategory,
	}
	VerifyBatchFlag = &cli.IntFlag{
		Name:     "verify.batch",
		Usage:    "Maximum pending blocks verified per tick",
		Value:    params.DefaultVerifyBatch,
		EnvVars:  []string{"VERIFY_BATCH"},
		Category: flags.VerifierCategory,
	}
	MetricsFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Expose Prometheus metrics on /metrics",
		EnvVars:  []string{"METRICS"},
		Category: flags.MetricsCategory,
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:     "log.json",
		Usage:    "Format logs as JSON",
		EnvVars:  []string{"LOG_JSON"},
		Category: flags.LoggingCategory,
	}
	LogLevelFlag = &cli.StringFlag{
		Name:     "log.level",
		Usage:    "Log level (trace|debug|info|warn|error)",
		Value:    "info",
		EnvVars:  []string{"LOG_LEVEL"},
		Category: flags.LoggingCategory,
	}
)

// NodeFlags are all flags the node daemon understands.
var NodeFlags = []cli.Flag{
	HTTPPortFlag, P2PPortFlag, PeersFlag, DatabaseURLFlag,
	DifficultyFlag, MiningTimeoutFlag, MaxDataSizeFlag,
	VerifyIntervalFlag, VerifyBatchFlag, MetricsFlag,
	LogJSONFlag, LogLevelFlag,
}

// MakeNodeConfig assembles a node.Config from the CLI context.
func MakeNodeConfig(ctx *cli.Context) node.Config {
	var peers []string
	for _, p := range strings.Split(ctx.String(PeersFlag.Name), ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return node.Config{
		HTTPPort:       ctx.Int(HTTPPortFlag.Name),
		P2PPort:        ctx.Int(P2PPortFlag.Name),
		Peers:          peers,
		DatabaseURL:    ctx.String(DatabaseURLFlag.Name),
		Difficulty:     ctx.Int(DifficultyFlag.Name),
		MaxDataSize:    ctx.Int(MaxDataSizeFlag.Name),
		MiningTimeout:  time.Duration(ctx.Int64(MiningTimeoutFlag.Name)) * time.Millisecond,
		VerifyInterval: time.Duration(ctx.Int64(VerifyIntervalFlag.Name)) * time.Millisecond,
		VerifyBatch:    ctx.Int(VerifyBatchFlag.Name),
		EnableMetrics:  ctx.Bool(MetricsFlag.Name),
	}
}
