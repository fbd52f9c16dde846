// Package metrics registers the node's Prometheus collectors. Collection
// is always on; exposition is config-gated by the node (--metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "blocks_appended_total",
		Help:      "Blocks accepted into the local chain.",
	})
	BlocksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "blocks_rejected_total",
		Help:      "Commit attempts refused by validation or constraints.",
	})
	BlocksDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "blocks_duplicate_total",
		Help:      "Commit attempts that matched an existing block hash.",
	})
	ChainReplacements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "chain_replacements_total",
		Help:      "Wholesale chain replacements via peer sync.",
	})
	VerifierPassed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "verifier_passed_total",
		Help:      "Blocks that passed periodic re-verification.",
	})
	VerifierFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "verifier_failed_total",
		Help:      "Blocks that failed periodic re-verification.",
	})
	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gseal",
		Name:      "chain_height",
		Help:      "Block number of the current tip.",
	})
	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gseal",
		Name:      "p2p_peers",
		Help:      "Currently connected gossip peers.",
	})
	GossipMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gseal",
		Name:      "gossip_messages_total",
		Help:      "Gossip messages processed, by type.",
	}, []string{"type"})
)
