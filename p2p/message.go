package p2p

import "github.com/seal-network/gseal/core/types"

// Message kinds on the wire.
const (
	MsgChain = "CHAIN"
	MsgBlock = "BLOCK"
)

// Message is a framed JSON gossip message. A CHAIN carries the sender's
// full chain; a BLOCK carries one freshly appended block. Binary block
// fields travel hex encoded (the block's own JSON form) and are
// normalized to raw bytes on decode, so a recipient never depends on
// sender-side representation.
type Message struct {
	Type  string         `json:"type"`
	Chain []*types.Block `json:"chain,omitempty"`
	Block *types.Block   `json:"block,omitempty"`
}
