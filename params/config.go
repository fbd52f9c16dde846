package params

import "time"

// Protocol constants. These are part of the wire contract between nodes
// and clients: changing any of them breaks hash verification across the
// cluster.
const (
	// GenesisParentHash is the sentinel used as previous_hash in the
	// canonical hash input of the first block.
	GenesisParentHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// HashHexLen is the length of a lowercase hex encoded SHA-256 digest.
	HashHexLen = 64

	// DataIVSize is the AES-GCM nonce size used for block payloads.
	DataIVSize = 16

	// GCMTagSize is the length of the auth tag appended to the ciphertext.
	GCMTagSize = 16

	// MinCreatorKeyBits is the smallest acceptable RSA modulus.
	MinCreatorKeyBits = 2048

	// WrappedKeySize is the size of the RSA-OAEP wrapped data key for a
	// 2048 bit creator key. Larger keys produce proportionally larger
	// wrapped keys; the commit pipeline checks against the creator's
	// actual modulus size.
	WrappedKeySize = 256

	// DataSizeTolerance bounds the difference between the declared
	// data_size and the measured ciphertext+iv+key sum.
	DataSizeTolerance = 128

	// MinBlockDifficulty and MaxBlockDifficulty bound the difficulty a
	// stored block may carry.
	MinBlockDifficulty = 1
	MaxBlockDifficulty = 10

	// MinConfigDifficulty and MaxConfigDifficulty bound the difficulty a
	// node will hand out in prepare responses.
	MinConfigDifficulty = 1
	MaxConfigDifficulty = 8

	// TimestampLayout is the canonical ISO-8601 rendering of created_at
	// inside the hash input. Millisecond precision, always UTC.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// Node defaults, overridable by flags and environment.
const (
	DefaultHTTPPort      = 4001
	DefaultP2PPort       = 6001
	DefaultDifficulty    = 4
	DefaultMaxDataSize   = 1 << 20 // 1 MiB of plaintext
	DefaultMiningTimeout = 120 * time.Second

	DefaultVerifyInterval = time.Minute
	DefaultVerifyBatch    = 50
	DefaultVerifyMinAge   = 5 * time.Second

	// DefaultDialRetry is the backoff between reconnect attempts to a
	// configured peer.
	DefaultDialRetry = 10 * time.Second
)
