package types

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seal-network/gseal/params"
)

// blockJSON is the external form of a block: binary fields as lowercase
// hex strings, nonce string-encoded to survive 64-bit-unsafe JSON
// decoders. Both the HTTP API and the peer protocol use it.
type blockJSON struct {
	BlockID          string  `json:"block_id"`
	BlockNumber      uint64  `json:"block_number"`
	CreatorID        string  `json:"creator_id"`
	PreviousHash     *string `json:"previous_hash"`
	BlockHash        string  `json:"block_hash"`
	Nonce            string  `json:"nonce"`
	Difficulty       int     `json:"difficulty"`
	EncryptedData    string  `json:"encrypted_data"`
	DataIV           string  `json:"data_iv"`
	EncryptedDataKey string  `json:"encrypted_data_key"`
	DataSize         int     `json:"data_size"`
	Signature        string  `json:"signature"`
	CreatedAt        string  `json:"created_at"`
	Verified         bool    `json:"verified"`
	VerifiedAt       *string `json:"verified_at"`
	MiningDurationMs int64   `json:"mining_duration_ms"`
}

// MarshalJSON implements json.Marshaler.
func (b *Block) MarshalJSON() ([]byte, error) {
	out := blockJSON{
		BlockID:          b.ID.String(),
		BlockNumber:      b.Number,
		CreatorID:        b.CreatorID.String(),
		BlockHash:        b.Hash,
		Nonce:            strconv.FormatUint(b.Nonce, 10),
		Difficulty:       b.Difficulty,
		EncryptedData:    hex.EncodeToString(b.EncryptedData),
		DataIV:           hex.EncodeToString(b.DataIV),
		EncryptedDataKey: hex.EncodeToString(b.EncryptedDataKey),
		DataSize:         b.DataSize,
		Signature:        hex.EncodeToString(b.Signature),
		CreatedAt:        CanonicalTime(b.CreatedAt),
		Verified:         b.Verified,
		MiningDurationMs: b.MiningDurationMs,
	}
	if b.PreviousHash != "" {
		prev := b.PreviousHash
		out.PreviousHash = &prev
	}
	if b.VerifiedAt != nil {
		at := b.VerifiedAt.UTC().Format(time.RFC3339)
		out.VerifiedAt = &at
	}
	return json.Marshal(&out)
}

// UnmarshalJSON implements json.Unmarshaler. Incoming hex is normalized
// to raw bytes; a previous_hash equal to the genesis sentinel is kept as
// the sentinel string, null becomes the empty string.
func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	id, err := uuid.Parse(in.BlockID)
	if err != nil {
		return fmt.Errorf("invalid block_id: %w", err)
	}
	creator := uuid.Nil
	if in.CreatorID != "" {
		if creator, err = uuid.Parse(in.CreatorID); err != nil {
			return fmt.Errorf("invalid creator_id: %w", err)
		}
	}
	nonce, err := strconv.ParseUint(strings.TrimSpace(in.Nonce), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}
	encData, err := DecodeHexField("encrypted_data", in.EncryptedData)
	if err != nil {
		return err
	}
	iv, err := DecodeHexField("data_iv", in.DataIV)
	if err != nil {
		return err
	}
	wrapped, err := DecodeHexField("encrypted_data_key", in.EncryptedDataKey)
	if err != nil {
		return err
	}
	sig, err := DecodeHexField("signature", in.Signature)
	if err != nil {
		return err
	}
	createdAt, err := ParseTimestamp(in.CreatedAt)
	if err != nil {
		return fmt.Errorf("invalid created_at: %w", err)
	}
	*b = Block{
		ID:               id,
		Number:           in.BlockNumber,
		CreatorID:        creator,
		Hash:             strings.ToLower(in.BlockHash),
		Nonce:            nonce,
		Difficulty:       in.Difficulty,
		EncryptedData:    encData,
		DataIV:           iv,
		EncryptedDataKey: wrapped,
		DataSize:         in.DataSize,
		Signature:        sig,
		CreatedAt:        createdAt,
		Verified:         in.Verified,
		MiningDurationMs: in.MiningDurationMs,
	}
	if in.PreviousHash != nil && *in.PreviousHash != "" && *in.PreviousHash != params.GenesisParentHash {
		b.PreviousHash = strings.ToLower(*in.PreviousHash)
	}
	if in.VerifiedAt != nil {
		at, err := time.Parse(time.RFC3339, *in.VerifiedAt)
		if err != nil {
			return fmt.Errorf("invalid verified_at: %w", err)
		}
		b.VerifiedAt = &at
	}
	return nil
}

// Envelope is the minimal per-creator view a client needs to decrypt a
// block offline. Payloads travel base64 encoded.
type Envelope struct {
	BlockID          uuid.UUID `json:"block_id"`
	BlockNumber      uint64    `json:"block_number"`
	BlockHash        string    `json:"block_hash"`
	CreatedAt        time.Time `json:"created_at"`
	EncryptedData    b64Bytes  `json:"encrypted_data"`
	DataIV           b64Bytes  `json:"data_iv"`
	EncryptedDataKey b64Bytes  `json:"encrypted_data_key"`
	DataSize         int       `json:"data_size"`
	Verified         bool      `json:"verified"`
}

type b64Bytes []byte

func (b b64Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *b64Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// NewEnvelope projects a block into its decryption envelope.
func NewEnvelope(b *Block) *Envelope {
	return &Envelope{
		BlockID:          b.ID,
		BlockNumber:      b.Number,
		BlockHash:        b.Hash,
		CreatedAt:        b.CreatedAt.UTC(),
		EncryptedData:    b64Bytes(b.EncryptedData),
		DataIV:           b64Bytes(b.DataIV),
		EncryptedDataKey: b64Bytes(b.EncryptedDataKey),
		DataSize:         b.DataSize,
		Verified:         b.Verified,
	}
}

// DecodeHexField decodes a lowercase or uppercase hex string, attributing
// errors to the named wire field.
func DecodeHexField(field, value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid hex in %s: %w", field, err)
	}
	return raw, nil
}

// ParseTimestamp accepts the canonical layout as well as RFC3339 with or
// without sub-second digits, so clients on different JSON stacks
// interoperate. The canonical rendering is still CanonicalTime.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{params.TimestampLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
