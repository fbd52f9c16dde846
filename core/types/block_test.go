package types

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seal-network/gseal/params"
)

// goldenBlock has every hashed field pinned so the canonical pre-image
// and its digest stay reproducible across refactors.
func goldenBlock(t *testing.T) *Block {
	t.Helper()
	iv, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	data, err := hex.DecodeString("00112233445566778899aabbccddeeff0123")
	require.NoError(t, err)
	return &Block{
		CreatorID:        uuid.MustParse("b1a8c0de-0000-4000-8000-000000000001"),
		Nonce:            42,
		Difficulty:       4,
		EncryptedData:    data,
		DataIV:           iv,
		EncryptedDataKey: []byte{0xff, 0xff, 0xff, 0xff},
		CreatedAt:        time.Date(2024, 1, 2, 3, 4, 5, 678000000, time.UTC),
	}
}

func TestHashInputCanonicalForm(t *testing.T) {
	b := goldenBlock(t)
	want := params.GenesisParentHash +
		"|00112233445566778899aabbccddeeff0123" +
		"|000102030405060708090a0b0c0d0e0f" +
		"|ffffffff" +
		"|42" +
		"|2024-01-02T03:04:05.678Z" +
		"|b1a8c0de-0000-4000-8000-000000000001" +
		"|4"
	assert.Equal(t, want, b.HashInput())
	assert.Equal(t, "7a474945c9f4cf21c425e66af92970419423d27447c94dd36fbc77c6fc05e9ef", b.ComputeHash())
}

func TestHashInputParentSubstitution(t *testing.T) {
	b := goldenBlock(t)
	genesis := b.ComputeHash()

	b.PreviousHash = genesis
	assert.NotEqual(t, genesis, b.ComputeHash(), "parent hash must feed the pre-image")
	assert.Equal(t, genesis, b.ParentHash())

	b.PreviousHash = ""
	assert.Equal(t, params.GenesisParentHash, b.ParentHash())
}

func TestHashInputNilCreator(t *testing.T) {
	b := goldenBlock(t)
	b.CreatorID = uuid.Nil
	// An absent creator leaves its field empty, not the nil UUID text.
	assert.Contains(t, b.HashInput(), "|2024-01-02T03:04:05.678Z||4")
}

func TestVerifyHash(t *testing.T) {
	b := goldenBlock(t)
	b.Hash = b.ComputeHash()
	assert.True(t, b.VerifyHash())

	b.Nonce++
	assert.False(t, b.VerifyHash(), "nonce change must invalidate the stored hash")
}

func TestCanonicalTimeRendering(t *testing.T) {
	// Sub-millisecond precision and non-UTC zones must not leak into the
	// canonical form.
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2024, 6, 1, 13, 30, 0, 123456789, loc)
	assert.Equal(t, "2024-06-01T12:30:00.123Z", CanonicalTime(at))
	assert.Equal(t, "2024-01-02T03:04:05.000Z", CanonicalTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2024-01-02T03:04:05.678Z",
		"2024-01-02T03:04:05.678912Z",
		"2024-01-02T03:04:05Z",
		"2024-01-02T04:04:05.678+01:00",
	} {
		at, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.UTC, at.Location())
	}
	_, err := ParseTimestamp("02 Jan 2024 03:04")
	assert.Error(t, err)
}

func TestCheckPoW(t *testing.T) {
	tests := []struct {
		hash       string
		difficulty int
		want       bool
	}{
		{"0000ab" + zeros(58), 4, true},
		{"000fab" + zeros(58), 4, false},
		{"0" + zeros(63), 1, true},
		{"f" + zeros(63), 1, false},
		{zeros(64), 10, true},
		{zeros(64), 0, false},  // below protocol minimum
		{zeros(64), 11, false}, // above protocol maximum
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckPoW(tt.hash, tt.difficulty), "hash %s difficulty %d", tt.hash[:8], tt.difficulty)
	}
}

func TestIsHexHash(t *testing.T) {
	assert.True(t, IsHexHash(zeros(64)))
	assert.False(t, IsHexHash(zeros(63)))
	assert.False(t, IsHexHash(zeros(65)))
	assert.False(t, IsHexHash("ABCD"+zeros(60)), "uppercase is not canonical")
	assert.False(t, IsHexHash("xy"+zeros(62)))
}

func TestSanityCheck(t *testing.T) {
	const keySize = 256
	valid := func() *Block {
		return &Block{
			Hash:             zeros(64),
			Difficulty:       4,
			EncryptedData:    make([]byte, 48),
			DataIV:           make([]byte, params.DataIVSize),
			EncryptedDataKey: make([]byte, keySize),
			DataSize:         48 + params.DataIVSize + keySize,
		}
	}
	require.NoError(t, valid().SanityCheck(keySize))

	t.Run("iv size", func(t *testing.T) {
		for _, n := range []int{15, 17} {
			b := valid()
			b.DataIV = make([]byte, n)
			assert.ErrorIs(t, b.SanityCheck(keySize), ErrBadIVSize)
		}
	})
	t.Run("wrapped key size", func(t *testing.T) {
		b := valid()
		b.EncryptedDataKey = make([]byte, keySize-1)
		assert.ErrorIs(t, b.SanityCheck(keySize), ErrBadWrappedKey)
	})
	t.Run("ciphertext below tag size", func(t *testing.T) {
		b := valid()
		b.EncryptedData = make([]byte, params.GCMTagSize-1)
		b.DataSize = len(b.EncryptedData) + params.DataIVSize + keySize
		assert.ErrorIs(t, b.SanityCheck(keySize), ErrCiphertextShort)
	})
	t.Run("difficulty range", func(t *testing.T) {
		for _, d := range []int{0, 11} {
			b := valid()
			b.Difficulty = d
			assert.ErrorIs(t, b.SanityCheck(keySize), ErrBadDifficulty)
		}
	})
	t.Run("hash format", func(t *testing.T) {
		b := valid()
		b.Hash = "not-a-digest"
		assert.ErrorIs(t, b.SanityCheck(keySize), ErrBadHashFormat)
	})
	t.Run("data size tolerance", func(t *testing.T) {
		b := valid()
		b.DataSize += params.DataSizeTolerance
		assert.NoError(t, b.SanityCheck(keySize), "within tolerance")
		b.DataSize++
		assert.ErrorIs(t, b.SanityCheck(keySize), ErrBadDataSize)

		b = valid()
		b.DataSize = 0
		assert.ErrorIs(t, b.SanityCheck(keySize), ErrBadDataSize)
	})
}

func TestBlockJSONRoundTrip(t *testing.T) {
	at := time.Now().UTC()
	b := goldenBlock(t)
	b.ID = uuid.New()
	b.Number = 7
	b.PreviousHash = "ab" + zeros(62)
	b.Hash = b.ComputeHash()
	b.Signature = []byte{1, 2, 3}
	b.DataSize = 22
	b.Verified = true
	b.VerifiedAt = &at
	b.MiningDurationMs = 314

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	// Nonce travels as a string so 64-bit-unsafe decoders survive it.
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "42", wire["nonce"])
	assert.Equal(t, "2024-01-02T03:04:05.678Z", wire["created_at"])

	var got Block
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Number, got.Number)
	assert.Equal(t, b.PreviousHash, got.PreviousHash)
	assert.Equal(t, b.Hash, got.Hash)
	assert.Equal(t, b.Nonce, got.Nonce)
	assert.Equal(t, b.EncryptedData, got.EncryptedData)
	assert.Equal(t, b.DataIV, got.DataIV)
	assert.Equal(t, b.EncryptedDataKey, got.EncryptedDataKey)
	assert.Equal(t, b.Signature, got.Signature)
	assert.Equal(t, b.HashInput(), got.HashInput(), "round trip must preserve the pre-image")
}

func TestBlockJSONGenesisSentinel(t *testing.T) {
	b := goldenBlock(t)
	b.ID = uuid.New()
	b.Number = 1
	b.Hash = b.ComputeHash()
	b.Signature = []byte{1}

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Nil(t, wire["previous_hash"], "genesis serializes previous_hash as null")

	// Peers that render the sentinel instead of null normalize back to
	// the empty internal form.
	var got Block
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Empty(t, got.PreviousHash)

	withSentinel := []byte(`{"block_id":"` + b.ID.String() +
		`","block_number":1,"creator_id":"` + b.CreatorID.String() +
		`","previous_hash":"` + params.GenesisParentHash +
		`","block_hash":"` + b.Hash +
		`","nonce":"42","difficulty":4,"encrypted_data":"00","data_iv":"00","encrypted_data_key":"00","data_size":3,"signature":"01","created_at":"2024-01-02T03:04:05.678Z","verified":false,"verified_at":null,"mining_duration_ms":0}`)
	var norm Block
	require.NoError(t, json.Unmarshal(withSentinel, &norm))
	assert.Empty(t, norm.PreviousHash)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	b := goldenBlock(t)
	b.ID = uuid.New()
	b.Number = 3
	b.Hash = b.ComputeHash()
	b.DataSize = 22

	env := NewEnvelope(b)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, b.ID, got.BlockID)
	assert.Equal(t, []byte(env.EncryptedData), []byte(got.EncryptedData))
	assert.Equal(t, []byte(env.DataIV), []byte(got.DataIV))
	assert.Equal(t, []byte(env.EncryptedDataKey), []byte(got.EncryptedDataKey))
}

func zeros(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = '0'
	}
	return string(buf)
}
