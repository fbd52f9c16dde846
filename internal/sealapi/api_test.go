package sealapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/internal/blocktest"
	"github.com/seal-network/gseal/miner"
)

// fakeStore serves canned data and records registrations.
type fakeStore struct {
	creator   *types.Creator
	blocks    []*types.Block
	envelopes []*types.Envelope
	pingErr   error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }
func (f *fakeStore) ChainLength() int           { return len(f.blocks) }

func (f *fakeStore) PaginatedBlocks(_ context.Context, page, limit int, _ core.VerifiedFilter, _ core.PageSort) ([]*types.Block, int, error) {
	return f.blocks, len(f.blocks), nil
}

func (f *fakeStore) EnvelopesByCreator(_ context.Context, creatorID uuid.UUID) ([]*types.Envelope, error) {
	return f.envelopes, nil
}

func (f *fakeStore) ChainStatsSummary(context.Context) (*core.ChainStats, error) {
	return &core.ChainStats{TotalBlocks: len(f.blocks)}, nil
}

func (f *fakeStore) CreatorStatsSummary(context.Context) (*core.CreatorStats, error) {
	return &core.CreatorStats{TotalCreators: 1, ActiveCreators: 1}, nil
}

func (f *fakeStore) Creators(context.Context) ([]*core.CreatorInfo, error) {
	if f.creator == nil {
		return nil, nil
	}
	return []*core.CreatorInfo{{Creator: *f.creator, BlockCount: len(f.blocks)}}, nil
}

func (f *fakeStore) CreatorByName(_ context.Context, displayName string) (*types.Creator, error) {
	if f.creator != nil && f.creator.DisplayName == displayName {
		return f.creator, nil
	}
	return nil, core.ErrUnknownCreator
}

func (f *fakeStore) RegisterCreator(_ context.Context, displayName, publicKeyPEM string) (*types.Creator, error) {
	if err := types.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if _, err := types.ParseRSAPublicKey(publicKeyPEM); err != nil {
		return nil, err
	}
	if f.creator != nil && f.creator.DisplayName == displayName {
		return nil, core.ErrDuplicateName
	}
	c := &types.Creator{ID: uuid.New(), DisplayName: displayName, PublicKeyPEM: publicKeyPEM, Active: true}
	f.creator = c
	return c, nil
}

// fakeCoordinator returns scripted results.
type fakeCoordinator struct {
	prep      *miner.Preparation
	prepErr   error
	block     *types.Block
	result    core.AppendResult
	commitErr error
}

func (f *fakeCoordinator) PrepareMining(context.Context, string, int) (*miner.Preparation, error) {
	return f.prep, f.prepErr
}

func (f *fakeCoordinator) CommitBlock(context.Context, *miner.CommitPayload) (*types.Block, core.AppendResult, error) {
	return f.block, f.result, f.commitErr
}

type fakePeers struct{ n int }

func (f fakePeers) PeerCount() int { return f.n }

func newTestServer(t *testing.T, store Store, coord Coordinator) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(store, coord, fakePeers{n: 2}, Config{}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	store := &fakeStore{creator: creator, blocks: blocktest.NewChain(creator, 2)}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var body map[string]interface{}
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "up", body["database"])
	assert.Equal(t, float64(2), body["blocks"])
	assert.Equal(t, float64(2), body["p2p_peers"])
}

func TestHealthDegraded(t *testing.T) {
	store := &fakeStore{pingErr: context.DeadlineExceeded}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var body map[string]interface{}
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "down", body["database"])
}

func TestRegisterCreator(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var body map[string]interface{}
	status := postJSON(t, srv.URL+"/creators", map[string]string{
		"display_name":   "alice",
		"public_key_pem": blocktest.PublicKeyPEM(),
	}, &body)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "alice", body["display_name"])
	assert.Equal(t, float64(2048), body["key_size"])

	// Taken name conflicts.
	var errBody errorBody
	status = postJSON(t, srv.URL+"/creators", map[string]string{
		"display_name":   "alice",
		"public_key_pem": blocktest.PublicKeyPEM(),
	}, &errBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeConflict, errBody.Code)
	assert.Equal(t, "fail", errBody.Status)
}

func TestRegisterCreatorValidation(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeCoordinator{})

	var errBody errorBody
	status := postJSON(t, srv.URL+"/creators", map[string]string{
		"display_name":   "x",
		"public_key_pem": blocktest.PublicKeyPEM(),
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, errBody.Code)

	status = postJSON(t, srv.URL+"/creators", map[string]string{
		"display_name":   "alice",
		"public_key_pem": "garbage",
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, errBody.Code)
}

func TestCreatorRoutes(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	store := &fakeStore{creator: creator}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var list map[string][]creatorView
	status := getJSON(t, srv.URL+"/creators", &list)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, list["creators"], 1)
	assert.Equal(t, "alice", list["creators"][0].DisplayName)
	assert.Equal(t, "RSA", list["creators"][0].KeyAlgorithm)

	// The shared-segment dispatcher serves both public-key and stats.
	var keyBody map[string]interface{}
	status = getJSON(t, srv.URL+"/creators/alice/public-key", &keyBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, creator.PublicKeyPEM, keyBody["public_key_pem"])

	var statsBody map[string]core.CreatorStats
	status = getJSON(t, srv.URL+"/creators/stats/summary", &statsBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, statsBody["stats"].TotalCreators)

	var errBody errorBody
	status = getJSON(t, srv.URL+"/creators/nobody/public-key", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeCreatorMissing, errBody.Code)

	status = getJSON(t, srv.URL+"/creators/alice/unknown-action", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, errBody.Code)
}

func TestListBlocks(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	store := &fakeStore{creator: creator, blocks: blocktest.NewChain(creator, 2)}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var body struct {
		Blocks []*types.Block `json:"blocks"`
		Total  int            `json:"total"`
		Page   int            `json:"page"`
	}
	status := getJSON(t, srv.URL+"/blocks?page=1&limit=10", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.Page)
	require.Len(t, body.Blocks, 2)
	assert.True(t, body.Blocks[0].VerifyHash(), "blocks must survive the wire round trip intact")
}

func TestPrepareMining(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	coord := &fakeCoordinator{prep: &miner.Preparation{
		CreatorID:    creator.ID,
		PublicKeyPEM: creator.PublicKeyPEM,
		Difficulty:   4,
	}}
	srv := newTestServer(t, &fakeStore{creator: creator}, coord)

	var prep miner.Preparation
	status := postJSON(t, srv.URL+"/blocks/prepare-mining", map[string]string{
		"display_name": "alice",
		"data_text":    "payload",
	}, &prep)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, creator.ID, prep.CreatorID)
	assert.Equal(t, 4, prep.Difficulty)
}

func TestPrepareMiningErrors(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeCoordinator{prepErr: miner.ErrCreatorMissing})

	var errBody errorBody
	status := postJSON(t, srv.URL+"/blocks/prepare-mining", map[string]string{
		"display_name": "ghost",
	}, &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeCreatorMissing, errBody.Code)

	status = postJSON(t, srv.URL+"/blocks/prepare-mining", map[string]string{}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, errBody.Code)
}

func commitBody(creator *types.Creator) map[string]interface{} {
	return map[string]interface{}{
		"creator_id":         creator.ID.String(),
		"previous_hash":      "",
		"block_hash":         "0ab1c2",
		"nonce":              "7",
		"difficulty":         1,
		"encrypted_data":     "00112233",
		"data_iv":            "00",
		"encrypted_data_key": "ff",
		"data_size":          6,
		"signature":          "0102",
		"created_at":         "2024-01-02T03:04:05.678Z",
	}
}

func TestCommitBlock(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	stored := blocktest.NewBlock(creator, nil, []byte("x"))
	stored.Number = 1

	coord := &fakeCoordinator{block: stored, result: core.Inserted}
	srv := newTestServer(t, &fakeStore{creator: creator}, coord)

	var body struct {
		Status string       `json:"status"`
		Block  *types.Block `json:"block"`
	}
	status := postJSON(t, srv.URL+"/blocks/commit", commitBody(creator), &body)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, stored.Hash, body.Block.Hash)
}

func TestCommitBlockDuplicate(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	stored := blocktest.NewBlock(creator, nil, []byte("x"))
	coord := &fakeCoordinator{block: stored, result: core.Duplicate}
	srv := newTestServer(t, &fakeStore{creator: creator}, coord)

	var body map[string]interface{}
	status := postJSON(t, srv.URL+"/blocks/commit", commitBody(creator), &body)
	assert.Equal(t, http.StatusOK, status, "replays are idempotent, not errors")
	assert.Equal(t, true, body["duplicate"])
}

func TestCommitBlockErrorCodes(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{miner.ErrSignatureInvalid, http.StatusBadRequest, CodeSignature},
		{miner.ErrPoWFailed, http.StatusBadRequest, CodePoWFailed},
		{miner.ErrHashMismatch, http.StatusBadRequest, CodeHashMismatch},
		{miner.ErrShapeInvalid, http.StatusBadRequest, CodeShapeInvalid},
		{miner.ErrTipMoved, http.StatusBadRequest, CodeTipMoved},
		{miner.ErrCreatorMissing, http.StatusNotFound, CodeCreatorMissing},
		{&core.RejectedError{Constraint: "blocks_genesis_shape", Reason: "x"}, http.StatusBadRequest, CodeBlockchain},
	}
	for _, tt := range tests {
		coord := &fakeCoordinator{result: core.Rejected, commitErr: tt.err}
		srv := newTestServer(t, &fakeStore{creator: creator}, coord)
		var errBody errorBody
		status := postJSON(t, srv.URL+"/blocks/commit", commitBody(creator), &errBody)
		assert.Equal(t, tt.wantStatus, status, tt.wantCode)
		assert.Equal(t, tt.wantCode, errBody.Code)
	}
}

func TestCommitBlockBadHex(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	srv := newTestServer(t, &fakeStore{creator: creator}, &fakeCoordinator{})

	body := commitBody(creator)
	body["encrypted_data"] = "zz-not-hex"
	var errBody errorBody
	status := postJSON(t, srv.URL+"/blocks/commit", body, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, errBody.Code)
}

func TestDecryptEnvelopes(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	block := blocktest.NewBlock(creator, nil, []byte("secret"))
	store := &fakeStore{creator: creator, envelopes: []*types.Envelope{types.NewEnvelope(block)}}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var body struct {
		CreatorID string            `json:"creator_id"`
		Blocks    []*types.Envelope `json:"blocks"`
	}
	status := getJSON(t, srv.URL+"/decrypt/blocks/"+creator.ID.String(), &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Blocks, 1)
	assert.Equal(t, block.Hash, body.Blocks[0].BlockHash)

	var errBody errorBody
	status = getJSON(t, srv.URL+"/decrypt/blocks/not-a-uuid", &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, errBody.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeCoordinator{})
	var errBody errorBody
	status := getJSON(t, srv.URL+"/no/such/route", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, errBody.Code)
	assert.NotEmpty(t, errBody.Timestamp)
}

func TestChainStats(t *testing.T) {
	creator := blocktest.NewCreator("alice")
	store := &fakeStore{creator: creator, blocks: blocktest.NewChain(creator, 2)}
	srv := newTestServer(t, store, &fakeCoordinator{})

	var body map[string]core.ChainStats
	status := getJSON(t, srv.URL+"/blocks/stats/summary", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, body["stats"].TotalBlocks)
}

func TestRequestBodyLimit(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeStore{}, &fakeCoordinator{}, fakePeers{}, Config{
		MaxDataSize: 16,
	}).Handler())
	defer srv.Close()

	// The limit is twice the plaintext cap plus the envelope overhead; a
	// commit body past it is refused before decoding.
	var errBody errorBody
	status := postJSON(t, srv.URL+"/blocks/commit", map[string]string{
		"encrypted_data": strings.Repeat("ab", 64<<10),
	}, &errBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, CodeValidation, errBody.Code)
	assert.Equal(t, "fail", errBody.Status)

	// Bodies under the limit still reach the coordinator.
	status = postJSON(t, srv.URL+"/blocks/prepare-mining", map[string]string{
		"display_name": "alice",
		"data_text":    "short",
	}, nil)
	assert.Equal(t, http.StatusOK, status)
}
