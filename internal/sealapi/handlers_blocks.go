package sealapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/miner"
)

func (s *Server) listBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	filter := core.VerifiedFilter(q.Get("verified"))
	if filter == "" {
		filter = core.VerifiedAll
	}
	sort := core.PageSort(q.Get("sortBy"))
	if sort == "" {
		sort = core.SortNewest
	}
	blocks, total, err := s.store.PaginatedBlocks(r.Context(), page, limit, filter, sort)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if blocks == nil {
		blocks = []*types.Block{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocks": blocks,
		"total":  total,
		"page":   page,
	})
}

type prepareMiningRequest struct {
	DisplayName string `json:"display_name"`
	DataText    string `json:"data_text"`
}

func (s *Server) prepareMining(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req prepareMiningRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "display_name is required", nil)
		return
	}
	prep, err := s.coord.PrepareMining(r.Context(), req.DisplayName, len(req.DataText))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prep)
}

// commitRequest is the phase-two wire form: every binary field lowercase
// hex, nonce a decimal string.
type commitRequest struct {
	CreatorID        string `json:"creator_id"`
	PreviousHash     string `json:"previous_hash"`
	BlockHash        string `json:"block_hash"`
	Nonce            string `json:"nonce"`
	Difficulty       int    `json:"difficulty"`
	EncryptedData    string `json:"encrypted_data"`
	DataIV           string `json:"data_iv"`
	EncryptedDataKey string `json:"encrypted_data_key"`
	DataSize         int    `json:"data_size"`
	Signature        string `json:"signature"`
	CreatedAt        string `json:"created_at"`
	MiningDurationMs int64  `json:"mining_duration_ms"`
}

func (req *commitRequest) toPayload() (*miner.CommitPayload, error) {
	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		return nil, err
	}
	data, err := types.DecodeHexField("encrypted_data", req.EncryptedData)
	if err != nil {
		return nil, err
	}
	iv, err := types.DecodeHexField("data_iv", req.DataIV)
	if err != nil {
		return nil, err
	}
	wrapped, err := types.DecodeHexField("encrypted_data_key", req.EncryptedDataKey)
	if err != nil {
		return nil, err
	}
	sig, err := types.DecodeHexField("signature", req.Signature)
	if err != nil {
		return nil, err
	}
	return &miner.CommitPayload{
		CreatorID:        creatorID,
		PreviousHash:     req.PreviousHash,
		BlockHash:        req.BlockHash,
		Nonce:            req.Nonce,
		Difficulty:       req.Difficulty,
		EncryptedData:    data,
		DataIV:           iv,
		EncryptedDataKey: wrapped,
		DataSize:         req.DataSize,
		Signature:        sig,
		CreatedAt:        req.CreatedAt,
		MiningDurationMs: req.MiningDurationMs,
	}, nil
}

func (s *Server) commitBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req commitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	payload, err := req.toPayload()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	block, result, err := s.coord.CommitBlock(r.Context(), payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	switch result {
	case core.Duplicate:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "success",
			"duplicate": true,
			"block":     block,
		})
	default:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"status": "success",
			"block":  block,
		})
	}
}

func (s *Server) chainStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := s.store.ChainStatsSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (s *Server) decryptEnvelopes(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	creatorID, err := uuid.Parse(ps.ByName("creator_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid creator_id", nil)
		return
	}
	envelopes, err := s.store.EnvelopesByCreator(r.Context(), creatorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if envelopes == nil {
		envelopes = []*types.Envelope{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"creator_id": creatorID.String(),
		"blocks":     envelopes,
	})
}
