package sealapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/miner"
)

// Stable application error codes. Clients branch on these, never on the
// message text.
const (
	CodeValidation     = "validation"
	CodeNotFound       = "not-found"
	CodeConflict       = "conflict"
	CodeCreatorMissing = "creator-missing"
	CodeSignature      = "signature-invalid"
	CodeHashMismatch   = "hash-mismatch"
	CodePoWFailed      = "pow-failed"
	CodeShapeInvalid   = "shape-invalid"
	CodeTipMoved       = "tip-moved"
	CodeBlockchain     = "blockchain"
	CodeDatabase       = "database"
	CodeInternal       = "internal"
)

// errorBody is the uniform failure envelope.
type errorBody struct {
	Status    string      `json:"status"` // "fail" for 4xx, "error" for 5xx
	Message   string      `json:"message"`
	Code      string      `json:"code"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// writeBodyError reports a request body that failed to decode,
// distinguishing bodies rejected by the size limit.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, CodeValidation,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
		return
	}
	writeError(w, http.StatusBadRequest, CodeValidation, "malformed request body", nil)
}

func writeError(w http.ResponseWriter, httpStatus int, code, message string, details interface{}) {
	status := "fail"
	if httpStatus >= 500 {
		status = "error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(&errorBody{
		Status:    status,
		Message:   message,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeDomainError maps domain sentinels onto HTTP statuses and stable
// codes per the error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, miner.ErrCreatorMissing), errors.Is(err, core.ErrUnknownCreator):
		writeError(w, http.StatusNotFound, CodeCreatorMissing, "creator not found", nil)
	case errors.Is(err, core.ErrUnknownBlock):
		writeError(w, http.StatusNotFound, CodeNotFound, "block not found", nil)
	case errors.Is(err, miner.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, CodeSignature, "signature does not verify under the creator key", nil)
	case errors.Is(err, miner.ErrPoWFailed):
		writeError(w, http.StatusBadRequest, CodePoWFailed, "block hash does not satisfy the difficulty", nil)
	case errors.Is(err, miner.ErrHashMismatch):
		writeError(w, http.StatusBadRequest, CodeHashMismatch, "block hash does not match the canonical input", nil)
	case errors.Is(err, miner.ErrShapeInvalid):
		writeError(w, http.StatusBadRequest, CodeShapeInvalid, err.Error(), nil)
	case errors.Is(err, miner.ErrTipMoved):
		writeError(w, http.StatusBadRequest, CodeTipMoved, "chain tip moved, re-run prepare-mining", nil)
	case errors.Is(err, miner.ErrDataTooLarge):
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, core.ErrDuplicateName):
		writeError(w, http.StatusConflict, CodeConflict, "display name already registered", nil)
	case errors.Is(err, types.ErrBadDisplayName),
		errors.Is(err, types.ErrBadPublicKey),
		errors.Is(err, types.ErrWeakPublicKey):
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	default:
		var rej *core.RejectedError
		if errors.As(err, &rej) {
			writeError(w, http.StatusBadRequest, CodeBlockchain, rej.Error(),
				map[string]string{"constraint": rej.Constraint})
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
