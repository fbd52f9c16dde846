package miner

import "errors"

// Commit pipeline failures, in the order the pipeline raises them. The
// API layer maps these to stable error codes.
var (
	ErrCreatorMissing   = errors.New("creator-missing")
	ErrSignatureInvalid = errors.New("signature-invalid")
	ErrPoWFailed        = errors.New("pow-failed")
	ErrHashMismatch     = errors.New("hash-mismatch")
	ErrShapeInvalid     = errors.New("shape-invalid")
	ErrTipMoved         = errors.New("tip-moved")
	ErrDataTooLarge     = errors.New("data too large")
)
