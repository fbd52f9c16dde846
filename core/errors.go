package core

import "errors"

// Store-level sentinels. Callers distinguish duplicate and rejection from
// infrastructure failures through these.
var (
	// ErrNoTip is returned by tip reads on an empty chain.
	ErrNoTip = errors.New("chain is empty")

	// ErrUnknownCreator is returned when a creator lookup finds nothing
	// active.
	ErrUnknownCreator = errors.New("creator not found")

	// ErrDuplicateName is returned when registering an already taken
	// display name.
	ErrDuplicateName = errors.New("display name already registered")

	// ErrChainTooShort is returned by ReplaceChain when the candidate is
	// not strictly longer than the local chain.
	ErrChainTooShort = errors.New("candidate chain not longer than local chain")

	// ErrUnknownBlock is returned by single-block lookups.
	ErrUnknownBlock = errors.New("block not found")
)

// AppendResult classifies the outcome of AppendBlock.
type AppendResult int

const (
	// Inserted means the block extended the chain.
	Inserted AppendResult = iota
	// Duplicate means a block with the same hash already exists; the
	// existing block is returned alongside.
	Duplicate
	// Rejected means a store constraint refused the block.
	Rejected
)

func (r AppendResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectedError carries the violated constraint out of AppendBlock and
// ReplaceChain.
type RejectedError struct {
	Constraint string
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.Constraint != "" {
		return "block rejected by constraint " + e.Constraint + ": " + e.Reason
	}
	return "block rejected: " + e.Reason
}
