package transfer

import "errors"

// Sentinel errors for assembler failures. None of them are fatal: the
// affected transfer is dropped and the caller keeps processing messages.
var (
	// ErrMissingState is returned when a chunk or end arrives for a key
	// with no active transfer.
	ErrMissingState = errors.New("no active transfer")

	// ErrIncompleteTransfer is returned when an end arrives before every
	// declared chunk was received, or the assembled size does not match.
	ErrIncompleteTransfer = errors.New("incomplete transfer")

	// ErrInvalidStart is returned for a start with impossible totals.
	ErrInvalidStart = errors.New("invalid transfer start")

	// ErrChunkOutOfRange is returned for a chunk index outside [0, totalChunks).
	ErrChunkOutOfRange = errors.New("chunk index out of range")
)
