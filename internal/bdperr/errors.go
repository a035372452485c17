// Package bdperr defines the sentinel error values shared across BDP's
// components. Components wrap these with context via fmt.Errorf("%w", ...)
// so callers can still classify failures with errors.Is.
package bdperr

import "errors"

// Sentinel errors, one per error kind in the BDP error taxonomy.
var (
	// ErrDecode is returned when a wire frame cannot be parsed.
	ErrDecode = errors.New("bdp: malformed frame")

	// ErrNotFound is returned when a chunk or index entry lookup misses.
	ErrNotFound = errors.New("bdp: not found")

	// ErrWriteError is returned when a CAS or sink write fails.
	ErrWriteError = errors.New("bdp: write failed")

	// ErrHashMismatch is returned when a materialized file's hash does not
	// match the expected content hash.
	ErrHashMismatch = errors.New("bdp: hash mismatch")

	// ErrTransportClosed is returned when the transport channel closes
	// unexpectedly mid-session.
	ErrTransportClosed = errors.New("bdp: transport closed")

	// ErrPairNotFound is returned when the peer does not recognize our
	// pairId during greeting.
	ErrPairNotFound = errors.New("bdp: pair not found on peer")

	// ErrPermissionDenied is returned when the FolderSink rejects a write.
	ErrPermissionDenied = errors.New("bdp: permission denied")

	// ErrRetryExhausted is returned when a session exceeds MAX_RETRIES.
	ErrRetryExhausted = errors.New("bdp: retry budget exhausted")

	// ErrCancelled is returned on clean user-initiated cancellation.
	ErrCancelled = errors.New("bdp: cancelled")

	// ErrAlreadyOpen names a second opener of the same database file.
	// Nothing in this module returns it: store.Open takes no lock of its
	// own and does not detect a second opener.
	ErrAlreadyOpen = errors.New("bdp: store already open by another process")

	// ErrInvalidPath is returned by path validation (see ids.ValidatePath).
	ErrInvalidPath = errors.New("bdp: invalid path")
)
