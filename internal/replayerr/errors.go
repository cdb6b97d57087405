// Package replayerr defines the error taxonomy shared by the merger,
// sender, and replay lifecycle so callers can classify failures with
// errors.Is instead of string matching.
package replayerr

import "errors"

// Sentinel errors per the error taxonomy. Wrap with fmt.Errorf("...: %w", ...)
// at the point of failure to preserve the underlying cause.
var (
	// MalformedData covers header parse failures, unexpected EOF during
	// header decode, and unknown connection types. Fatal to the offending
	// connection only.
	MalformedData = errors.New("malformed data")

	// StreamEnded is returned when a writer attaches to an already-ended
	// canonical stream.
	StreamEnded = errors.New("stream ended")

	// CannotAcceptConnection is returned when a reader attaches to a sender
	// that is closed or whose delayed stream has ended, or when a match's
	// writer or reader cap is already reached.
	CannotAcceptConnection = errors.New("cannot accept connection")

	// Bookkeeping marks a bookkeeper failure. Logged, never fatal to the
	// replay's lifecycle.
	Bookkeeping = errors.New("bookkeeping failed")

	// ConnectionError wraps an underlying socket failure on a single
	// connection. Fatal to that connection only.
	ConnectionError = errors.New("connection error")
)
