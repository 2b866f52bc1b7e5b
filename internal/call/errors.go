package call

import "errors"

// Failure taxonomy surfaced to the host. Fatal conditions end the session (or
// block initiation) with one of these in the error chain; a peer-initiated
// call-end is a normal termination and produces no error.
var (
	// ErrMediaAccess means local media acquisition failed (permission denied,
	// device missing or busy). Raised before any signaling is sent; the
	// session never retries, since permission prompts are user-interactive.
	ErrMediaAccess = errors.New("could not access microphone/camera")

	// ErrSignaling means the signaling connection failed before or during
	// call setup.
	ErrSignaling = errors.New("signaling connection error")

	// ErrPeerFailed means the peer transport reported disconnected or failed
	// after negotiation started.
	ErrPeerFailed = errors.New("peer transport failed")
)
