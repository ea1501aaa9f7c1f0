package peer

import "errors"

// The closed set of failures Setup can return. Callers branch on these with
// errors.Is; everything else is wrapped into one of them.
var (
	// ErrUnauthorized means the rendezvous server rejected the session id.
	ErrUnauthorized = errors.New("rendezvous rejected announcement")

	// ErrRegistrationTimeout means no match arrived within the registration window.
	ErrRegistrationTimeout = errors.New("registration timed out")

	// ErrHandshakeTimeout means the hole-punch handshake never converged.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrMalformedReply means the rendezvous server sent something undecodable.
	ErrMalformedReply = errors.New("malformed rendezvous reply")

	// ErrAborted means Abort was called or the context was cancelled.
	ErrAborted = errors.New("setup aborted")
)
