package core

import "errors"

// Error taxonomy of the call core. All of these are recovered at the session
// boundary; none of them may take down the registry or another session.
var (
	// ErrInsufficientFunds means the caller cannot start or continue a call.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPeerUnreachable means the callee has no open signaling channel.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrAlreadyInCall means one of the parties already has an active session.
	ErrAlreadyInCall = errors.New("already in call")

	// ErrSelfCall means caller and callee are the same identity.
	ErrSelfCall = errors.New("cannot call yourself")

	// ErrInvalidTransition means a control message arrived for a session not
	// in the expected state. Logged and ignored at the relay, never fatal.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound means a stale session reference; callers treat the
	// session as already ended.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotParticipant means the acting user is neither caller nor callee.
	ErrNotParticipant = errors.New("user is not a call participant")
)
