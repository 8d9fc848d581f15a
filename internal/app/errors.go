package app

import "errors"

var (
	// ErrTargetUnreachable is reported to the caller; no session is created.
	ErrTargetUnreachable = errors.New("target unreachable")
	// ErrCallInFlight means the two parties already share a live session.
	ErrCallInFlight = errors.New("call already in flight")
	ErrInvalidCall  = errors.New("invalid call")

	// Lifecycle errors below are swallowed by the router.
	ErrUnknownSession    = errors.New("unknown session")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotParticipant    = errors.New("not a participant")
)
