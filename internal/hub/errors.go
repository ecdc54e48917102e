package hub

import "errors"

var (
	// ErrAuthFailed is reported to the caller only, as authenticated{success:false}.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrLookupFailed marks a directory or store call that did not complete.
	ErrLookupFailed = errors.New("lookup failed")
	// ErrJoinDenied is reported to the caller as joinError. The connection
	// stays out of the room.
	ErrJoinDenied        = errors.New("join denied")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrDuplicateConn     = errors.New("connection already registered")
	ErrStopped           = errors.New("coordinator stopped")
)
