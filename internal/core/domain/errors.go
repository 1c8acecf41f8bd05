package domain

import "errors"

var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrDeviceUnavailable   = errors.New("device unavailable")
	ErrChannelDisconnected = errors.New("signaling channel disconnected")
	// ErrStaleEvent marks an event or command that does not belong to the
	// current session. It is never shown to the user.
	ErrStaleEvent        = errors.New("stale event")
	ErrTimeout           = errors.New("no response from remote party")
	ErrMalformedSignal   = errors.New("malformed signal payload")
	ErrBusy              = errors.New("a call is already in progress")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrNoSession         = errors.New("no call session")
	ErrInvalidArgument   = errors.New("invalid argument")
)
