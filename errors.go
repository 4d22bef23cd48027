package authpipe

import (
	"errors"

	"github.com/MrEthical07/authpipe/exchange"
)

var (
	// ErrAuthRejected is returned when the identity service refuses the
	// submitted credentials.
	ErrAuthRejected = exchange.ErrAuthRejected
	// ErrUnreachable is returned when the identity service cannot be reached
	// or answers with a server error.
	ErrUnreachable = exchange.ErrUnreachable
	// ErrTokenExpired marks a locally detected expiry. It is recovered by
	// renewal and never returned to callers.
	ErrTokenExpired = errors.New("credential expired")
	// ErrRequestRejected is returned when a rejected request could not be
	// retried because renewal failed.
	ErrRequestRejected = errors.New("request rejected")
	// ErrSessionExpired is returned when no renewal path can produce a new
	// credential.
	ErrSessionExpired = errors.New("session expired")
	// ErrBodyTooLarge is returned when a request body over the replay
	// buffer limit would have to be sent a second time.
	ErrBodyTooLarge = errors.New("request body too large to replay")
	// ErrNotReady is returned by methods called on a nil or unbuilt Client.
	ErrNotReady = errors.New("client not initialized")
)
