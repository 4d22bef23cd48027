package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthRejected is returned when the backend refuses the submitted
	// credentials.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrUnreachable is returned for transport failures and server errors.
	ErrUnreachable = errors.New("identity service unreachable")
	// ErrMalformedResponse is returned when a success response carries no usable
	// credential. It always wraps ErrUnreachable.
	ErrMalformedResponse = errors.New("malformed exchange response")
	// ErrRefreshUnsupported is returned by Refresh when no renewal path is
	// configured.
	ErrRefreshUnsupported = errors.New("refresh exchange not configured")
)

// RejectedError carries the status and human-readable message of a refused
// exchange. It matches ErrAuthRejected with errors.Is.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", ErrAuthRejected.Error(), e.Status, msg)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrAuthRejected
}

// StatusError describes a server-side failure or a missing exchange endpoint
// (404, 405). It matches ErrUnreachable.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrUnreachable.Error(), e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnreachable
}
