package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRejected          = errors.New("action rejected")
	ErrMalformedResponse = errors.New("malformed response")

	ErrNoRoute        = errors.New("no current action route")
	ErrNoStep         = errors.New("no current action step")
	ErrSubmitInFlight = errors.New("submission already in flight")
	ErrStaleResponse  = errors.New("stale response")

	ErrMissingCredential = errors.New("missing credential")
	ErrCredentialExpired = errors.New("credential expired")

	ErrUndoFailed  = errors.New("failed to undo")
	ErrGameNotOpen = errors.New("game view not open")
)

// RejectionError is a non-2xx answer from the game server. Detail carries the
// server's `detail` message verbatim when one was sent.
type RejectionError struct {
	Status int
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// Message returns the text that should be shown at the point of interaction.
// Transport failures collapse to a generic message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var rej *RejectionError
	switch {
	case errors.As(err, &rej):
		return rej.Error()
	case errors.Is(err, ErrNetwork):
		return "network error, please retry"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMissingCredential), errors.Is(err, ErrCredentialExpired):
		return "please sign in again"
	default:
		return err.Error()
	}
}
