package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrStateConflict      = errors.New("state conflict")
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrTransportFailure   = errors.New("transport failure")
	ErrShuttingDown       = errors.New("shutting down")
	ErrRateLimited        = errors.New("rate limited")
)

// Specific causes wrap one of the taxonomy errors above.
var (
	ErrUnknownChannel      = fmt.Errorf("%w: unknown channel", ErrValidation)
	ErrNotInChannel        = fmt.Errorf("%w: not in channel", ErrValidation)
	ErrUnknownStreamer     = fmt.Errorf("%w: unknown streamer", ErrValidation)
	ErrInvalidSDP          = fmt.Errorf("%w: invalid sdp", ErrValidation)
	ErrInvalidICECandidate = fmt.Errorf("%w: invalid ice candidate", ErrValidation)
	ErrSsrcInUse           = fmt.Errorf("%w: ssrc owned by another participant", ErrValidation)
	ErrNotSharing          = fmt.Errorf("%w: streamer is not sharing", ErrStateConflict)
	ErrUnexpectedAnswer    = fmt.Errorf("%w: no offer awaiting an answer", ErrStateConflict)
)

type Code string

const (
	CodeOK            Code = "ok"
	CodeValidation    Code = "validation"
	CodeStateConflict Code = "state_conflict"
	CodeUnavailable   Code = "unavailable"
	CodeRateLimited   Code = "rate_limited"
	CodeInternal      Code = "internal"
)

// CodeOf maps an operation error to its wire code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrStateConflict):
		return CodeStateConflict
	case errors.Is(err, ErrShuttingDown):
		return CodeUnavailable
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	}
	return CodeInternal
}
