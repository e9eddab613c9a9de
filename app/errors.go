package app

import (
	"context"
	"errors"

	"github.com/mbocsi/pixtouch/client"
	"github.com/mbocsi/pixtouch/proto"
	"github.com/mbocsi/pixtouch/surface"
)

// ServiceError is returned by Coordinator operations so front ends can map
// failures to a status without knowing every package's sentinels.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeRemote       = "REMOTE_ERROR"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

func serviceError(message string, err error) error {
	if err == nil {
		return nil
	}
	var se ServiceError
	if errors.As(err, &se) {
		return se
	}

	code := ErrCodeInternal
	var remote *client.RemoteError
	switch {
	case errors.Is(err, surface.ErrIndexOutOfRange), errors.Is(err, surface.ErrUnknownGroup):
		code = ErrCodeNotFound
	case errors.Is(err, surface.ErrInvalidMapping), errors.Is(err, proto.ErrMalformed):
		code = ErrCodeInvalidInput
	case errors.Is(err, client.ErrNotConnected), errors.Is(err, client.ErrConnection), errors.Is(err, client.ErrEmptyResponse):
		code = ErrCodeUnavailable
	case errors.Is(err, client.ErrInvalidState):
		code = ErrCodeConflict
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.As(err, &remote):
		code = ErrCodeRemote
	}
	return ServiceError{Code: code, Message: message, Cause: err}
}
