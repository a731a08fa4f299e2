package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL"
)

// Error carries a Kind that decides the HTTP status and whether the caller
// may retry. Message is safe to return to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(message string, err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain. Errors without
// one are treated as internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage hides the wrapped cause; unclassified errors get a generic text.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
