package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnknownFormat = errors.New("unknown source format")
	ErrParse         = errors.New("parsing failed")
	ErrStorage       = errors.New("storage failure")
	ErrNotFound      = errors.New("not found")
	ErrInternal      = errors.New("internal error")
	ErrTimeout       = errors.New("operation timed out")
)

// GenericMessage is the only error detail returned to callers for failures
// that are not the caller's fault.
const GenericMessage = "Internal error, see logs"

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		// Parse, storage and timeout failures all surface as 500.
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a caller for err.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode < http.StatusInternalServerError {
		return appErr.Message
	}
	return GenericMessage
}
