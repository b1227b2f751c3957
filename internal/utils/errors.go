package utils

import (
	"fmt"
	"net/http"
)

// CustomError carries an HTTP status next to a client-safe message. Err is
// the cause; it is logged but never sent to clients.
type CustomError struct {
	Code    int
	Message string
	Err     error
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s: %v", e.Code, http.StatusText(e.Code), e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func (e *CustomError) Unwrap() error { return e.Err }

// Client reports whether the error is the caller's fault (4xx).
func (e *CustomError) Client() bool { return e.Code >= 400 && e.Code < 500 }

func New(code int, message string) error {
	return &CustomError{Code: code, Message: message}
}
