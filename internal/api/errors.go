package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoConnection is returned when no target connection is given and none is current
	ErrNoConnection = errors.New("no connection selected")

	// ErrMissingToken is returned when the target connection has no API token
	ErrMissingToken = errors.New("connection has no api token")
)

// Error is returned for every non-2xx response and for transport failures.
type Error struct {
	// StatusCode is the HTTP status, zero for transport failures
	StatusCode int

	// Code is the machine-readable error code reported by the API
	Code string

	// Message is the human-readable message
	Message string

	// InvalidCredential is true when the token itself was rejected
	InvalidCredential bool

	// Err is the underlying transport error, if any
	Err error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}

	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// errorBody is the provider error envelope.
type errorBody struct {
	Error struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		InvalidToken bool   `json:"invalidToken"`
	} `json:"error"`
}

// IsInvalidCredential reports whether err means the credential was rejected.
func IsInvalidCredential(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.InvalidCredential
	}

	return false
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}

	return false
}

// IsTransient reports whether err is a failure the user may retry:
// a transport failure or any non-2xx that does not invalidate the credential.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	return !IsInvalidCredential(err)
}
