// Package apperror classifies failures at the request boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an error category.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindConfiguration  Kind = "configuration"
	KindUpstream       Kind = "upstream"
	KindUnknown        Kind = "unknown"
)

// Error carries a Kind plus a human readable message. StatusCode is only set
// for upstream failures and holds the status returned by the webhook.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
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

// Validation reports missing or malformed caller input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Authentication reports a request without a valid session.
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// Configuration reports a required setting that is absent.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Upstream reports a failed or malformed webhook exchange.
func Upstream(statusCode int, message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, StatusCode: statusCode, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// HTTPStatus maps err onto the status returned to the caller.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
