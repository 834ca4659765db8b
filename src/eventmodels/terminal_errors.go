package eventmodels

import (
	"errors"
	"fmt"
	"strings"
)

// Wire error kinds returned by the terminal gateway.
const (
	ErrorKindValidation       = "ValidationError"
	ErrorKindNotFound         = "NotFoundError"
	ErrorKindNotSynchronized  = "NotSynchronizedError"
	ErrorKindNotAuthenticated = "NotAuthenticatedError"
	ErrorKindUnauthorized     = "UnauthorizedError"
	ErrorKindTimeout          = "TimeoutError"
	ErrorKindInternal         = "InternalError"
)

var ConnectionClosedErr = errors.New("connection closed")

// ValidationDetail describes one invalid request parameter.
type ValidationDetail struct {
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

// ApiError is a typed failure surfaced by the gateway or by the session
// itself. Kind is always one of the ErrorKind constants.
type ApiError struct {
	Kind    string
	Message string
	Details []ValidationDetail
}

func (e *ApiError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Parameter, d.Message))
	}

	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(parts, ", "))
}

func NewValidationError(message string, details []ValidationDetail) *ApiError {
	return &ApiError{Kind: ErrorKindValidation, Message: message, Details: details}
}

func NewNotFoundError(message string) *ApiError {
	return &ApiError{Kind: ErrorKindNotFound, Message: message}
}

func NewNotSynchronizedError(message string) *ApiError {
	return &ApiError{Kind: ErrorKindNotSynchronized, Message: message}
}

func NewNotAuthenticatedError(message string) *ApiError {
	return &ApiError{Kind: ErrorKindNotAuthenticated, Message: message}
}

func NewUnauthorizedError(message string) *ApiError {
	return &ApiError{Kind: ErrorKindUnauthorized, Message: message}
}

func NewTimeoutError(message string) *ApiError {
	return &ApiError{Kind: ErrorKindTimeout, Message: message}
}

func NewInternalError(message string) *ApiError {
	return &ApiError{Kind: ErrorKindInternal, Message: message}
}

// DecodeError maps a wire error kind to a typed error. Unknown kinds collapse
// to internal errors so a gateway upgrade cannot crash error handling.
func DecodeError(kind, message string, details []ValidationDetail) *ApiError {
	switch kind {
	case ErrorKindValidation, ErrorKindNotFound, ErrorKindNotSynchronized,
		ErrorKindNotAuthenticated, ErrorKindUnauthorized, ErrorKindTimeout:
		return &ApiError{Kind: kind, Message: message, Details: details}
	default:
		return &ApiError{Kind: ErrorKindInternal, Message: message, Details: details}
	}
}

// HasErrorKind reports whether err is an ApiError of the given kind.
func HasErrorKind(err error, kind string) bool {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}

	return false
}
