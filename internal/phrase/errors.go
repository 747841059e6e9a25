package phrase

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorInvalidCredentials ErrorKind = "invalid-credentials"
	ErrorUnknownClient      ErrorKind = "unknown-client-error"
	ErrorMalformedResponse  ErrorKind = "malformed-response"
)

// Error is returned for any non-2xx or unreadable vendor response.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("phrase %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("phrase %s: %s: %s", e.Op, e.Kind, e.Body)
}

// Tag names the failure in API payloads.
func (e *Error) Tag() string {
	switch e.Kind {
	case ErrorInvalidCredentials:
		return "PhraseInvalidCredentialsError"
	case ErrorMalformedResponse:
		return "PhraseMalformedResponseError"
	default:
		return "PhraseUnknownError"
	}
}

// IsInvalidCredentials reports whether err is a rejected login.
func IsInvalidCredentials(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == ErrorInvalidCredentials
}

func asError(err error, target **Error) bool {
	return err != nil && errors.As(err, target)
}
