package translation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/merge"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
)

var (
	ErrInvalidRequest       = errors.New("invalid translation request")
	ErrUntranslatableType   = errors.New("document type is not translatable")
	ErrTranslationExists    = errors.New("an ongoing translation already exists for this content")
	ErrTMDNotFound          = errors.New("translation metadata not found")
	ErrPTDNotFound          = errors.New("translation document not found")
	ErrNoVendorProject      = errors.New("translation has no vendor project")
	ErrVendorNotConfigured  = errors.New("phrase client is not configured")
	ErrManagerUninitialized = errors.New("translation manager is not initialized")
)

type AdapterErrorKind string

const (
	AdapterBrokenDoc          AdapterErrorKind = "broken-doc"
	AdapterMissingLang        AdapterErrorKind = "missing-lang"
	AdapterSourceDocMissing   AdapterErrorKind = "source-doc-missing"
	AdapterFailedFetchingTMDs AdapterErrorKind = "failed-fetching-tmds"
	AdapterFailed             AdapterErrorKind = "adapter"
)

// AdapterError means the i18n adapter could not produce a consistent set of
// documents for a request.
type AdapterError struct {
	Kind  AdapterErrorKind
	Cause error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("i18n adapter: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("i18n adapter: %s", e.Kind)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

func (e *AdapterError) Tag() string {
	switch e.Kind {
	case AdapterBrokenDoc:
		return "BrokenDocError"
	case AdapterMissingLang:
		return "MissingLangError"
	case AdapterSourceDocMissing:
		return "SourceDocMissingError"
	case AdapterFailedFetchingTMDs:
		return "FailedFetchingTMDsError"
	default:
		return "AdapterFailedQueryingError"
	}
}

func adapterError(kind AdapterErrorKind, cause error) error {
	return &AdapterError{Kind: kind, Cause: cause}
}

// ErrorTag returns the API tag of err.
func ErrorTag(err error) string {
	var tagged interface{ Tag() string }
	if errors.As(err, &tagged) {
		return tagged.Tag()
	}
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUntranslatableType):
		return "InvalidRequestError"
	case errors.Is(err, ErrTranslationExists):
		return "TranslationExistsError"
	case errors.Is(err, ErrTMDNotFound), errors.Is(err, ErrPTDNotFound), errors.Is(err, contentstore.ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, merge.ErrNotReadyToCommit):
		return "NotReadyToCommitError"
	case errors.Is(err, merge.ErrIncompleteCommit):
		return "IncompleteCommitError"
	default:
		return "UnknownError"
	}
}

// StatusForError maps err to the HTTP status reported to callers. Rejected
// vendor credentials are 401, malformed input 400 and everything else 500.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case phrase.IsInvalidCredentials(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUntranslatableType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorPayload is the serializable form of a failure.
type ErrorPayload struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func NewErrorPayload(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	return &ErrorPayload{Tag: ErrorTag(err), Message: err.Error()}
}
