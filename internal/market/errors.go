package market

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a search failure. The polling loop branches on the
// kind only; all site-specific sniffing lives in the adapter.
type ErrorKind int

const (
	// KindOther is an unclassified failure.
	KindOther ErrorKind = iota
	// KindAuth means the session token was rejected by the site.
	KindAuth
	// KindBlocked means the site refused service (403/429/captcha).
	KindBlocked
	// KindTransient covers network errors, 5xx and malformed payloads.
	KindTransient
	// KindEmptyPage is a well-formed response with zero items.
	KindEmptyPage
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindBlocked:
		return "blocked"
	case KindTransient:
		return "transient"
	case KindEmptyPage:
		return "empty_page"
	default:
		return "other"
	}
}

// SearchError is a classified adapter failure.
type SearchError struct {
	Kind   ErrorKind
	Status int // HTTP status when applicable, else 0
	Msg    string
	Cause  error
}

func (e *SearchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("search %s (status %d): %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("search %s: %s", e.Kind, e.Msg)
}

func (e *SearchError) Unwrap() error { return e.Cause }

// NewSearchError builds a classified error.
func NewSearchError(kind ErrorKind, status int, msg string, cause error) *SearchError {
	return &SearchError{Kind: kind, Status: status, Msg: msg, Cause: cause}
}

// Kind extracts the classification from an error chain. Unwrapped errors
// report KindOther.
func Kind(err error) ErrorKind {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}
