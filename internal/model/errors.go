package model

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies a failed feed fetch.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout        FetchErrorKind = "timeout"
	FetchParseOrNetwork FetchErrorKind = "parse_or_network"
)

// FetchError is the only error the fetcher produces.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchTimeout {
		return fmt.Sprintf("fetch %s: timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ValidationKind classifies rejected caller input.
type ValidationKind string

// Validation failure kinds.
const (
	QueryTooShort ValidationKind = "query_too_short"
	MissingXMLURL ValidationKind = "missing_xml_url"
	MissingField  ValidationKind = "missing_field"
	InvalidFeed   ValidationKind = "invalid_feed"
)

// Sentinels for errors.Is against a ValidationError of the same kind.
var (
	ErrQueryTooShort = &ValidationError{Kind: QueryTooShort}
	ErrMissingXMLURL = &ValidationError{Kind: MissingXMLURL}
)

// ValidationError reports caller input that is rejected without retry.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

// NewValidationError builds a ValidationError with a user-facing message.
func NewValidationError(kind ValidationKind, msg string) *ValidationError {
	return &ValidationError{Kind: kind, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any ValidationError with the same kind.
func (e *ValidationError) Is(target error) bool {
	var t *ValidationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
