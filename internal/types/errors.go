// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Fetch error kinds. Every failed fetch or session start unwraps to exactly one of these.
	ErrLaunch     = errors.New("browser launch failed")
	ErrNetwork    = errors.New("header override failed")
	ErrNavigation = errors.New("navigation failed")
	ErrFetch      = errors.New("content extraction failed")

	// Session errors
	ErrSessionClosed = errors.New("session is closed")

	// Configuration errors
	ErrInvalidLaunchConfig = errors.New("invalid launch configuration")
	ErrInvalidProfile      = errors.New("invalid stealth profile")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrURLRequired    = errors.New("url is required")
)

// ErrorKind names one of the four fetch failure categories.
type ErrorKind string

// Error kind values, also used as metric labels and in API responses.
const (
	KindLaunch     ErrorKind = "launch"
	KindNetwork    ErrorKind = "network"
	KindNavigation ErrorKind = "navigation"
	KindFetch      ErrorKind = "fetch"
)

// Sentinel returns the sentinel error for the kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindLaunch:
		return ErrLaunch
	case KindNetwork:
		return ErrNetwork
	case KindNavigation:
		return ErrNavigation
	case KindFetch:
		return ErrFetch
	default:
		return nil
	}
}

// Stage is a step of the per-fetch state machine.
type Stage string

// Fetch stages in the order they are entered.
const (
	StageIdle             Stage = "idle"
	StagePageOpened       Stage = "page_opened"
	StageHeadersApplied   Stage = "headers_applied"
	StageNavigating       Stage = "navigating"
	StageNavigated        Stage = "navigated"
	StageContentExtracted Stage = "content_extracted"
)

// FetchError provides detailed information about a failed session start or fetch.
// It implements the error interface and supports error unwrapping to both the
// kind sentinel (ErrLaunch, ErrNetwork, ...) and the underlying driver error.
type FetchError struct {
	Kind    ErrorKind // Failure category
	Stage   Stage     // Last stage reached before the failure
	URL     string    // Target URL, empty for session start failures
	Message string    // Human-readable error message
	Err     error     // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap returns the kind sentinel and the underlying error for errors.Is/As support.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewLaunchError creates an error for browser process or page context creation failures.
func NewLaunchError(stage Stage, url, message string, err error) *FetchError {
	return &FetchError{Kind: KindLaunch, Stage: stage, URL: url, Message: message, Err: err}
}

// NewNetworkError creates an error for header override failures.
func NewNetworkError(stage Stage, url, message string, err error) *FetchError {
	return &FetchError{Kind: KindNetwork, Stage: stage, URL: url, Message: message, Err: err}
}

// NewNavigationError creates an error for navigation that could not start or complete.
func NewNavigationError(stage Stage, url, message string, err error) *FetchError {
	return &FetchError{Kind: KindNavigation, Stage: stage, URL: url, Message: message, Err: err}
}

// NewFetchError creates an error for content extraction failures after navigation.
func NewFetchError(stage Stage, url, message string, err error) *FetchError {
	return &FetchError{Kind: KindFetch, Stage: stage, URL: url, Message: message, Err: err}
}

// KindOf reports the failure category of err, or "" when err is not a fetch failure.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrLaunch), errors.Is(err, ErrSessionClosed):
		return KindLaunch
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrNavigation):
		return KindNavigation
	case errors.Is(err, ErrFetch):
		return KindFetch
	}
	return ""
}
