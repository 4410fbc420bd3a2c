package feed

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFeed     = errors.New("malformed feed")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrPermanentResponse = errors.New("permanent response error")
)

type FetchErrorKind string

const (
	FetchErrorNetwork  FetchErrorKind = "network"
	FetchErrorTimeout  FetchErrorKind = "timeout"
	FetchErrorStatus   FetchErrorKind = "status"
	FetchErrorRequest  FetchErrorKind = "request"
	FetchErrorTooLarge FetchErrorKind = "too_large"
)

// FetchError describes a failed HTTP fetch. Network, timeout and retryable
// status errors match ErrTransientNetwork; other statuses match ErrPermanentResponse.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorStatus {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransientNetwork:
		return e.Transient()
	case ErrPermanentResponse:
		return !e.Transient()
	}
	return false
}

// Transient reports whether retrying the request may succeed.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchErrorStatus:
		return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
	case FetchErrorRequest, FetchErrorTooLarge:
		return false
	}
	return true
}
