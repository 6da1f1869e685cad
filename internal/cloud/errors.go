package cloud

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"google.golang.org/api/googleapi"
)

// Kind classifies a provider failure for retry decisions.
type Kind string

const (
	KindRateLimited     Kind = "rate-limited"
	KindUnauthorized    Kind = "unauthorized"
	KindInvalidArgument Kind = "invalid-argument"
	KindConflict        Kind = "conflict"
	KindUnavailable     Kind = "unavailable"
	KindNotFound        Kind = "not-found"
	KindUnknown         Kind = "unknown"
)

// Error is a classified provider failure. Op is the provider call that
// failed, Name the instance it targeted.
type Error struct {
	Kind Kind
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As unwraps err to a classified provider error, if there is one anywhere
// in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the classification of err, KindUnknown if it carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying: the provider asked us
// to back off, or the failure looks transient.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUnavailable:
		return true
	}
	return false
}

// IsConflict reports whether err is a provider-side conflict, typically a
// concurrent operation racing ours.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func wrapError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Op: op, Name: name, Err: err}
}

// classify maps raw transport and API errors onto the Kind taxonomy.
// GCE reports quota exhaustion as 403 with reason rateLimitExceeded, so the
// reason list is checked before the status code.
func classify(err error) Kind {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
				return KindRateLimited
			}
		}
		switch apiErr.Code {
		case 400:
			return KindInvalidArgument
		case 401, 403:
			return KindUnauthorized
		case 404:
			return KindNotFound
		case 409:
			return KindConflict
		case 429:
			return KindRateLimited
		case 408, 500, 502, 503, 504:
			return KindUnavailable
		}
		return KindUnknown
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return KindUnavailable
	}

	return KindUnknown
}
