package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an upstream failure independently of which provider produced it.
type Kind int

const (
	// RateLimited means the provider rejected the call for exceeding its quota (HTTP 429).
	RateLimited Kind = iota + 1
	// Unavailable covers transport failures, 5xx responses and other non-2xx statuses.
	Unavailable
	// InvalidResponse means the provider answered but the payload could not be used.
	InvalidResponse
	// Timeout means the bounded call deadline was exceeded.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Unavailable:
		return "unavailable"
	case InvalidResponse:
		return "invalid_response"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the only error type adapters return.
type Error struct {
	Source string
	Kind   Kind
	Status int // HTTP status when one was received
	Err    error
}

// Sentinels for errors.Is matching on Kind alone.
var (
	ErrRateLimited     = &Error{Kind: RateLimited}
	ErrUnavailable     = &Error{Kind: Unavailable}
	ErrInvalidResponse = &Error{Kind: InvalidResponse}
	ErrTimeout         = &Error{Kind: Timeout}
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream %s: %s", e.Source, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Source == "" && t.Status == 0 && t.Err == nil && t.Kind == e.Kind
}

// Recoverable reports whether the failure may be masked by a previously cached value.
// Every upstream kind is recoverable; a timeout is handled like Unavailable.
func (e *Error) Recoverable() bool {
	return e.Kind >= RateLimited && e.Kind <= Timeout
}

// KindOf extracts the Kind of an upstream error.
func KindOf(err error) (Kind, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// classify converts a transport-level error into an upstream Error.
func classify(source string, err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Source: source, Kind: Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Source: source, Kind: Timeout, Err: err}
	}
	return &Error{Source: source, Kind: Unavailable, Err: err}
}

// statusError maps a non-2xx HTTP status to an upstream Error.
func statusError(source string, status int) *Error {
	switch {
	case status == 429:
		return &Error{Source: source, Kind: RateLimited, Status: status}
	case status == 408 || status == 504:
		return &Error{Source: source, Kind: Timeout, Status: status}
	case status == 400 || status == 404 || status == 422:
		return &Error{Source: source, Kind: InvalidResponse, Status: status}
	default:
		return &Error{Source: source, Kind: Unavailable, Status: status}
	}
}

func invalid(source string, format string, args ...interface{}) *Error {
	return &Error{Source: source, Kind: InvalidResponse, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an error from a provider that is not reached through Client,
// such as an SDK call. A nil err stays nil.
func Wrap(source string, err error) error {
	if err == nil {
		return nil
	}
	return classify(source, err)
}
