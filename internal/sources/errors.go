package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/divyekant/llm-bucket/internal/gitclone"
)

// FetchErrorKind classifies a fetch failure.
type FetchErrorKind int

const (
	NotFound FetchErrorKind = iota + 1
	AuthFailure
	NetworkError
	InvalidSpec
	Timeout
	IOError
)

func (k FetchErrorKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AuthFailure:
		return "AuthFailure"
	case NetworkError:
		return "NetworkError"
	case InvalidSpec:
		return "InvalidSpec"
	case Timeout:
		return "Timeout"
	case IOError:
		return "IOError"
	}
	return fmt.Sprintf("FetchErrorKind(%d)", int(k))
}

// Sentinels for errors.Is against a *FetchError.
var (
	ErrNotFound    = errors.New("sources: not found")
	ErrAuthFailure = errors.New("sources: authentication failed")
	ErrNetwork     = errors.New("sources: network error")
	ErrInvalidSpec = errors.New("sources: invalid source spec")
	ErrTimeout     = errors.New("sources: timed out")
	ErrIO          = errors.New("sources: local i/o error")
)

var kindSentinels = map[FetchErrorKind]error{
	NotFound:     ErrNotFound,
	AuthFailure:  ErrAuthFailure,
	NetworkError: ErrNetwork,
	InvalidSpec:  ErrInvalidSpec,
	Timeout:      ErrTimeout,
	IOError:      ErrIO,
}

// FetchError is returned by Fetcher.Fetch for every failure.
type FetchError struct {
	Kind   FetchErrorKind
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("sources: fetch: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sources: fetch %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// ErrorKind names the failure class for run reports.
func (e *FetchError) ErrorKind() string { return e.Kind.String() }

func fetchErr(kind FetchErrorKind, source string, format string, args ...any) *FetchError {
	return &FetchError{Kind: kind, Source: source, Err: fmt.Errorf(format, args...)}
}

// classify turns whatever a fetcher returned into a *FetchError.
func classify(ctx context.Context, spec Spec, err error) *FetchError {
	source := spec.String()

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &FetchError{Kind: Timeout, Source: source, Err: err}
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = source
		}
		return fe
	}

	var ge *gitclone.Error
	if errors.As(err, &ge) {
		kind := NetworkError
		switch ge.Reason {
		case gitclone.ReasonNotFound:
			kind = NotFound
		case gitclone.ReasonAuth:
			kind = AuthFailure
		case gitclone.ReasonInvalid:
			kind = InvalidSpec
		}
		return &FetchError{Kind: kind, Source: source, Err: err}
	}

	return &FetchError{Kind: NetworkError, Source: source, Err: err}
}
