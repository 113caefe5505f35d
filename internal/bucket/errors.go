package bucket

import (
	"errors"
	"fmt"
)

// UploadErrorKind classifies an upload failure.
type UploadErrorKind int

const (
	AuthRejected UploadErrorKind = iota + 1
	ServerError
	NetworkError
	Timeout
	// IOError means an artifact file could not be read locally.
	IOError
)

func (k UploadErrorKind) String() string {
	switch k {
	case AuthRejected:
		return "AuthRejected"
	case ServerError:
		return "ServerError"
	case NetworkError:
		return "NetworkError"
	case Timeout:
		return "Timeout"
	case IOError:
		return "IOError"
	}
	return fmt.Sprintf("UploadErrorKind(%d)", int(k))
}

// Sentinels for errors.Is against an *UploadError.
var (
	ErrAuthRejected = errors.New("bucket: credentials rejected")
	ErrServer       = errors.New("bucket: server error")
	ErrNetwork      = errors.New("bucket: network error")
	ErrTimeout      = errors.New("bucket: timed out")
	ErrIO           = errors.New("bucket: local i/o error")
)

// UploadError is returned by every Client and Session call.
type UploadError struct {
	Kind UploadErrorKind
	// Op names the API call, e.g. "create item".
	Op string
	// Status is the HTTP status for AuthRejected and ServerError.
	Status int
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("bucket: %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("bucket: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func (e *UploadError) Is(target error) bool {
	switch e.Kind {
	case AuthRejected:
		return target == ErrAuthRejected
	case ServerError:
		return target == ErrServer
	case NetworkError:
		return target == ErrNetwork
	case Timeout:
		return target == ErrTimeout
	case IOError:
		return target == ErrIO
	}
	return false
}

// ErrorKind names the failure class for run reports.
func (e *UploadError) ErrorKind() string { return e.Kind.String() }

func statusKind(status int) UploadErrorKind {
	if status == 401 || status == 403 {
		return AuthRejected
	}
	return ServerError
}
