package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is matched by StatusError values carrying HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is matched by StatusError values carrying HTTP 403.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is matched by StatusError values carrying HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict is matched by StatusError values carrying HTTP 409.
	ErrConflict = errors.New("conflict")
	// ErrNetwork is matched by every NetworkError.
	ErrNetwork = errors.New("network error")
	// ErrDownloadTooLarge is returned when an export exceeds the client limit.
	ErrDownloadTooLarge = errors.New("download too large")
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// Is maps well-known statuses onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// NetworkError wraps transport failures (DNS, refused connection, reset, timeout).
// The operation is abandoned; callers surface it and let the user retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ValidationError is a field-scoped input error detected before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// terminalError is implemented by errors that an http.RoundTripper in the chain
// produced on purpose and that must reach the caller unchanged.
type terminalError interface {
	error
	Terminal() bool
}

func classifyTransportErr(ctx context.Context, op string, err error) error {
	var term terminalError
	if errors.As(err, &term) && term.Terminal() {
		return term
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &NetworkError{Op: op, Err: err}
}
