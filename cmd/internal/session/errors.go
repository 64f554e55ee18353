package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the backend rejects credentials, or when a
	// request is still unauthorized after one re-authentication.
	ErrAuth = errors.New("authentication failed")

	// ErrUnauthenticated is returned when there is no usable token and
	// auto-login is not configured.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrAutoLogin wraps a failed unattended login at startup. It is terminal.
	ErrAutoLogin = errors.New("auto-login failed")

	// ErrNoToken is returned by TokenStore.Load when nothing is stored.
	ErrNoToken = errors.New("no stored token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// AuthError is a terminal authentication failure for one operation.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrAuth)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrAuth, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is reports ErrAuth.
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// Terminal marks the error as final for the HTTP transport chain.
func (e *AuthError) Terminal() bool { return true }

// RedirectError reports that a login is required. Target is the destination
// the caller wanted to reach, to be resumed after login.
type RedirectError struct {
	Target string
}

func (e *RedirectError) Error() string {
	if e.Target == "" {
		return ErrUnauthenticated.Error() + ": login required"
	}
	return fmt.Sprintf("%s: login required, then retry: %s", ErrUnauthenticated, e.Target)
}

// Is reports ErrUnauthenticated.
func (e *RedirectError) Is(target error) bool { return target == ErrUnauthenticated }

// Terminal marks the error as final for the HTTP transport chain.
func (e *RedirectError) Terminal() bool { return true }
