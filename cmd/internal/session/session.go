package session

import (
	"context"
	"time"

	"checkin/cmd/internal/api"
)

// State is the authentication state of a Manager.
type State int

const (
	LoggedOut State = iota
	Authenticating
	LoggedIn
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// Session is a snapshot of the active token. The zero value is "no session".
type Session struct {
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
	Authenticated bool
	RememberMe    bool
}

// Expired reports whether the token carries an expiry that has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func newSession(tok api.BearerToken, remember bool, now time.Time) Session {
	exp := tokenExpiry(tok.Token)
	if exp.IsZero() && tok.ExpiresIn > 0 {
		exp = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return Session{
		AccessToken:   tok.Token,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     exp,
		Authenticated: true,
		RememberMe:    remember,
	}
}

func (s Session) record(now time.Time) Record {
	return Record{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		RememberMe:   s.RememberMe,
		SavedAt:      now,
	}
}

func sessionFromRecord(r Record) Session {
	return Session{
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		ExpiresAt:     r.ExpiresAt,
		Authenticated: r.AccessToken != "",
		RememberMe:    r.RememberMe,
	}
}

type destinationKey struct{}

// WithDestination records where the caller is headed. It ends up in the
// RedirectError returned when a login is required.
func WithDestination(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, destinationKey{}, target)
}

func destinationFrom(ctx context.Context) string {
	v, _ := ctx.Value(destinationKey{}).(string)
	return v
}
