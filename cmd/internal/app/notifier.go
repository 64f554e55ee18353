package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"checkin/cmd/internal/api"
	"checkin/cmd/internal/session"
)

// Notifier turns errors into operator-visible notifications.
// Errors stop here; they are not returned past a command.
type Notifier interface {
	Error(ctx context.Context, op string, err error)
	Info(ctx context.Context, msg string)
}

type logNotifier struct {
	log Logger
	mu  sync.Mutex
	w   io.Writer
}

// NewNotifier writes one human line per notification to w and logs it.
func NewNotifier(w io.Writer, log Logger) Notifier {
	return &logNotifier{log: log, w: w}
}

func (n *logNotifier) Error(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	kind := errorKind(err)
	n.log.Log(ctx, slog.LevelError, "notify.error", "op", op, "kind", kind, "err", err)

	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.w, "error: %s: %s\n", op, describeError(err))
}

func (n *logNotifier) Info(ctx context.Context, msg string) {
	n.log.Log(ctx, slog.LevelInfo, "notify.info", "text", msg)

	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.w, msg)
}

func errorKind(err error) string {
	var ve *api.ValidationError
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, session.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, session.ErrAuth):
		return "auth"
	case errors.Is(err, api.ErrNetwork):
		return "network"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "api"
	}
}

// describeError renders err the way an operator should read it.
func describeError(err error) string {
	var (
		re *session.RedirectError
		ve *api.ValidationError
		se *api.StatusError
		ne *api.NetworkError
	)
	switch {
	case errors.As(err, &re):
		if re.Target == "" {
			return "login required (run: checkinctl login <user>)"
		}
		return "login required, then retry: " + re.Target
	case errors.Is(err, session.ErrAutoLogin):
		return "check CHECKIN_ADMIN_USER/CHECKIN_ADMIN_PASSWORD: " + err.Error()
	case errors.Is(err, session.ErrAuth):
		return "authentication failed: " + err.Error()
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ne):
		return "backend unreachable, try again: " + ne.Err.Error()
	case errors.As(err, &se):
		if se.Message != "" {
			return se.Message
		}
		return se.Error()
	default:
		return err.Error()
	}
}
