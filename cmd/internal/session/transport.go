package session

import (
	"context"
	"io"
	"net/http"
	"sync"

	"checkin/cmd/internal/api"
)

// RetryState is the per-request retry bookkeeping of the auth transport.
// It travels in the request context; nothing on the request itself is mutated.
type RetryState struct {
	mu       sync.Mutex
	Attempts int
}

// take claims the single replay. It reports false once the replay is spent.
func (rs *RetryState) take() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.Attempts > 0 {
		return false
	}
	rs.Attempts++
	return true
}

func (rs *RetryState) spent() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.Attempts > 0
}

type retryKey struct{}

// WithRetryState attaches rs to ctx. Requests sharing one RetryState count as
// one logical request for the retry-once rule: after the first re-login, any
// further 401 among them is terminal. Requests without one get their own.
func WithRetryState(ctx context.Context, rs *RetryState) context.Context {
	return context.WithValue(ctx, retryKey{}, rs)
}

func retryStateFrom(ctx context.Context) *RetryState {
	rs, _ := ctx.Value(retryKey{}).(*RetryState)
	return rs
}

// Transport returns a RoundTripper that authorizes requests through m and
// replays a request once after a 401 with a re-authenticated token.
// Requests whose context is marked api.Anonymous pass through untouched.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{m: m, base: base}
}

type authTransport struct {
	m    *Manager
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if api.IsAnonymous(ctx) {
		return t.base.RoundTrip(req)
	}

	rs := retryStateFrom(ctx)
	if rs == nil {
		rs = &RetryState{}
	}

	out := req.Clone(ctx)
	if err := t.m.Authorize(ctx, out.Header); err != nil {
		closeBody(req)
		return nil, err
	}

	for {
		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		op := req.Method + " " + req.URL.Path
		if !replayable(req) && !rs.spent() {
			// The body is gone; hand the 401 to the caller unchanged.
			return resp, nil
		}
		if !rs.take() {
			drain(resp)
			t.m.forceLogout(ctx, "unauthorized after re-authentication: "+op)
			return nil, &AuthError{Op: op, Err: api.ErrUnauthorized}
		}

		failed := bearer(out.Header)
		drain(resp)

		tok, err := t.m.Reauthenticate(ctx, failed)
		if err != nil {
			return nil, err
		}

		out = req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			out.Body = body
		}
		out.Header.Set("Authorization", "Bearer "+tok)
		t.m.log.Debug("session.retry", "op", op, "attempt", 1)
	}
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func bearer(h http.Header) string {
	const prefix = "Bearer "
	v := h.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
