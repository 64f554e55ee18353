package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"checkin/cmd/internal/api"
)

// Backend is the part of the REST client the Manager needs.
// *api.Client satisfies it.
type Backend interface {
	Login(ctx context.Context, creds api.Credentials) (api.BearerToken, error)
	Me(ctx context.Context) (api.User, error)
}

// Options configures a Manager.
type Options struct {
	// Durable keeps tokens of rememberMe logins across restarts. Defaults to a MemoryStore.
	Durable TokenStore
	// Volatile keeps tokens of session-scoped logins. Defaults to a MemoryStore.
	Volatile TokenStore
	// AutoLogin, when set, is used to log in unattended when no token is stored.
	AutoLogin *api.Credentials

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Manager owns the Session. It is safe for concurrent use.
type Manager struct {
	durable  TokenStore
	volatile TokenStore
	auto     *api.Credentials
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	flights singleflight.Group

	mu        sync.RWMutex
	backend   Backend
	state     State
	sess      Session
	creds     *api.Credentials
	expired   bool
	pending   chan struct{}
	listeners map[int]func(Session)
	nextID    int
}

// NewManager returns a logged-out Manager. SetBackend must be called before use.
func NewManager(opts Options) *Manager {
	m := &Manager{
		durable:   opts.Durable,
		volatile:  opts.Volatile,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		listeners: make(map[int]func(Session)),
	}
	if m.durable == nil {
		m.durable = NewMemoryStore()
	}
	if m.volatile == nil {
		m.volatile = NewMemoryStore()
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.AutoLogin != nil && opts.AutoLogin.Username != "" && opts.AutoLogin.Password != "" {
		c := *opts.AutoLogin
		m.auto = &c
	}
	return m
}

// SetBackend installs the REST client. The client is usually built with
// Transport, so it is created after the Manager.
func (m *Manager) SetBackend(b Backend) {
	m.mu.Lock()
	m.backend = b
	m.mu.Unlock()
}

// AutoLoginConfigured reports whether unattended login credentials are set.
func (m *Manager) AutoLoginConfigured() bool { return m.auto != nil }

// State returns the current authentication state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns a snapshot of the active session.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess
}

// Token returns the latest access token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.AccessToken
}

// TokenExpired reports whether the last stored token was rejected by the backend.
func (m *Manager) TokenExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expired
}

// OnChange registers fn to be called after every session change (login,
// re-login, logout). The returned func removes it.
func (m *Manager) OnChange(fn func(Session)) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.RLock()
	sess := m.sess
	fns := make([]func(Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(sess)
	}
}

func (m *Manager) getBackend() (Backend, error) {
	m.mu.RLock()
	b := m.backend
	m.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("%w: session manager has no backend", ErrConfig)
	}
	return b, nil
}

// Login replaces any active session with a fresh one.
//
// rememberMe selects the durable store; otherwise the token lives only as long
// as the process. The credentials are kept in memory for one-shot re-logins
// until Logout.
func (m *Manager) Login(ctx context.Context, username, password string, rememberMe bool) (Session, error) {
	m.Logout(ctx)

	creds := api.Credentials{Username: username, Password: password}
	sess, err := m.login(ctx, creds, rememberMe)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (m *Manager) login(ctx context.Context, creds api.Credentials, remember bool) (Session, error) {
	b, err := m.getBackend()
	if err != nil {
		return Session{}, err
	}

	done := m.beginAuth()
	defer done()

	tok, err := b.Login(ctx, creds)
	if err != nil {
		m.metrics.login("fail")
		m.log.Warn("session.login.fail", "user", creds.Username, "err", err)
		if errors.Is(err, api.ErrUnauthorized) {
			return Session{}, &AuthError{Op: "login", Err: err}
		}
		return Session{}, err
	}

	sess := newSession(tok, remember, m.now())
	m.persist(ctx, sess)

	m.mu.Lock()
	m.sess = sess
	m.creds = &creds
	m.state = LoggedIn
	m.expired = false
	m.mu.Unlock()

	m.metrics.login("ok")
	m.log.Info("session.login.ok", "user", creds.Username, "remember_me", remember, "expires_at", sess.ExpiresAt)
	m.notify()
	return sess, nil
}

func (m *Manager) persist(ctx context.Context, sess Session) {
	store := m.volatile
	if sess.RememberMe {
		store = m.durable
	}
	if err := store.Save(ctx, sess.record(m.now())); err != nil {
		m.log.Warn("session.store.save.fail", "remember_me", sess.RememberMe, "err", err)
	}
}

// Logout clears the session, the remembered credentials and both stores.
// It never fails; store errors are logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	had := m.sess.AccessToken != ""
	m.sess = Session{}
	m.creds = nil
	m.state = LoggedOut
	m.expired = false
	m.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := m.volatile.Clear(ctx); err != nil {
		m.log.Warn("session.store.clear.fail", "store", "volatile", "err", err)
	}
	if err := m.durable.Clear(ctx); err != nil {
		m.log.Warn("session.store.clear.fail", "store", "durable", "err", err)
	}

	if had {
		m.log.Info("session.logout")
	}
	m.notify()
}

// Restore loads a stored token at startup.
//
// Without a stored token and with auto-login configured, it logs in; a failure
// there is terminal and wrapped in ErrAutoLogin. A stored token is verified with
// /users/me; if the backend rejects it the session is cleared and TokenExpired
// reports true. Network errors leave the loaded token in place.
func (m *Manager) Restore(ctx context.Context) error {
	rec, err := m.volatile.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		rec, err = m.durable.Load(ctx)
	}

	switch {
	case errors.Is(err, ErrNoToken):
		if m.auto == nil {
			return nil
		}
		if _, err := m.login(ctx, *m.auto, false); err != nil {
			m.log.Error("session.autologin.fail", "err", err)
			return fmt.Errorf("%w: %w", ErrAutoLogin, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load token: %w", err)
	}

	sess := sessionFromRecord(rec)
	m.mu.Lock()
	m.sess = sess
	m.state = LoggedIn
	m.mu.Unlock()

	b, err := m.getBackend()
	if err != nil {
		return err
	}
	if _, err := b.Me(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, ErrAuth) || errors.Is(err, ErrUnauthenticated) {
			m.Logout(ctx)
			m.mu.Lock()
			m.expired = true
			m.mu.Unlock()
			m.log.Info("session.restore.expired")
			return nil
		}
		return fmt.Errorf("verify stored token: %w", err)
	}

	m.log.Info("session.restore.ok", "remember_me", sess.RememberMe)
	m.notify()
	return nil
}

// CurrentUser fetches the identity behind the active token.
// It returns a *RedirectError (ErrUnauthenticated) when there is no token and
// auto-login is not configured.
func (m *Manager) CurrentUser(ctx context.Context) (api.User, error) {
	if _, err := m.dispatchToken(ctx); err != nil {
		return api.User{}, err
	}
	b, err := m.getBackend()
	if err != nil {
		return api.User{}, err
	}
	return b.Me(ctx)
}

// Authorize writes the Authorization header for an outgoing request or dial.
// It is the only place the header is produced.
func (m *Manager) Authorize(ctx context.Context, h http.Header) error {
	tok, err := m.dispatchToken(ctx)
	if err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+tok)
	return nil
}

// dispatchToken waits for a pending (re-)authentication, then returns a
// usable token, logging in unattended or re-logging in ahead of expiry when
// possible.
func (m *Manager) dispatchToken(ctx context.Context) (string, error) {
	if err := m.waitPending(ctx); err != nil {
		return "", err
	}

	sess := m.Session()
	if sess.AccessToken == "" {
		if m.auto == nil {
			return "", &RedirectError{Target: destinationFrom(ctx)}
		}
		res := <-m.flights.DoChan("autologin", func() (any, error) {
			if tok := m.Token(); tok != "" {
				return tok, nil
			}
			s, err := m.login(context.WithoutCancel(ctx), *m.auto, false)
			return s.AccessToken, err
		})
		if res.Err != nil {
			return "", &AuthError{Op: "auto-login", Err: res.Err}
		}
		return res.Val.(string), nil
	}

	if sess.Expired(m.now()) {
		return m.Reauthenticate(ctx, sess.AccessToken)
	}
	return sess.AccessToken, nil
}

func (m *Manager) waitPending(ctx context.Context) error {
	m.mu.RLock()
	gate := m.pending
	m.mu.RUnlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginAuth enters Authenticating and opens a gate that dispatching requests
// wait on. The returned func closes the gate; if nothing settled the state it
// falls back to the state seen on entry.
func (m *Manager) beginAuth() (done func()) {
	gate := make(chan struct{})

	m.mu.Lock()
	prev := m.state
	m.state = Authenticating
	m.pending = gate
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.pending == gate {
			m.pending = nil
		}
		if m.state == Authenticating {
			m.state = prev
		}
		m.mu.Unlock()
		close(gate)
	}
}

// Reauthenticate replaces failedToken by logging in again with the remembered
// (or auto-login) credentials.
//
// Concurrent callers reporting the same failed token share one attempt. If
// the token already changed since the failure, the current token is returned
// without contacting the backend. A rejected re-login logs out and returns an
// *AuthError.
func (m *Manager) Reauthenticate(ctx context.Context, failedToken string) (string, error) {
	if tok := m.Token(); tok != "" && tok != failedToken {
		return tok, nil
	}

	ch := m.flights.DoChan("reauth:"+failedToken, func() (any, error) {
		return m.relogin(context.WithoutCancel(ctx), failedToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) relogin(ctx context.Context, failedToken string) (string, error) {
	m.mu.RLock()
	cur := m.sess
	creds := m.creds
	m.mu.RUnlock()

	if cur.AccessToken != "" && cur.AccessToken != failedToken {
		return cur.AccessToken, nil
	}
	if creds == nil {
		creds = m.auto
	}
	if creds == nil {
		m.metrics.reauth("no_credentials")
		m.log.Info("session.reauth.no_credentials")
		m.Logout(ctx)
		return "", &AuthError{Op: "reauthenticate", Err: ErrUnauthenticated}
	}

	b, err := m.getBackend()
	if err != nil {
		return "", err
	}

	done := m.beginAuth()
	defer done()

	tok, err := b.Login(ctx, *creds)
	if err != nil {
		if errors.Is(err, api.ErrNetwork) {
			m.metrics.reauth("network")
			m.log.Warn("session.reauth.network", "err", err)
			return "", err
		}
		m.metrics.reauth("fail")
		m.log.Warn("session.reauth.fail", "err", err)
		m.Logout(ctx)
		return "", &AuthError{Op: "reauthenticate", Err: err}
	}

	sess := newSession(tok, cur.RememberMe, m.now())
	m.persist(ctx, sess)

	m.mu.Lock()
	m.sess = sess
	m.state = LoggedIn
	m.mu.Unlock()

	m.metrics.reauth("ok")
	m.log.Info("session.reauth.ok", "expires_at", sess.ExpiresAt)
	m.notify()
	return sess.AccessToken, nil
}

// forceLogout ends the session after an unrecoverable authorization failure.
func (m *Manager) forceLogout(ctx context.Context, reason string) {
	m.log.Warn("session.forced_logout", "reason", reason)
	m.Logout(ctx)
}
