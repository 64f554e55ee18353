package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"checkin/cmd/internal/api"
)

// fakeBackend issues tok-1, tok-2, ... and accepts only tokens in valid.
type fakeBackend struct {
	mu         sync.Mutex
	password   string
	issued     int
	valid      map[string]bool
	logins     int
	meCalls    int
	meAuth     []string
	created    []string
	loginDelay time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{password: "secret", valid: make(map[string]bool)}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var creds api.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if r.Header.Get("Authorization") != "" {
			http.Error(w, "login must be anonymous", http.StatusBadRequest)
			return
		}
		if f.loginDelay > 0 {
			time.Sleep(f.loginDelay)
		}

		f.mu.Lock()
		f.logins++
		if creds.Username != "admin" || creds.Password != f.password {
			f.mu.Unlock()
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		f.issued++
		tok := fmt.Sprintf("tok-%d", f.issued)
		f.valid[tok] = true
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(api.BearerToken{Token: tok})
	})

	mux.HandleFunc("GET /api/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		f.mu.Lock()
		f.meCalls++
		f.meAuth = append(f.meAuth, auth)
		ok := f.valid[strings.TrimPrefix(auth, "Bearer ")]
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(api.User{ID: 1, Name: "admin", Role: api.RoleAdmin})
	})

	mux.HandleFunc("POST /api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		var in api.NewUser
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		ok := f.valid[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		if ok {
			f.created = append(f.created, in.Name)
		}
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.User{ID: 2, Name: in.Name})
	})

	return mux
}

func (f *fakeBackend) revokeAll() {
	f.mu.Lock()
	f.valid = make(map[string]bool)
	f.mu.Unlock()
}

func (f *fakeBackend) counts() (logins, me int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.meCalls
}

func newStack(t *testing.T, fb *fakeBackend, opts Options) (*Manager, *api.Client) {
	t.Helper()

	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	m := NewManager(opts)
	c, err := api.NewClient(api.Config{
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Transport: m.Transport(nil), Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("api.NewClient: %v", err)
	}
	m.SetBackend(c)
	return m, c
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{})

	_, err := m.Login(context.Background(), "admin", "nope", false)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if m.State() != LoggedOut {
		t.Fatalf("state=%v want %v", m.State(), LoggedOut)
	}
	if m.Token() != "" {
		t.Fatalf("token must be empty after failed login")
	}
}

func TestTransport_RetriesOnceWithNewToken(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{})
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	fb.revokeAll()

	u, err := m.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if u.Name != "admin" {
		t.Fatalf("unexpected user %+v", u)
	}

	logins, me := fb.counts()
	if logins != 2 || me != 2 {
		t.Fatalf("logins=%d me=%d; want 2 and 2", logins, me)
	}
	if got := fb.meAuth[1]; got != "Bearer tok-2" {
		t.Fatalf("replay carried %q", got)
	}
	if m.Token() != "tok-2" || m.State() != LoggedIn {
		t.Fatalf("token=%q state=%v", m.Token(), m.State())
	}
}

func TestTransport_ReplaysRequestBody(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, c := newStack(t, fb, Options{})
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	fb.revokeAll()

	u, err := c.CreateUser(ctx, api.NewUser{Name: "Grace"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Name != "Grace" || len(fb.created) != 1 || fb.created[0] != "Grace" {
		t.Fatalf("body not replayed: user=%+v created=%v", u, fb.created)
	}
}

func TestTransport_SecondUnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/login" {
			fb.handler().ServeHTTP(w, r)
			return
		}
		fb.mu.Lock()
		fb.meCalls++
		fb.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(Options{})
	c, err := api.NewClient(api.Config{BaseURL: srv.URL, HTTPClient: &http.Client{Transport: m.Transport(nil)}})
	if err != nil {
		t.Fatalf("api.NewClient: %v", err)
	}
	m.SetBackend(c)
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err = m.CurrentUser(ctx)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected terminal ErrAuth, got %v", err)
	}
	if errors.Is(err, api.ErrNetwork) {
		t.Fatalf("terminal auth error must not be reported as network error: %v", err)
	}

	logins, me := fb.counts()
	if me != 2 {
		t.Fatalf("request sent %d times; want exactly 2", me)
	}
	if logins != 2 {
		t.Fatalf("logins=%d; want initial login plus one re-login", logins)
	}
	if m.State() != LoggedOut || m.Token() != "" {
		t.Fatalf("expected forced logout; state=%v token=%q", m.State(), m.Token())
	}
}

func TestTransport_SharedRetryStateAllowsOneRelogin(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{})

	if _, err := m.Login(context.Background(), "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	ctx := WithRetryState(context.Background(), &RetryState{})

	fb.revokeAll()
	if _, err := m.CurrentUser(ctx); err != nil {
		t.Fatalf("first CurrentUser: %v", err)
	}

	fb.revokeAll()
	_, err := m.CurrentUser(ctx)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected terminal ErrAuth on second 401, got %v", err)
	}

	logins, me := fb.counts()
	if logins != 2 {
		t.Fatalf("logins=%d; want initial login plus one re-login", logins)
	}
	if me != 3 {
		t.Fatalf("me calls=%d want 3", me)
	}
	if m.State() != LoggedOut {
		t.Fatalf("state=%v want %v", m.State(), LoggedOut)
	}
}

func TestReauthenticate_ConcurrentFailuresShareOneLogin(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	fb.loginDelay = 20 * time.Millisecond
	m, c := newStack(t, fb, Options{})
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	fb.revokeAll()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Me(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Me: %v", err)
	}
	if logins, _ := fb.counts(); logins != 2 {
		t.Fatalf("logins=%d; want 2 (one re-login for all failures)", logins)
	}
}

func TestReauthenticate_TokenAlreadyChanged(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{})
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}

	tok, err := m.Reauthenticate(ctx, "tok-0")
	if err != nil {
		t.Fatalf("Reauthenticate: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("tok=%q want tok-1", tok)
	}
	if logins, _ := fb.counts(); logins != 1 {
		t.Fatalf("logins=%d; stale failure must not re-login", logins)
	}
}

func TestLogout_ClearsDurableStoreWithoutSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	durable := NewMemoryStore()
	if err := durable.Save(ctx, Record{AccessToken: "left-over", RememberMe: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m := NewManager(Options{Durable: durable})
	m.Logout(ctx)

	if _, err := durable.Load(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("durable store not cleared: %v", err)
	}
	h := http.Header{}
	if err := m.Authorize(ctx, h); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if h.Get("Authorization") != "" {
		t.Fatalf("authorization header must be empty after logout")
	}
}

func TestRestart_RememberMe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		remember   bool
		wantState  State
		wantStored bool
	}{
		{name: "session_scoped", remember: false, wantState: LoggedOut, wantStored: false},
		{name: "remembered", remember: true, wantState: LoggedIn, wantStored: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			fb := newFakeBackend()
			path := filepath.Join(t.TempDir(), "admin.token")

			fs1, err := NewFileStore(path, "")
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			m1, _ := newStack(t, fb, Options{Durable: fs1})
			if _, err := m1.Login(ctx, "admin", "secret", tc.remember); err != nil {
				t.Fatalf("Login: %v", err)
			}

			// Simulated restart: same durable file, fresh process memory.
			fs2, err := NewFileStore(path, "")
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			_, loadErr := fs2.Load(ctx)
			if stored := loadErr == nil; stored != tc.wantStored {
				t.Fatalf("stored=%v want %v (err=%v)", stored, tc.wantStored, loadErr)
			}

			m2, _ := newStack(t, fb, Options{Durable: fs2})
			if err := m2.Restore(ctx); err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if m2.State() != tc.wantState {
				t.Fatalf("state=%v want %v", m2.State(), tc.wantState)
			}

			if !tc.remember {
				_, err := m2.CurrentUser(WithDestination(ctx, "checkins day 2024-03-01"))
				var re *RedirectError
				if !errors.As(err, &re) {
					t.Fatalf("expected RedirectError, got %v", err)
				}
				if re.Target != "checkins day 2024-03-01" {
					t.Fatalf("target=%q", re.Target)
				}
			}
		})
	}
}

func TestRestore_AutoLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{AutoLogin: &api.Credentials{Username: "admin", Password: "secret"}})
	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if m.State() != LoggedIn {
		t.Fatalf("state=%v want %v", m.State(), LoggedIn)
	}

	fb2 := newFakeBackend()
	bad, _ := newStack(t, fb2, Options{AutoLogin: &api.Credentials{Username: "admin", Password: "wrong"}})
	err := bad.Restore(ctx)
	if !errors.Is(err, ErrAutoLogin) || !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAutoLogin wrapping ErrAuth, got %v", err)
	}
	if bad.State() != LoggedOut {
		t.Fatalf("state=%v want %v", bad.State(), LoggedOut)
	}
}

func TestAutoLogin_BeforeFirstCall(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, c := newStack(t, fb, Options{AutoLogin: &api.Credentials{Username: "admin", Password: "secret"}})

	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("Me: %v", err)
	}
	if m.Token() != "tok-1" {
		t.Fatalf("token=%q want tok-1", m.Token())
	}
}

func TestRestore_ExpiredStoredToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	durable := NewMemoryStore()
	_ = durable.Save(ctx, Record{AccessToken: "revoked", RememberMe: true})

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{Durable: durable})

	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !m.TokenExpired() {
		t.Fatalf("expected TokenExpired")
	}
	if m.State() != LoggedOut {
		t.Fatalf("state=%v want %v", m.State(), LoggedOut)
	}
	if _, err := durable.Load(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expired token must be cleared: %v", err)
	}
}

func TestOnChange(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend()
	m, _ := newStack(t, fb, Options{})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []bool
	remove := m.OnChange(func(s Session) {
		mu.Lock()
		seen = append(seen, s.Authenticated)
		mu.Unlock()
	})

	if _, err := m.Login(ctx, "admin", "secret", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	m.Logout(ctx)
	remove()
	m.Logout(ctx)

	mu.Lock()
	defer mu.Unlock()
	// Login logs out first.
	want := []bool{false, true, false}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("seen=%v want %v", seen, want)
	}
}
