package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// fakeBackend serves the subset of the REST and push surface the commands use.
type fakeBackend struct {
	srv *httptest.Server

	perDay    atomic.Int32
	deletes   atomic.Int32
	deleteErr atomic.Bool

	mu   sync.Mutex
	rows []map[string]any
	push chan string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{push: make(chan string, 4)}
	for i, name := range []string{"Ada", "Grace", "Linus"} {
		fb.rows = append(fb.rows, map[string]any{
			"id":        i + 1,
			"date":      "2024-03-01",
			"timestamp": fmt.Sprintf("2024-03-01T%02d:30:00Z", 7+i),
			"user_id":   i + 1,
			"user":      map[string]any{"id": i + 1, "name": name},
		})
	}

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
				return
			}
			next(w, r)
		}
	}

	r := chi.NewRouter()
	r.Post("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "admin" || creds["password"] != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": "tok-1"})
	})
	r.Get("/api/v1/users/me", authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "name": "Admin", "role": "ADMIN"})
	}))
	r.Get("/api/v1/checkins/per-day", authed(func(w http.ResponseWriter, r *http.Request) {
		fb.perDay.Add(1)
		if r.URL.Query().Get("day") != "2024-03-01" {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		fb.mu.Lock()
		defer fb.mu.Unlock()
		writeJSON(w, http.StatusOK, fb.rows)
	}))
	r.Delete("/api/v1/checkins/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		fb.deletes.Add(1)
		if fb.deleteErr.Load() {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "db down"})
			return
		}
		fb.mu.Lock()
		defer fb.mu.Unlock()
		id := chi.URLParam(r, "id")
		kept := fb.rows[:0]
		for _, row := range fb.rows {
			if b, _ := json.Marshal(row["id"]); string(b) != id {
				kept = append(kept, row)
			}
		}
		fb.rows = kept
		w.WriteHeader(http.StatusNoContent)
	}))
	r.Get("/websocket", authed(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-fb.push:
				if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					return
				}
			}
		}
	}))

	fb.srv = httptest.NewServer(r)
	t.Cleanup(fb.srv.Close)
	return fb
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setTestEnv(t *testing.T, baseURL string, autoLogin bool) {
	t.Helper()

	t.Setenv("CHECKIN_CONFIG", "")
	t.Setenv("CHECKIN_API_BASE_URL", baseURL)
	t.Setenv("CHECKIN_WS_BASE_URL", "")
	t.Setenv("CHECKIN_TOKEN_STORE", "memory")
	t.Setenv("CHECKIN_TIMEZONE", "UTC")
	t.Setenv("CHECKIN_LOG_FORMAT", "json")
	t.Setenv("CHECKIN_LOG_LEVEL", "error")
	t.Setenv("CHECKIN_COALESCE", "10ms")
	t.Setenv("CHECKIN_METRICS_ADDR", "")
	t.Setenv("CHECKIN_PASSWORD", "")
	if autoLogin {
		t.Setenv("CHECKIN_ADMIN_USER", "admin")
		t.Setenv("CHECKIN_ADMIN_PASSWORD", "pw")
	} else {
		t.Setenv("CHECKIN_ADMIN_USER", "")
		t.Setenv("CHECKIN_ADMIN_PASSWORD", "")
	}
}

func TestDeleteRejectedKeepsListAndNotifies(t *testing.T) {
	fb := newFakeBackend(t)
	fb.deleteErr.Store(true)
	setTestEnv(t, fb.srv.URL, true)

	var out, errOut syncBuffer
	err := Main(context.Background(),
		[]string{"checkins", "delete", "2", "-day", "2024-03-01"},
		Streams{Out: &out, Err: &errOut})

	if got := ExitCode(err); got != 1 {
		t.Fatalf("exit code=%d want 1 (err=%v)", got, err)
	}
	if got := strings.Count(out.String(), "TIME"); got != 1 {
		t.Fatalf("list rendered %d times, want once:\n%s", got, out.String())
	}
	for _, name := range []string{"Ada", "Grace", "Linus"} {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("row %s missing:\n%s", name, out.String())
		}
	}
	if got := fb.perDay.Load(); got != 1 {
		t.Fatalf("per-day fetches=%d want 1", got)
	}
	if got := fb.deletes.Load(); got != 1 {
		t.Fatalf("deletes=%d want 1", got)
	}
	if !strings.Contains(errOut.String(), "error: delete check-in 2: db down") {
		t.Fatalf("missing notification in stderr:\n%s", errOut.String())
	}
}

func TestDeleteRefetchesList(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, true)

	var out, errOut syncBuffer
	err := Main(context.Background(),
		[]string{"checkins", "delete", "-day", "2024-03-01", "2"},
		Streams{Out: &out, Err: &errOut})
	if err != nil {
		t.Fatalf("delete: %v\n%s", err, errOut.String())
	}

	if got := fb.perDay.Load(); got != 2 {
		t.Fatalf("per-day fetches=%d want 2", got)
	}
	tables := strings.Split(out.String(), "ID")
	if len(tables) != 3 {
		t.Fatalf("want two tables:\n%s", out.String())
	}
	if strings.Contains(tables[2], "Grace") {
		t.Fatalf("deleted row still listed:\n%s", tables[2])
	}
}

func TestEmptyDayRendersPlaceholder(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, true)

	var out, errOut syncBuffer
	if err := Main(context.Background(), []string{"checkins", "day", "2024-03-02"}, Streams{Out: &out, Err: &errOut}); err != nil {
		t.Fatalf("day: %v\n%s", err, errOut.String())
	}
	if !strings.Contains(out.String(), "NO CHECK INS FOUND") {
		t.Fatalf("placeholder missing:\n%s", out.String())
	}
}

func TestLoginRequiredNamesCommand(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, false)

	var out, errOut syncBuffer
	err := Main(context.Background(), []string{"whoami"}, Streams{Out: &out, Err: &errOut})
	if ExitCode(err) != 1 {
		t.Fatalf("exit code=%d want 1", ExitCode(err))
	}
	if !strings.Contains(errOut.String(), "login required, then retry: checkinctl whoami") {
		t.Fatalf("unexpected stderr:\n%s", errOut.String())
	}
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, false)

	var out, errOut syncBuffer
	err := Main(context.Background(), []string{"login", "admin"},
		Streams{In: strings.NewReader("pw\n"), Out: &out, Err: &errOut})
	if err != nil {
		t.Fatalf("login: %v\n%s", err, errOut.String())
	}
	if !strings.Contains(out.String(), "logged in as Admin (ADMIN)") {
		t.Fatalf("unexpected stdout: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "use -remember") {
		t.Fatalf("missing session-scope notice: %q", errOut.String())
	}
}

func TestLoginBadPassword(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, false)

	var out, errOut syncBuffer
	err := Main(context.Background(), []string{"login", "admin"},
		Streams{In: strings.NewReader("nope\n"), Out: &out, Err: &errOut})
	if ExitCode(err) != 1 {
		t.Fatalf("exit code=%d want 1", ExitCode(err))
	}
	if !strings.Contains(errOut.String(), "authentication failed") {
		t.Fatalf("unexpected stderr:\n%s", errOut.String())
	}
}

func TestUsageErrors(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, true)

	cases := [][]string{
		{},
		{"frobnicate"},
		{"checkins", "delete"},
		{"users", "delete-all"},
		{"login"},
	}
	for _, args := range cases {
		err := Main(context.Background(), args, Streams{Out: io.Discard, Err: io.Discard})
		if got := ExitCode(err); got != 2 {
			t.Fatalf("args=%v exit code=%d want 2 (err=%v)", args, got, err)
		}
	}
}

func TestWatchDayRefetchesOnMatchingPush(t *testing.T) {
	fb := newFakeBackend(t)
	setTestEnv(t, fb.srv.URL, true)

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- Main(context.Background(), []string{"watch", "day", "2024-03-01"},
			Streams{In: stdinR, Out: &out, Err: &errOut})
	}()

	waitUntil(t, func() bool { return strings.Count(out.String(), "TIME") >= 1 })

	// Other day, then a malformed frame, then the watched day.
	fb.push <- `{"rfid_uid":"aa","check_in":{"id":9,"date":"2024-03-02","timestamp":"2024-03-02T08:00:00Z","user_id":1}}`
	fb.push <- `not json`
	fb.push <- `{"rfid_uid":"bb","check_in":{"id":10,"date":"2024-03-01T00:00:00Z","timestamp":"2024-03-01T09:00:00Z","user_id":2}}`

	waitUntil(t, func() bool { return strings.Count(out.String(), "TIME") >= 2 })
	if got := fb.perDay.Load(); got != 2 {
		t.Fatalf("per-day fetches=%d want 2", got)
	}

	if _, err := io.WriteString(stdinW, "quit\n"); err != nil {
		t.Fatalf("write quit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v\n%s", err, errOut.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
