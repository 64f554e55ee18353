package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingLoader struct {
	calls atomic.Int32
}

func (l *countingLoader) load(_ context.Context, key Key) ([]string, error) {
	l.calls.Add(1)
	return []string{key.Param}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestView_NonMatchingDateDoesNotRefetch(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	v := NewView(DayKey("2024-03-01"), l.load, ViewOptions{Coalesce: 10 * time.Millisecond})
	defer v.Close()

	if _, err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, date := range []string{"2024-03-02", "2024-02-29", "2023-03-01"} {
		if v.Notify(checkInMsg(date, 3)) {
			t.Fatalf("date %s must not match", date)
		}
	}
	if v.Notify(Message{RFIDUID: "04FFFF"}) {
		t.Fatalf("badge-only message must not match a day view")
	}

	time.Sleep(60 * time.Millisecond)
	if got := l.calls.Load(); got != 1 {
		t.Fatalf("loads=%d want 1", got)
	}
	if _, ok := v.Current(); !ok {
		t.Fatalf("data must be unaffected")
	}
}

func TestView_DuplicateMatchesCoalesce(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	v := NewView(DayKey("2024-03-01"), l.load, ViewOptions{Coalesce: 30 * time.Millisecond})
	defer v.Close()

	var updates atomic.Int32
	v.OnUpdate(func([]string) { updates.Add(1) })

	msg := checkInMsg("2024-03-01", 3)
	for range 5 {
		if !v.Notify(msg) {
			t.Fatalf("matching message not accepted")
		}
	}

	waitFor(t, "refetch", func() bool { return l.calls.Load() >= 1 })
	time.Sleep(80 * time.Millisecond)

	if got := l.calls.Load(); got != 1 {
		t.Fatalf("loads=%d want exactly 1", got)
	}
	if got := updates.Load(); got != 1 {
		t.Fatalf("updates=%d want 1", got)
	}
}

func TestView_StaleResultDiscarded(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context, key Key) ([]string, error) {
		if key.Param == "2024-03-01" {
			close(entered)
			<-release
		}
		return []string{key.Param}, nil
	}

	v := NewView(DayKey("2024-03-01"), load, ViewOptions{})
	defer v.Close()

	var applied []string
	var mu sync.Mutex
	v.OnUpdate(func(rows []string) {
		mu.Lock()
		applied = append(applied, rows...)
		mu.Unlock()
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := v.Load(context.Background())
		errCh <- err
	}()

	<-entered
	v.SetKey(DayKey("2024-03-02"))
	if _, err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load new key: %v", err)
	}
	close(release)

	if err := <-errCh; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	got, ok := v.Current()
	if !ok || len(got) != 1 || got[0] != "2024-03-02" {
		t.Fatalf("current=%v ok=%v", got, ok)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 1 || applied[0] != "2024-03-02" {
		t.Fatalf("applied=%v; stale rows leaked into the view", applied)
	}
}

func TestView_FailedLoadKeepsLastGood(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	load := func(_ context.Context, key Key) ([]string, error) {
		if fail.Load() {
			return nil, errors.New("backend down")
		}
		return []string{"a", "b", "c"}, nil
	}

	var reported atomic.Int32
	v := NewView(UsersKey(), load, ViewOptions{
		OnError: func(Key, error) { reported.Add(1) },
	})
	defer v.Close()

	if _, err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fail.Store(true)
	if _, err := v.Load(context.Background()); err == nil {
		t.Fatalf("expected error")
	}

	got, ok := v.Current()
	if !ok || len(got) != 3 {
		t.Fatalf("last-good data lost: %v", got)
	}
	if reported.Load() != 1 {
		t.Fatalf("error not reported")
	}
}

func TestView_AcceptHook(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	v := NewView(UsersKey(), l.load, ViewOptions{
		Coalesce: 5 * time.Millisecond,
		Accept:   func(_ Key, m Message) bool { return m.CheckIn == nil },
	})
	defer v.Close()

	if v.Notify(checkInMsg("2024-03-01", 3)) {
		t.Fatalf("accept hook should reject known users")
	}
	if !v.Notify(Message{RFIDUID: "04FFFF"}) {
		t.Fatalf("unknown badge should trigger refetch")
	}
	waitFor(t, "refetch", func() bool { return l.calls.Load() == 1 })
}

func TestView_CloseDropsPendingRefresh(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	v := NewView(DayKey("2024-03-01"), l.load, ViewOptions{Coalesce: 50 * time.Millisecond})

	v.Notify(checkInMsg("2024-03-01", 1))
	v.Close()
	v.Close()

	time.Sleep(100 * time.Millisecond)
	if got := l.calls.Load(); got != 0 {
		t.Fatalf("loads=%d after Close", got)
	}
	if _, err := v.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if v.Notify(checkInMsg("2024-03-01", 1)) {
		t.Fatalf("closed view must ignore messages")
	}
}

func TestCache_InvalidateKeepsLastGood(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.Set(DayKey("2024-03-01"), []string{"x"})
	c.Set(DayKey("2024-03-02"), []string{"y"})
	c.Set(UsersKey(), []string{"u"})

	if !c.Invalidate(DayKey("2024-03-01")) {
		t.Fatalf("Invalidate: entry missing")
	}
	if c.Invalidate(DayKey("1999-01-01")) {
		t.Fatalf("Invalidate reported a missing entry")
	}

	v, stale, ok := Lookup[[]string](c, DayKey("2024-03-01"))
	if !ok || !stale || v[0] != "x" {
		t.Fatalf("lookup=%v stale=%v ok=%v", v, stale, ok)
	}

	if n := c.InvalidateKind(KindCheckInsPerDay); n != 2 {
		t.Fatalf("InvalidateKind=%d want 2", n)
	}
	if _, stale, _ := Lookup[[]string](c, UsersKey()); stale {
		t.Fatalf("other kinds must stay fresh")
	}
	if _, _, ok := Lookup[int](c, UsersKey()); ok {
		t.Fatalf("typed lookup must reject wrong type")
	}

	c.Set(DayKey("2024-03-01"), []string{"z"})
	if _, stale, _ := Lookup[[]string](c, DayKey("2024-03-01")); stale {
		t.Fatalf("Set must replace the stale entry")
	}
}

func TestView_OnUpdateCallsEveryCallback(t *testing.T) {
	t.Parallel()

	l := &countingLoader{}
	v := NewView(UserKey(7), l.load, ViewOptions{})
	defer v.Close()

	var first, second []string
	v.OnUpdate(func(rows []string) { first = rows })
	v.OnUpdate(func(rows []string) {
		second = rows
		// Registering from inside a callback must not affect this delivery.
		v.OnUpdate(func([]string) {})
	})

	if _, err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(first) != 1 || first[0] != "7" {
		t.Fatalf("first callback got %v", first)
	}
	if len(second) != 1 || second[0] != "7" {
		t.Fatalf("second callback got %v", second)
	}
}
