package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"checkin/cmd/internal/api"
	"checkin/cmd/internal/livesync"
	"checkin/cmd/internal/render"
)

// board is one list on screen: a view, how to render it and the mutations an
// operator may run against it.
type board[T any] struct {
	a      *App
	view   *livesync.View[T]
	render func(io.Writer, T) error
	live   bool

	// navigate maps an operator argument onto another key of the same kind.
	navigate func(arg string) (livesync.Key, error)
	// remove deletes one row by id.
	remove   func(ctx context.Context, id int64) error
	removeOp string

	mu sync.Mutex
}

type boardSpec[T any] struct {
	key      livesync.Key
	load     livesync.Loader[T]
	render   func(io.Writer, T) error
	accept   func(livesync.Key, livesync.Message) bool
	navigate func(string) (livesync.Key, error)
	remove   func(context.Context, int64) error
	removeOp string
}

func newBoard[T any](a *App, spec boardSpec[T], live bool) *board[T] {
	opts := a.viewOptions(live)
	opts.Accept = spec.accept

	b := &board[T]{
		a:        a,
		render:   spec.render,
		live:     live,
		navigate: spec.navigate,
		remove:   spec.remove,
		removeOp: spec.removeOp,
	}
	b.view = livesync.NewView(spec.key, spec.load, opts)
	b.view.OnUpdate(b.show)
	return b
}

func (b *board[T]) show(val T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.render(b.a.io.Out, val); err != nil {
		b.a.log.Warn("render.fail", "key", b.view.Key().String(), "err", err)
	}
}

// load fetches the current key. The result is rendered through OnUpdate.
func (b *board[T]) load(ctx context.Context) error {
	_, err := b.view.Load(ctx)
	if errors.Is(err, livesync.ErrStale) {
		return nil
	}
	return err
}

// mutate runs fn against the backend. A failure leaves the rendered list as
// it was and is reported; a success re-fetches the list.
func (b *board[T]) mutate(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		b.a.notify.Error(ctx, op, err)
		return reported(err)
	}
	if b.live {
		b.view.Invalidate()
		return nil
	}
	b.a.cache.Invalidate(b.view.Key())
	return b.load(ctx)
}

// Notify forwards push messages to the view.
func (b *board[T]) Notify(m livesync.Message) bool { return b.view.Notify(m) }

func (b *board[T]) close() { b.view.Close() }

// handle runs one operator line typed during watch. It reports whether the
// operator asked to quit.
func (b *board[T]) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return true

	case "r", "refresh":
		b.view.Invalidate()

	case "goto":
		if b.navigate == nil || len(fields) != 2 {
			b.a.notify.Info(ctx, "usage: goto <day|user id>")
			return false
		}
		key, err := b.navigate(fields[1])
		if err != nil {
			b.a.notify.Error(ctx, "goto", err)
			return false
		}
		b.view.SetKey(key)
		_ = b.load(ctx)

	case "delete":
		if b.remove == nil || len(fields) != 2 {
			b.a.notify.Info(ctx, "usage: delete <id>")
			return false
		}
		id, err := parseID(fields[1])
		if err != nil {
			b.a.notify.Error(ctx, "delete", err)
			return false
		}
		_ = b.mutate(ctx, fmt.Sprintf("%s %d", b.removeOp, id), func(ctx context.Context) error {
			return b.remove(ctx, id)
		})

	default:
		b.a.notify.Info(ctx, "commands: refresh, goto <arg>, delete <id>, quit")
	}
	return false
}

type liveBoard interface {
	livesync.Notifier
	load(ctx context.Context) error
	handle(ctx context.Context, line string) bool
	close()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, &api.ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a positive number", s)}
	}
	return id, nil
}

// parseDay reads YYYY-MM-DD or "today" in the display zone.
func (a *App) parseDay(s string) (time.Time, error) {
	loc := a.tf.Location()
	if strings.EqualFold(strings.TrimSpace(s), "today") {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	d, err := time.ParseInLocation(api.DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, &api.ValidationError{Field: "day", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", s)}
	}
	return d, nil
}

func (a *App) dayBoard(day time.Time, live bool) *board[[]api.CheckInWithUser] {
	return newBoard(a, boardSpec[[]api.CheckInWithUser]{
		key: livesync.DayKey(day.Format(api.DateLayout)),
		load: func(ctx context.Context, key livesync.Key) ([]api.CheckInWithUser, error) {
			d, err := a.parseDay(key.Param)
			if err != nil {
				return nil, err
			}
			return a.client.ListCheckInsPerDay(ctx, d)
		},
		render: func(w io.Writer, rows []api.CheckInWithUser) error {
			return render.CheckInsPerDay(w, rows, a.tf)
		},
		navigate: func(arg string) (livesync.Key, error) {
			d, err := a.parseDay(arg)
			if err != nil {
				return livesync.Key{}, err
			}
			return livesync.DayKey(d.Format(api.DateLayout)), nil
		},
		remove:   a.client.DeleteCheckIn,
		removeOp: "delete check-in",
	}, live)
}

func (a *App) userBoard(userID int64, live bool) *board[[]api.CheckIn] {
	return newBoard(a, boardSpec[[]api.CheckIn]{
		key: livesync.UserKey(userID),
		load: func(ctx context.Context, key livesync.Key) ([]api.CheckIn, error) {
			id, err := parseID(key.Param)
			if err != nil {
				return nil, err
			}
			return a.client.ListUserCheckIns(ctx, id)
		},
		render: func(w io.Writer, rows []api.CheckIn) error {
			return render.UserCheckIns(w, rows, a.tf)
		},
		navigate: func(arg string) (livesync.Key, error) {
			id, err := parseID(arg)
			if err != nil {
				return livesync.Key{}, err
			}
			return livesync.UserKey(id), nil
		},
		remove:   a.client.DeleteCheckIn,
		removeOp: "delete check-in",
	}, live)
}

func (a *App) allBoard(live bool) *board[[]api.CheckInWithUser] {
	return newBoard(a, boardSpec[[]api.CheckInWithUser]{
		key: livesync.Key{Kind: livesync.KindAllCheckIns},
		load: func(ctx context.Context, _ livesync.Key) ([]api.CheckInWithUser, error) {
			return a.client.ListAllCheckIns(ctx)
		},
		render: func(w io.Writer, rows []api.CheckInWithUser) error {
			return render.AllCheckIns(w, rows, a.tf)
		},
		remove:   a.client.DeleteCheckIn,
		removeOp: "delete check-in",
	}, live)
}

func (a *App) datesBoard() *board[[]api.CheckInDate] {
	return newBoard(a, boardSpec[[]api.CheckInDate]{
		key: livesync.Key{Kind: livesync.KindCheckInDates},
		load: func(ctx context.Context, _ livesync.Key) ([]api.CheckInDate, error) {
			return a.client.ListCheckInDates(ctx)
		},
		render: render.Dates,
	}, false)
}

// usersBoard re-fetches on scans of unknown badges and of users missing from
// the list; scans of listed users change nothing it shows.
func (a *App) usersBoard(live bool) *board[[]api.User] {
	var b *board[[]api.User]
	b = newBoard(a, boardSpec[[]api.User]{
		key: livesync.UsersKey(),
		load: func(ctx context.Context, _ livesync.Key) ([]api.User, error) {
			return a.client.ListUsers(ctx)
		},
		render: render.Users,
		accept: func(_ livesync.Key, m livesync.Message) bool {
			if m.CheckIn == nil {
				return true
			}
			users, ok := b.view.Current()
			if !ok {
				return true
			}
			for _, u := range users {
				if u.ID == m.CheckIn.UserID {
					return false
				}
			}
			return true
		},
		remove:   a.client.DeleteUser,
		removeOp: "delete user",
	}, live)
	return b
}
