package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"checkin/cmd/internal/livesync"
	"checkin/cmd/internal/session"
)

// cmdWatch keeps one list on screen and re-renders it whenever a push event
// touches it. Operator lines on stdin drive refresh, navigation and deletes.
func cmdWatch(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usagef("watch day <date>|user <id>|all|users [-metrics addr]")
	}

	fs := a.flags("watch " + args[0])
	metricsAddr := fs.String("metrics", a.cfg.MetricsAddr, "serve /metrics on this address")
	pos, err := parseFlags(fs, args[1:])
	if err != nil {
		return err
	}

	var lb liveBoard
	switch args[0] {
	case "day":
		if len(pos) != 1 {
			return usagef("watch day <YYYY-MM-DD|today>")
		}
		d, err := a.parseDay(pos[0])
		if err != nil {
			return err
		}
		lb = a.dayBoard(d, true)
	case "user":
		id, err := onlyID(pos, "watch user <id>")
		if err != nil {
			return err
		}
		lb = a.userBoard(id, true)
	case "all":
		lb = a.allBoard(true)
	case "users":
		lb = a.usersBoard(true)
	default:
		return usagef("unknown watch target %q", args[0])
	}
	defer lb.close()

	ch, err := a.newChannel()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if *metricsAddr != "" {
		ln, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.serveMetrics(ctx, ln)
		}()
	}

	removeListener := a.mgr.OnChange(func(s session.Session) {
		if !s.Authenticated {
			a.notify.Info(context.Background(), "session ended, run checkinctl login to continue")
		}
	})
	defer removeListener()

	h, err := ch.Subscribe(ctx, livesync.Fanout(lb))
	if err != nil {
		return err
	}
	defer h.Unsubscribe()

	// Failures are shown by the view's error hook; the watch keeps running.
	if err := lb.load(ctx); err != nil && errors.Is(err, session.ErrUnauthenticated) {
		return reported(err)
	}
	a.notify.Info(ctx, "watching "+strings.Join(args, " ")+" (commands: refresh, goto <arg>, delete <id>, quit)")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := a.in.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("watch.stop", "reason", "context_done")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep watching until interrupted.
				lines = nil
				continue
			}
			if lb.handle(ctx, line) {
				a.log.Info("watch.stop", "reason", "quit")
				return nil
			}
		}
	}
}
