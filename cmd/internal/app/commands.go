package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"checkin/cmd/internal/api"
	"checkin/cmd/internal/render"
	"checkin/cmd/internal/session"
	"checkin/cmd/internal/timefmt"
)

type command struct {
	name    string
	usage   string
	session bool
	run     func(ctx context.Context, a *App, args []string) error
}

var commands = []command{
	{name: "login", usage: "login [-remember] <user>", run: cmdLogin},
	{name: "logout", usage: "logout", run: cmdLogout},
	{name: "whoami", usage: "whoami", session: true, run: cmdWhoami},
	{name: "users", usage: "users list|show <id>|create|update <id>|delete <id>|delete-all -yes|passwd <id>|groups", session: true, run: cmdUsers},
	{name: "checkins", usage: "checkins day <date>|user <id>|all|dates|add <user id> [-at time]|delete <id> [-day date]|delete-user <user id> -yes", session: true, run: cmdCheckIns},
	{name: "export", usage: "export day <date>|user <id>|all [-o dir]", session: true, run: cmdExport},
	{name: "clock", usage: "clock get|set <dd.MM.yyyy HH:mm:ss>", session: true, run: cmdClock},
	{name: "wifi", usage: "wifi list|add <ssid>|remove <ssid>|status|toggle", session: true, run: cmdWifi},
	{name: "version", usage: "version", session: true, run: cmdVersion},
	{name: "watch", usage: "watch day <date>|user <id>|all|users [-metrics addr]", session: true, run: cmdWatch},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: checkinctl [--config file] <command>")
	_, _ = fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		_, _ = fmt.Fprintf(w, "  %s\n", c.usage)
	}
}

// usageError is a malformed command line (exit status 2).
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// reportedError wraps an error the notifier has already shown.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error { return &reportedError{err: err} }

// ExitCode maps the error returned by Run onto a process exit status.
func ExitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		return 2
	default:
		return 1
	}
}

// dispatch runs one command. Errors are turned into notifications here and
// returned only to pick the exit status.
func (a *App) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("missing command")
	}
	cmd, ok := lookupCommand(args[0])
	if !ok {
		return usagef("unknown command %q", args[0])
	}

	ctx = session.WithDestination(ctx, "checkinctl "+strings.Join(args, " "))

	if cmd.session {
		if err := a.mgr.Restore(ctx); err != nil {
			a.notify.Error(ctx, "restore session", err)
			return reported(err)
		}
		if a.mgr.TokenExpired() {
			a.notify.Info(ctx, "stored session expired, log in again")
		}
	}
	if cmd.name != "watch" {
		// One re-login per command; watch re-authenticates per request for its whole run.
		ctx = session.WithRetryState(ctx, &session.RetryState{})
	}

	err := cmd.run(ctx, a, args[1:])

	var (
		ue  *usageError
		rep *reportedError
	)
	switch {
	case err == nil, errors.As(err, &ue), errors.As(err, &rep):
		return err
	default:
		op := strings.Join(args[:min(len(args), 2)], " ")
		a.notify.Error(ctx, op, err)
		return reported(err)
	}
}

// parseFlags parses flags placed anywhere between positional arguments.
func parseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, usagef("%s: %v", fs.Name(), err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func (a *App) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.io.Err)
	return fs
}

// readSecret takes a secret from env, else one line of stdin.
func (a *App) readSecret(envKey, prompt string) (string, error) {
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	_, _ = fmt.Fprint(a.io.Err, prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no input (set %s or pipe it on stdin)", envKey)
	}
	return line, nil
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.io.Out, format, args...)
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func cmdLogin(ctx context.Context, a *App, args []string) error {
	fs := a.flags("login")
	remember := fs.Bool("remember", false, "keep the session after checkinctl exits")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usagef("login [-remember] <user>")
	}

	password, err := a.readSecret("CHECKIN_PASSWORD", "password: ")
	if err != nil {
		return err
	}
	if _, err := a.mgr.Login(ctx, pos[0], password, *remember); err != nil {
		return err
	}

	u, err := a.mgr.CurrentUser(ctx)
	if err != nil {
		return err
	}
	a.printf("logged in as %s (%s)\n", u.Name, u.Role)
	if !u.IsAdmin() {
		a.notify.Info(ctx, "warning: "+u.Name+" is not an admin, most commands will be refused")
	}
	if !*remember {
		a.notify.Info(ctx, "session ends when checkinctl exits; use -remember to keep it")
	}
	return nil
}

func cmdLogout(ctx context.Context, a *App, _ []string) error {
	a.mgr.Logout(ctx)
	a.printf("logged out\n")
	return nil
}

func cmdWhoami(ctx context.Context, a *App, _ []string) error {
	u, err := a.mgr.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return render.User(a.io.Out, u)
}

func cmdUsers(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usagef("users list|show|create|update|delete|delete-all|passwd|groups")
	}

	fs := a.flags("users " + args[0])
	var (
		name     = fs.String("name", "", "display name")
		group    = fs.String("group", "", "user group")
		role     = fs.String("role", "", "ADMIN or USER")
		memberID = fs.String("member-id", "", "member id")
		rfid     = fs.String("rfid", "", "badge RFID uid")
		password = fs.Bool("password", false, "read an initial password (CHECKIN_NEW_PASSWORD or stdin)")
		yes      = fs.Bool("yes", false, "confirm destructive operations")
	)
	pos, err := parseFlags(fs, args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		users, err := a.client.ListUsers(ctx)
		if err != nil {
			return err
		}
		return render.Users(a.io.Out, users)

	case "show":
		id, err := onlyID(pos, "users show <id>")
		if err != nil {
			return err
		}
		u, err := a.client.GetUser(ctx, id)
		if err != nil {
			return err
		}
		return render.User(a.io.Out, u)

	case "create":
		in := api.NewUser{
			Name:     *name,
			Group:    optional(*group),
			Role:     strings.ToUpper(*role),
			MemberID: optional(*memberID),
			RFIDUID:  optional(*rfid),
		}
		if *password {
			pw, err := a.readSecret("CHECKIN_NEW_PASSWORD", "new password: ")
			if err != nil {
				return err
			}
			in.Password = &pw
		}
		u, err := a.client.CreateUser(ctx, in)
		if err != nil {
			return err
		}
		return render.User(a.io.Out, u)

	case "update":
		id, err := onlyID(pos, "users update <id> [-name ..] [-group ..] [-role ..] [-member-id ..] [-rfid ..]")
		if err != nil {
			return err
		}
		u, err := a.client.GetUser(ctx, id)
		if err != nil {
			return err
		}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				u.Name = *name
			case "group":
				u.Group = optional(*group)
			case "role":
				u.Role = strings.ToUpper(*role)
			case "member-id":
				u.MemberID = optional(*memberID)
			case "rfid":
				u.RFIDUID = optional(*rfid)
			}
		})
		u, err = a.client.UpdateUser(ctx, u)
		if err != nil {
			return err
		}
		return render.User(a.io.Out, u)

	case "delete":
		id, err := onlyID(pos, "users delete <id>")
		if err != nil {
			return err
		}
		if err := a.client.DeleteUser(ctx, id); err != nil {
			return err
		}
		a.printf("deleted user %d\n", id)
		return nil

	case "delete-all":
		if !*yes {
			return usagef("users delete-all -yes")
		}
		if err := a.client.DeleteAllUsers(ctx); err != nil {
			return err
		}
		a.printf("deleted all users\n")
		return nil

	case "passwd":
		id, err := onlyID(pos, "users passwd <id>")
		if err != nil {
			return err
		}
		pw, err := a.readSecret("CHECKIN_NEW_PASSWORD", "new password: ")
		if err != nil {
			return err
		}
		if err := a.client.UpdateUserPassword(ctx, id, pw); err != nil {
			return err
		}
		a.printf("password updated for user %d\n", id)
		return nil

	case "groups":
		groups, err := a.client.ListUserGroups(ctx)
		if err != nil {
			return err
		}
		return render.Groups(a.io.Out, groups)
	}
	return usagef("unknown users command %q", args[0])
}

func onlyID(pos []string, usage string) (int64, error) {
	if len(pos) != 1 {
		return 0, usagef("%s", usage)
	}
	return parseID(pos[0])
}

func cmdCheckIns(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usagef("checkins day|user|all|dates|add|delete|delete-user")
	}

	fs := a.flags("checkins " + args[0])
	var (
		at  = fs.String("at", "", "check-in time as dd.MM.yyyy HH:mm:ss (default now)")
		day = fs.String("day", "", "show this day (YYYY-MM-DD) around a delete")
		yes = fs.Bool("yes", false, "confirm destructive operations")
	)
	pos, err := parseFlags(fs, args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "day":
		if len(pos) != 1 {
			return usagef("checkins day <YYYY-MM-DD|today>")
		}
		d, err := a.parseDay(pos[0])
		if err != nil {
			return err
		}
		b := a.dayBoard(d, false)
		defer b.close()
		return b.load(ctx)

	case "user":
		id, err := onlyID(pos, "checkins user <id>")
		if err != nil {
			return err
		}
		b := a.userBoard(id, false)
		defer b.close()
		return b.load(ctx)

	case "all":
		b := a.allBoard(false)
		defer b.close()
		return b.load(ctx)

	case "dates":
		b := a.datesBoard()
		defer b.close()
		return b.load(ctx)

	case "add":
		userID, err := onlyID(pos, "checkins add <user id> [-at dd.MM.yyyy HH:mm:ss]")
		if err != nil {
			return err
		}
		ts := time.Now()
		if *at != "" {
			iso, err := a.tf.FromDisplay(*at)
			if err != nil {
				return &api.ValidationError{Field: "at", Reason: err.Error()}
			}
			if ts, err = timefmt.ParseISO(iso); err != nil {
				return err
			}
		}
		ci, err := a.client.CreateCheckIn(ctx, userID, ts)
		if err != nil {
			return err
		}
		a.printf("created check-in %d for user %d\n", ci.ID, ci.UserID)
		return nil

	case "delete":
		id, err := onlyID(pos, "checkins delete <id> [-day YYYY-MM-DD]")
		if err != nil {
			return err
		}
		if *day == "" {
			if err := a.client.DeleteCheckIn(ctx, id); err != nil {
				return err
			}
			a.printf("deleted check-in %d\n", id)
			return nil
		}

		d, err := a.parseDay(*day)
		if err != nil {
			return err
		}
		b := a.dayBoard(d, false)
		defer b.close()
		if err := b.load(ctx); err != nil {
			return err
		}
		return b.mutate(ctx, fmt.Sprintf("delete check-in %d", id), func(ctx context.Context) error {
			return a.client.DeleteCheckIn(ctx, id)
		})

	case "delete-user":
		userID, err := onlyID(pos, "checkins delete-user <user id> -yes")
		if err != nil {
			return err
		}
		if !*yes {
			return usagef("checkins delete-user <user id> -yes")
		}
		if err := a.client.DeleteUserCheckIns(ctx, userID); err != nil {
			return err
		}
		a.printf("deleted all check-ins of user %d\n", userID)
		return nil
	}
	return usagef("unknown checkins command %q", args[0])
}

func cmdExport(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usagef("export day <date>|user <id>|all [-o dir]")
	}

	fs := a.flags("export " + args[0])
	dir := fs.String("o", ".", "output directory")
	pos, err := parseFlags(fs, args[1:])
	if err != nil {
		return err
	}

	var dl api.Download
	switch args[0] {
	case "day":
		if len(pos) != 1 {
			return usagef("export day <YYYY-MM-DD|today>")
		}
		d, err := a.parseDay(pos[0])
		if err != nil {
			return err
		}
		dl, err = a.client.DownloadCheckInsPerDay(ctx, d)
		if err != nil {
			return err
		}
	case "user":
		id, err := onlyID(pos, "export user <id>")
		if err != nil {
			return err
		}
		if dl, err = a.client.DownloadUserCheckIns(ctx, id); err != nil {
			return err
		}
	case "all":
		if dl, err = a.client.DownloadAllCheckIns(ctx); err != nil {
			return err
		}
	default:
		return usagef("unknown export %q", args[0])
	}

	path := filepath.Join(*dir, dl.Filename)
	if err := os.WriteFile(path, dl.Body, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	a.printf("wrote %s (%d bytes)\n", path, len(dl.Body))
	return nil
}

func cmdClock(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usagef("clock get|set <dd.MM.yyyy HH:mm:ss>")
	}

	switch args[0] {
	case "get":
		c, err := a.client.GetClock(ctx, time.Now())
		if err != nil {
			return err
		}
		return render.Clock(a.io.Out, c, a.tf)

	case "set":
		if len(args) < 2 {
			return usagef("clock set <dd.MM.yyyy HH:mm:ss>")
		}
		in, err := a.tf.ClockFromDisplay(strings.Join(args[1:], " "), time.Now())
		if err != nil {
			return &api.ValidationError{Field: "time", Reason: err.Error()}
		}
		c, err := a.client.SetClock(ctx, in)
		if err != nil {
			return err
		}
		return render.Clock(a.io.Out, c, a.tf)
	}
	return usagef("unknown clock command %q", args[0])
}

func cmdWifi(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return usagef("wifi list|add <ssid>|remove <ssid>|status|toggle")
	}

	switch args[0] {
	case "list":
		nets, err := a.client.ListWifiNetworks(ctx)
		if err != nil {
			return err
		}
		st, err := a.client.GetWifiStatus(ctx)
		if err != nil {
			return err
		}
		return render.WifiNetworks(a.io.Out, nets, st)

	case "add":
		if len(args) != 2 {
			return usagef("wifi add <ssid>")
		}
		pw, err := a.readSecret("CHECKIN_WIFI_PASSWORD", "wifi password: ")
		if err != nil {
			return err
		}
		if err := a.client.AddWifiNetwork(ctx, api.WifiNetwork{SSID: args[1], Password: pw}); err != nil {
			return err
		}
		a.printf("added network %s\n", args[1])
		return nil

	case "remove":
		if len(args) != 2 {
			return usagef("wifi remove <ssid>")
		}
		if err := a.client.RemoveWifiNetwork(ctx, args[1]); err != nil {
			return err
		}
		a.printf("removed network %s\n", args[1])
		return nil

	case "status", "toggle":
		if args[0] == "toggle" {
			if err := a.client.ToggleWifiMode(ctx); err != nil {
				return err
			}
		}
		st, err := a.client.GetWifiStatus(ctx)
		if err != nil {
			return err
		}
		return render.WifiStatus(a.io.Out, st)
	}
	return usagef("unknown wifi command %q", args[0])
}

func cmdVersion(ctx context.Context, a *App, _ []string) error {
	backend, err := a.client.GetVersion(ctx)
	if err != nil {
		return err
	}
	return render.Versions(a.io.Out, a.version, backend)
}
