// Package app wires checkinctl: config, logging, metrics, the session manager,
// the REST client and the live views behind each subcommand.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"checkin/cmd/internal/api"
	"checkin/cmd/internal/livesync"
	"checkin/cmd/internal/session"
	"checkin/cmd/internal/timefmt"
)

// Build information, set with -ldflags "-X checkin/cmd/internal/app.Version=...".
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

// Streams are the process standard streams; tests substitute buffers.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// App is the checkinctl runtime: one session manager and one REST client per process.
type App struct {
	cfg Config
	log Logger
	io  Streams
	in  *bufio.Reader

	store Store
	reg   *prometheus.Registry

	mgr     *session.Manager
	client  *api.Client
	cache   *livesync.Cache
	sync    *livesync.Metrics
	tf      timefmt.Formatter
	notify  Notifier
	version api.VersionInfo
}

// New constructs a fully wired App instance from config and logger.
//
// The REST client's transport chain is session auth, then request logging,
// then the default transport. The manager is created first because the
// transport belongs to it.
func New(ctx context.Context, cfg Config, log Logger, streams Streams) (*App, error) {
	if streams.In == nil {
		streams.In = strings.NewReader("")
	}
	if streams.Out == nil {
		streams.Out = io.Discard
	}
	if streams.Err == nil {
		streams.Err = io.Discard
	}
	if log == nil {
		log = NewLogger(streams.Err, cfg.LogLevel, cfg.LogFormat)
	}

	tf, err := timefmt.ForZone(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stores, err := openTokenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var auto *api.Credentials
	if cfg.AutoLogin() {
		auto = &api.Credentials{Username: cfg.AdminUser, Password: cfg.AdminPassword}
	}

	mgr := session.NewManager(session.Options{
		Durable:   stores.durable,
		Volatile:  stores.volatile,
		AutoLogin: auto,
		Logger:    log.With("component", "session"),
		Metrics:   session.NewMetrics(reg),
	})

	hc := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: mgr.Transport(WithRequestLogging(http.DefaultTransport, log.With("component", "http"))),
	}
	client, err := api.NewClient(api.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: hc,
		Logger:     log.With("component", "api"),
		UserAgent:  "checkinctl/" + Version,
	})
	if err != nil {
		_ = stores.closer.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	mgr.SetBackend(client)

	return &App{
		cfg:     cfg,
		log:     log,
		io:      streams,
		in:      bufio.NewReader(streams.In),
		store:   stores.closer,
		reg:     reg,
		mgr:     mgr,
		client:  client,
		cache:   livesync.NewCache(),
		sync:    livesync.NewMetrics(reg),
		tf:      tf,
		notify:  NewNotifier(streams.Err, log),
		version: api.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
	}, nil
}

// Close releases store resources (pool etc).
func (a *App) Close(ctx context.Context) error {
	if err := a.store.Close(ctx); err != nil {
		a.log.Error("store.close.fail", "err", err)
		return err
	}
	return nil
}

// newChannel builds the push channel for live views.
func (a *App) newChannel() (*livesync.Channel, error) {
	u, err := livesync.PushURL(a.cfg.WSBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return livesync.NewChannel(livesync.Config{
		URL:        u,
		Authorizer: a.mgr,
		Backoff: livesync.Backoff{
			Initial: a.cfg.ReconnectInitial,
			Max:     a.cfg.ReconnectMax,
			Factor:  2,
			Jitter:  0.2,
		},
		Logger:  a.log.With("component", "push"),
		Metrics: a.sync,
	})
}

func (a *App) viewOptions(live bool) livesync.ViewOptions {
	opts := livesync.ViewOptions{
		Cache:    a.cache,
		Coalesce: a.cfg.Coalesce,
		Logger:   a.log.With("component", "view"),
		Metrics:  a.sync,
	}
	if live {
		// One-shot commands report failed loads through their return value.
		opts.OnError = func(key livesync.Key, err error) {
			a.notify.Error(context.Background(), "load "+key.String(), err)
		}
	}
	return opts
}
