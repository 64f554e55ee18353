package livesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"checkin/cmd/internal/ids"
)

const (
	// PushPath is the backend WebSocket endpoint.
	PushPath = "/websocket"

	defaultReadLimit   = 64 << 10
	dialTimeout        = 10 * time.Second
	defaultStableAfter = 10 * time.Second
)

// Authorizer writes credentials for the WebSocket upgrade request.
// *session.Manager satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, h http.Header) error
}

// Config configures a Channel.
type Config struct {
	// URL is the push endpoint, e.g. ws://checkin.local:8080/websocket.
	URL        string
	Authorizer Authorizer
	Backoff    Backoff
	HTTPClient *http.Client
	ReadLimit  int64
	// StableAfter is how long a connection must stay up, without delivering
	// a message, before the backoff starts over. Defaults to 10s.
	StableAfter time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Channel opens push subscriptions against one endpoint.
type Channel struct {
	url     string
	auth    Authorizer
	backoff Backoff
	hc      *http.Client
	limit   int64
	stable  time.Duration
	log     *slog.Logger
	metrics *Metrics
}

// PushURL joins a ws(s) base URL and PushPath.
func PushURL(wsBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsBase))
	if err != nil {
		return "", fmt.Errorf("parse ws base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported ws scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("ws base url missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + PushPath
	return u.String(), nil
}

// NewChannel validates cfg.
func NewChannel(cfg Config) (*Channel, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported push url scheme: %q", u.Scheme)
	}

	c := &Channel{
		url:     u.String(),
		auth:    cfg.Authorizer,
		backoff: cfg.Backoff.normalized(),
		hc:      cfg.HTTPClient,
		limit:   cfg.ReadLimit,
		stable:  cfg.StableAfter,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.limit <= 0 {
		c.limit = defaultReadLimit
	}
	if c.stable <= 0 {
		c.stable = defaultStableAfter
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// Handle controls one subscription.
type Handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// ID identifies the subscription in logs.
func (h *Handle) ID() string { return h.id }

// Done is closed once the subscription loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Unsubscribe closes the connection, stops any pending reconnect and waits for
// the loop to exit. It is safe to call more than once.
func (h *Handle) Unsubscribe() {
	h.cancel()
	<-h.done
}

// Subscribe starts a subscription that delivers every decoded message to
// onMessage, from a single goroutine and in arrival order. It returns without
// waiting for the first connection; connection failures are retried until
// ctx ends or Unsubscribe is called.
func (c *Channel) Subscribe(ctx context.Context, onMessage func(Message)) (*Handle, error) {
	if onMessage == nil {
		return nil, errors.New("livesync: nil message handler")
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{id: ids.MustULID(), cancel: cancel, done: make(chan struct{})}
	log := c.log.With("sub", h.id)

	go func() {
		defer close(h.done)
		c.run(ctx, log, onMessage)
	}()
	return h, nil
}

func (c *Channel) run(ctx context.Context, log *slog.Logger, onMessage func(Message)) {
	attempt := 0
	for {
		healthy, err := c.session(ctx, log, onMessage)
		if ctx.Err() != nil {
			log.Debug("push.stop")
			return
		}
		// A connection that drops before it proved useful keeps growing the delay.
		if healthy {
			attempt = 0
		}

		delay := c.backoff.Delay(attempt, nil)
		attempt++
		c.metrics.reconnect()
		log.Info("push.reconnect", "err", err, "attempt", attempt, "delay_ms", delay.Milliseconds())

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Debug("push.stop")
			return
		case <-t.C:
		}
	}
}

// session dials once and reads until the connection fails or ctx ends.
// healthy reports whether the connection delivered a message or stayed up
// for at least StableAfter.
func (c *Channel) session(ctx context.Context, log *slog.Logger, onMessage func(Message)) (healthy bool, err error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	conn.SetReadLimit(c.limit)

	started := time.Now()
	delivered := false
	c.metrics.connectedDelta(1)
	log.Info("push.connected", "url", c.url)

	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { _ = conn.Close(code, reason) })
	}
	defer func() {
		c.metrics.connectedDelta(-1)
		closeConn(websocket.StatusNormalClosure, "bye")
		healthy = delivered || time.Since(started) >= c.stable
	}()

	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				closeConn(websocket.StatusNormalClosure, "unsubscribe")
				return false, ctx.Err()
			}
			log.Info("push.disconnected", "reason", classifyReadErr(err), "err", err)
			return false, err
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			c.metrics.message("malformed")
			log.Warn("push.message.malformed", "err", err, "bytes", len(data))
			continue
		}
		c.metrics.message("received")
		delivered = true
		deliver(log, onMessage, msg)
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	h := http.Header{}
	if c.auth != nil {
		if err := c.auth.Authorize(dctx, h); err != nil {
			return nil, fmt.Errorf("authorize push dial: %w", err)
		}
	}

	conn, resp, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{
		HTTPHeader: h,
		HTTPClient: c.hc,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial push channel: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial push channel: %w", err)
	}
	return conn, nil
}

// deliver shields the read loop from a panicking handler.
func deliver(log *slog.Logger, onMessage func(Message), msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("push.handler.panic", "panic", fmt.Sprint(r), "rfid_uid", msg.RFIDUID)
		}
	}()
	onMessage(msg)
}

func classifyReadErr(err error) string {
	if websocket.CloseStatus(err) != -1 {
		return "close"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "ctx_done"
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return "conn_closed"
	}
	return "unknown"
}
