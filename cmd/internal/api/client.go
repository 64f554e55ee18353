// Package api is a typed client for the check-in backend REST surface.
//
// The client does not know about sessions. Authentication is attached by the
// http.RoundTripper chain the caller installs on Config.HTTPClient.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
	maxJSONBody    = 16 << 20

	// HeaderRequestID correlates client and backend log lines.
	HeaderRequestID = "X-Request-ID"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend origin, e.g. http://checkin.local:8080.
	BaseURL string
	// HTTPClient carries the transport chain (auth, logging). Defaults to a plain client.
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
	// MaxDownloadBytes caps CSV exports. Defaults to 64 MiB.
	MaxDownloadBytes int64
}

// Client talks to /api on the configured backend.
type Client struct {
	base        *url.URL
	hc          *http.Client
	log         *slog.Logger
	ua          string
	maxDownload int64
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("api: empty base url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("api: base url missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "checkinctl"
	}

	maxDownload := cfg.MaxDownloadBytes
	if maxDownload <= 0 {
		maxDownload = maxCSVBody
	}

	return &Client{base: u, hc: hc, log: log, ua: ua, maxDownload: maxDownload}, nil
}

// BaseURL returns the normalized backend origin.
func (c *Client) BaseURL() string { return c.base.String() }

type anonymousKey struct{}

// Anonymous marks ctx so that authenticating transports leave the request alone.
// Used for the login call itself.
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

// IsAnonymous reports whether ctx was marked by Anonymous.
func IsAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	// path arrives escaped; segments built with url.PathEscape may hold %2F.
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return nil, fmt.Errorf("api: bad path %q: %w", path, err)
	}
	u := *c.base
	u.Path = c.base.Path + unescaped
	u.RawPath = c.base.EscapedPath() + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: marshal %s %s: %w", method, path, err)
		}
		// *bytes.Reader lets net/http populate GetBody, so the request can be replayed.
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	return req, nil
}

// send executes req and returns the response for any status; callers own the body.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	op := req.Method + " " + req.URL.Path
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classifyTransportErr(req.Context(), op, err)
	}
	return resp, nil
}

// do executes req, maps non-2xx to *StatusError and decodes JSON into out (when non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(req, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("api: decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func readStatusError(req *http.Request, resp *http.Response) error {
	se := &StatusError{
		Method: req.Method,
		Path:   req.URL.Path,
		Status: resp.StatusCode,
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	if len(b) > 0 && json.Unmarshal(b, &er) == nil {
		switch {
		case er.Message != "":
			se.Message = er.Message
		case er.Error != "":
			se.Message = er.Error
		}
	} else if len(b) > 0 {
		se.Message = strings.TrimSpace(string(b))
	}
	return se
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req, err := c.newRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Login exchanges credentials for a bearer token. The request is never authenticated or retried.
func (c *Client) Login(ctx context.Context, creds Credentials) (BearerToken, error) {
	if err := creds.Validate(); err != nil {
		return BearerToken{}, err
	}
	var out BearerToken
	if err := c.sendJSON(Anonymous(ctx), http.MethodPost, "/api/login", nil, creds, &out); err != nil {
		return BearerToken{}, err
	}
	if strings.TrimSpace(out.Token) == "" {
		return BearerToken{}, errors.New("api: login response missing token")
	}
	return out, nil
}

// Me returns the user that owns the active token.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.getJSON(ctx, "/api/v1/users/me", nil, &u)
	return u, err
}

// GetVersion returns the backend build information.
func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	err := c.getJSON(ctx, "/api/v1/version", nil, &v)
	return v, err
}
