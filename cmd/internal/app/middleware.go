package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"checkin/cmd/internal/api"
)

// WithRequestLogging wraps an http.RoundTripper and logs every outgoing request.
// Requests failing below HTTP are logged as network_error and the error is
// returned untouched.
func WithRequestLogging(next http.RoundTripper, log *slog.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(req)

		attrs := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", req.Header.Get(api.HeaderRequestID),
		}
		ctx := req.Context()

		if err != nil {
			log.Log(ctx, slog.LevelWarn, "http.request", append(attrs, "result", "network_error", "err", err)...)
			return nil, err
		}

		level, result := requestLogMeta(resp.StatusCode)
		log.Log(ctx, level, "http.request", append(attrs,
			"status", resp.StatusCode,
			"status_class", statusClass(resp.StatusCode),
			"result", result,
		)...)
		return resp, nil
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// requestLogMeta maps a status code onto a log level and a result label.
// A 401 is logged at info: the session transport usually recovers from it.
func requestLogMeta(status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "server_error"
	case status == http.StatusUnauthorized:
		return slog.LevelInfo, "client_error"
	case status >= 400:
		return slog.LevelWarn, "client_error"
	case status >= 300:
		return slog.LevelInfo, "redirect"
	default:
		return slog.LevelInfo, "success"
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
