package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ContentTypeCSV is the Accept value that switches listings to CSV.
	ContentTypeCSV = "application/csv"
	// HeaderFilename carries the server-chosen export file name.
	HeaderFilename = "X-Filename"

	maxCSVBody = 64 << 20
)

// Download is a CSV export returned by the backend.
type Download struct {
	Filename string
	Body     []byte
}

// DownloadCheckInsPerDay exports one day as CSV.
func (c *Client) DownloadCheckInsPerDay(ctx context.Context, day time.Time) (Download, error) {
	q := url.Values{}
	q.Set("day", day.Format(DateLayout))
	return c.download(ctx, "/api/v1/checkins/per-day", q, day.Format(DateLayout)+".csv")
}

// DownloadUserCheckIns exports one user's check-ins as CSV.
func (c *Client) DownloadUserCheckIns(ctx context.Context, userID int64) (Download, error) {
	return c.download(ctx, userPath(userID)+"/checkins", nil, fmt.Sprintf("user_%d.csv", userID))
}

// DownloadAllCheckIns exports every check-in as CSV.
func (c *Client) DownloadAllCheckIns(ctx context.Context) (Download, error) {
	return c.download(ctx, "/api/v1/checkins/all", nil, time.Now().Format(DateLayout)+"_all_checkins.csv")
}

func (c *Client) download(ctx context.Context, path string, q url.Values, fallback string) (Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return Download{}, err
	}
	req.Header.Set("Accept", ContentTypeCSV)

	resp, err := c.send(req)
	if err != nil {
		return Download{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Download{}, readStatusError(req, resp)
	}

	if resp.ContentLength > c.maxDownload {
		return Download{}, fmt.Errorf("%s %s: %w: %d bytes (limit %d)", req.Method, req.URL.Path, ErrDownloadTooLarge, resp.ContentLength, c.maxDownload)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return Download{}, &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	if int64(len(body)) > c.maxDownload {
		return Download{}, fmt.Errorf("%s %s: %w: over %d bytes", req.Method, req.URL.Path, ErrDownloadTooLarge, c.maxDownload)
	}

	return Download{
		Filename: exportFilename(resp.Header, fallback),
		Body:     body,
	}, nil
}

// exportFilename picks X-Filename, then Content-Disposition, then fallback.
// The result is always a bare file name.
func exportFilename(h http.Header, fallback string) string {
	if name := safeBase(h.Get(HeaderFilename)); name != "" {
		return name
	}
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := safeBase(params["filename"]); name != "" {
				return name
			}
		}
	}
	return safeBase(fallback)
}

func safeBase(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
