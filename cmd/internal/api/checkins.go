package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ListCheckInsPerDay returns the check-ins of one calendar day ordered by time.
// An empty day yields an empty, non-nil slice.
func (c *Client) ListCheckInsPerDay(ctx context.Context, day time.Time) ([]CheckInWithUser, error) {
	q := url.Values{}
	q.Set("day", day.Format(DateLayout))

	out := []CheckInWithUser{}
	if err := c.getJSON(ctx, "/api/v1/checkins/per-day", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListUserCheckIns returns all check-ins of one user.
func (c *Client) ListUserCheckIns(ctx context.Context, userID int64) ([]CheckIn, error) {
	out := []CheckIn{}
	if err := c.getJSON(ctx, userPath(userID)+"/checkins", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAllCheckIns returns every check-in joined with its user.
func (c *Client) ListAllCheckIns(ctx context.Context) ([]CheckInWithUser, error) {
	out := []CheckInWithUser{}
	if err := c.getJSON(ctx, "/api/v1/checkins/all", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCheckInDates returns the days that have at least one check-in (calendar markers).
func (c *Client) ListCheckInDates(ctx context.Context) ([]CheckInDate, error) {
	out := []CheckInDate{}
	if err := c.getJSON(ctx, "/api/v1/checkins/dates", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCheckIn records a manual check-in for a user at ts.
func (c *Client) CreateCheckIn(ctx context.Context, userID int64, ts time.Time) (CheckIn, error) {
	if userID <= 0 {
		return CheckIn{}, &ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	q := url.Values{}
	q.Set("timestamp", ts.Format(time.RFC3339))

	var out CheckIn
	err := c.sendJSON(ctx, http.MethodPost, userPath(userID)+"/checkins", q, nil, &out)
	return out, err
}

// DeleteCheckIn deletes a single check-in.
func (c *Client) DeleteCheckIn(ctx context.Context, id int64) error {
	if id <= 0 {
		return &ValidationError{Field: "id", Reason: "must be positive"}
	}
	return c.sendJSON(ctx, http.MethodDelete, "/api/v1/checkins/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// DeleteUserCheckIns deletes every check-in of one user.
func (c *Client) DeleteUserCheckIns(ctx context.Context, userID int64) error {
	return c.sendJSON(ctx, http.MethodDelete, userPath(userID)+"/checkins", nil, nil, nil)
}
