package api

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// GetClock reads the device clock; ref is echoed back as RefTimestamp so the
// caller can show both side by side.
func (c *Client) GetClock(ctx context.Context, ref time.Time) (Clock, error) {
	q := url.Values{}
	q.Set("ref", ref.Format(time.RFC3339))

	var out Clock
	err := c.getJSON(ctx, "/api/v1/clock", q, &out)
	return out, err
}

// SetClock sets the device (and hardware) clock.
func (c *Client) SetClock(ctx context.Context, in Clock) (Clock, error) {
	if _, err := time.Parse(time.RFC3339, in.Timestamp); err != nil {
		return Clock{}, &ValidationError{Field: "timestamp", Reason: "must be ISO-8601"}
	}
	var out Clock
	err := c.sendJSON(ctx, http.MethodPut, "/api/v1/clock", nil, in, &out)
	return out, err
}

// ListWifiNetworks returns the configured client networks.
func (c *Client) ListWifiNetworks(ctx context.Context) ([]WifiNetwork, error) {
	out := []WifiNetwork{}
	if err := c.getJSON(ctx, "/api/v1/wifi/networks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddWifiNetwork validates and stores a client network.
func (c *Client) AddWifiNetwork(ctx context.Context, n WifiNetwork) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPost, "/api/v1/wifi/networks", nil, n, nil)
}

// RemoveWifiNetwork forgets a client network.
func (c *Client) RemoveWifiNetwork(ctx context.Context, ssid string) error {
	if err := (WifiNetwork{SSID: ssid}).Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodDelete, "/api/v1/wifi/networks/"+url.PathEscape(ssid), nil, nil, nil)
}

// GetWifiStatus returns the interface state and mode.
func (c *Client) GetWifiStatus(ctx context.Context) (WifiStatus, error) {
	var out WifiStatus
	err := c.getJSON(ctx, "/api/v1/wifi/status", nil, &out)
	return out, err
}

// ToggleWifiMode switches between client and hotspot mode.
func (c *Client) ToggleWifiMode(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodPut, "/api/v1/wifi/mode", nil, nil, nil)
}
