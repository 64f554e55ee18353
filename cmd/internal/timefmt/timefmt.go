// Package timefmt converts between backend ISO-8601 timestamps and the
// dd.MM.yyyy HH:mm:ss form shown to operators.
package timefmt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"checkin/cmd/internal/api"
)

const (
	// DisplayLayout is dd.MM.yyyy HH:mm:ss.
	DisplayLayout = "02.01.2006 15:04:05"
	// TimeLayout is the HH:mm:ss column of check-in tables.
	TimeLayout = "15:04:05"
	// ShortDateLayout is the yy-MM-dd column of per-user tables.
	ShortDateLayout = "06-01-02"

	// DefaultZone is where the device is installed.
	DefaultZone = "Europe/Berlin"
)

// ErrNonexistentTime is returned for wall-clock times skipped by a DST change.
var ErrNonexistentTime = errors.New("time does not exist in zone")

// Formatter renders timestamps in one location.
type Formatter struct {
	loc *time.Location
}

// New returns a Formatter for loc; nil means UTC.
func New(loc *time.Location) Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return Formatter{loc: loc}
}

// ForZone loads the named zone. An empty name selects DefaultZone.
func ForZone(name string) (Formatter, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Formatter{}, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return New(loc), nil
}

// Location returns the display location.
func (f Formatter) Location() *time.Location {
	if f.loc == nil {
		return time.UTC
	}
	return f.loc
}

// ParseISO accepts RFC 3339 with or without fractional seconds.
func ParseISO(iso string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(iso))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", iso, err)
	}
	return t, nil
}

// ToDisplay formats an ISO-8601 timestamp as dd.MM.yyyy HH:mm:ss.
func (f Formatter) ToDisplay(iso string) (string, error) {
	t, err := ParseISO(iso)
	if err != nil {
		return "", err
	}
	return t.In(f.Location()).Format(DisplayLayout), nil
}

// FromDisplay parses dd.MM.yyyy HH:mm:ss in the formatter's location and
// returns RFC 3339 with the zone offset.
func (f Formatter) FromDisplay(display string) (string, error) {
	display = strings.TrimSpace(display)
	t, err := time.ParseInLocation(DisplayLayout, display, f.Location())
	if err != nil {
		return "", fmt.Errorf("parse display time %q: %w", display, err)
	}
	if t.Format(DisplayLayout) != display {
		return "", fmt.Errorf("%w: %s (%s)", ErrNonexistentTime, display, f.Location())
	}
	return t.Format(time.RFC3339), nil
}

// Time formats the HH:mm:ss part of an ISO-8601 timestamp.
func (f Formatter) Time(iso string) (string, error) {
	t, err := ParseISO(iso)
	if err != nil {
		return "", err
	}
	return t.In(f.Location()).Format(TimeLayout), nil
}

// ShortDate formats the yy-MM-dd part of an ISO-8601 timestamp.
func (f Formatter) ShortDate(iso string) (string, error) {
	t, err := ParseISO(iso)
	if err != nil {
		return "", err
	}
	return t.In(f.Location()).Format(ShortDateLayout), nil
}

// ClockToDisplay renders both sides of a clock reading.
func (f Formatter) ClockToDisplay(c api.Clock) (ref, device string, err error) {
	if c.RefTimestamp != "" {
		if ref, err = f.ToDisplay(c.RefTimestamp); err != nil {
			return "", "", err
		}
	}
	if device, err = f.ToDisplay(c.Timestamp); err != nil {
		return "", "", err
	}
	return ref, device, nil
}

// ClockFromDisplay builds the set-clock payload from an operator entry.
// ref is the operator's own clock at the time of entry.
func (f Formatter) ClockFromDisplay(display string, ref time.Time) (api.Clock, error) {
	ts, err := f.FromDisplay(display)
	if err != nil {
		return api.Clock{}, err
	}
	return api.Clock{
		RefTimestamp: ref.In(f.Location()).Format(time.RFC3339),
		Timestamp:    ts,
	}, nil
}
