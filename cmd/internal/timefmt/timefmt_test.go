package timefmt

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"checkin/cmd/internal/api"
)

func berlin(t *testing.T) Formatter {
	t.Helper()
	f, err := ForZone("")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return f
}

func TestDisplayRoundTrip(t *testing.T) {
	t.Parallel()

	f := berlin(t)
	rng := rand.New(rand.NewPCG(1, 2))

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	for range 5000 {
		ts := time.Unix(start+rng.Int64N(end-start), 0)
		display := ts.In(f.Location()).Format(DisplayLayout)

		iso, err := f.FromDisplay(display)
		if err != nil {
			t.Fatalf("FromDisplay(%q): %v", display, err)
		}
		back, err := f.ToDisplay(iso)
		if err != nil {
			t.Fatalf("ToDisplay(%q): %v", iso, err)
		}
		if back != display {
			t.Fatalf("round trip %q -> %q -> %q", display, iso, back)
		}
	}
}

func TestFromDisplay(t *testing.T) {
	t.Parallel()

	f := berlin(t)

	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "01.03.2024 08:15:00", want: "2024-03-01T08:15:00+01:00"},
		{in: "01.07.2024 08:15:00", want: "2024-07-01T08:15:00+02:00"},
		{in: " 29.02.2024 23:59:59 ", want: "2024-02-29T23:59:59+01:00"},
		{in: "31.03.2024 02:30:00", wantErr: ErrNonexistentTime},
		{in: "2024-03-01 08:15:00"},
		{in: "30.02.2024 08:15:00"},
	}

	for _, tc := range cases {
		got, err := f.FromDisplay(tc.in)
		switch {
		case tc.want != "":
			if err != nil || got != tc.want {
				t.Fatalf("FromDisplay(%q)=%q,%v want %q", tc.in, got, err, tc.want)
			}
		case tc.wantErr != nil:
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("FromDisplay(%q): want %v, got %v", tc.in, tc.wantErr, err)
			}
		default:
			if err == nil {
				t.Fatalf("FromDisplay(%q): expected error", tc.in)
			}
		}
	}
}

func TestTableColumns(t *testing.T) {
	t.Parallel()

	f := berlin(t)
	iso := "2024-02-29T23:30:05Z"

	if got, _ := f.Time(iso); got != "00:30:05" {
		t.Fatalf("Time=%q", got)
	}
	if got, _ := f.ShortDate(iso); got != "24-03-01" {
		t.Fatalf("ShortDate=%q", got)
	}
	if _, err := f.Time("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestClockDisplay(t *testing.T) {
	t.Parallel()

	f := berlin(t)

	ref, dev, err := f.ClockToDisplay(api.Clock{
		RefTimestamp: "2024-03-01T07:00:00Z",
		Timestamp:    "2024-03-01T07:00:03.250Z",
	})
	if err != nil {
		t.Fatalf("ClockToDisplay: %v", err)
	}
	if ref != "01.03.2024 08:00:00" || dev != "01.03.2024 08:00:03" {
		t.Fatalf("ref=%q dev=%q", ref, dev)
	}

	c, err := f.ClockFromDisplay("01.03.2024 09:00:00", time.Date(2024, 3, 1, 7, 59, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ClockFromDisplay: %v", err)
	}
	if c.Timestamp != "2024-03-01T09:00:00+01:00" || c.RefTimestamp != "2024-03-01T08:59:00+01:00" {
		t.Fatalf("clock=%+v", c)
	}
}

func TestNewNilLocation(t *testing.T) {
	t.Parallel()

	if got, _ := New(nil).ToDisplay("2024-03-01T10:00:00+02:00"); got != "01.03.2024 08:00:00" {
		t.Fatalf("UTC display=%q", got)
	}
}
