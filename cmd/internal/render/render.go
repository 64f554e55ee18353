// Package render writes backend data as aligned text tables.
package render

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"checkin/cmd/internal/api"
	"checkin/cmd/internal/timefmt"
)

// NoCheckIns is the placeholder row of an empty per-day table.
const NoCheckIns = "NO CHECK INS FOUND"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func row(tw *tabwriter.Writer, cols ...string) {
	for i, c := range cols {
		if i > 0 {
			_, _ = io.WriteString(tw, "\t")
		}
		_, _ = io.WriteString(tw, c)
	}
	_, _ = io.WriteString(tw, "\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

// CheckInsPerDay writes ID, time of day and user name.
func CheckInsPerDay(w io.Writer, rows []api.CheckInWithUser, f timefmt.Formatter) error {
	tw := newTable(w)
	row(tw, "ID", "TIME", "USER")
	for _, c := range rows {
		ts, err := f.Time(c.Timestamp)
		if err != nil {
			ts = c.Timestamp
		}
		row(tw, id(c.ID), ts, c.User.Name)
	}
	if len(rows) == 0 {
		row(tw, "", NoCheckIns, "")
	}
	return tw.Flush()
}

// AllCheckIns writes ID, date, time and user name.
func AllCheckIns(w io.Writer, rows []api.CheckInWithUser, f timefmt.Formatter) error {
	tw := newTable(w)
	row(tw, "ID", "DATE", "TIME", "USER")
	for _, c := range rows {
		day, err := f.ShortDate(c.Timestamp)
		if err != nil {
			day = c.Date
		}
		ts, err := f.Time(c.Timestamp)
		if err != nil {
			ts = c.Timestamp
		}
		row(tw, id(c.ID), day, ts, c.User.Name)
	}
	if len(rows) == 0 {
		row(tw, "", NoCheckIns, "", "")
	}
	return tw.Flush()
}

// UserCheckIns writes ID, date and time of one user's check-ins.
func UserCheckIns(w io.Writer, rows []api.CheckIn, f timefmt.Formatter) error {
	tw := newTable(w)
	row(tw, "ID", "DATE", "TIME")
	for _, c := range rows {
		day, err := f.ShortDate(c.Timestamp)
		if err != nil {
			day = c.Date
		}
		ts, err := f.Time(c.Timestamp)
		if err != nil {
			ts = c.Timestamp
		}
		row(tw, id(c.ID), day, ts)
	}
	if len(rows) == 0 {
		row(tw, "", "-", "")
	}
	return tw.Flush()
}

// Dates writes one calendar day per line.
func Dates(w io.Writer, rows []api.CheckInDate) error {
	for _, d := range rows {
		if _, err := fmt.Fprintln(w, d.Date); err != nil {
			return err
		}
	}
	return nil
}

// Users writes the user list.
func Users(w io.Writer, users []api.User) error {
	tw := newTable(w)
	row(tw, "ID", "NAME", "GROUP", "ROLE", "MEMBER ID", "RFID UID")
	for _, u := range users {
		row(tw, id(u.ID), u.Name, deref(u.Group), u.Role, deref(u.MemberID), deref(u.RFIDUID))
	}
	return tw.Flush()
}

// User writes one user as key/value lines.
func User(w io.Writer, u api.User) error {
	tw := newTable(w)
	row(tw, "ID", id(u.ID))
	row(tw, "Name", u.Name)
	row(tw, "Group", deref(u.Group))
	row(tw, "Role", u.Role)
	row(tw, "Member ID", deref(u.MemberID))
	row(tw, "RFID UID", deref(u.RFIDUID))
	return tw.Flush()
}

// Groups writes one group per line.
func Groups(w io.Writer, groups []string) error {
	for _, g := range groups {
		if _, err := fmt.Fprintln(w, g); err != nil {
			return err
		}
	}
	return nil
}

// WifiNetworks marks the network the device is connected to.
func WifiNetworks(w io.Writer, nets []api.WifiNetwork, st api.WifiStatus) error {
	connected := ""
	if !st.IsHotspot() {
		connected = deref(st.SSID)
	}

	tw := newTable(w)
	row(tw, "SSID", "CONNECTED")
	for _, n := range nets {
		mark := ""
		if connected != "" && n.SSID == connected {
			mark = "yes"
		}
		row(tw, n.SSID, mark)
	}
	return tw.Flush()
}

// WifiStatus writes the interface state.
func WifiStatus(w io.Writer, st api.WifiStatus) error {
	tw := newTable(w)
	row(tw, "Mode", st.Mode)
	row(tw, "State", st.State)
	row(tw, "SSID", deref(st.SSID))
	row(tw, "IP address", deref(st.IPAddress))
	return tw.Flush()
}

// Clock writes the device clock next to the reference clock.
func Clock(w io.Writer, c api.Clock, f timefmt.Formatter) error {
	ref, dev, err := f.ClockToDisplay(c)
	if err != nil {
		return err
	}
	tw := newTable(w)
	row(tw, "Device", dev)
	row(tw, "Local", ref)
	return tw.Flush()
}

// Versions writes one line per module.
func Versions(w io.Writer, client api.VersionInfo, backend api.VersionInfo) error {
	tw := newTable(w)
	row(tw, "MODULE", "VERSION", "DATE", "GITCOMMIT")
	row(tw, "checkinctl", client.Version, client.BuildTime, client.GitCommit)
	row(tw, "backend", backend.Version, backend.BuildTime, backend.GitCommit)
	return tw.Flush()
}
