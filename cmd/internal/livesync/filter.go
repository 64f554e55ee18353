package livesync

import (
	"strconv"
	"time"

	v1 "checkin/contracts/push/v1"
)

// Filter decides whether a push message can affect a displayed data set.
type Filter interface {
	Match(Message) bool
}

// FilterFunc adapts a func to Filter.
type FilterFunc func(Message) bool

func (f FilterFunc) Match(m Message) bool { return f(m) }

// DateFilter matches check-ins on one calendar day (YYYY-MM-DD).
type DateFilter struct {
	Day string
}

// ForDay returns the DateFilter for t's calendar day in t's location.
func ForDay(t time.Time) DateFilter { return DateFilter{Day: t.Format(v1.DateLayout)} }

func (f DateFilter) Match(m Message) bool {
	if m.CheckIn == nil {
		return false
	}
	day, ok := v1.NormalizeDate(m.CheckIn.Date)
	if !ok {
		return false
	}
	want, ok := v1.NormalizeDate(f.Day)
	return ok && day == want
}

// UserFilter matches check-ins of one user.
type UserFilter struct {
	UserID int64
}

func (f UserFilter) Match(m Message) bool {
	return m.CheckIn != nil && m.CheckIn.UserID == f.UserID
}

// AllUsersFilter matches every well-formed message, RFID-only scans included:
// an unknown badge may be about to be registered. Whether to re-fetch is up
// to the view's Accept hook.
type AllUsersFilter struct{}

func (AllUsersFilter) Match(Message) bool { return true }

// AnyCheckInFilter matches every message that carries a check-in.
type AnyCheckInFilter struct{}

func (AnyCheckInFilter) Match(m Message) bool { return m.CheckIn != nil }

// FilterFor returns the filter for the data set identified by key.
// Unknown kinds match nothing.
func FilterFor(key Key) Filter {
	switch key.Kind {
	case KindCheckInsPerDay:
		return DateFilter{Day: key.Param}
	case KindUserCheckIns:
		id, err := strconv.ParseInt(key.Param, 10, 64)
		if err != nil {
			return FilterFunc(func(Message) bool { return false })
		}
		return UserFilter{UserID: id}
	case KindUsers:
		return AllUsersFilter{}
	case KindAllCheckIns, KindCheckInDates:
		return AnyCheckInFilter{}
	default:
		return FilterFunc(func(Message) bool { return false })
	}
}
