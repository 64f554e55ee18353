package livesync

import (
	"strconv"
	"sync"
	"time"
)

// Kind names a list data set.
type Kind string

const (
	KindCheckInsPerDay Kind = "checkins_per_day"
	KindUserCheckIns   Kind = "user_checkins"
	KindAllCheckIns    Kind = "all_checkins"
	KindCheckInDates   Kind = "checkin_dates"
	KindUsers          Kind = "users"
)

// Key identifies one request: the data set and its parameter (a day, a user id).
type Key struct {
	Kind  Kind
	Param string
}

func (k Key) String() string {
	if k.Param == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.Param
}

// DayKey is the key of the check-ins of one day (YYYY-MM-DD).
func DayKey(day string) Key { return Key{Kind: KindCheckInsPerDay, Param: day} }

// UserKey is the key of the check-ins of one user.
func UserKey(userID int64) Key {
	return Key{Kind: KindUserCheckIns, Param: strconv.FormatInt(userID, 10)}
}

// UsersKey is the key of the user list.
func UsersKey() Key { return Key{Kind: KindUsers} }

// Entry is a cached value.
type Entry struct {
	Value     any
	FetchedAt time.Time
	// Stale is set by Invalidate. The value stays readable as last-good data
	// until the next Set.
	Stale bool
}

// Cache stores fetched lists by Key. Values are replaced wholesale.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	now     func() time.Time
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]Entry), now: time.Now}
}

// Get returns the entry for key.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set replaces the entry for key with a fresh value.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	c.entries[key] = Entry{Value: value, FetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate marks key stale. It reports whether an entry existed.
func (c *Cache) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		e.Stale = true
		c.entries[key] = e
	}
	return ok
}

// InvalidateKind marks every entry of kind stale and returns how many were hit.
func (c *Cache) InvalidateKind(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if k.Kind == kind {
			e.Stale = true
			c.entries[k] = e
			n++
		}
	}
	return n
}

// Delete drops key.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Lookup is a typed Get. ok is false when key is missing or holds another type.
func Lookup[T any](c *Cache, key Key) (value T, stale, ok bool) {
	e, found := c.Get(key)
	if !found {
		return value, false, false
	}
	v, isT := e.Value.(T)
	if !isT {
		return value, false, false
	}
	return v, e.Stale, true
}
