// Package ids provides ULID identifiers for subscriptions and views.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps log lines for one subscription grouped.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites that cannot handle an entropy failure.
func MustULID() string {
	id, err := NewULID(time.Time{})
	if err != nil {
		return ulid.Make().String()
	}
	return id
}
