// Package v1 defines the check-in push channel contract.
//
// The backend publishes one JSON object per WebSocket frame whenever an RFID
// badge is scanned. Clients treat every message as an invalidation hint only.
package v1

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the wire layout of check-in dates.
const DateLayout = "2006-01-02"

// Message is the canonical push payload.
//
// CheckIn is nil when the scanned badge is not assigned to any user yet.
type Message struct {
	RFIDUID string   `json:"rfid_uid"`
	CheckIn *CheckIn `json:"check_in,omitempty"`
}

// CheckIn mirrors the check-in row that was created by the scan.
type CheckIn struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"`
	Timestamp string `json:"timestamp"`
	UserID    int64  `json:"user_id"`
}

// Validate performs structural validation for a Message.
func (m Message) Validate() error {
	if strings.TrimSpace(m.RFIDUID) == "" {
		return errors.New("missing field: rfid_uid")
	}
	if m.CheckIn == nil {
		return nil
	}
	if m.CheckIn.UserID <= 0 {
		return errors.New("invalid field: check_in.user_id")
	}
	if _, ok := NormalizeDate(m.CheckIn.Date); !ok {
		return errors.New("invalid field: check_in.date")
	}
	return nil
}

// NormalizeDate reduces a wire date to YYYY-MM-DD.
//
// The backend has emitted both plain dates ("2024-03-01") and full
// timestamps ("2024-03-01T00:00:00Z") for the same field.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(DateLayout) {
		return "", false
	}
	if _, err := time.Parse(DateLayout, s[:len(DateLayout)]); err != nil {
		return "", false
	}
	if len(s) > len(DateLayout) {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return "", false
		}
	}
	return s[:len(DateLayout)], true
}
