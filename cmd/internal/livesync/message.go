package livesync

import (
	"encoding/json"
	"errors"
	"fmt"

	v1 "checkin/contracts/push/v1"
)

// Message is a decoded push message.
type Message = v1.Message

// ErrMalformedMessage is returned by Decode for payloads that are not check-in
// events (bad JSON, missing rfid_uid, greeting frames).
var ErrMalformedMessage = errors.New("malformed push message")

// Decode parses and validates one push frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}
