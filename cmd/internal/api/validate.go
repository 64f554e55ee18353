package api

import (
	"strings"
	"unicode/utf8"
)

const (
	maxNameChars     = 128
	minPasswordChars = 8
	maxSSIDBytes     = 32
	minWPAPassphrase = 8
	maxWPAPassphrase = 63
)

// Validate checks login input.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return &ValidationError{Field: "username", Reason: "field is required"}
	}
	if c.Password == "" {
		return &ValidationError{Field: "password", Reason: "field is required"}
	}
	return nil
}

// Validate checks a create-user form.
func (u NewUser) Validate() error {
	if err := validateName(u.Name); err != nil {
		return err
	}
	if err := validateRole(u.Role); err != nil {
		return err
	}
	if u.Password != nil && utf8.RuneCountInString(*u.Password) < minPasswordChars {
		return &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	if u.RFIDUID != nil && strings.TrimSpace(*u.RFIDUID) == "" {
		return &ValidationError{Field: "rfid_uid", Reason: "must not be blank"}
	}
	return nil
}

// Validate checks an edit-user form.
func (u User) Validate() error {
	if u.ID <= 0 {
		return &ValidationError{Field: "id", Reason: "must be positive"}
	}
	if err := validateName(u.Name); err != nil {
		return err
	}
	return validateRole(u.Role)
}

// Validate checks a change-password form.
func (p Password) Validate() error {
	if utf8.RuneCountInString(p.Password) < minPasswordChars {
		return &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	return nil
}

// Validate checks an add-network form.
func (n WifiNetwork) Validate() error {
	ssid := strings.TrimSpace(n.SSID)
	if ssid == "" {
		return &ValidationError{Field: "ssid", Reason: "field is required"}
	}
	if len(ssid) > maxSSIDBytes {
		return &ValidationError{Field: "ssid", Reason: "must be at most 32 bytes"}
	}
	if n.Password != "" {
		l := len(n.Password)
		if l < minWPAPassphrase || l > maxWPAPassphrase {
			return &ValidationError{Field: "password", Reason: "must be 8 to 63 characters"}
		}
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Reason: "field is required"}
	}
	if utf8.RuneCountInString(name) > maxNameChars {
		return &ValidationError{Field: "name", Reason: "too long"}
	}
	return nil
}

func validateRole(role string) error {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case "", RoleAdmin, RoleUser:
		return nil
	default:
		return &ValidationError{Field: "role", Reason: "must be ADMIN or USER"}
	}
}
