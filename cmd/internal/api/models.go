package api

import "strings"

// Roles understood by the backend.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// DateLayout is the wire layout of calendar days (query params and check-in dates).
const DateLayout = "2006-01-02"

// Credentials is a login request. It is never persisted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BearerToken is the login response.
type BearerToken struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// User is a registered badge holder.
type User struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Group    *string `json:"group,omitempty"`
	Role     string  `json:"role,omitempty"`
	MemberID *string `json:"member_id,omitempty"`
	RFIDUID  *string `json:"rfid_uid,omitempty"`
}

// IsAdmin reports whether the user may log into the admin client.
func (u User) IsAdmin() bool { return strings.EqualFold(u.Role, RoleAdmin) }

// NewUser is the create-user payload.
type NewUser struct {
	Name     string  `json:"name"`
	Group    *string `json:"group,omitempty"`
	Role     string  `json:"role,omitempty"`
	MemberID *string `json:"member_id,omitempty"`
	RFIDUID  *string `json:"rfid_uid,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Password is the change-password payload.
type Password struct {
	Password string `json:"password"`
}

// CheckIn is a single badge scan.
type CheckIn struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"`
	Timestamp string `json:"timestamp"`
	UserID    int64  `json:"user_id"`
}

// CheckInWithUser is a check-in joined with its user (per-day and "all" listings).
type CheckInWithUser struct {
	CheckIn
	User User `json:"user"`
}

// CheckInDate is one calendar day that has at least one check-in.
type CheckInDate struct {
	Date string `json:"date"`
}

// Clock is the device clock as seen by the backend.
// RefTimestamp echoes the caller's reference time.
type Clock struct {
	RefTimestamp string `json:"refTimestamp"`
	Timestamp    string `json:"timestamp"`
}

// WifiNetwork is a configured client network.
type WifiNetwork struct {
	SSID     string `json:"ssid"`
	Password string `json:"password,omitempty"`
}

// WifiStatus reports the current WiFi interface state.
type WifiStatus struct {
	State     string  `json:"state"`
	IPAddress *string `json:"ip_address,omitempty"`
	SSID      *string `json:"ssid,omitempty"`
	Mode      string  `json:"mode"`
}

// IsHotspot reports whether the device currently serves its own access point.
func (s WifiStatus) IsHotspot() bool { return strings.EqualFold(s.Mode, "hotspot") }

// VersionInfo describes a deployed build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
