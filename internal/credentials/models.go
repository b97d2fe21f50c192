package credentials

import "time"

// Audit actions recorded by the authenticator.
const (
	ActionLogin       = "login"
	ActionFailedLogin = "failed_login"
	ActionLogout      = "logout"
)

// User is a registry account.
type User struct {
	Name         string    `json:"name"`
	IsAdmin      bool      `json:"is_admin"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is the stored record of an issued bearer token, addressed by fingerprint.
type Token struct {
	Fingerprint string    `json:"fingerprint"`
	Username    string    `json:"username"`
	IsAdmin     bool      `json:"is_admin"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	StoredAt    time.Time `json:"stored_at"`
}

// Expired reports whether now is past the token's expiry. A token is still
// valid at exactly ExpiresAt.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// AuditEntry records one authentication event.
type AuditEntry struct {
	Username  string         `json:"username" yaml:"username"`
	Action    string         `json:"action" yaml:"action"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
