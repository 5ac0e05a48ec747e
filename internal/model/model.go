// Package model defines domain entities used by services, repositories and the session registry.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authcore/internal/permission"
)

// User is an account record. PasswordHash never leaves the auth engine.
type User struct {
	ID           uuid.UUID  // PK
	RoleID       uuid.UUID  // FK -> roles.id
	Email        string     // unique
	Username     string     // unique
	PasswordHash string     // bcrypt/argon2id encoded hash
	FullName     string
	IsActive     bool
	LastLoginAt  *time.Time // nil until the first successful login
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Resolved from roles by the auth engine.
	RoleName string
	RoleCode string

	// Resolved on demand from the role's grants.
	Permissions permission.Set
}

// Public returns a copy of u safe to hand to callers outside the auth engine.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// Role is a named permission group.
type Role struct {
	ID          uuid.UUID
	Name        string // unique
	Code        string // unique, e.g. "ADMIN"
	Description string
	IsDefault   bool // assigned to new registrants
	CreatedAt   time.Time
}

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// DeviceInfo is optional metadata captured at login.
type DeviceInfo struct {
	IP        string
	UserAgent string
}

// Session is one live refresh-token identity.
type Session struct {
	UserID    string    `json:"user_id"`
	TokenID   string    `json:"token_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   User
	Tokens Tokens
}

// ValidateResult is the outcome of access-token validation.
// Valid=false carries a Reason code instead of an error.
type ValidateResult struct {
	Valid       bool
	Reason      string
	UserID      string
	TokenID     string
	Email       string
	Username    string
	RoleCode    string
	Permissions []string
	ExpiresAt   time.Time
}

// Principal is the authenticated caller behind a verified access token.
type Principal struct {
	UserID      string
	TokenID     string
	Username    string
	RoleCode    string
	Permissions []string // as embedded at issuance
	ExpiresAt   time.Time
}
