package authv1

import "time"

// User is the public account view. It never carries a password hash.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FullName    string     `json:"full_name,omitempty"`
	RoleCode    string     `json:"role_code"`
	RoleName    string     `json:"role_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	Permissions []string   `json:"permissions,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Tokens is an issued access/refresh pair.
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Session is one live refresh session.
type Session struct {
	TokenID   string    `json:"token_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type RegisterResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	User    *User   `json:"user,omitempty"`
	Tokens  *Tokens `json:"tokens,omitempty"`
}

// LoginRequest identifies the account by email or username.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

type LoginResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	User    *User   `json:"user,omitempty"`
	Tokens  *Tokens `json:"tokens,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	AccessToken string    `json:"access_token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ValidateTokenRequest struct {
	AccessToken string `json:"access_token"`
}

// ValidateTokenResponse reports Valid=false with a reason code in Message for rejected tokens.
type ValidateTokenResponse struct {
	Valid       bool      `json:"valid"`
	Message     string    `json:"message"`
	UserID      string    `json:"user_id,omitempty"`
	TokenID     string    `json:"token_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	Username    string    `json:"username,omitempty"`
	RoleCode    string    `json:"role_code,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LogoutRequest optionally names the refresh token of the session to close.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LogoutAllRequest struct{}

type LogoutAllResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	RevokedSessions int32  `json:"revoked_sessions"`
}

type GetMeRequest struct{}

type GetMeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    *User  `json:"user,omitempty"`
}

// ListSessionsRequest lists the caller's sessions, or UserID's when set.
type ListSessionsRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type ListSessionsResponse struct {
	Success  bool       `json:"success"`
	Message  string     `json:"message"`
	Sessions []*Session `json:"sessions"`
	Count    int32      `json:"count"`
}

type RevokeSessionRequest struct {
	TokenID string `json:"token_id"`
}

type RevokeSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type RevokeUserSessionsRequest struct {
	UserID string `json:"user_id"`
}

type RevokeUserSessionsResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	RevokedSessions int32  `json:"revoked_sessions"`
}
