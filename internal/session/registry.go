// Package session tracks live refresh-token identities per user and blacklisted access tokens.
package session

import (
	"context"
	"time"

	"github.com/and161185/authcore/internal/model"
)

// DefaultBlacklistTTL is used when a blacklist call carries no remaining-lifetime override.
const DefaultBlacklistTTL = 15 * time.Minute

// Registry is the session store consumed by the auth engine.
//
// Every stored refresh identity is also indexed per user so that listing and
// revoke-all only touch live sessions.
type Registry interface {
	// StoreRefreshToken records a refresh identity that expires after ttl.
	StoreRefreshToken(ctx context.Context, userID, tokenID string, ttl time.Duration, dev model.DeviceInfo) error
	// ValidateRefreshToken returns the stored session, or nil when it is unknown or expired.
	ValidateRefreshToken(ctx context.Context, userID, tokenID string) (*model.Session, error)
	// RevokeRefreshToken deletes one session. Revoking an unknown session is not an error.
	RevokeRefreshToken(ctx context.Context, userID, tokenID string) error
	// RevokeAllUserTokens deletes every session of the user and reports how many were live.
	RevokeAllUserTokens(ctx context.Context, userID string) (int, error)
	// BlacklistAccessToken marks an access identity revoked. ttl <= 0 selects the default TTL.
	BlacklistAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsAccessTokenBlacklisted(ctx context.Context, tokenID string) (bool, error)
	// GetUserSessions lists live sessions ordered by creation time.
	GetUserSessions(ctx context.Context, userID string) ([]model.Session, error)
	CountUserSessions(ctx context.Context, userID string) (int, error)
}
