// Package limiter throttles repeated failed logins per identifier and client address.
package limiter

import (
	"context"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
// identifier is the trimmed email or username exactly as the client sent it, and
// ipHash comes from HashIP.
type Limiter interface {
	// Allow reports whether login is currently allowed and, if not, when to retry.
	Allow(ctx context.Context, identifier string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, identifier string, ipHash []byte) error
	// Failure records a failed attempt and reports whether it triggered a block.
	Failure(ctx context.Context, identifier string, ipHash []byte) (bool, time.Duration, error)
}
