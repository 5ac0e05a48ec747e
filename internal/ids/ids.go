// Package ids generates identifiers for users and token identities.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTokenID returns a lexicographically sortable identifier used as a token jti.
func NewTokenID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewUserID returns a time-ordered UUIDv7 for a new account.
func NewUserID() (uuid.UUID, error) {
	return uuid.NewV7()
}
