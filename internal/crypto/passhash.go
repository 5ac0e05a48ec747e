// Package crypto implements server-side password hashing and verification.
//
// Two encodings are supported: bcrypt ("$2a$"/"$2b$") and argon2id in PHC form
// ("$argon2id$v=19$m=...,t=...,p=...$salt$key"). Verification dispatches on the stored
// prefix, so switching the configured algorithm never locks out existing accounts.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMismatch means the password does not match a well-formed hash.
	ErrMismatch = errors.New("password mismatch")
	// ErrMalformedHash means the stored hash cannot be interpreted.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrPasswordTooLong means the password exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// MaxPasswordBytes is the longest password bcrypt accepts, counted in bytes.
const MaxPasswordBytes = 72

// Hasher hashes new passwords and verifies candidates against stored hashes.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify returns nil on match, ErrMismatch on a wrong password, anything else on failure.
	Verify(password, hash string) error
}

// Algorithm names accepted by New.
const (
	AlgBcrypt   = "bcrypt"
	AlgArgon2id = "argon2id"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// New returns a Hasher producing alg hashes. bcryptCost <= 0 selects bcrypt.DefaultCost.
func New(alg string, bcryptCost int) (Hasher, error) {
	b := NewBcrypt(bcryptCost)
	a := NewArgon2id()
	switch strings.ToLower(strings.TrimSpace(alg)) {
	case "", AlgBcrypt:
		return &dispatch{primary: b, bcrypt: b, argon: a}, nil
	case AlgArgon2id:
		return &dispatch{primary: a, bcrypt: b, argon: a}, nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", alg)
	}
}

type dispatch struct {
	primary Hasher
	bcrypt  *Bcrypt
	argon   *Argon2id
}

func (d *dispatch) Hash(password string) (string, error) { return d.primary.Hash(password) }

func (d *dispatch) Verify(password, hash string) error {
	if strings.HasPrefix(hash, "$argon2id$") {
		return d.argon.Verify(password, hash)
	}
	return d.bcrypt.Verify(password, hash)
}

// Bcrypt hashes with golang.org/x/crypto/bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher; out-of-range costs fall back to the default.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

func (h *Bcrypt) Verify(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// Argon2id hashes with argon2.IDKey and a random per-password salt.
type Argon2id struct {
	time    uint32
	memory  uint32
	threads uint8
}

// NewArgon2id returns an argon2id hasher with the package defaults.
func NewArgon2id() *Argon2id {
	return &Argon2id{time: argonTime, memory: argonMemory, threads: argonThreads}
}

func (h *Argon2id) Hash(password string) (string, error) {
	salt, err := RandBytes(argonSaltLen)
	if err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2id) Verify(password, hash string) error {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrMalformedHash
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return ErrMalformedHash
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
