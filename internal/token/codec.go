// Package token signs and verifies the access and refresh tokens issued by the auth engine.
//
// Both token kinds are HS256 JWTs. They are signed with distinct secrets and carry a "type"
// claim, so a refresh token cannot be replayed as an access token or the other way round.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/authcore/internal/errs"
	"github.com/and161185/authcore/internal/ids"
)

// DefaultIssuer is stamped into every token unless Config.Issuer overrides it.
const DefaultIssuer = "worker-auth-service"

// Type discriminates access tokens from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type        Type     `json:"type"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// RefreshClaims are carried by refresh tokens: subject, identity and type only.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type Type `json:"type"`
}

// Config holds signing keys and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Subject describes the principal an access token is issued for.
type Subject struct {
	UserID      string
	Username    string
	RoleCode    string
	Permissions []string
}

// Issued is a freshly signed token together with its identity and lifetime.
type Issued struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and parses tokens. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	cfg   Config
	now   func() time.Time
	newID func() (string, error)
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec validates cfg and constructs a Codec.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttl must be greater than zero")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	c := &Codec{cfg: cfg, now: time.Now, newID: ids.NewTokenID}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// AccessTTL reports the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// Remaining returns how long a token expiring at exp stays valid, never negative.
func (c *Codec) Remaining(exp time.Time) time.Duration {
	d := exp.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// IssueAccess signs an access token for sub.
func (c *Codec) IssueAccess(sub Subject) (Issued, error) {
	reg, err := c.registered(sub.UserID, c.cfg.AccessTTL)
	if err != nil {
		return Issued{}, err
	}
	claims := &AccessClaims{
		RegisteredClaims: reg,
		Type:             TypeAccess,
		Username:         sub.Username,
		Role:             sub.RoleCode,
		Permissions:      sub.Permissions,
	}
	return c.sign(claims, reg, c.cfg.AccessSecret)
}

// IssueRefresh signs a refresh token for userID.
func (c *Codec) IssueRefresh(userID string) (Issued, error) {
	reg, err := c.registered(userID, c.cfg.RefreshTTL)
	if err != nil {
		return Issued{}, err
	}
	claims := &RefreshClaims{RegisteredClaims: reg, Type: TypeRefresh}
	return c.sign(claims, reg, c.cfg.RefreshSecret)
}

// ParseAccess verifies an access token and returns its claims.
// Failures are *errs.Error of kind TokenExpired, TokenMalformed or InvalidToken.
func (c *Codec) ParseAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(raw, claims, c.cfg.AccessSecret, "access"); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, errs.New(errs.KindInvalidToken, "invalid access token")
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (c *Codec) ParseRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(raw, claims, c.cfg.RefreshSecret, "refresh"); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, errs.New(errs.KindInvalidToken, "invalid refresh token")
	}
	return claims, nil
}

func (c *Codec) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	if strings.TrimSpace(subject) == "" {
		return jwt.RegisteredClaims{}, errors.New("token: subject is required")
	}
	id, err := c.newID()
	if err != nil {
		return jwt.RegisteredClaims{}, fmt.Errorf("token: generate id: %w", err)
	}
	now := c.now()
	return jwt.RegisteredClaims{
		ID:        id,
		Subject:   subject,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

func (c *Codec) sign(claims jwt.Claims, reg jwt.RegisteredClaims, secret []byte) (Issued, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return Issued{}, fmt.Errorf("token: sign: %w", err)
	}
	return Issued{
		Token:     signed,
		ID:        reg.ID,
		IssuedAt:  reg.IssuedAt.Time,
		ExpiresAt: reg.ExpiresAt.Time,
	}, nil
}

func (c *Codec) parse(raw string, claims jwt.Claims, secret []byte, kind string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errs.New(errs.KindTokenMalformed, kind+" token is empty")
	}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.TokenMalformed
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return errs.Wrap(errs.KindTokenExpired, err, kind+" token has expired")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return errs.Wrap(errs.KindTokenMalformed, err, kind+" token is malformed")
		default:
			return errs.Wrap(errs.KindInvalidToken, err, "invalid "+kind+" token")
		}
	}
	if !parsed.Valid {
		return errs.New(errs.KindInvalidToken, "invalid "+kind+" token")
	}
	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return errs.New(errs.KindInvalidToken, "invalid token subject")
	}
	return nil
}
