package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failures the auth engine reports.
type Kind uint8

const (
	KindInternal Kind = iota
	KindUserNotFound
	KindUserAlreadyExists
	KindUserInactive
	KindInvalidCredentials
	KindIncorrectPassword
	KindInvalidToken
	KindTokenExpired
	KindTokenMalformed
	KindTokenRevoked
	KindRoleNotFound
	KindDefaultRoleNotFound
	KindInvalidArgument
	KindPermissionDenied
	KindRateLimited
	KindSessionNotFound
)

var kindCodes = [...]string{
	KindInternal:            "INTERNAL_ERROR",
	KindUserNotFound:        "USER_NOT_FOUND",
	KindUserAlreadyExists:   "USER_ALREADY_EXISTS",
	KindUserInactive:        "USER_INACTIVE",
	KindInvalidCredentials:  "INVALID_CREDENTIALS",
	KindIncorrectPassword:   "INCORRECT_PASSWORD",
	KindInvalidToken:        "INVALID_TOKEN",
	KindTokenExpired:        "TOKEN_EXPIRED",
	KindTokenMalformed:      "TOKEN_MALFORMED",
	KindTokenRevoked:        "TOKEN_REVOKED",
	KindRoleNotFound:        "ROLE_NOT_FOUND",
	KindDefaultRoleNotFound: "DEFAULT_ROLE_NOT_FOUND",
	KindInvalidArgument:     "INVALID_ARGUMENT",
	KindPermissionDenied:    "PERMISSION_DENIED",
	KindRateLimited:         "RATE_LIMITED",
	KindSessionNotFound:     "SESSION_NOT_FOUND",
}

// Code returns the stable machine-readable code of the kind.
func (k Kind) Code() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return kindCodes[KindInternal]
}

func (k Kind) String() string { return k.Code() }

// Kind sentinels usable with errors.Is against any *Error.
var (
	UserNotFound        = &Error{Kind: KindUserNotFound}
	UserAlreadyExists   = &Error{Kind: KindUserAlreadyExists}
	UserInactive        = &Error{Kind: KindUserInactive}
	InvalidCredentials  = &Error{Kind: KindInvalidCredentials}
	IncorrectPassword   = &Error{Kind: KindIncorrectPassword}
	InvalidToken        = &Error{Kind: KindInvalidToken}
	TokenExpired        = &Error{Kind: KindTokenExpired}
	TokenMalformed      = &Error{Kind: KindTokenMalformed}
	TokenRevoked        = &Error{Kind: KindTokenRevoked}
	RoleNotFound        = &Error{Kind: KindRoleNotFound}
	DefaultRoleNotFound = &Error{Kind: KindDefaultRoleNotFound}
	InvalidArgument     = &Error{Kind: KindInvalidArgument}
	PermissionDenied    = &Error{Kind: KindPermissionDenied}
	RateLimited         = &Error{Kind: KindRateLimited}
	SessionNotFound     = &Error{Kind: KindSessionNotFound}
	Internal            = &Error{Kind: KindInternal}
)

// Error is an auth failure with a stable kind and a caller-safe message.
// The cause is kept for server-side logging and is never part of Error().
type Error struct {
	Kind    Kind
	Field   string // "email" or "username" for KindUserAlreadyExists
	Message string
	cause   error
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind that keeps cause for logs.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Conflict reports a uniqueness conflict on the named field.
func Conflict(field string) *Error {
	return &Error{Kind: KindUserAlreadyExists, Field: field, Message: fmt.Sprintf("%s is already registered", field)}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Code()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by kind so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the stable machine-readable code.
func (e *Error) Code() string { return e.Kind.Code() }

// KindOf returns the kind of err, or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
