package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSentinels(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := fmt.Errorf("login: %w", Wrap(KindUserInactive, cause, "account is disabled"))

	if !errors.Is(err, UserInactive) {
		t.Fatalf("errors.Is(UserInactive) = false")
	}
	if errors.Is(err, UserNotFound) {
		t.Fatalf("unexpected match with UserNotFound")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if KindOf(err) != KindUserInactive {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
	if got := err.Error(); got != "login: account is disabled" {
		t.Fatalf("Error() leaked cause: %q", got)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	t.Parallel()

	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("plain error must be internal")
	}
	if KindOf(nil) != KindInternal {
		t.Fatalf("nil must map to internal")
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()

	err := Conflict("email")
	if !errors.Is(err, UserAlreadyExists) {
		t.Fatalf("conflict must be UserAlreadyExists")
	}
	if err.Field != "email" || err.Error() != "email is already registered" {
		t.Fatalf("unexpected conflict: %+v", err)
	}
}

func TestCodes(t *testing.T) {
	t.Parallel()

	want := map[Kind]string{
		KindUserNotFound:       "USER_NOT_FOUND",
		KindTokenRevoked:       "TOKEN_REVOKED",
		KindInvalidCredentials: "INVALID_CREDENTIALS",
		Kind(250):              "INTERNAL_ERROR",
	}
	for k, code := range want {
		if k.Code() != code {
			t.Fatalf("%d.Code() = %q, want %q", k, k.Code(), code)
		}
	}
	if New(KindTokenExpired, "").Error() != "TOKEN_EXPIRED" {
		t.Fatalf("empty message should fall back to code")
	}
}
