package grpcserver

import (
	"context"
	"testing"

	"github.com/and161185/authcore/internal/model"
)

func TestWithPrincipal_And_PrincipalFromCtx(t *testing.T) {
	t.Parallel()

	if p, ok := PrincipalFromCtx(context.Background()); ok || p != nil {
		t.Fatalf("expected no principal in empty ctx")
	}

	want := &model.Principal{UserID: "u-1", TokenID: "t-1"}
	ctx := WithPrincipal(context.Background(), want)

	got, ok := PrincipalFromCtx(ctx)
	if !ok {
		t.Fatalf("expected principal in ctx")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v, want %+v", got, want)
	}

	bad := context.WithValue(context.Background(), principalKey, "not-a-principal")
	if p, ok := PrincipalFromCtx(bad); ok || p != nil {
		t.Fatalf("expected miss on wrong typed value")
	}

	var nilP *model.Principal
	if _, ok := PrincipalFromCtx(WithPrincipal(context.Background(), nilP)); ok {
		t.Fatalf("expected miss on nil principal")
	}
}
