package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"

	"github.com/and161185/authcore/internal/rpc/authv1"
)

type authPayload struct {
	User   *authv1.User   `json:"user"`
	Tokens *authv1.Tokens `json:"tokens"`
}

type refreshPayload struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type sessionsPayload struct {
	Sessions []*authv1.Session `json:"sessions"`
	Count    int32             `json:"count"`
}

type revokedPayload struct {
	RevokedSessions int32 `json:"revoked_sessions"`
}

func (g *Gateway) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := g.decode(w, r, &req); err != nil {
		writeInvalid(w, err)
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.RegisterResponse, error) {
		return g.worker.Register(ctx, &authv1.RegisterRequest{
			Username:  req.Username,
			Email:     req.Email,
			Password:  req.Password,
			FullName:  req.FullName,
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, resp.Message, authPayload{User: resp.User, Tokens: resp.Tokens})
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := g.decode(w, r, &req); err != nil {
		writeInvalid(w, err)
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.LoginResponse, error) {
		return g.worker.Login(ctx, &authv1.LoginRequest{
			Identifier: req.Identifier,
			Password:   req.Password,
			IP:         clientIP(r),
			UserAgent:  r.UserAgent(),
		}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, authPayload{User: resp.User, Tokens: resp.Tokens})
}

func (g *Gateway) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := g.decode(w, r, &req); err != nil {
		writeInvalid(w, err)
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.RefreshTokenResponse, error) {
		return g.worker.RefreshToken(ctx, &authv1.RefreshTokenRequest{RefreshToken: req.RefreshToken}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, refreshPayload{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresAt:   resp.ExpiresAt,
	})
}

func (g *Gateway) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := g.decode(w, r, &req); err != nil {
		writeInvalid(w, err)
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.LogoutResponse, error) {
		return g.worker.Logout(ctx, &authv1.LogoutRequest{RefreshToken: req.RefreshToken}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, nil)
}

func (g *Gateway) logoutAll(w http.ResponseWriter, r *http.Request) {
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.LogoutAllResponse, error) {
		return g.worker.LogoutAll(ctx, &authv1.LogoutAllRequest{}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, revokedPayload{RevokedSessions: resp.RevokedSessions})
}

func (g *Gateway) me(w http.ResponseWriter, r *http.Request) {
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.GetMeResponse, error) {
		return g.worker.GetMe(ctx, &authv1.GetMeRequest{}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, resp.User)
}

func (g *Gateway) listSessions(w http.ResponseWriter, r *http.Request) {
	g.sessions(w, r, "")
}

func (g *Gateway) listUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	g.sessions(w, r, userID)
}

func (g *Gateway) sessions(w http.ResponseWriter, r *http.Request, userID string) {
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.ListSessionsResponse, error) {
		return g.worker.ListSessions(ctx, &authv1.ListSessionsRequest{UserID: userID}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	list := resp.Sessions
	if list == nil {
		list = []*authv1.Session{}
	}
	writeOK(w, http.StatusOK, resp.Message, sessionsPayload{Sessions: list, Count: resp.Count})
}

func (g *Gateway) revokeSession(w http.ResponseWriter, r *http.Request) {
	tokenID := strings.TrimSpace(chi.URLParam(r, "tokenId"))
	if tokenID == "" {
		writeFail(w, http.StatusBadRequest, "INVALID_ARGUMENT", "tokenId is required")
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.RevokeSessionResponse, error) {
		return g.worker.RevokeSession(ctx, &authv1.RevokeSessionRequest{TokenID: tokenID}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, nil)
}

func (g *Gateway) revokeUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.RevokeUserSessionsResponse, error) {
		return g.worker.RevokeUserSessions(ctx, &authv1.RevokeUserSessionsRequest{UserID: userID}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, resp.Message, revokedPayload{RevokedSessions: resp.RevokedSessions})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := uuid.FromString(chi.URLParam(r, name))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "INVALID_ARGUMENT", name+" must be a valid UUID")
		return "", false
	}
	return id.String(), true
}
