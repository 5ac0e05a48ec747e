package gateway

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/and161185/authcore/internal/permission"
	"github.com/and161185/authcore/internal/rpc/authv1"
)

// Identity is the caller resolved from a bearer token by the worker.
type Identity struct {
	Token       string
	UserID      string
	TokenID     string
	Email       string
	Username    string
	RoleCode    string
	Permissions permission.Set
}

type ctxKey struct{}

func withIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func identityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

// logging writes one line per request.
func (g *Gateway) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		}
		if status >= http.StatusInternalServerError {
			g.log.Error("http", fields...)
			return
		}
		g.log.Info("http", fields...)
	})
}

// authenticate resolves the bearer token through the worker's ValidateToken.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="auth"`)
			writeFail(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}
		res, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*authv1.ValidateTokenResponse, error) {
			return g.worker.ValidateToken(ctx, &authv1.ValidateTokenRequest{AccessToken: tok}, opts...)
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if !res.Valid {
			w.Header().Set("WWW-Authenticate", `Bearer realm="auth", error="invalid_token"`)
			writeFail(w, http.StatusUnauthorized, res.Message, "invalid or expired access token")
			return
		}
		perms, rejected := permission.ParseSet(res.Permissions)
		if len(rejected) > 0 {
			g.log.Warn("ignoring unknown permissions", zap.String("user_id", res.UserID), zap.Strings("grants", rejected))
		}
		id := &Identity{
			Token:       tok,
			UserID:      res.UserID,
			TokenID:     res.TokenID,
			Email:       res.Email,
			Username:    res.Username,
			RoleCode:    res.RoleCode,
			Permissions: perms,
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// require rejects authenticated callers whose permissions do not satisfy rule.
func (g *Gateway) require(rule permission.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFrom(r.Context())
			if !ok {
				writeFail(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
				return
			}
			if rule.Evaluate(r.Method, id.Permissions) == permission.Deny {
				req, _ := rule.Required(r.Method)
				g.log.Info("permission denied",
					zap.String("user_id", id.UserID), zap.String("required", req.String()))
				writeFail(w, http.StatusForbidden, "PERMISSION_DENIED", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}

// clientIP is the request's remote host. RealIP has already applied forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ipLimiter is a token bucket per client IP. Idle buckets are swept lazily.
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rps       rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &ipLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    5 * time.Minute,
		now:     time.Now,
	}
}

// reserve takes one token for key and reports how long to wait when none is left.
func (l *ipLimiter) reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.reserve(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeFail(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
