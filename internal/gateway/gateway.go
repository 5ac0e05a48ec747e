// Package gateway is the HTTP edge of the auth service. It validates requests,
// enforces bearer authentication and route permissions, and forwards calls to
// the worker over the authv1 contract.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/authcore/internal/obs"
	"github.com/and161185/authcore/internal/permission"
	"github.com/and161185/authcore/internal/rpc/authv1"
)

// Options tune the gateway.
type Options struct {
	// WorkerTimeout bounds every worker call. Zero means 10s.
	WorkerTimeout time.Duration
	// RateLimitRPS and RateLimitBurst configure the per-client token bucket. Zero RPS disables it.
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Gateway serves the public HTTP API.
type Gateway struct {
	worker   authv1.AuthServiceClient
	health   grpc_health_v1.HealthClient
	opts     Options
	log      *zap.Logger
	metrics  *obs.HTTPMetrics
	gatherer prometheus.Gatherer
	validate *validator.Validate
	limiter  *ipLimiter
}

// Deps are the collaborators of the gateway. Health, Metrics and Gatherer are optional.
type Deps struct {
	Worker   authv1.AuthServiceClient
	Health   grpc_health_v1.HealthClient
	Logger   *zap.Logger
	Metrics  *obs.HTTPMetrics
	Gatherer prometheus.Gatherer
}

// New constructs a Gateway.
func New(d Deps, opts Options) *Gateway {
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = 10 * time.Second
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		worker:   d.Worker,
		health:   d.Health,
		opts:     opts,
		log:      log.Named("gateway"),
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		validate: newValidator(),
	}
	if opts.RateLimitRPS > 0 {
		g.limiter = newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	return g
}

// Router builds the HTTP handler tree.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.logging)
	r.Use(middleware.Recoverer)
	if g.metrics != nil {
		r.Use(g.metrics.Instrument)
	}

	origins := g.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", g.healthz)
	r.Get("/readyz", g.readyz)
	if g.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", obs.Handler(g.gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if g.limiter != nil {
				r.Use(g.limiter.middleware)
			}
			r.Post("/register", g.register)
			r.Post("/login", g.login)
			r.Post("/refresh", g.refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(g.authenticate)
			r.Post("/logout", g.logout)
			r.Post("/logout-all", g.logoutAll)
			r.Get("/me", g.me)
			r.Get("/sessions", g.listSessions)
			r.Delete("/sessions/{tokenId}", g.revokeSession)
		})
	})

	r.Route("/admin/users/{userId}/sessions", func(r chi.Router) {
		r.Use(g.authenticate)
		r.Use(g.require(permission.Rule{Resource: permission.ResourceSessions}))
		r.Get("/", g.listUserSessions)
		r.Delete("/", g.revokeUserSessions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

// call runs one worker RPC under the gateway deadline, forwarding the caller's
// bearer token when present. Failures come back as *workerError.
func call[Resp any](g *Gateway, r *http.Request, fn func(ctx context.Context, opts ...grpc.CallOption) (*Resp, error)) (*Resp, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.opts.WorkerTimeout)
	defer cancel()
	if id, ok := identityFrom(r.Context()); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+id.Token)
	}
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", reqID)
	}

	var trailer metadata.MD
	resp, err := fn(ctx, grpc.Trailer(&trailer))
	if err != nil {
		we := &workerError{st: status.Convert(err)}
		if v := trailer.Get(authv1.ErrorCodeTrailer); len(v) > 0 {
			we.code = v[0]
		}
		return nil, we
	}
	return resp, nil
}

func (g *Gateway) healthz(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, "ok", nil)
}

// readyz reports whether the worker answers its health check.
func (g *Gateway) readyz(w http.ResponseWriter, r *http.Request) {
	if g.health == nil {
		writeOK(w, http.StatusOK, "ok", nil)
		return
	}
	resp, err := call(g, r, func(ctx context.Context, opts ...grpc.CallOption) (*grpc_health_v1.HealthCheckResponse, error) {
		return g.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: authv1.ServiceName}, opts...)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		writeFail(w, http.StatusServiceUnavailable, "UNAVAILABLE", "auth service not serving")
		return
	}
	writeOK(w, http.StatusOK, "ok", nil)
}
