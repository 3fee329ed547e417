package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/metrics"
	"github.com/aussiebroadwan/sessiond/internal/auth/service"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
	"github.com/aussiebroadwan/sessiond/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/aussiebroadwan/sessiond/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	SessionService *service.SessionService
	SessionStore   Pinger // KV backend, checked by /readyz
	Directory      Pinger // user directory, checked by /readyz

	Limits   httpx.RateLimits
	Metrics  *metrics.Metrics    // optional, per-route latency
	Gatherer prometheus.Gatherer // optional, serves /metrics
}

func NewRouter(
	verifier jwtx.Verifier,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		Limits:       httpx.DefaultRateLimits(),
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSession()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			sessiond Session Service API
//	@version		0.1.0
//	@description	Password login and refresh token rotation for first-party clients.
//	@description
//	@description				Access tokens are short lived HS256 JWTs sent as bearer credentials. Refresh tokens
//	@description				travel only in an HttpOnly cookie and are single use: replaying a spent one revokes
//	@description				every session of its owner.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/sessiond
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h under pattern with latency instrumentation.
func (r *Router) handle(pattern string, h http.Handler, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, r.Metrics.InstrumentHandler(pattern, httpx.Chain(h, mws...)))
}

func (r *Router) registerSession() {
	// POST /login - strict limit by IP + email to slow down password guessing
	r.handle("POST /v1/auth/login", &LoginHandler{Sessions: r.SessionService},
		httpx.RateLimitByIPAndJSONField(r.Limits.Strict, "email"),
	)

	// POST /refresh-token - strict limit by IP
	r.handle("POST /v1/auth/refresh-token", &RefreshHandler{Sessions: r.SessionService},
		httpx.RateLimitByIP(r.Limits.Strict),
	)

	// POST /logout - moderate limit by IP, no auth so a client can always drop its cookie
	r.handle("POST /v1/auth/logout", &LogoutHandler{Sessions: r.SessionService},
		httpx.RateLimitByIP(r.Limits.Moderate),
	)

	// POST /logout-all - authenticated, moderate limit by user
	r.handle("POST /v1/auth/logout-all", &LogoutAllHandler{Sessions: r.SessionService},
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByUser(r.Limits.Moderate),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.handle("GET /livez", LivezHandler(r.startTime, r.buildVersion),
		httpx.RateLimitByIP(r.Limits.Lenient),
	)
	r.handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.SessionStore, r.Directory),
		httpx.RateLimitByIP(r.Limits.Lenient),
	)

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}
