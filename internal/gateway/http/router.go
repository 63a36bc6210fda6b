package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/metrics"
	"github.com/aussiebroadwan/b24gate/internal/gateway/service"
	"github.com/aussiebroadwan/b24gate/pkg/httpx"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/aussiebroadwan/b24gate/api/gateway" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// MaxRequestBytes caps every request body.
const MaxRequestBytes = 1 << 20

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	db           Pinger

	Resolver       Resolver
	Issuer         *service.SessionIssuer
	InstallService *service.InstallService
	ProfileService *service.ProfileService

	// Metrics and Gatherer are optional. /metrics is only mounted when
	// Gatherer is set.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// Now stamps the demo health response. Defaults to time.Now.
	Now func() time.Time
}

func NewRouter(buildVersion string, db Pinger, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		db:           db,
		Now:          time.Now,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.MaxBody(MaxRequestBytes),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerApp()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			b24gate
//	@version		0.1.0
//	@description	Authentication gateway for Bitrix24 applications.
//	@description
//	@description	Every /api endpoint accepts either a session token in the Authorization header
//	@description	or the placement payload the portal posts when it opens the application.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8000
//	@BasePath		/
//
//	@schemes		http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authenticated wraps h so it only runs for a resolved caller. The IP limit
// runs first because resolving a placement payload calls the platform.
func (r *Router) authenticated(h http.Handler, ipLimit, accountLimit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		httpx.RateLimitByIP(ipLimit),
		ResolveMiddleware(r.Resolver, r.Metrics),
		httpx.RateLimitByAccount(accountLimit),
	)
}

func (r *Router) registerAuth() {
	// POST /api/getToken - strict by IP, every payload costs an upstream batch
	tokenHandler := &TokenHandler{Issuer: r.Issuer}
	r.Mux.Handle("POST /api/getToken",
		r.authenticated(tokenHandler, httpx.StrictLimit, httpx.ModerateLimit),
	)

	installHandler := &InstallHandler{InstallService: r.InstallService}
	r.Mux.Handle("POST /api/install",
		r.authenticated(installHandler, httpx.StrictLimit, httpx.ModerateLimit),
	)
}

func (r *Router) registerApp() {
	now := r.Now
	if now == nil {
		now = time.Now
	}

	root := r.authenticated(http.HandlerFunc(RootHandler), httpx.ModerateLimit, httpx.LenientLimit)
	r.Mux.Handle("GET /api", root)
	r.Mux.Handle("GET /api/{$}", root)
	r.Mux.Handle("GET /api/health",
		r.authenticated(StatusHandler(now), httpx.ModerateLimit, httpx.LenientLimit),
	)
	r.Mux.Handle("GET /api/enum",
		r.authenticated(StaticListHandler("option 1", "option 2", "option 3"), httpx.ModerateLimit, httpx.LenientLimit),
	)
	r.Mux.Handle("GET /api/list",
		r.authenticated(StaticListHandler("element 1", "element 2", "element 3"), httpx.ModerateLimit, httpx.LenientLimit),
	)

	// GET /api/profile proxies upstream on every call
	profileHandler := &ProfileHandler{ProfileService: r.ProfileService}
	r.Mux.Handle("GET /api/profile",
		r.authenticated(profileHandler, httpx.ModerateLimit, httpx.ModerateLimit),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.db),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", metrics.Handler(r.Gatherer))
	}
}
