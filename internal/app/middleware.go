package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Identity headers set by the authenticating gateway in front of the API.
const (
	HeaderOrganizationID = "X-Org-ID"
	HeaderUserID         = "X-User-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the API middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg.Config == nil || !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMin > 0 {
		limit = cfg.Config.RateLimitPerMin
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					httpx.Problem(w, http.StatusBadRequest, "Bad Request", "request rejected by security policy")
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP, organizationKey)),
		IdentityMiddleware(cfg.Logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// IdentityMiddleware attaches the caller scope carried in the identity headers.
// Requests without headers continue anonymously and are rejected by handlers
// that need a scope; malformed headers are rejected here.
func IdentityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgRaw := strings.TrimSpace(r.Header.Get(HeaderOrganizationID))
			userRaw := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if orgRaw == "" && userRaw == "" {
				next.ServeHTTP(w, r)
				return
			}
			orgID, orgErr := uuid.Parse(orgRaw)
			userID, userErr := uuid.Parse(userRaw)
			if orgErr != nil || userErr != nil {
				if logger != nil {
					logger.Debug("malformed identity headers", slog.String("path", r.URL.Path))
				}
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", HeaderOrganizationID+" and "+HeaderUserID+" must both be UUIDs")
				return
			}
			ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{OrganizationID: orgID, UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// organizationKey partitions the rate limit per tenant on top of the client IP.
func organizationKey(r *http.Request) (string, error) {
	return r.Header.Get(HeaderOrganizationID), nil
}
