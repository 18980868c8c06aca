package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/rosterauth/internal/auth"
	pkghttp "github.com/BradenHooton/rosterauth/pkg/http"
)

// RateLimitConfig holds edge throttling configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultVerifyRateLimit returns the edge limit for the credential check endpoint.
// It sits in front of the attempt-log limits and only absorbs floods.
func DefaultVerifyRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

func (c RateLimitConfig) perMinute() int {
	if c.RequestsPerMinute <= 0 {
		return DefaultVerifyRateLimit().RequestsPerMinute
	}
	return c.RequestsPerMinute
}

// RateLimitByIP throttles requests per client address. The address is
// resolved the same way the credential check resolves it, so forwarding
// headers count only from trusted proxies.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.perMinute(),
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)
			if ip == "" {
				return "unknown", nil
			}
			return ip, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}

// RateLimitByUser throttles authenticated requests per token subject,
// falling back to the client address. Must be used after auth.AuthMiddleware.
func RateLimitByUser(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.perMinute(),
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "user:" + claims.UserID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
