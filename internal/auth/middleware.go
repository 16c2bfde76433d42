package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
)

// Authenticate rejects requests without a valid credential and stores the
// caller's Identity in the request context. Credentials are read from
// "Authorization: Bearer <token>" or the X-API-Key header. Health endpoints
// are exempt.
func Authenticate(v Verifier, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				m.AuthFailuresTotal.Inc()
				writeError(w, http.StatusUnauthorized, "missing credentials")
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperrors.ErrUnauthorized) {
					m.AuthFailuresTotal.Inc()
					writeError(w, http.StatusUnauthorized, "invalid credentials")
					return
				}
				logger.FromContext(r.Context()).Error("credential check failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RateLimit enforces a per-subject request budget. It must run after
// Authenticate; requests without an identity pass through.
func RateLimit(limiter *ratelimit.Limiter, defaultLimit int, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			limit := id.RateLimit
			if limit <= 0 {
				limit = defaultLimit
			}
			if !limiter.Allow(id.Subject, limit) {
				m.RateLimitedTotal.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
