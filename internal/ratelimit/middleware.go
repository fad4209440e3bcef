// Package ratelimit guards the HTTP surface with layered request caps: a
// global ceiling, a per-operator cap keyed by the authenticated token
// subject, and a per-IP fallback for anonymous traffic. The caps are edge
// protection only; session and balance correctness never depend on them.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all clients)
	GlobalEnabled bool
	GlobalLimit   int           // requests per window
	GlobalWindow  time.Duration // time window

	// Per-operator rate limiting (keyed by the authenticated token subject)
	PerOperatorEnabled bool
	PerOperatorLimit   int
	PerOperatorWindow  time.Duration

	// Per-IP rate limiting (fallback when no operator is identified)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// ExemptOperator reports whether the request may skip the per-operator
	// cap. The server wires this to the vip tier lookup; nil exempts nobody.
	ExemptOperator func(*http.Request) bool

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// rateLimitResponse is the JSON body attached to every 429.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns the limits used when the config file sets none.
// The per-operator cap is sized for the game auth endpoints, which a
// venue calls at most a few times per minute per headset.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		PerOperatorEnabled: true,
		PerOperatorLimit:   10,
		PerOperatorWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   100,
		PerIPWindow:  1 * time.Minute,
	}
}

// createRateLimitHandler builds the 429 handler shared by the three
// limiters.
func createRateLimitHandler(
	limitType string,
	windowSeconds int,
	extractIdentifier func(*http.Request) string,
	metricsCollector *metrics.Metrics,
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_operator":
			if identifier != "all" {
				message = fmt.Sprintf("Rate limit exceeded for operator %s. Please try again later.", identifier)
			} else {
				message = "Rate limit exceeded. Please try again later."
			}
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// GlobalLimiter caps total throughput across all clients.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}

	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			createRateLimitHandler(
				"global",
				int(cfg.GlobalWindow.Seconds()),
				nil, // no identifier for the shared bucket
				cfg.Metrics,
			),
		),
	)
}

// OperatorLimiter caps requests per operator account. Operator portal
// tokens and headset tokens both carry the operator id as subject, so a
// venue's headsets share one bucket. Requests without a verified token
// fall back to per-IP keying.
func OperatorLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerOperatorEnabled {
		return passthrough
	}

	limiter := httprate.Limit(
		cfg.PerOperatorLimit,
		cfg.PerOperatorWindow,
		httprate.WithKeyFuncs(operatorKeyExtractor),
		httprate.WithLimitHandler(
			createRateLimitHandler(
				"per_operator",
				int(cfg.PerOperatorWindow.Seconds()),
				extractOperatorFromRequest,
				cfg.Metrics,
			),
		),
	)

	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.ExemptOperator != nil && cfg.ExemptOperator(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// IPLimiter caps requests per client IP.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}

	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			createRateLimitHandler(
				"per_ip",
				int(cfg.PerIPWindow.Seconds()),
				func(r *http.Request) string { return r.RemoteAddr },
				cfg.Metrics,
			),
		),
	)
}

// operatorKeyExtractor is an httprate key func that buckets by the
// authenticated operator, falling back to the client IP.
func operatorKeyExtractor(r *http.Request) (string, error) {
	if id := extractOperatorFromRequest(r); id != "" {
		return "operator:" + id, nil
	}
	return httprate.KeyByIP(r)
}

// extractOperatorFromRequest returns the operator id behind the request,
// or "" when the request carries no verified token.
func extractOperatorFromRequest(r *http.Request) string {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.OperatorID()
}
