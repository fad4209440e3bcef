// Package httpserver is the wire surface of the billing core: route
// table, authentication middleware and the JSON handlers that translate
// between HTTP and the billing, backoffice and token services.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/billing"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/idempotency"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/metrics"
	"github.com/mrgun/server/internal/ratelimit"
	"github.com/mrgun/server/internal/storage"
)

var (
	serverStartTime = time.Now()
)

// defaultRequestTimeout bounds the API route groups when the config
// leaves request_timeout unset.
const defaultRequestTimeout = 30 * time.Second

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	store            storage.Store
	deadLetters      storage.DeadLetterStore
	tokens           *auth.TokenService
	billing          *billing.Service
	backoffice       *backoffice.Service
	idempotencyStore idempotency.Store
	metrics          *metrics.Metrics
	logger           zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, store storage.Store, deadLetters storage.DeadLetterStore, tokens *auth.TokenService, billingSvc *billing.Service, backofficeSvc *backoffice.Service, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:              cfg,
			store:            store,
			deadLetters:      deadLetters,
			tokens:           tokens,
			billing:          billingSvc,
			backoffice:       backofficeSvc,
			idempotencyStore: idempotencyStore,
			metrics:          metricsCollector,
			logger:           appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, store, deadLetters, tokens, billingSvc, backofficeSvc, idempotencyStore, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the billing core routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, store storage.Store, deadLetters storage.DeadLetterStore, tokens *auth.TokenService, billingSvc *billing.Service, backofficeSvc *backoffice.Service, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:              cfg,
		store:            store,
		deadLetters:      deadLetters,
		tokens:           tokens,
		billing:          billingSvc,
		backoffice:       backofficeSvc,
		idempotencyStore: idempotencyStore,
		metrics:          metricsCollector,
		logger:           appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(handler.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Edge rate limiting. The per-operator cap is applied on the game
	// auth group below, after token verification, so the key is the
	// verified subject rather than whatever the client claims.
	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:      cfg.RateLimit.GlobalEnabled,
		GlobalLimit:        cfg.RateLimit.GlobalLimit,
		GlobalWindow:       cfg.RateLimit.GlobalWindow.Duration,
		PerOperatorEnabled: cfg.RateLimit.PerOperatorEnabled,
		PerOperatorLimit:   cfg.RateLimit.PerOperatorLimit,
		PerOperatorWindow:  cfg.RateLimit.PerOperatorWindow.Duration,
		PerIPEnabled:       cfg.RateLimit.PerIPEnabled,
		PerIPLimit:         cfg.RateLimit.PerIPLimit,
		PerIPWindow:        cfg.RateLimit.PerIPWindow.Duration,
		ExemptOperator:     ratelimit.NewTierCache(handler.store).ExemptVIP(),
		Metrics:            handler.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	requestTimeout := cfg.Billing.RequestTimeout.Duration
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	// Apply route prefix if configured
	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout (health checks, metrics)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		// Prometheus metrics endpoint, protected by the optional admin
		// metrics API key.
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Idempotency-Key response cache for operator money POSTs.
	idempotencyMW := idempotency.Middleware(handler.idempotencyStore, cfg.Idempotency.TTL.Duration)

	// Public endpoints: logins, registration and the payment gateway
	// callback. The callback authenticates by order id, not by token.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post(prefix+"/auth/operators/register", handler.registerOperator)
		r.Post(prefix+"/auth/operators/login", handler.operatorLogin)
		r.Post(prefix+"/auth/admins/login", handler.adminLogin)
		r.Post(prefix+"/payments/recharge/notify", handler.rechargeNotify)
	})

	// Headset endpoints: the game authorisation wire protocol.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(handler.tokens.Require(auth.TokenHeadset))
		r.Use(ratelimit.OperatorLimiter(rateLimitCfg))
		r.Post(prefix+"/auth/game/pre-authorize", handler.gamePreAuthorize)
		r.Post(prefix+"/auth/game/authorize", handler.gameAuthorize)
		r.Post(prefix+"/auth/game/session/upload", handler.gameSessionUpload)
	})

	// Operator endpoints: self-service over the account's own data.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(handler.tokens.Require(auth.TokenOperator))

		r.Post(prefix+"/auth/game/launch", handler.gameLaunch)

		r.Get(prefix+"/operators/me", handler.operatorProfile)
		r.Get(prefix+"/operators/me/balance", handler.operatorBalance)
		r.Get(prefix+"/operators/me/transactions", handler.operatorTransactions)
		r.Get(prefix+"/operators/me/usage-records", handler.operatorUsageRecords)

		r.Post(prefix+"/operators/me/sites", handler.createSite)
		r.Get(prefix+"/operators/me/sites", handler.listSites)
		r.Put(prefix+"/operators/me/sites/{id}", handler.updateSite)
		r.Delete(prefix+"/operators/me/sites/{id}", handler.deleteSite)

		r.Get(prefix+"/applications", handler.listCatalog)
		r.Get(prefix+"/operators/me/applications", handler.listGrantedApplications)
		r.Post(prefix+"/operators/me/application-requests", handler.submitApplicationRequest)
		r.Get(prefix+"/operators/me/application-requests", handler.listOwnApplicationRequests)

		r.With(idempotencyMW).Post(prefix+"/operators/me/recharges", handler.createRechargeOrder)
		r.Get(prefix+"/operators/me/recharges", handler.listRechargeOrders)
		r.With(idempotencyMW).Post(prefix+"/operators/me/refunds", handler.applyRefund)
		r.Get(prefix+"/operators/me/refunds", handler.listOwnRefunds)
		r.With(idempotencyMW).Post(prefix+"/operators/me/invoices", handler.applyInvoice)
		r.Get(prefix+"/operators/me/invoices", handler.listOwnInvoices)
	})

	// Back-office endpoints. One token gate for both admin and finance
	// claims; the role matrix below decides who may do what.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(handler.tokens.Require(auth.TokenAdmin))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdminRole(storage.AdminRole.CanManageOperators))

			r.Get(prefix+"/admin/operators", handler.adminListOperators)
			r.Get(prefix+"/admin/operators/{id}", handler.adminGetOperator)
			r.Post(prefix+"/admin/operators/{id}/lock", handler.adminLockOperator)
			r.Post(prefix+"/admin/operators/{id}/unlock", handler.adminUnlockOperator)
			r.Post(prefix+"/admin/operators/{id}/balance-adjustments", handler.adminAdjustBalance)

			r.Get(prefix+"/admin/application-requests", handler.adminListApplicationRequests)
			r.Post(prefix+"/admin/application-requests/{id}/approve", handler.adminApproveApplicationRequest)
			r.Post(prefix+"/admin/application-requests/{id}/reject", handler.adminRejectApplicationRequest)

			r.Post(prefix+"/admin/applications", handler.adminCreateApplication)
			r.Put(prefix+"/admin/applications/{id}", handler.adminUpdateApplication)
			r.Get(prefix+"/admin/applications", handler.adminListApplications)

			r.Get(prefix+"/admin/webhooks/dead-letters", handler.adminListDeadLetters)
			r.Get(prefix+"/admin/webhooks/dead-letters/{id}", handler.adminGetDeadLetter)
			r.Post(prefix+"/admin/webhooks/dead-letters/{id}/requeue", handler.adminRequeueDeadLetter)
			r.Delete(prefix+"/admin/webhooks/dead-letters/{id}", handler.adminDeleteDeadLetter)
			r.Delete(prefix+"/admin/webhooks/dead-letters", handler.adminPurgeDeadLetters)

			r.Get(prefix+"/admin/webhooks", handler.adminListWebhooks)
			r.Get(prefix+"/admin/webhooks/{id}", handler.adminGetWebhook)
			r.Post(prefix+"/admin/webhooks/{id}/retry", handler.adminRetryWebhook)
			r.Delete(prefix+"/admin/webhooks/{id}", handler.adminDeleteWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdminRole(storage.AdminRole.CanViewFinance))
			r.Get(prefix+"/finance/refunds", handler.financeListRefunds)
			r.Get(prefix+"/finance/invoices", handler.financeListInvoices)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdminRole(storage.AdminRole.CanReviewFinance))
			r.Post(prefix+"/finance/refunds/{id}/approve", handler.financeApproveRefund)
			r.Post(prefix+"/finance/refunds/{id}/reject", handler.financeRejectRefund)
			r.Post(prefix+"/finance/refunds/{id}/complete", handler.financeCompleteRefund)
			r.Post(prefix+"/finance/invoices/{id}/approve", handler.financeApproveInvoice)
			r.Post(prefix+"/finance/invoices/{id}/reject", handler.financeRejectInvoice)
			r.Post(prefix+"/finance/invoices/{id}/issue", handler.financeIssueInvoice)
		})
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
