package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the authorisation and billing
// core.
type Metrics struct {
	// Authorisation metrics
	AuthorizationsTotal   *prometheus.CounterVec
	AuthorizationsDenied  *prometheus.CounterVec
	AuthorizationDuration *prometheus.HistogramVec
	DebitFenTotal         prometheus.Counter
	SessionUploadsTotal   *prometheus.CounterVec
	TxRetriesTotal        *prometheus.CounterVec

	// Token metrics
	TokensIssuedTotal *prometheus.CounterVec

	// Recharge metrics
	RechargeOrdersTotal *prometheus.CounterVec
	RechargeFenTotal    prometheus.Counter

	// Refund metrics
	RefundsTotal   *prometheus.CounterVec
	RefundFenTotal prometheus.Counter

	// Webhook delivery metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// Low-balance monitor metrics
	LowBalanceOperators prometheus.Gauge
	MonitorRunsTotal    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Authorisation metrics
		AuthorizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_authorizations_total",
				Help: "Total number of authorize calls by result (authorized, replayed, denied, error)",
			},
			[]string{"result"},
		),
		AuthorizationsDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_authorizations_denied_total",
				Help: "Total number of denied authorize calls by error code",
			},
			[]string{"reason"},
		),
		AuthorizationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mrgun_authorization_duration_seconds",
				Help:    "Time taken to evaluate and settle an authorize call (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"endpoint"},
		),
		DebitFenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mrgun_debit_fen_total",
				Help: "Total amount debited for game sessions, in fen",
			},
		),
		SessionUploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_session_uploads_total",
				Help: "Total number of session telemetry uploads by result",
			},
			[]string{"result"},
		),
		TxRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_tx_retries_total",
				Help: "Total number of transaction retries after serialisation conflicts",
			},
			[]string{"operation"},
		),

		// Token metrics
		TokensIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_tokens_issued_total",
				Help: "Total number of tokens issued by kind",
			},
			[]string{"type"},
		),

		// Recharge metrics
		RechargeOrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_recharge_orders_total",
				Help: "Total number of recharge order state changes by status",
			},
			[]string{"status"},
		),
		RechargeFenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mrgun_recharge_fen_total",
				Help: "Total amount credited by paid recharge orders, in fen",
			},
		),

		// Refund metrics
		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_refunds_total",
				Help: "Total number of refund state changes by status",
			},
			[]string{"status"},
		),
		RefundFenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mrgun_refund_fen_total",
				Help: "Total amount returned by approved refunds, in fen",
			},
		),

		// Webhook delivery metrics
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_webhooks_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_webhook_dlq_total",
				Help: "Total number of webhooks parked in the dead letter store",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mrgun_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrgun_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mrgun_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mrgun_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		// Low-balance monitor metrics
		LowBalanceOperators: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mrgun_low_balance_operators",
				Help: "Number of active operators below the alert threshold at the last scan",
			},
		),
		MonitorRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mrgun_monitor_runs_total",
				Help: "Total number of low-balance monitor scans",
			},
		),
	}
}

// ObserveAuthorization records one authorize or pre-authorize call.
// Result is one of authorized, replayed, denied, error; debitedFen is
// only added for fresh debits.
func (m *Metrics) ObserveAuthorization(endpoint, result string, duration time.Duration, debitedFen int64) {
	m.AuthorizationsTotal.WithLabelValues(result).Inc()
	m.AuthorizationDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if result == "authorized" && debitedFen > 0 {
		m.DebitFenTotal.Add(float64(debitedFen))
	}
}

// ObserveAuthorizationDenied records the rule that stopped an authorize call.
func (m *Metrics) ObserveAuthorizationDenied(reason string) {
	m.AuthorizationsDenied.WithLabelValues(reason).Inc()
}

// ObserveSessionUpload records a session telemetry upload.
func (m *Metrics) ObserveSessionUpload(result string) {
	m.SessionUploadsTotal.WithLabelValues(result).Inc()
}

// ObserveTxRetry records a retried storage transaction.
func (m *Metrics) ObserveTxRetry(operation string) {
	m.TxRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveTokenIssued records a minted token by kind.
func (m *Metrics) ObserveTokenIssued(kind string) {
	m.TokensIssuedTotal.WithLabelValues(kind).Inc()
}

// ObserveRecharge records a recharge order state change. The paid amount
// is only added when the order settles.
func (m *Metrics) ObserveRecharge(status string, amountFen int64) {
	m.RechargeOrdersTotal.WithLabelValues(status).Inc()
	if status == "paid" {
		m.RechargeFenTotal.Add(float64(amountFen))
	}
}

// ObserveRefund records a refund state change. The amount is only added
// when the refund is approved and the balance moves.
func (m *Metrics) ObserveRefund(status string, amountFen int64) {
	m.RefundsTotal.WithLabelValues(status).Inc()
	if status == "approved" {
		m.RefundFenTotal.Add(float64(amountFen))
	}
}

// ObserveWebhook records webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetDBConnections records the current number of open database connections.
func (m *Metrics) SetDBConnections(n int) {
	m.DBConnectionsActive.Set(float64(n))
}

// ObserveLowBalanceScan records one monitor sweep and the number of
// operators it found under the threshold.
func (m *Metrics) ObserveLowBalanceScan(operatorsBelow int) {
	m.MonitorRunsTotal.Inc()
	m.LowBalanceOperators.Set(float64(operatorsBelow))
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
