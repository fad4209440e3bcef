// Package monitoring watches operator balances in the background and
// raises alerts before a venue runs dry mid-session. Two channels fire
// for a low operator: the operator's own balance.low webhook event and
// an ops alert posted to the configured alert URL.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrgun/server/internal/callbacks"
	"github.com/mrgun/server/internal/circuitbreaker"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/httputil"
	"github.com/mrgun/server/internal/metrics"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// realertAfter is how long a low operator stays quiet after an alert.
// Operators under the threshold are alerted once per window, not once
// per sweep.
const realertAfter = 24 * time.Hour

// BalanceMonitor periodically scans for active operators whose prepaid
// balance fell below the alert threshold.
type BalanceMonitor struct {
	store      storage.Store
	cfg        config.MonitoringConfig
	threshold  money.Amount
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	notifier   callbacks.Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state map[string]alertState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// alertState remembers what was already sent for one operator. The two
// timestamps move independently: a failed ops post leaves alertedAt
// zero so the next sweep retries, without re-sending the operator's
// webhook event.
type alertState struct {
	notifiedAt time.Time // operator webhook event dispatched
	alertedAt  time.Time // ops alert acknowledged with a 2xx
}

// BalanceAlert is the JSON body posted to the ops alert URL.
type BalanceAlert struct {
	OperatorID string       `json:"operator_id"`
	Username   string       `json:"username"`
	Balance    money.Amount `json:"balance"`
	Threshold  money.Amount `json:"threshold"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Options configures a BalanceMonitor.
type Options struct {
	Store    storage.Store
	Config   config.MonitoringConfig
	Breaker  *circuitbreaker.Manager
	Notifier callbacks.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// NewBalanceMonitor builds a stopped monitor; call Start to begin the
// periodic sweeps.
func NewBalanceMonitor(opts Options) *BalanceMonitor {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}

	return &BalanceMonitor{
		store:      opts.Store,
		cfg:        opts.Config,
		threshold:  opts.Config.LowBalanceThresholdAmount(),
		httpClient: httputil.NewClient(opts.Config.Timeout.Duration),
		breaker:    opts.Breaker,
		notifier:   notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
		state:      make(map[string]alertState),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the monitoring loop. A monitor without a positive
// threshold never starts.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if !m.threshold.IsPositive() {
		m.logger.Info().Msg("balance_monitor.disabled_no_threshold")
		return
	}

	m.logger.Info().
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Str("threshold", m.threshold.String()).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("balance_monitor.stopped")
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	// Run the first sweep immediately.
	m.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep reads every active operator under the threshold and dispatches
// whatever alerts are due.
func (m *BalanceMonitor) sweep(ctx context.Context) {
	var below []storage.Operator
	err := m.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		ops, err := tx.ListOperatorsBelowBalance(ctx, m.threshold)
		if err != nil {
			return err
		}
		below = ops
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("balance_monitor.scan_error")
		return
	}

	if m.metrics != nil {
		m.metrics.ObserveLowBalanceScan(len(below))
	}

	current := make(map[string]bool, len(below))
	for _, op := range below {
		current[op.OperatorID] = true
		m.dispatch(ctx, op)
	}
	m.clearRecovered(current)
}

// dispatch sends the operator webhook event and the ops alert for one
// low operator, each at most once per realertAfter window.
func (m *BalanceMonitor) dispatch(ctx context.Context, op storage.Operator) {
	if m.shouldNotify(op.OperatorID) {
		m.notifier.BalanceLow(ctx, callbacks.BalanceLowEvent{
			OperatorID: op.OperatorID,
			Username:   op.Username,
			Balance:    op.Balance,
			Threshold:  m.threshold,
		})
		m.markNotified(op.OperatorID)
		m.logger.Info().
			Str("operator_id", op.OperatorID).
			Str("balance", op.Balance.String()).
			Msg("balance_monitor.operator_notified")
	}

	if m.cfg.LowBalanceAlertURL == "" {
		return
	}
	if m.shouldAlert(op.OperatorID) {
		m.sendAlert(ctx, op)
	}
}

// sendAlert posts one alert through the alert breaker. The operator is
// marked only on a 2xx, so a failed post is retried next sweep.
func (m *BalanceMonitor) sendAlert(ctx context.Context, op storage.Operator) {
	body, err := json.Marshal(BalanceAlert{
		OperatorID: op.OperatorID,
		Username:   op.Username,
		Balance:    op.Balance,
		Threshold:  m.threshold,
		Timestamp:  m.now().UTC(),
	})
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("operator_id", op.OperatorID).
			Msg("balance_monitor.marshal_error")
		return
	}

	_, err = m.breaker.Execute(circuitbreaker.ServiceAlert, func() (interface{}, error) {
		return nil, m.post(ctx, body)
	})
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("operator_id", op.OperatorID).
			Str("balance", op.Balance.String()).
			Msg("balance_monitor.alert_failed")
		return
	}

	m.markAlerted(op.OperatorID)
	m.logger.Info().
		Str("operator_id", op.OperatorID).
		Str("balance", op.Balance.String()).
		Str("threshold", m.threshold.String()).
		Msg("balance_monitor.alert_sent")
}

// post performs a single POST of the alert body to the configured URL.
func (m *BalanceMonitor) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received status %d from alert endpoint", resp.StatusCode)
	}
	return nil
}

// shouldNotify returns true when the operator webhook event is due.
func (m *BalanceMonitor) shouldNotify(operatorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state[operatorID]
	return st.notifiedAt.IsZero() || m.now().Sub(st.notifiedAt) > realertAfter
}

func (m *BalanceMonitor) markNotified(operatorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state[operatorID]
	st.notifiedAt = m.now()
	m.state[operatorID] = st
}

// shouldAlert returns true when the ops alert is due.
func (m *BalanceMonitor) shouldAlert(operatorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state[operatorID]
	return st.alertedAt.IsZero() || m.now().Sub(st.alertedAt) > realertAfter
}

func (m *BalanceMonitor) markAlerted(operatorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state[operatorID]
	st.alertedAt = m.now()
	m.state[operatorID] = st
}

// clearRecovered drops alert state for operators no longer under the
// threshold. The next time one of them goes low it alerts immediately.
func (m *BalanceMonitor) clearRecovered(below map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.state {
		if !below[id] {
			delete(m.state, id)
		}
	}
}
