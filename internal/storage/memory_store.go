package storage

import (
	"context"
	"sync"
)

// dataset holds every table of the in-memory backend. Maps store struct
// values, so handing out &copy never aliases live rows.
type dataset struct {
	operators      map[string]Operator
	admins         map[string]Admin
	applications   map[string]Application
	authorizations map[string]Authorization // operatorID + "/" + applicationID
	appRequests    map[string]ApplicationRequest
	sites          map[string]Site
	usageRecords   map[string]UsageRecord
	sessionIndex   map[string]string // sessionID -> usageRecordID
	gameSessions   map[string]GameSession
	headsetRecords map[string][]HeadsetGameRecord // sessionID -> records
	devices        map[string]HeadsetDevice       // operatorID + "/" + deviceID
	transactions   []Transaction                  // append-only, insertion order
	rechargeOrders map[string]RechargeOrder
	refunds        map[string]Refund
	invoices       map[string]Invoice
}

func newDataset() *dataset {
	return &dataset{
		operators:      make(map[string]Operator),
		admins:         make(map[string]Admin),
		applications:   make(map[string]Application),
		authorizations: make(map[string]Authorization),
		appRequests:    make(map[string]ApplicationRequest),
		sites:          make(map[string]Site),
		usageRecords:   make(map[string]UsageRecord),
		sessionIndex:   make(map[string]string),
		gameSessions:   make(map[string]GameSession),
		headsetRecords: make(map[string][]HeadsetGameRecord),
		devices:        make(map[string]HeadsetDevice),
		rechargeOrders: make(map[string]RechargeOrder),
		refunds:        make(map[string]Refund),
		invoices:       make(map[string]Invoice),
	}
}

// clone copies the whole dataset. A transaction works on the clone and
// the store swaps it in on commit, so a failed transaction leaves no trace.
func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.operators {
		c.operators[k] = v
	}
	for k, v := range d.admins {
		c.admins[k] = v
	}
	for k, v := range d.applications {
		c.applications[k] = v
	}
	for k, v := range d.authorizations {
		c.authorizations[k] = v
	}
	for k, v := range d.appRequests {
		c.appRequests[k] = v
	}
	for k, v := range d.sites {
		c.sites[k] = v
	}
	for k, v := range d.usageRecords {
		c.usageRecords[k] = v
	}
	for k, v := range d.sessionIndex {
		c.sessionIndex[k] = v
	}
	for k, v := range d.gameSessions {
		c.gameSessions[k] = v
	}
	for k, v := range d.headsetRecords {
		c.headsetRecords[k] = append([]HeadsetGameRecord(nil), v...)
	}
	for k, v := range d.devices {
		c.devices[k] = v
	}
	c.transactions = append([]Transaction(nil), d.transactions...)
	for k, v := range d.rechargeOrders {
		c.rechargeOrders[k] = v
	}
	for k, v := range d.refunds {
		c.refunds[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	return c
}

// MemoryStore is an in-memory Store implementation for tests and local
// development. Transactions serialise on one mutex, which gives the memory
// backend the same observable semantics as the Postgres row-locked path:
// one balance movement at a time per store.
type MemoryStore struct {
	mu   sync.Mutex
	data *dataset

	// The webhook queue sits outside the transactional dataset: the
	// delivery worker mutates it independently of ledger transactions.
	queueMu      sync.RWMutex
	webhookQueue map[string]PendingWebhook
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:         newDataset(),
		webhookQueue: make(map[string]PendingWebhook),
	}
}

// WithTx runs fn against a snapshot of the store. The snapshot replaces
// the live dataset only when fn returns nil; nested calls join the open
// transaction through the context.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	tx := &memTx{data: work}
	if err := fn(contextWithTx(ctx, tx), tx); err != nil {
		return err
	}

	// Swap contents, not the pointer, so references held since
	// construction keep seeing committed state.
	*s.data = *work
	return nil
}

// Ping always succeeds; the memory backend has no connection to lose.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases nothing but satisfies Store.
func (s *MemoryStore) Close() error {
	return nil
}

// memTx implements Tx against one dataset snapshot.
type memTx struct {
	data *dataset
}

// pageBounds converts a Page into slice bounds over n sorted rows.
func pageBounds(n int, page Page) (int, int) {
	lo := page.Offset()
	if lo > n {
		lo = n
	}
	hi := lo + page.Limit()
	if hi > n {
		hi = n
	}
	return lo, hi
}

func authorizationKey(operatorID, applicationID string) string {
	return operatorID + "/" + applicationID
}

func deviceKey(operatorID, deviceID string) string {
	return operatorID + "/" + deviceID
}
