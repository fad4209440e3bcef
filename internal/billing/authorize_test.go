package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mrgun/server/internal/authz"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

var authNow = time.Date(2025, 11, 5, 14, 0, 0, 0, time.UTC)

var baseReq = authz.Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}

// seedStore builds a world where op_main holds 100.00 CNY, a grant for
// alpha-arena (10.00 per player, 2-6 players) and the site site_main.
func seedStore(t *testing.T) *storage.MemoryStore {
	store := storage.NewMemoryStore()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		op := &storage.Operator{
			OperatorID:   "op_main",
			Username:     "venue-main",
			PasswordHash: "x",
			DisplayName:  "Main Venue",
			Balance:      money.MustParse("100.00"),
			Tier:         storage.TierRegular,
			IsActive:     true,
			CreatedAt:    authNow.Add(-24 * time.Hour),
			UpdatedAt:    authNow.Add(-24 * time.Hour),
		}
		if err := tx.CreateOperator(ctx, op); err != nil {
			return err
		}
		app := &storage.Application{
			ApplicationID: "app_1",
			AppCode:       "alpha-arena",
			AppName:       "Alpha Arena",
			UnitPrice:     money.MustParse("10.00"),
			MinPlayers:    2,
			MaxPlayers:    6,
			IsActive:      true,
			CreatedAt:     authNow.Add(-48 * time.Hour),
			UpdatedAt:     authNow.Add(-48 * time.Hour),
		}
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		grant := &storage.Authorization{
			OperatorID:    "op_main",
			ApplicationID: "app_1",
			GrantedBy:     "adm_1",
			GrantedAt:     authNow.Add(-24 * time.Hour),
		}
		if err := tx.UpsertAuthorization(ctx, grant); err != nil {
			return err
		}
		site := &storage.Site{
			SiteID:     "site_main",
			OperatorID: "op_main",
			Name:       "Main Hall",
			IsActive:   true,
			CreatedAt:  authNow.Add(-24 * time.Hour),
			UpdatedAt:  authNow.Add(-24 * time.Hour),
		}
		return tx.CreateSite(ctx, site)
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	store := seedStore(t)
	svc := NewService(store, config.BillingConfig{}, nil)
	svc.now = func() time.Time { return authNow }
	return svc, store
}

func getOperator(t *testing.T, store storage.Store, id string) *storage.Operator {
	var op *storage.Operator
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		op, err = tx.GetOperator(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("get operator %s: %v", id, err)
	}
	return op
}

func listTransactions(t *testing.T, store storage.Store, operatorID string) []storage.Transaction {
	var txns []storage.Transaction
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		txns, _, err = tx.ListTransactions(ctx, storage.TransactionFilter{OperatorID: operatorID}, storage.Page{Size: 100})
		return err
	})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return txns
}

func TestAuthorize_DebitsOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if res.Replayed {
		t.Error("fresh authorize marked as replayed")
	}
	if res.TotalCost.String() != "40.00" {
		t.Errorf("TotalCost = %s, want 40.00", res.TotalCost)
	}
	if res.BalanceAfter.String() != "60.00" {
		t.Errorf("BalanceAfter = %s, want 60.00", res.BalanceAfter)
	}
	if res.SessionID == "" {
		t.Fatal("empty session id")
	}
	if !res.AuthorizedAt.Equal(authNow) {
		t.Errorf("AuthorizedAt = %v, want %v", res.AuthorizedAt, authNow)
	}

	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "60.00" {
		t.Errorf("stored balance = %s, want 60.00", op.Balance)
	}
	if op.TotalConsumed.String() != "40.00" {
		t.Errorf("total consumed = %s, want 40.00", op.TotalConsumed)
	}

	// Exactly one consumption transaction, paired to the usage record
	// and carrying the negated cost.
	txns := listTransactions(t, store, "op_main")
	if len(txns) != 1 {
		t.Fatalf("transaction count = %d, want 1", len(txns))
	}
	if txns[0].Type != storage.TransactionConsumption {
		t.Errorf("transaction type = %s, want consumption", txns[0].Type)
	}
	if txns[0].Amount.String() != "-40.00" {
		t.Errorf("transaction amount = %s, want -40.00", txns[0].Amount)
	}
	if txns[0].BalanceBefore.String() != "100.00" || txns[0].BalanceAfter.String() != "60.00" {
		t.Errorf("transaction balances = %s -> %s, want 100.00 -> 60.00", txns[0].BalanceBefore, txns[0].BalanceAfter)
	}
	if txns[0].RelatedID == "" {
		t.Error("transaction has no related usage record id")
	}
}

func TestAuthorize_ReplayInsideWindow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("first Authorize failed: %v", err)
	}

	second, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("second Authorize failed: %v", err)
	}
	if !second.Replayed {
		t.Error("second authorize inside the window not marked replayed")
	}
	if second.SessionID != first.SessionID {
		t.Errorf("replay session id = %s, want %s", second.SessionID, first.SessionID)
	}
	if second.BalanceAfter.String() != first.BalanceAfter.String() {
		t.Errorf("replay balance = %s, want %s", second.BalanceAfter, first.BalanceAfter)
	}

	// Only one debit happened.
	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "60.00" {
		t.Errorf("balance after replay = %s, want 60.00", op.Balance)
	}
	if got := len(listTransactions(t, store, "op_main")); got != 1 {
		t.Errorf("transaction count = %d, want 1", got)
	}
}

func TestAuthorize_WindowBoundary(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, config.BillingConfig{}, nil)
	current := authNow
	svc.now = func() time.Time { return current }
	ctx := context.Background()

	first, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("first Authorize failed: %v", err)
	}

	// Exactly 30s later the window still holds the record.
	current = authNow.Add(30 * time.Second)
	replay, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("boundary Authorize failed: %v", err)
	}
	if !replay.Replayed || replay.SessionID != first.SessionID {
		t.Errorf("at the 30s boundary got replayed=%v session=%s, want replay of %s",
			replay.Replayed, replay.SessionID, first.SessionID)
	}

	// One millisecond past the boundary a fresh debit happens.
	current = authNow.Add(30*time.Second + time.Millisecond)
	fresh, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("post-window Authorize failed: %v", err)
	}
	if fresh.Replayed {
		t.Error("authorize past the window marked replayed")
	}
	if fresh.SessionID == first.SessionID {
		t.Error("post-window authorize reused the old session id")
	}

	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "20.00" {
		t.Errorf("balance after two debits = %s, want 20.00", op.Balance)
	}
}

func TestAuthorize_DifferentPlayerCountIsNewSession(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("first Authorize failed: %v", err)
	}

	other := baseReq
	other.PlayerCount = 5
	second, err := svc.Authorize(ctx, "op_main", other)
	if err != nil {
		t.Fatalf("second Authorize failed: %v", err)
	}
	if second.Replayed {
		t.Error("different player count treated as replay")
	}
	if second.SessionID == first.SessionID {
		t.Error("different player count reused the session id")
	}
	if second.TotalCost.String() != "50.00" {
		t.Errorf("TotalCost = %s, want 50.00", second.TotalCost)
	}

	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "10.00" {
		t.Errorf("balance = %s, want 10.00 after 40.00 + 50.00 debits", op.Balance)
	}
}

func TestAuthorize_ExactBalanceReachesZero(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Burn the balance down to exactly one session's cost.
	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		op, err := tx.GetOperator(ctx, "op_main")
		if err != nil {
			return err
		}
		op.Balance = money.MustParse("40.00")
		op.UpdatedAt = authNow
		return tx.UpdateOperatorBalance(ctx, op)
	})
	if err != nil {
		t.Fatalf("set balance: %v", err)
	}

	res, err := svc.Authorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if !res.BalanceAfter.IsZero() {
		t.Errorf("BalanceAfter = %s, want 0.00", res.BalanceAfter)
	}
	op := getOperator(t, store, "op_main")
	if !op.Balance.IsZero() {
		t.Errorf("stored balance = %s, want 0.00", op.Balance)
	}
}

func TestAuthorize_DenialsLeaveNoTrace(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(t *testing.T, store storage.Store)
		req      authz.Request
		wantCode errors.ErrorCode
	}{
		{
			name: "insufficient balance",
			mutate: func(t *testing.T, store storage.Store) {
				err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
					op, err := tx.GetOperator(ctx, "op_main")
					if err != nil {
						return err
					}
					op.Balance = money.MustParse("39.99")
					op.UpdatedAt = authNow
					return tx.UpdateOperatorBalance(ctx, op)
				})
				if err != nil {
					t.Fatalf("set balance: %v", err)
				}
			},
			req:      baseReq,
			wantCode: errors.ErrCodeInsufficientBalance,
		},
		{
			name:     "player count out of range",
			req:      authz.Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 7},
			wantCode: errors.ErrCodeInvalidPlayerCount,
		},
		{
			name: "app disabled after pre-authorise",
			mutate: func(t *testing.T, store storage.Store) {
				err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
					app, err := tx.GetApplication(ctx, "app_1")
					if err != nil {
						return err
					}
					app.IsActive = false
					app.UpdatedAt = authNow
					return tx.UpdateApplication(ctx, app)
				})
				if err != nil {
					t.Fatalf("disable app: %v", err)
				}
			},
			req:      baseReq,
			wantCode: errors.ErrCodeAppNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			ctx := context.Background()

			if tt.name == "app disabled after pre-authorise" {
				// The eligibility check passes first; disabling the app
				// afterwards must still stop the debit.
				if _, err := svc.PreAuthorize(ctx, "op_main", tt.req); err != nil {
					t.Fatalf("PreAuthorize failed: %v", err)
				}
			}
			if tt.mutate != nil {
				tt.mutate(t, store)
			}

			_, err := svc.Authorize(ctx, "op_main", tt.req)
			if !errors.Is(err, tt.wantCode) {
				t.Fatalf("Authorize error = %v, want %s", err, tt.wantCode)
			}

			// No usage record, no transaction, no balance movement.
			if got := len(listTransactions(t, store, "op_main")); got != 0 {
				t.Errorf("denied authorize wrote %d transactions", got)
			}
			err = store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				records, _, err := tx.ListUsageRecords(ctx, "op_main", storage.Page{})
				if err != nil {
					return err
				}
				if len(records) != 0 {
					t.Errorf("denied authorize wrote %d usage records", len(records))
				}
				return nil
			})
			if err != nil {
				t.Fatalf("list usage records: %v", err)
			}
		})
	}
}

func TestAuthorize_UnknownOperator(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authorize(context.Background(), "op_ghost", baseReq)
	if !errors.Is(err, errors.ErrCodeOperatorNotFound) {
		t.Fatalf("error = %v, want operator_not_found", err)
	}
}

func TestAuthorize_ConcurrentSameKeyDebitsOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	const callers = 8
	results := make(chan *AuthorizeResult, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Authorize(ctx, "op_main", baseReq)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent Authorize failed: %v", err)
	}

	sessionIDs := make(map[string]bool)
	fresh := 0
	for res := range results {
		sessionIDs[res.SessionID] = true
		if !res.Replayed {
			fresh++
		}
	}
	if len(sessionIDs) != 1 {
		t.Errorf("concurrent callers saw %d session ids, want 1", len(sessionIDs))
	}
	if fresh != 1 {
		t.Errorf("%d callers debited, want exactly 1", fresh)
	}

	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "60.00" {
		t.Errorf("balance = %s, want 60.00 after a single debit", op.Balance)
	}
	if got := len(listTransactions(t, store, "op_main")); got != 1 {
		t.Errorf("transaction count = %d, want 1", got)
	}
}

func TestPreAuthorize_PricesWithoutTouchingAnything(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.PreAuthorize(ctx, "op_main", baseReq)
	if err != nil {
		t.Fatalf("PreAuthorize failed: %v", err)
	}
	if !res.CanAuthorize {
		t.Error("CanAuthorize = false on a passing check")
	}
	if res.AppName != "Alpha Arena" {
		t.Errorf("AppName = %q, want Alpha Arena", res.AppName)
	}
	if res.UnitPrice.String() != "10.00" || res.TotalCost.String() != "40.00" {
		t.Errorf("pricing = %s x4 -> %s, want 10.00 -> 40.00", res.UnitPrice, res.TotalCost)
	}
	if res.CurrentBalance.String() != "100.00" {
		t.Errorf("CurrentBalance = %s, want 100.00", res.CurrentBalance)
	}

	// Calling it again is free of side effects: same answer, no records.
	if _, err := svc.PreAuthorize(ctx, "op_main", baseReq); err != nil {
		t.Fatalf("repeat PreAuthorize failed: %v", err)
	}
	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "100.00" {
		t.Errorf("balance moved to %s on pre-authorise", op.Balance)
	}
	if got := len(listTransactions(t, store, "op_main")); got != 0 {
		t.Errorf("pre-authorise wrote %d transactions", got)
	}
}

func TestPreAuthorize_SurfacesRuleErrors(t *testing.T) {
	svc, _ := newTestService(t)

	req := baseReq
	req.AppCode = "ghost-game"
	_, err := svc.PreAuthorize(context.Background(), "op_main", req)
	if !errors.Is(err, errors.ErrCodeAppNotFound) {
		t.Fatalf("error = %v, want app_not_found", err)
	}
}
