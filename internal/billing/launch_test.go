package billing

import (
	"context"
	"testing"
	"time"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

func TestLaunch_ClearsGrantedApplication(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.Launch(context.Background(), "op_main", "alpha-arena", "site_main")
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if res.AppCode != "alpha-arena" || res.AppName != "Alpha Arena" {
		t.Errorf("launch resolved %q/%q, want alpha-arena/Alpha Arena", res.AppCode, res.AppName)
	}
	if res.SiteID != "site_main" {
		t.Errorf("SiteID = %q, want site_main", res.SiteID)
	}

	// Clearing a launch moves no money and writes nothing.
	op := getOperator(t, store, "op_main")
	if op.Balance.String() != "100.00" {
		t.Errorf("balance moved to %s on launch", op.Balance)
	}
	if got := len(listTransactions(t, store, "op_main")); got != 0 {
		t.Errorf("launch wrote %d transactions", got)
	}
}

func TestLaunch_IgnoresBalance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Drain the balance entirely. The token mint must still pass; the
	// debit path is where underfunding bites.
	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		op, err := tx.GetOperator(ctx, "op_main")
		if err != nil {
			return err
		}
		op.Balance = money.Zero()
		op.UpdatedAt = authNow
		return tx.UpdateOperatorBalance(ctx, op)
	})
	if err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	if _, err := svc.Launch(ctx, "op_main", "alpha-arena", "site_main"); err != nil {
		t.Fatalf("Launch with zero balance failed: %v", err)
	}
}

func TestLaunch_RuleFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(t *testing.T, store storage.Store)
		appCode  string
		siteID   string
		wantCode errors.ErrorCode
	}{
		{
			name:     "unknown application",
			appCode:  "ghost-game",
			siteID:   "site_main",
			wantCode: errors.ErrCodeAppNotFound,
		},
		{
			name:     "unknown site",
			appCode:  "alpha-arena",
			siteID:   "site_ghost",
			wantCode: errors.ErrCodeSiteNotFound,
		},
		{
			name:    "locked operator",
			appCode: "alpha-arena",
			siteID:  "site_main",
			mutate: func(t *testing.T, store storage.Store) {
				err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
					op, err := tx.GetOperator(ctx, "op_main")
					if err != nil {
						return err
					}
					op.IsLocked = true
					op.LockReason = "payment dispute"
					return tx.UpdateOperator(ctx, op)
				})
				if err != nil {
					t.Fatalf("lock operator: %v", err)
				}
			},
			wantCode: errors.ErrCodeAccountLocked,
		},
		{
			name:    "grant expired",
			appCode: "alpha-arena",
			siteID:  "site_main",
			mutate: func(t *testing.T, store storage.Store) {
				expired := authNow.Add(-time.Hour)
				err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
					return tx.UpsertAuthorization(ctx, &storage.Authorization{
						OperatorID:    "op_main",
						ApplicationID: "app_1",
						GrantedBy:     "adm_1",
						GrantedAt:     authNow.Add(-24 * time.Hour),
						ExpiresAt:     &expired,
					})
				})
				if err != nil {
					t.Fatalf("expire grant: %v", err)
				}
			},
			wantCode: errors.ErrCodeAppNotAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			if tt.mutate != nil {
				tt.mutate(t, store)
			}
			_, err := svc.Launch(context.Background(), "op_main", tt.appCode, tt.siteID)
			if !errors.Is(err, tt.wantCode) {
				t.Fatalf("Launch error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}
