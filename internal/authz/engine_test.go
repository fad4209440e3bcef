package authz

import (
	"context"
	"testing"
	"time"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

var evalNow = time.Date(2025, 11, 5, 9, 30, 0, 0, time.UTC)

func baseOperator() *storage.Operator {
	return &storage.Operator{
		OperatorID:   "op_main",
		Username:     "venue-main",
		PasswordHash: "x",
		DisplayName:  "Main Venue",
		Balance:      money.MustParse("100.00"),
		Tier:         storage.TierRegular,
		IsActive:     true,
		CreatedAt:    evalNow.Add(-24 * time.Hour),
		UpdatedAt:    evalNow.Add(-24 * time.Hour),
	}
}

func baseApplication() *storage.Application {
	return &storage.Application{
		ApplicationID: "app_1",
		AppCode:       "alpha-arena",
		AppName:       "Alpha Arena",
		UnitPrice:     money.MustParse("10.00"),
		MinPlayers:    2,
		MaxPlayers:    6,
		IsActive:      true,
		CreatedAt:     evalNow.Add(-48 * time.Hour),
		UpdatedAt:     evalNow.Add(-48 * time.Hour),
	}
}

func baseGrant() *storage.Authorization {
	return &storage.Authorization{
		OperatorID:    "op_main",
		ApplicationID: "app_1",
		GrantedBy:     "adm_1",
		GrantedAt:     evalNow.Add(-24 * time.Hour),
	}
}

func baseSite() *storage.Site {
	return &storage.Site{
		SiteID:     "site_main",
		OperatorID: "op_main",
		Name:       "Main Hall",
		IsActive:   true,
		CreatedAt:  evalNow.Add(-24 * time.Hour),
		UpdatedAt:  evalNow.Add(-24 * time.Hour),
	}
}

func seedStore(t *testing.T, op *storage.Operator, app *storage.Application, grant *storage.Authorization, site *storage.Site) *storage.MemoryStore {
	store := storage.NewMemoryStore()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if op != nil {
			if err := tx.CreateOperator(ctx, op); err != nil {
				return err
			}
		}
		if app != nil {
			if err := tx.CreateApplication(ctx, app); err != nil {
				return err
			}
		}
		if grant != nil {
			if err := tx.UpsertAuthorization(ctx, grant); err != nil {
				return err
			}
		}
		if site != nil {
			if err := tx.CreateSite(ctx, site); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func evaluate(store *storage.MemoryStore, op *storage.Operator, req Request, now time.Time) (*Decision, error) {
	var dec *Decision
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var evalErr error
		dec, evalErr = Evaluate(ctx, tx, op, req, now)
		return evalErr
	})
	return dec, err
}

func TestEvaluate_Pass(t *testing.T) {
	op := baseOperator()
	store := seedStore(t, op, baseApplication(), baseGrant(), baseSite())

	dec, err := evaluate(store, op, Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}, evalNow)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if dec.ApplicationID != "app_1" {
		t.Errorf("ApplicationID = %q, want app_1", dec.ApplicationID)
	}
	if dec.AppName != "Alpha Arena" {
		t.Errorf("AppName = %q, want Alpha Arena", dec.AppName)
	}
	if dec.UnitPrice.String() != "10.00" {
		t.Errorf("UnitPrice = %s, want 10.00", dec.UnitPrice)
	}
	if dec.TotalCost.String() != "40.00" {
		t.Errorf("TotalCost = %s, want 40.00", dec.TotalCost)
	}
	if dec.CurrentBalance.String() != "100.00" {
		t.Errorf("CurrentBalance = %s, want 100.00", dec.CurrentBalance)
	}
}

func TestEvaluate_ExactBalancePasses(t *testing.T) {
	op := baseOperator()
	op.Balance = money.MustParse("40.00")
	store := seedStore(t, op, baseApplication(), baseGrant(), baseSite())

	dec, err := evaluate(store, op, Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}, evalNow)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if dec.TotalCost.String() != "40.00" || dec.CurrentBalance.String() != "40.00" {
		t.Errorf("got cost %s balance %s, want both 40.00", dec.TotalCost, dec.CurrentBalance)
	}
}

func TestEvaluate_ZeroPriceApplication(t *testing.T) {
	op := baseOperator()
	op.Balance = money.Zero()
	app := baseApplication()
	app.UnitPrice = money.Zero()
	store := seedStore(t, op, app, baseGrant(), baseSite())

	dec, err := evaluate(store, op, Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}, evalNow)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !dec.TotalCost.IsZero() {
		t.Errorf("TotalCost = %s, want 0.00", dec.TotalCost)
	}
}

func TestEvaluate_RuleViolations(t *testing.T) {
	past := evalNow.Add(-time.Hour)

	tests := []struct {
		name     string
		operator func(op *storage.Operator)
		app      func(app *storage.Application)
		noGrant  bool
		grant    func(g *storage.Authorization)
		site     func(s *storage.Site)
		req      func(r *Request)
		wantCode errors.ErrorCode
	}{
		{
			name:     "locked operator",
			operator: func(op *storage.Operator) { op.IsLocked = true; op.LockReason = "fraud review" },
			wantCode: errors.ErrCodeAccountLocked,
		},
		{
			name:     "disabled operator",
			operator: func(op *storage.Operator) { op.IsActive = false },
			wantCode: errors.ErrCodeAccountLocked,
		},
		{
			name:     "unknown app code",
			req:      func(r *Request) { r.AppCode = "ghost-game" },
			wantCode: errors.ErrCodeAppNotFound,
		},
		{
			name:     "inactive app",
			app:      func(a *storage.Application) { a.IsActive = false },
			wantCode: errors.ErrCodeAppNotFound,
		},
		{
			name:     "no grant",
			noGrant:  true,
			wantCode: errors.ErrCodeAppNotAuthorized,
		},
		{
			name:     "expired grant",
			grant:    func(g *storage.Authorization) { g.ExpiresAt = &past },
			wantCode: errors.ErrCodeAppNotAuthorized,
		},
		{
			name:     "unknown site",
			req:      func(r *Request) { r.SiteID = "site_ghost" },
			wantCode: errors.ErrCodeSiteNotFound,
		},
		{
			name:     "deleted site",
			site:     func(s *storage.Site) { s.DeletedAt = &past },
			wantCode: errors.ErrCodeSiteNotFound,
		},
		{
			name:     "deactivated site",
			site:     func(s *storage.Site) { s.IsActive = false },
			wantCode: errors.ErrCodeSiteNotFound,
		},
		{
			name:     "site owned by another operator",
			site:     func(s *storage.Site) { s.OperatorID = "op_other" },
			wantCode: errors.ErrCodeSiteNotOwned,
		},
		{
			name:     "player count below minimum",
			req:      func(r *Request) { r.PlayerCount = 1 },
			wantCode: errors.ErrCodeInvalidPlayerCount,
		},
		{
			name:     "player count above maximum",
			req:      func(r *Request) { r.PlayerCount = 7 },
			wantCode: errors.ErrCodeInvalidPlayerCount,
		},
		{
			name:     "balance one fen short",
			operator: func(op *storage.Operator) { op.Balance = money.MustParse("39.99") },
			wantCode: errors.ErrCodeInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := baseOperator()
			app := baseApplication()
			grant := baseGrant()
			site := baseSite()
			if tt.operator != nil {
				tt.operator(op)
			}
			if tt.app != nil {
				tt.app(app)
			}
			if tt.grant != nil {
				tt.grant(grant)
			}
			if tt.noGrant {
				grant = nil
			}
			if tt.site != nil {
				tt.site(site)
			}
			store := seedStore(t, op, app, grant, site)

			req := Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}
			if tt.req != nil {
				tt.req(&req)
			}

			_, err := evaluate(store, op, req, evalNow)
			if err == nil {
				t.Fatal("Evaluate succeeded, want rule violation")
			}
			if !errors.Is(err, tt.wantCode) {
				t.Errorf("error code = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestEvaluate_InsufficientBalanceDetails(t *testing.T) {
	op := baseOperator()
	op.Balance = money.MustParse("39.99")
	store := seedStore(t, op, baseApplication(), baseGrant(), baseSite())

	_, err := evaluate(store, op, Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}, evalNow)
	te, ok := errors.AsError(err)
	if !ok {
		t.Fatalf("expected taxonomy error, got %v", err)
	}
	if te.Code != errors.ErrCodeInsufficientBalance {
		t.Fatalf("code = %s, want insufficient_balance", te.Code)
	}
	if got := te.Details["current_balance"]; got != "39.99" {
		t.Errorf("current_balance detail = %v, want 39.99", got)
	}
	if got := te.Details["required"]; got != "40.00" {
		t.Errorf("required detail = %v, want 40.00", got)
	}
}

func TestEvaluate_GrantExpiryBoundary(t *testing.T) {
	later := evalNow.Add(time.Second)

	tests := []struct {
		name      string
		expiresAt time.Time
		wantPass  bool
	}{
		{name: "expires after evaluation", expiresAt: later, wantPass: true},
		{name: "expires exactly now", expiresAt: evalNow, wantPass: false},
		{name: "expired a second ago", expiresAt: evalNow.Add(-time.Second), wantPass: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := baseOperator()
			grant := baseGrant()
			expires := tt.expiresAt
			grant.ExpiresAt = &expires
			store := seedStore(t, op, baseApplication(), grant, baseSite())

			_, err := evaluate(store, op, Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 4}, evalNow)
			if tt.wantPass && err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if !tt.wantPass && !errors.Is(err, errors.ErrCodeAppNotAuthorized) {
				t.Fatalf("error = %v, want app_not_authorized", err)
			}
		})
	}
}

func TestEvaluate_FirstViolationWins(t *testing.T) {
	// Locked account with every later rule also broken still reports the
	// lock; nothing past the first violation is evaluated.
	op := baseOperator()
	op.IsLocked = true
	op.Balance = money.Zero()
	store := seedStore(t, op, nil, nil, nil)

	_, err := evaluate(store, op, Request{AppCode: "ghost-game", SiteID: "site_ghost", PlayerCount: 99}, evalNow)
	if !errors.Is(err, errors.ErrCodeAccountLocked) {
		t.Fatalf("error = %v, want account_locked", err)
	}

	// With the account healthy, the missing grant outranks the bad player
	// count and the empty balance.
	op2 := baseOperator()
	op2.Balance = money.Zero()
	store2 := seedStore(t, op2, baseApplication(), nil, baseSite())

	_, err = evaluate(store2, op2, Request{AppCode: "alpha-arena", SiteID: "site_main", PlayerCount: 99}, evalNow)
	if !errors.Is(err, errors.ErrCodeAppNotAuthorized) {
		t.Fatalf("error = %v, want app_not_authorized", err)
	}
}
