package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mrgun/server/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *TokenService {
	svc, err := NewTokenService(Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	return svc
}

func TestNewTokenService_SecretLength(t *testing.T) {
	if _, err := NewTokenService(Config{Secret: "too-short"}); err == nil {
		t.Error("expected an error for a short secret")
	}
	if _, err := NewTokenService(Config{Secret: testSecret}); err != nil {
		t.Errorf("32-byte secret rejected: %v", err)
	}
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc := newTestService(t)

	t.Run("operator", func(t *testing.T) {
		token, err := svc.IssueOperatorToken("op_1")
		if err != nil {
			t.Fatalf("IssueOperatorToken failed: %v", err)
		}
		claims, err := svc.Verify(token, TokenOperator)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if claims.OperatorID() != "op_1" {
			t.Errorf("OperatorID() = %q, want op_1", claims.OperatorID())
		}
		if claims.Type != string(TokenOperator) {
			t.Errorf("Type = %q, want operator", claims.Type)
		}
	})

	t.Run("admin role picks admin claim", func(t *testing.T) {
		token, err := svc.IssueAdminToken("adm_1", storage.RoleAdmin)
		if err != nil {
			t.Fatalf("IssueAdminToken failed: %v", err)
		}
		claims, err := svc.Verify(token, TokenAdmin)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if claims.Type != string(TokenAdmin) {
			t.Errorf("Type = %q, want admin", claims.Type)
		}
		if claims.AdminRole() != storage.RoleAdmin {
			t.Errorf("AdminRole() = %q, want admin", claims.AdminRole())
		}
	})

	t.Run("finance role picks finance claim", func(t *testing.T) {
		token, err := svc.IssueAdminToken("adm_2", storage.RoleFinanceManager)
		if err != nil {
			t.Fatalf("IssueAdminToken failed: %v", err)
		}
		claims, err := svc.Verify(token, TokenAdmin)
		if err != nil {
			t.Fatalf("finance token must verify on admin endpoints: %v", err)
		}
		if claims.Type != string(TokenFinance) {
			t.Errorf("Type = %q, want finance", claims.Type)
		}
		if claims.AdminRole() != storage.RoleFinanceManager {
			t.Errorf("AdminRole() = %q, want finance_manager", claims.AdminRole())
		}
	})

	t.Run("headset carries binding claims", func(t *testing.T) {
		token, err := svc.IssueHeadsetToken("op_1", "alpha-arena", "site_1")
		if err != nil {
			t.Fatalf("IssueHeadsetToken failed: %v", err)
		}
		claims, err := svc.Verify(token, TokenHeadset)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if claims.OperatorID() != "op_1" {
			t.Errorf("OperatorID() = %q, want op_1", claims.OperatorID())
		}
		if claims.AppCode != "alpha-arena" {
			t.Errorf("AppCode = %q, want alpha-arena", claims.AppCode)
		}
		if claims.SiteID != "site_1" {
			t.Errorf("SiteID = %q, want site_1", claims.SiteID)
		}
	})
}

func TestTokenService_TypeIsolation(t *testing.T) {
	svc := newTestService(t)

	operatorToken, err := svc.IssueOperatorToken("op_1")
	if err != nil {
		t.Fatalf("IssueOperatorToken failed: %v", err)
	}
	headsetToken, err := svc.IssueHeadsetToken("op_1", "alpha-arena", "site_1")
	if err != nil {
		t.Fatalf("IssueHeadsetToken failed: %v", err)
	}
	adminToken, err := svc.IssueAdminToken("adm_1", storage.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("IssueAdminToken failed: %v", err)
	}

	tests := []struct {
		name     string
		token    string
		expected TokenType
		wantErr  error
	}{
		{"operator token on headset endpoint", operatorToken, TokenHeadset, ErrInvalidTokenType},
		{"headset token on operator endpoint", headsetToken, TokenOperator, ErrInvalidTokenType},
		{"headset token on admin endpoint", headsetToken, TokenAdmin, ErrInvalidTokenType},
		{"admin token on headset endpoint", adminToken, TokenHeadset, ErrInvalidTokenType},
		{"admin token on operator endpoint", adminToken, TokenOperator, ErrInvalidTokenType},
		{"operator token on its own endpoint", operatorToken, TokenOperator, nil},
		{"admin token on finance-expecting endpoint", adminToken, TokenFinance, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token, tt.expected)
			if err != tt.wantErr {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenService_LegacyOperatorTokenWithoutType(t *testing.T) {
	svc := newTestService(t)

	// Tokens minted before the type claim existed carry only registered
	// claims; operator endpoints still accept them.
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "op_1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := raw.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := svc.Verify(token, TokenOperator); err != nil {
		t.Errorf("typeless token on operator endpoint error = %v, want nil", err)
	}
	if _, err := svc.Verify(token, TokenHeadset); err != ErrInvalidTokenType {
		t.Errorf("typeless token on headset endpoint error = %v, want ErrInvalidTokenType", err)
	}
}

func TestTokenService_InvalidTokens(t *testing.T) {
	svc := newTestService(t)

	otherSvc, err := NewTokenService(Config{Secret: "ffffffffffffffffffffffffffffffff"})
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	foreignToken, err := otherSvc.IssueOperatorToken("op_1")
	if err != nil {
		t.Fatalf("IssueOperatorToken failed: %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "op_1"})
	noneToken, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token failed: %v", err)
	}

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: string(TokenOperator),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	noSubjectToken, err := noSubject.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", foreignToken},
		{"alg none", noneToken},
		{"missing subject", noSubjectToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token, TokenOperator); err != ErrInvalidToken {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenService_Expiry(t *testing.T) {
	svc := newTestService(t)

	minted := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return minted }

	token, err := svc.IssueOperatorToken("op_1")
	if err != nil {
		t.Fatalf("IssueOperatorToken failed: %v", err)
	}

	// Just inside the TTL plus leeway
	svc.now = func() time.Time { return minted.Add(defaultOperatorTTL + tokenLeeway - time.Second) }
	if _, err := svc.Verify(token, TokenOperator); err != nil {
		t.Errorf("token inside leeway rejected: %v", err)
	}

	// Past the TTL plus leeway
	svc.now = func() time.Time { return minted.Add(defaultOperatorTTL + tokenLeeway + time.Minute) }
	if _, err := svc.Verify(token, TokenOperator); err != ErrInvalidToken {
		t.Errorf("expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenService_TTL(t *testing.T) {
	svc := newTestService(t)

	if got := svc.TTL(TokenOperator); got != defaultOperatorTTL {
		t.Errorf("TTL(operator) = %v, want %v", got, defaultOperatorTTL)
	}
	if got := svc.TTL(TokenFinance); got != defaultAdminTTL {
		t.Errorf("TTL(finance) = %v, want %v", got, defaultAdminTTL)
	}
	if got := svc.TTL(TokenHeadset); got != defaultHeadsetTTL {
		t.Errorf("TTL(headset) = %v, want %v", got, defaultHeadsetTTL)
	}
}
