package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mrgun/server/internal/storage"
)

// TokenType discriminates the session token kinds. The type travels as a
// claim inside the token; endpoints declare which kind they accept.
type TokenType string

const (
	// TokenOperator is a venue account's web session.
	TokenOperator TokenType = "operator"

	// TokenAdmin is a back-office session for operator and catalog
	// management roles.
	TokenAdmin TokenType = "admin"

	// TokenFinance is a back-office session for the finance desk roles.
	// Endpoints that accept admin tokens accept finance tokens too; the
	// role matrix decides what the session may actually do.
	TokenFinance TokenType = "finance"

	// TokenHeadset is the short-lived session a headset presents on the
	// game authorisation endpoints. It is bound to one application and
	// one site at mint time.
	TokenHeadset TokenType = "headset"
)

// ErrInvalidToken covers every verification failure except a wrong type
// claim: absent, malformed, bad signature, wrong algorithm, expired.
// Collapsing them is deliberate; callers never learn which check failed.
var ErrInvalidToken = errors.New("invalid token")

// ErrInvalidTokenType means the token verified fine but carries the wrong
// type claim for the endpoint.
var ErrInvalidTokenType = errors.New("wrong token type")

// ErrInvalidCredentials is the single error for a failed login. Unknown
// username and wrong password look identical to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the payload carried by every session token. Type selects the
// kind; Role is set on back-office tokens, AppCode and SiteID on headset
// tokens.
type Claims struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	AppCode string `json:"app_code,omitempty"`
	SiteID  string `json:"site_id,omitempty"`
	jwt.RegisteredClaims
}

// OperatorID returns the subject, which for every token kind is the
// account the session acts as. Headset tokens act as their operator.
func (c *Claims) OperatorID() string {
	return c.Subject
}

// AdminRole returns the back-office role carried by an admin or finance
// token.
func (c *Claims) AdminRole() storage.AdminRole {
	return storage.AdminRole(c.Role)
}

const (
	minSecretLength = 32

	// tokenLeeway absorbs clock skew between this server and whoever
	// minted the token (always us, but instances can drift).
	tokenLeeway = 30 * time.Second

	defaultOperatorTTL = 30 * time.Minute
	defaultAdminTTL    = 30 * time.Minute
	defaultHeadsetTTL  = 24 * time.Hour
)

// Config parameterises the token service.
type Config struct {
	// Secret signs all tokens (HMAC-SHA256). Must be at least 32 bytes.
	Secret string

	OperatorTTL time.Duration // default 30m
	AdminTTL    time.Duration // default 30m
	HeadsetTTL  time.Duration // default 24h
}

// TokenService mints and verifies the three session token kinds.
type TokenService struct {
	secret      []byte
	operatorTTL time.Duration
	adminTTL    time.Duration
	headsetTTL  time.Duration
	now         func() time.Time
}

// NewTokenService validates the signing secret and applies TTL defaults.
func NewTokenService(cfg Config) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes, got %d", minSecretLength, len(cfg.Secret))
	}

	s := &TokenService{
		secret:      []byte(cfg.Secret),
		operatorTTL: cfg.OperatorTTL,
		adminTTL:    cfg.AdminTTL,
		headsetTTL:  cfg.HeadsetTTL,
		now:         time.Now,
	}
	if s.operatorTTL <= 0 {
		s.operatorTTL = defaultOperatorTTL
	}
	if s.adminTTL <= 0 {
		s.adminTTL = defaultAdminTTL
	}
	if s.headsetTTL <= 0 {
		s.headsetTTL = defaultHeadsetTTL
	}
	return s, nil
}

// TTL returns the configured lifetime for a token kind, for the
// expires_in field login responses carry.
func (s *TokenService) TTL(kind TokenType) time.Duration {
	switch kind {
	case TokenHeadset:
		return s.headsetTTL
	case TokenAdmin, TokenFinance:
		return s.adminTTL
	default:
		return s.operatorTTL
	}
}

// IssueOperatorToken mints a web session token for an operator account.
func (s *TokenService) IssueOperatorToken(operatorID string) (string, error) {
	return s.sign(Claims{
		Type:             string(TokenOperator),
		RegisteredClaims: s.registered(operatorID, s.operatorTTL),
	})
}

// IssueAdminToken mints a back-office session token. Finance desk roles
// get the finance type claim, everything else the admin claim.
func (s *TokenService) IssueAdminToken(adminID string, role storage.AdminRole) (string, error) {
	kind := TokenAdmin
	if role.IsFinance() {
		kind = TokenFinance
	}
	return s.sign(Claims{
		Type:             string(kind),
		Role:             string(role),
		RegisteredClaims: s.registered(adminID, s.adminTTL),
	})
}

// IssueHeadsetToken mints the session token an operator hands to a
// headset when launching an application. The token is bound to the
// application and site it was minted for.
func (s *TokenService) IssueHeadsetToken(operatorID, appCode, siteID string) (string, error) {
	return s.sign(Claims{
		Type:             string(TokenHeadset),
		AppCode:          appCode,
		SiteID:           siteID,
		RegisteredClaims: s.registered(operatorID, s.headsetTTL),
	})
}

func (s *TokenService) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and checks its kind against what
// the endpoint expects. A valid token of the wrong kind returns
// ErrInvalidTokenType; every other failure returns ErrInvalidToken.
func (s *TokenService) Verify(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if !kindMatches(claims.Type, expected) {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// kindMatches applies the acceptance rules per expected kind: operator
// endpoints accept tokens minted before the type claim existed, and
// admin endpoints accept both back-office claims.
func kindMatches(got string, expected TokenType) bool {
	switch expected {
	case TokenOperator:
		return got == "" || got == string(TokenOperator)
	case TokenAdmin, TokenFinance:
		return got == string(TokenAdmin) || got == string(TokenFinance)
	case TokenHeadset:
		return got == string(TokenHeadset)
	default:
		return got == string(expected)
	}
}
