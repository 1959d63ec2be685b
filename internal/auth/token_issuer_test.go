package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "prendiax-auth",
		Audience:      "prendiax-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func signRaw(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestTokenIssuerIssuesAccessTokens(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueAccessToken(Identity(42))
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &AccessClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "prendiax-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "prendiax-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	if userID, ok := claims.UserID.(float64); !ok || userID != 42 {
		t.Fatalf("unexpected user_id claim %#v", claims.UserID)
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)

	tokenString, _, err := issuer.IssueAccessToken(Identity(321))
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	identity, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if identity != 321 {
		t.Fatalf("unexpected identity %d", identity)
	}

	if _, err := issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerAcceptsMobileTokensWithoutIssuer(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)
	now := time.Now()

	testCases := []struct {
		name     string
		claims   jwt.MapClaims
		expected Identity
	}{
		{
			name:     "numeric user_id",
			claims:   jwt.MapClaims{"user_id": 7, "exp": now.Add(time.Hour).Unix()},
			expected: 7,
		},
		{
			name:     "string user_id",
			claims:   jwt.MapClaims{"user_id": "8", "exp": now.Add(time.Hour).Unix()},
			expected: 8,
		},
		{
			name:     "subject only",
			claims:   jwt.MapClaims{"sub": "9", "exp": now.Add(time.Hour).Unix()},
			expected: 9,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			identity, err := issuer.ValidateToken(signRaw(t, "super-secret", testCase.claims))
			if err != nil {
				t.Fatalf("expected validation success: %v", err)
			}
			if identity != testCase.expected {
				t.Fatalf("expected identity %d, got %d", testCase.expected, identity)
			}
		})
	}
}

func TestTokenIssuerRejectsForeignTokens(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)
	expiry := time.Now().Add(time.Hour).Unix()

	testCases := []struct {
		name   string
		secret string
		claims jwt.MapClaims
	}{
		{name: "wrong secret", secret: "other-secret", claims: jwt.MapClaims{"user_id": 1, "exp": expiry}},
		{name: "foreign issuer", secret: "super-secret", claims: jwt.MapClaims{"user_id": 1, "iss": "elsewhere", "exp": expiry}},
		{name: "foreign audience", secret: "super-secret", claims: jwt.MapClaims{"user_id": 1, "aud": "elsewhere", "exp": expiry}},
		{name: "expired", secret: "super-secret", claims: jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(-time.Hour).Unix()}},
		{name: "no identity", secret: "super-secret", claims: jwt.MapClaims{"exp": expiry}},
		{name: "zero identity", secret: "super-secret", claims: jwt.MapClaims{"user_id": 0, "exp": expiry}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := issuer.ValidateToken(signRaw(t, testCase.secret, testCase.claims)); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestTokenIssuerRejectsInvalidIdentity(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)
	if _, _, err := issuer.IssueAccessToken(0); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  TokenIssuerConfig
	}{
		{name: "missing secret", cfg: TokenIssuerConfig{Issuer: "a", Audience: "b", TokenTTL: time.Minute}},
		{name: "missing issuer", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Audience: "b", TokenTTL: time.Minute}},
		{name: "blank audience", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: " ", TokenTTL: time.Minute}},
		{name: "zero ttl", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: "b"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(testCase.cfg); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}
