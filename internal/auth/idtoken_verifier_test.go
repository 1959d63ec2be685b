package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwksFixture struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	keyID    string
	requests atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fixture := &jwksFixture{key: key, keyID: "kid-1"}
	fixture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fixture.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": fixture.keyID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   encodeBigInt(big.NewInt(int64(key.PublicKey.E))),
			}},
		})
	}))
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.keyID
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newFixtureVerifier(t *testing.T, fixture *jwksFixture, provider string) *IDTokenVerifier {
	t.Helper()
	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Provider: provider,
		Audience: "client-123",
		JWKSURL:  fixture.server.URL,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func TestIDTokenVerifierAcceptsGoogleToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := newFixtureVerifier(t, fixture, ProviderGoogle)

	token := fixture.sign(t, jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "client-123",
		"sub":            "google-sub",
		"email":          "Ana@Example.com",
		"email_verified": true,
		"name":           "Ana",
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "google-sub" || claims.Email != "ana@example.com" || !claims.EmailVerified {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Provider != ProviderGoogle || claims.Name != "Ana" {
		t.Fatalf("unexpected provider fields %+v", claims)
	}

	if _, err := verifier.Verify(context.Background(), token); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if fixture.requests.Load() != 1 {
		t.Fatalf("expected cached JWKS, got %d fetches", fixture.requests.Load())
	}
}

func TestIDTokenVerifierAcceptsAppleStringEmailVerified(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := newFixtureVerifier(t, fixture, ProviderApple)

	token := fixture.sign(t, jwt.MapClaims{
		"iss":            "https://appleid.apple.com",
		"aud":            "client-123",
		"sub":            "apple-sub",
		"email":          "relay@privaterelay.appleid.com",
		"email_verified": "true",
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !claims.EmailVerified || claims.Subject != "apple-sub" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIDTokenVerifierRejectsInvalidTokens(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := newFixtureVerifier(t, fixture, ProviderGoogle)
	expiry := time.Now().Add(time.Hour).Unix()

	testCases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{name: "wrong audience", claims: jwt.MapClaims{"iss": "accounts.google.com", "aud": "other", "sub": "s", "exp": expiry}},
		{name: "wrong issuer", claims: jwt.MapClaims{"iss": "https://appleid.apple.com", "aud": "client-123", "sub": "s", "exp": expiry}},
		{name: "expired", claims: jwt.MapClaims{"iss": "accounts.google.com", "aud": "client-123", "sub": "s", "exp": time.Now().Add(-time.Hour).Unix()}},
		{name: "missing subject", claims: jwt.MapClaims{"iss": "accounts.google.com", "aud": "client-123", "exp": expiry}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := verifier.Verify(context.Background(), fixture.sign(t, testCase.claims)); err == nil {
				t.Fatalf("expected verification failure")
			}
		})
	}

	if _, err := verifier.Verify(context.Background(), " "); !errors.Is(err, errMissingIDToken) {
		t.Fatalf("expected errMissingIDToken, got %v", err)
	}
}

func TestIDTokenVerifierRejectsUnknownKey(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := newFixtureVerifier(t, fixture, ProviderGoogle)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": "accounts.google.com", "aud": "client-123", "sub": "s", "exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "rotated"
	signed, err := token.SignedString(fixture.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, errKeyNotFound) {
		t.Fatalf("expected errKeyNotFound, got %v", err)
	}
}

func TestNewIDTokenVerifierValidatesConfig(t *testing.T) {
	testCases := []struct {
		name     string
		cfg      IDTokenVerifierConfig
		expected error
	}{
		{name: "unknown provider", cfg: IDTokenVerifierConfig{Provider: "github", Audience: "a", JWKSURL: "u"}, expected: errUnknownProvider},
		{name: "missing audience", cfg: IDTokenVerifierConfig{Provider: ProviderGoogle, JWKSURL: "u"}, expected: errMissingAudienceConfig},
		{name: "missing jwks", cfg: IDTokenVerifierConfig{Provider: ProviderApple, Audience: "a"}, expected: errMissingJWKSURL},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewIDTokenVerifier(testCase.cfg)
			if !errors.Is(err, ErrInvalidVerifierConfig) {
				t.Fatalf("expected ErrInvalidVerifierConfig, got %v", err)
			}
			if err == nil || !strings.Contains(err.Error(), testCase.expected.Error()) {
				t.Fatalf("expected %v in %v", testCase.expected, err)
			}
		})
	}
}

func encodeBigInt(value *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(value.Bytes())
}
