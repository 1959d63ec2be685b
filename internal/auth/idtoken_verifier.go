package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Supported identity providers.
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

const (
	defaultJWKSCacheTTL  = 10 * time.Minute
	defaultJWKSCacheSize = 64
)

var (
	errMissingIDToken        = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errKeyNotFound           = errors.New("signing key not found in JWKS")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errUnknownProvider       = errors.New("unknown identity provider")
	ErrInvalidVerifierConfig = errors.New("auth: invalid id token verifier config")
)

var defaultIssuers = map[string][]string{
	ProviderGoogle: {"https://accounts.google.com", "accounts.google.com"},
	ProviderApple:  {"https://appleid.apple.com"},
}

// IDTokenVerifierConfig bundles configuration for one OpenID provider.
type IDTokenVerifierConfig struct {
	Provider       string
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// ProviderClaims exposes the validated identity asserted by a provider.
type ProviderClaims struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Expiry        time.Time
}

type idTokenClaims struct {
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
	Name          string      `json:"name"`
	Picture       string      `json:"picture"`
	jwt.RegisteredClaims
}

// IDTokenVerifier verifies RS256 id tokens offline against the provider's JWKS.
type IDTokenVerifier struct {
	provider   string
	audience   string
	jwksURL    string
	issuers    map[string]struct{}
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
	keys       *expirable.LRU[string, *rsa.PublicKey]
}

// NewIDTokenVerifier constructs a verifier with validated configuration.
func NewIDTokenVerifier(cfg IDTokenVerifierConfig) (*IDTokenVerifier, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	fallbackIssuers, known := defaultIssuers[provider]
	if !known {
		return nil, fmt.Errorf("%w: %v %q", ErrInvalidVerifierConfig, errUnknownProvider, cfg.Provider)
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	issuers := make(map[string]struct{})
	for _, issuer := range cfg.AllowedIssuers {
		if normalized := strings.TrimSpace(issuer); normalized != "" {
			issuers[normalized] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		for _, issuer := range fallbackIssuers {
			issuers[issuer] = struct{}{}
		}
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &IDTokenVerifier{
		provider:   provider,
		audience:   audience,
		jwksURL:    jwksURL,
		issuers:    issuers,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
		keys:       expirable.NewLRU[string, *rsa.PublicKey](defaultJWKSCacheSize, nil, cacheTTL),
	}, nil
}

// Provider returns the provider name this verifier serves.
func (v *IDTokenVerifier) Provider() string {
	return v.provider
}

// Verify validates the id token and returns the asserted identity.
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (ProviderClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ProviderClaims{}, errMissingIDToken
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.lookupKey(ctx, keyID)
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return ProviderClaims{}, err
	}
	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return ProviderClaims{}, errUntrustedIssuer
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ProviderClaims{}, errMissingSubject
	}

	result := ProviderClaims{
		Provider:      v.provider,
		Subject:       claims.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: truthy(claims.EmailVerified),
		Name:          strings.TrimSpace(claims.Name),
		Picture:       strings.TrimSpace(claims.Picture),
	}
	if claims.ExpiresAt != nil {
		result.Expiry = claims.ExpiresAt.Time
	}
	return result, nil
}

func (v *IDTokenVerifier) lookupKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if key, ok := v.keys.Get(keyID); ok {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if key, ok := v.keys.Get(keyID); ok {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (v *IDTokenVerifier) refreshKeys(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, http.NoBody)
	if err != nil {
		return err
	}
	response, err := v.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document jwksDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return err
	}

	usable := 0
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := key.publicKey()
		if err != nil {
			v.logger.Debug("skipping jwk", zap.String("provider", v.provider), zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		v.keys.Add(key.KeyID, publicKey)
		usable++
	}
	if usable == 0 {
		return errors.New("jwks document contained no usable keys")
	}
	return nil
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	exponent := new(big.Int).SetBytes(exponentBytes)
	if !exponent.IsInt64() || exponent.Int64() <= 1 {
		return nil, errors.New("invalid exponent value")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: int(exponent.Int64()),
	}, nil
}

// Apple encodes email_verified as the string "true".
func truthy(value interface{}) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return strings.EqualFold(strings.TrimSpace(typed), "true")
	default:
		return false
	}
}
