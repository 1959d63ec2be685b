package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
	errMissingIdentityClaim = errors.New("token carries neither user_id nor sub")
	errForeignIssuer        = errors.New("token issued by another issuer")
	errForeignAudience      = errors.New("token minted for another audience")
)

// AccessClaims is the payload of the bearer tokens handed to mobile and web clients.
// UserID is decoded loosely because older clients carry it as a string.
type AccessClaims struct {
	UserID interface{} `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 bearer tokens signed with the shared secret.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, errNonPositiveTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// IssueAccessToken produces a signed JWT and its lifetime in seconds for the identity.
func (i *TokenIssuer) IssueAccessToken(identity Identity) (string, int64, error) {
	if identity <= 0 {
		return "", 0, ErrInvalidIdentity
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims := AccessClaims{
		UserID: identity.Int64(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.String(),
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken verifies the signature and expiry and returns the identity claim.
// Tokens minted by the mobile auth flow carry no issuer or audience; when present they must match.
func (i *TokenIssuer) ValidateToken(tokenString string) (Identity, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return 0, err
	}
	if claims.Issuer != "" && claims.Issuer != i.issuer {
		return 0, errForeignIssuer
	}
	if len(claims.Audience) > 0 && !slices.Contains(claims.Audience, i.audience) {
		return 0, errForeignAudience
	}

	if claims.UserID != nil {
		return identityFromClaim(claims.UserID)
	}
	if claims.Subject != "" {
		return ParseIdentity(claims.Subject)
	}
	return 0, errMissingIdentityClaim
}
