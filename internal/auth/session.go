package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionIssuer = "prendiax-web"

var (
	ErrMissingSessionSigningKey = errors.New("session manager: signing key required")
	ErrMissingSessionCookieName = errors.New("session manager: cookie name required")
	ErrMissingSessionToken      = errors.New("session manager: token required")
	ErrInvalidSessionToken      = errors.New("session manager: invalid token")
	ErrExpiredSessionToken      = errors.New("session manager: token expired")
)

// SessionClaims is the payload of the web session cookie.
type SessionClaims struct {
	UserID   int64  `json:"user_id"`
	UserKind string `json:"tipo,omitempty"`
	jwt.RegisteredClaims
}

// SessionManagerConfig describes how web session cookies are minted and validated.
type SessionManagerConfig struct {
	SigningSecret []byte
	CookieName    string
	TTL           time.Duration
	Secure        bool
	Clock         func() time.Time
}

// SessionManager mints and validates HS256 session cookies for browser clients.
type SessionManager struct {
	signingSecret []byte
	cookieName    string
	ttl           time.Duration
	secure        bool
	clock         func() time.Time
}

// NewSessionManager constructs a manager with the provided configuration.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionManager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		cookieName:    cookieName,
		ttl:           ttl,
		secure:        cfg.Secure,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// IssueCookie returns a signed session cookie for the identity.
func (m *SessionManager) IssueCookie(identity Identity, userKind string) (*http.Cookie, error) {
	if identity <= 0 {
		return nil, ErrInvalidIdentity
	}
	now := m.clock().UTC()
	expiresAt := now.Add(m.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:   identity.Int64(),
		UserKind: strings.TrimSpace(userKind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   identity.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(m.signingSecret)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearCookie returns a cookie that removes the session from the browser.
func (m *SessionManager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (m *SessionManager) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return m.signingSecret, nil
		},
		jwt.WithTimeFunc(m.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(defaultSessionIssuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if claims.UserID <= 0 {
		return SessionClaims{}, fmt.Errorf("%w: missing user id", ErrInvalidSessionToken)
	}
	return *claims, nil
}

// ValidateRequest extracts the session cookie from the request and validates it.
func (m *SessionManager) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return m.ValidateToken(cookie.Value)
}
