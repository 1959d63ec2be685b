package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestSessionManager(t *testing.T, clock func() time.Time) *SessionManager {
	t.Helper()
	manager, err := NewSessionManager(SessionManagerConfig{
		SigningSecret: []byte("session-secret"),
		CookieName:    "prendiax_session",
		TTL:           time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return manager
}

func TestSessionManagerRoundTripsCookie(t *testing.T) {
	manager := newTestSessionManager(t, nil)

	cookie, err := manager.IssueCookie(Identity(12), "empresa")
	if err != nil {
		t.Fatalf("issue cookie: %v", err)
	}
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	request := httptest.NewRequest(http.MethodGet, "/current_user", nil)
	request.AddCookie(cookie)

	claims, err := manager.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validate request: %v", err)
	}
	if claims.UserID != 12 || claims.UserKind != "empresa" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestSessionManagerRejectsExpiredCookie(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := issuedAt
	manager := newTestSessionManager(t, func() time.Time { return current })

	cookie, err := manager.IssueCookie(Identity(5), "")
	if err != nil {
		t.Fatalf("issue cookie: %v", err)
	}

	current = issuedAt.Add(2 * time.Hour)
	if _, err := manager.ValidateToken(cookie.Value); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
}

func TestSessionManagerRejectsForeignSignature(t *testing.T) {
	manager := newTestSessionManager(t, nil)
	other, err := NewSessionManager(SessionManagerConfig{SigningSecret: []byte("other"), CookieName: "prendiax_session"})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	cookie, err := other.IssueCookie(Identity(5), "")
	if err != nil {
		t.Fatalf("issue cookie: %v", err)
	}
	if _, err := manager.ValidateToken(cookie.Value); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestSessionManagerMissingCookie(t *testing.T) {
	manager := newTestSessionManager(t, nil)
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := manager.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected ErrMissingSessionToken, got %v", err)
	}
}

func TestSessionManagerClearCookieExpires(t *testing.T) {
	manager := newTestSessionManager(t, nil)
	cleared := manager.ClearCookie()
	if cleared.MaxAge >= 0 || cleared.Value != "" || cleared.Name != "prendiax_session" {
		t.Fatalf("unexpected cleared cookie %+v", cleared)
	}
}

func TestNewSessionManagerValidatesConfig(t *testing.T) {
	if _, err := NewSessionManager(SessionManagerConfig{CookieName: "c"}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected ErrMissingSessionSigningKey, got %v", err)
	}
	if _, err := NewSessionManager(SessionManagerConfig{SigningSecret: []byte("s")}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected ErrMissingSessionCookieName, got %v", err)
	}
}
