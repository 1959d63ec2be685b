package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const accessTokenQueryParam = "access_token"

var errLegacyTokenDisabled = errors.New("legacy tokens are disabled")

// CredentialVerifier resolves one kind of credential carried by a request.
// Verify returns ErrNoCredential when the request does not carry that credential at all.
type CredentialVerifier interface {
	Name() string
	Verify(r *http.Request) (Identity, error)
}

// Resolver evaluates verifiers in a fixed priority order; the first one that succeeds wins.
type Resolver struct {
	verifiers []CredentialVerifier
}

// NewResolver builds a resolver over the verifiers in priority order.
func NewResolver(verifiers ...CredentialVerifier) *Resolver {
	filtered := make([]CredentialVerifier, 0, len(verifiers))
	for _, verifier := range verifiers {
		if verifier != nil {
			filtered = append(filtered, verifier)
		}
	}
	return &Resolver{verifiers: filtered}
}

// Resolve returns the identity behind the request or an error wrapping ErrUnauthenticated.
// A credential that is present but rejected does not stop the chain; the first rejection is
// reported when nothing else succeeds.
func (r *Resolver) Resolve(request *http.Request) (Identity, error) {
	var rejection error
	for _, verifier := range r.verifiers {
		identity, err := verifier.Verify(request)
		if err == nil {
			return identity, nil
		}
		if errors.Is(err, ErrNoCredential) {
			continue
		}
		if rejection == nil {
			rejection = fmt.Errorf("%s: %w", verifier.Name(), err)
		}
	}
	if rejection != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthenticated, rejection)
	}
	return 0, ErrUnauthenticated
}

// BearerTokenValidator validates signed bearer tokens.
type BearerTokenValidator interface {
	ValidateToken(token string) (Identity, error)
}

// LegacyTokenPolicy controls the unsigned "<prefix><digits>" fallback used by pre-JWT app builds.
type LegacyTokenPolicy struct {
	Enabled bool
	Prefix  string
}

// BearerVerifier reads the Authorization header, or the access_token query parameter on
// WebSocket upgrades, and validates the signed token with an optional legacy fallback.
type BearerVerifier struct {
	tokens BearerTokenValidator
	legacy LegacyTokenPolicy
}

// NewBearerVerifier constructs a bearer verifier.
func NewBearerVerifier(tokens BearerTokenValidator, legacy LegacyTokenPolicy) *BearerVerifier {
	return &BearerVerifier{tokens: tokens, legacy: legacy}
}

// Name identifies the verifier in errors.
func (v *BearerVerifier) Name() string {
	return "bearer"
}

// Verify implements CredentialVerifier.
func (v *BearerVerifier) Verify(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return 0, ErrNoCredential
	}
	identity, err := v.tokens.ValidateToken(token)
	if err == nil {
		return identity, nil
	}
	if v.legacy.Enabled {
		if legacyIdentity, legacyErr := ParseLegacyToken(token, v.legacy.Prefix); legacyErr == nil {
			return legacyIdentity, nil
		}
	}
	return 0, err
}

// SessionVerifier reads the web session cookie.
type SessionVerifier struct {
	sessions *SessionManager
}

// NewSessionVerifier constructs a cookie verifier.
func NewSessionVerifier(sessions *SessionManager) *SessionVerifier {
	return &SessionVerifier{sessions: sessions}
}

// Name identifies the verifier in errors.
func (v *SessionVerifier) Name() string {
	return "session"
}

// Verify implements CredentialVerifier.
func (v *SessionVerifier) Verify(r *http.Request) (Identity, error) {
	claims, err := v.sessions.ValidateRequest(r)
	if errors.Is(err, ErrMissingSessionToken) {
		return 0, ErrNoCredential
	}
	if err != nil {
		return 0, err
	}
	return NewIdentity(claims.UserID)
}

// ParseLegacyToken accepts "<prefix><digits>" verbatim. There is no signature.
func ParseLegacyToken(token, prefix string) (Identity, error) {
	if strings.TrimSpace(prefix) == "" {
		return 0, errLegacyTokenDisabled
	}
	trimmed := strings.TrimSpace(token)
	if !strings.HasPrefix(trimmed, prefix) {
		return 0, fmt.Errorf("%w: missing legacy prefix", ErrInvalidIdentity)
	}
	return ParseIdentity(strings.TrimPrefix(trimmed, prefix))
}

func bearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	if r.URL != nil {
		return strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam))
	}
	return ""
}
