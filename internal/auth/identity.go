package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidIdentity indicates a value that cannot be used as a user identity.
	ErrInvalidIdentity = errors.New("auth: invalid identity")
	// ErrNoCredential is returned by a verifier whose credential is absent from the request.
	ErrNoCredential = errors.New("auth: credential not present")
	// ErrUnauthenticated is returned when no verifier could resolve an identity.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)

// Identity is the resolved integer identifier of an authenticated user.
type Identity int64

// NewIdentity validates a raw integer identifier.
func NewIdentity(value int64) (Identity, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidIdentity, value)
	}
	return Identity(value), nil
}

// ParseIdentity validates a decimal identifier.
func ParseIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, trimmed)
	}
	return NewIdentity(value)
}

// Int64 returns the underlying integer.
func (i Identity) Int64() int64 {
	return int64(i)
}

// String returns the decimal form of the identity.
func (i Identity) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// identityFromClaim accepts the numeric and string encodings found in access tokens.
func identityFromClaim(value interface{}) (Identity, error) {
	switch typed := value.(type) {
	case nil:
		return 0, ErrInvalidIdentity
	case float64:
		if typed != float64(int64(typed)) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidIdentity, typed)
		}
		return NewIdentity(int64(typed))
	case int64:
		return NewIdentity(typed)
	case int:
		return NewIdentity(int64(typed))
	case string:
		return ParseIdentity(typed)
	default:
		return 0, fmt.Errorf("%w: unsupported claim type %T", ErrInvalidIdentity, value)
	}
}
