package users

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUserNotFound indicates no account exists for the identity.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrEmailTaken indicates the email already belongs to another account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email and password login.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidInput indicates a request the service refuses to persist.
	ErrInvalidInput = errors.New("users: invalid input")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "users.service.new"
	opRegister        = "users.register"
	opAuthenticate    = "users.authenticate"
	opResolveProvider = "users.resolve_provider"
	opGet             = "users.get"
	opDeviceTokens    = "users.device_tokens"
	opBlock           = "users.block"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
