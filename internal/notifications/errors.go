package notifications

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrNotificationNotFound indicates the notification does not exist.
	ErrNotificationNotFound = errors.New("notifications: notification not found")
	// ErrNotificationForbidden indicates the notification belongs to another user.
	ErrNotificationForbidden = errors.New("notifications: notification belongs to another user")
	// ErrUnknownType indicates an unsupported notification type.
	ErrUnknownType = errors.New("notifications: unknown notification type")

	errMissingDatabase = errors.New("database handle is required")
	errMissingPosts    = errors.New("post directory is required")
	errMissingLive     = errors.New("live sender is required")
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
	opServiceNew = "notifications.service.new"
	opNotify     = "notifications.notify"
	opList       = "notifications.list"
	opMarkRead   = "notifications.mark_read"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
