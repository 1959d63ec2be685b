package chats

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

var (
	// ErrChatNotFound indicates the chat does not exist or the user is not a participant.
	ErrChatNotFound = errors.New("chats: chat not found")
	// ErrMessageNotFound indicates the message or its media is not visible to the user.
	ErrMessageNotFound = errors.New("chats: message not found")
	// ErrRecipientNotFound indicates the other user does not exist.
	ErrRecipientNotFound = errors.New("chats: user not found")
	// ErrBlocked indicates a block between the participants.
	ErrBlocked = errors.New("chats: participants blocked")
	// ErrSelfChat indicates a chat with oneself.
	ErrSelfChat = errors.New("chats: cannot chat with yourself")
	// ErrEmptyMessage indicates a text message without content.
	ErrEmptyMessage = errors.New("chats: empty message")
	// ErrEmptySearch indicates a blank chat search.
	ErrEmptySearch = errors.New("chats: empty search")
	// ErrUnsupportedMedia indicates an upload that does not match the endpoint's media kind.
	ErrUnsupportedMedia = errors.New("chats: unsupported media format")
	// ErrMediaTooLarge indicates an upload above the configured limit.
	ErrMediaTooLarge = errors.New("chats: media too large")
	// ErrEmptyUpload indicates an upload without bytes.
	ErrEmptyUpload = errors.New("chats: empty upload")

	errMissingDatabase  = errors.New("database handle is required")
	errMissingDirectory = errors.New("user directory is required")
	errMissingLive      = errors.New("live sender is required")
	noOpLogger          = zap.NewNop()
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
	opServiceNew   = "chats.service.new"
	opSendMessage  = "chats.send_message"
	opSendMedia    = "chats.send_media"
	opStartChat    = "chats.start"
	opDeleteChat   = "chats.delete"
	opListChats    = "chats.list"
	opConversation = "chats.conversation"
	opUnreadCount  = "chats.unread_count"
	opOpenMedia    = "chats.open_media"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
