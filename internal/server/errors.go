package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/chats"
	"github.com/prendiax/backend/internal/notifications"
	"github.com/prendiax/backend/internal/posts"
	"github.com/prendiax/backend/internal/storage"
	"github.com/prendiax/backend/internal/users"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

var statusMappings = []struct {
	target error
	status int
}{
	{target: auth.ErrUnauthenticated, status: http.StatusUnauthorized},
	{target: users.ErrInvalidCredentials, status: http.StatusUnauthorized},
	{target: chats.ErrBlocked, status: http.StatusForbidden},
	{target: notifications.ErrNotificationForbidden, status: http.StatusForbidden},
	{target: posts.ErrCommentForbidden, status: http.StatusForbidden},
	{target: chats.ErrChatNotFound, status: http.StatusNotFound},
	{target: chats.ErrMessageNotFound, status: http.StatusNotFound},
	{target: chats.ErrRecipientNotFound, status: http.StatusNotFound},
	{target: posts.ErrPostNotFound, status: http.StatusNotFound},
	{target: posts.ErrCommentNotFound, status: http.StatusNotFound},
	{target: notifications.ErrNotificationNotFound, status: http.StatusNotFound},
	{target: users.ErrUserNotFound, status: http.StatusNotFound},
	{target: users.ErrEmailTaken, status: http.StatusConflict},
	{target: chats.ErrMediaTooLarge, status: http.StatusRequestEntityTooLarge},
	{target: storage.ErrInvalidRange, status: http.StatusRequestedRangeNotSatisfiable},
	{target: storage.ErrUnavailable, status: http.StatusServiceUnavailable},
	{target: chats.ErrEmptyMessage, status: http.StatusBadRequest},
	{target: chats.ErrSelfChat, status: http.StatusBadRequest},
	{target: chats.ErrEmptySearch, status: http.StatusBadRequest},
	{target: chats.ErrUnsupportedMedia, status: http.StatusBadRequest},
	{target: chats.ErrEmptyUpload, status: http.StatusBadRequest},
	{target: posts.ErrEmptyContent, status: http.StatusBadRequest},
	{target: users.ErrInvalidInput, status: http.StatusBadRequest},
}

func statusFor(err error) int {
	for _, mapping := range statusMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": code} with the status mapped from the error's sentinel.
// Unmapped errors are logged and answered with 500.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	code := "internal_error"
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		code = "internal_error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}
