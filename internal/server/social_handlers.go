package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/posts"
)

type deviceRequestPayload struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type blockRequestPayload struct {
	UserID int64 `json:"user_id"`
}

type postRequestPayload struct {
	Content string `json:"contenido"`
}

type commentRequestPayload struct {
	Content       string  `json:"contenido"`
	ParentID      *int64  `json:"parent_id"`
	ReplyToUserID int64   `json:"reply_to_user_id"`
	MentionIDs    []int64 `json:"mention_ids"`
}

func (h *httpHandler) handleUserProfile(c *gin.Context) {
	identity, ok := pathIdentity(c, "user_id")
	if !ok {
		return
	}
	profile, err := h.users.Profile(c.Request.Context(), identity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if identity != currentIdentity(c) {
		profile.Email = ""
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleRegisterDevice(c *gin.Context) {
	var request deviceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.users.RegisterDeviceToken(c.Request.Context(), currentIdentity(c), request.Token, request.Platform); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device_registered"})
}

func (h *httpHandler) handleBlock(c *gin.Context) {
	var request blockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	blocked, err := auth.NewIdentity(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	if err := h.users.Block(c.Request.Context(), currentIdentity(c), blocked); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "blocked"})
}

func (h *httpHandler) handleUnblock(c *gin.Context) {
	blocked, ok := pathIdentity(c, "user_id")
	if !ok {
		return
	}
	if err := h.users.Unblock(c.Request.Context(), currentIdentity(c), blocked); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unblocked"})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	page, err := h.notifications.List(c.Request.Context(), currentIdentity(c), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleUnreadNotifications(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), currentIdentity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"no_leidas": count})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	notificationID, ok := pathID(c, "notification_id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), currentIdentity(c), notificationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked_read"})
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request postRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	post, err := h.posts.CreatePost(c.Request.Context(), currentIdentity(c), request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *httpHandler) handleComment(c *gin.Context) {
	postID, ok := pathID(c, "post_id")
	if !ok {
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	mentions := make([]auth.Identity, 0, len(request.MentionIDs))
	for _, id := range request.MentionIDs {
		if identity, err := auth.NewIdentity(id); err == nil {
			mentions = append(mentions, identity)
		}
	}
	var replyTo auth.Identity
	if request.ReplyToUserID > 0 {
		replyTo = auth.Identity(request.ReplyToUserID)
	}

	comment, err := h.posts.Comment(c.Request.Context(), posts.CommentInput{
		PostID:        postID,
		AuthorID:      currentIdentity(c),
		Content:       request.Content,
		ParentID:      request.ParentID,
		ReplyToUserID: replyTo,
		MentionIDs:    mentions,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleToggleInterest(c *gin.Context) {
	postID, ok := pathID(c, "post_id")
	if !ok {
		return
	}
	state, err := h.posts.ToggleInterest(c.Request.Context(), postID, currentIdentity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	postID, ok := pathID(c, "post_id")
	if !ok {
		return
	}
	page, err := h.posts.ListComments(c.Request.Context(), postID, queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	commentID, ok := pathID(c, "comment_id")
	if !ok {
		return
	}
	if err := h.posts.DeleteComment(c.Request.Context(), currentIdentity(c), commentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comentario borrado exitosamente"})
}
