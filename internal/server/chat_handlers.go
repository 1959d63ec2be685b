package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prendiax/backend/internal/chats"
)

// multipartOverhead leaves room for the multipart envelope around the file part.
const multipartOverhead int64 = 1 << 20

type messageRequestPayload struct {
	Content string `json:"contenido" form:"contenido"`
}

func (h *httpHandler) handleListChats(c *gin.Context) {
	summaries, err := h.chats.ListChats(c.Request.Context(), currentIdentity(c), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *httpHandler) handleSearchChats(c *gin.Context) {
	summaries, err := h.chats.SearchChats(c.Request.Context(), currentIdentity(c), c.Query("query"), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *httpHandler) handleChatUnreadCount(c *gin.Context) {
	count, err := h.chats.UnreadCount(c.Request.Context(), currentIdentity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *httpHandler) handleStartChat(c *gin.Context) {
	other, ok := pathIdentity(c, "user_id")
	if !ok {
		return
	}
	result, err := h.chats.StartChat(c.Request.Context(), currentIdentity(c), other)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleConversation(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	conversation, err := h.chats.Conversation(c.Request.Context(), currentIdentity(c), chatID, queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// handleSendMessage accepts the content as a form field, as the apps send it, or as JSON.
func (h *httpHandler) handleSendMessage(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var request messageRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	payload, err := h.chats.SendMessage(c.Request.Context(), currentIdentity(c), chatID, request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleSendMedia(upload chats.Upload) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID, ok := pathID(c, "chat_id")
		if !ok {
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxMediaBytes+multipartOverhead)
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.respondError(c, fmt.Errorf("upload: %w", chats.ErrMediaTooLarge))
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
			return
		}
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
			return
		}
		defer file.Close()

		payload, err := h.chats.SendMedia(c.Request.Context(), chats.MediaInput{
			ChatID:      chatID,
			SenderID:    currentIdentity(c),
			Upload:      upload,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
			Caption:     c.PostForm("contenido"),
		})
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

func (h *httpHandler) handleDeleteChat(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	if err := h.chats.DeleteChat(c.Request.Context(), currentIdentity(c), chatID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat eliminado"})
}

// handleChatMedia streams an attachment, honouring a Range header with 206 responses.
func (h *httpHandler) handleChatMedia(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	object, err := h.chats.OpenMedia(c.Request.Context(), currentIdentity(c), messageID, c.GetHeader("Range"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer object.Body.Close()

	headers := map[string]string{
		"Accept-Ranges":       "bytes",
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", object.Filename),
	}
	status := http.StatusOK
	if object.Partial() {
		status = http.StatusPartialContent
		headers["Content-Range"] = object.ContentRange
	}
	c.DataFromReader(status, object.ContentLength, object.ContentType, object.Body, headers)
}
