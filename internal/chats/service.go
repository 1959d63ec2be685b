package chats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/push"
	"github.com/prendiax/backend/internal/realtime"
	"github.com/prendiax/backend/internal/storage"
	"github.com/prendiax/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	fallbackSenderName = "Usuario"
	defaultListLimit   = 10
	maxListLimit       = 50
	defaultPageLimit   = 20
	maxPageLimit       = 100
)

// UserDirectory answers the user questions chat delivery depends on.
type UserDirectory interface {
	Exists(ctx context.Context, identity auth.Identity) (bool, error)
	IsBlocked(ctx context.Context, first, second auth.Identity) (bool, error)
	DisplayName(ctx context.Context, identity auth.Identity) (string, error)
	Profile(ctx context.Context, identity auth.Identity) (users.Profile, error)
}

// LiveSender pushes a payload to a user's live connections.
type LiveSender interface {
	Send(identity auth.Identity, payload interface{}) int
}

// PushNotifier delivers a device notification to every device of a user.
type PushNotifier interface {
	Notify(ctx context.Context, identity auth.Identity, message push.Message) error
}

// ServiceConfig describes the dependencies of the chat service.
type ServiceConfig struct {
	Database *gorm.DB
	Users    UserDirectory
	Live     LiveSender
	// Push is optional; nil skips device notifications.
	Push PushNotifier
	// Media is optional; nil makes media operations fail with storage.ErrUnavailable.
	Media         storage.MediaStore
	Keys          storage.KeyProvider
	MaxMediaBytes int64
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service persists chat messages and delivers them live and by device push.
type Service struct {
	db       *gorm.DB
	users    UserDirectory
	live     LiveSender
	push     PushNotifier
	media    storage.MediaStore
	keys     storage.KeyProvider
	maxBytes int64
	clock    func() time.Time
	logger   *zap.Logger
}

// MediaInput describes an attachment upload.
type MediaInput struct {
	ChatID      int64
	SenderID    auth.Identity
	Upload      Upload
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	// Caption names documents; defaults to Filename.
	Caption string
}

// MediaObject is a message attachment opened for streaming.
type MediaObject struct {
	storage.Object
	Filename string
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Users == nil {
		return nil, newServiceError(opServiceNew, "missing_directory", errMissingDirectory)
	}
	if cfg.Live == nil {
		return nil, newServiceError(opServiceNew, "missing_live", errMissingLive)
	}
	keys := cfg.Keys
	if keys == nil {
		keys = storage.NewUUIDKeyProvider()
	}
	maxBytes := cfg.MaxMediaBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMediaBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		users:    cfg.Users,
		live:     cfg.Live,
		push:     cfg.Push,
		media:    cfg.Media,
		keys:     keys,
		maxBytes: maxBytes,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SendMessage persists a text message and delivers it to the other participant.
// Live and push delivery are best-effort; only persistence decides the outcome.
func (s *Service) SendMessage(ctx context.Context, sender auth.Identity, chatID int64, content string) (MessagePayload, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return MessagePayload{}, newServiceError(opSendMessage, "empty_message", ErrEmptyMessage)
	}
	chat, err := s.authorizeSend(ctx, opSendMessage, sender, chatID)
	if err != nil {
		return MessagePayload{}, err
	}

	message := Message{
		ChatID:      chat.ID,
		SenderID:    sender.Int64(),
		RecipientID: chat.Other(sender.Int64()),
		Content:     content,
		Kind:        KindText,
		SentAt:      s.clock().UTC(),
	}
	if err := s.persist(ctx, &message); err != nil {
		s.logError(opSendMessage, "insert_failed", err, zap.Int64("chat_id", chat.ID))
		return MessagePayload{}, newServiceError(opSendMessage, "insert_failed", err)
	}
	return s.deliver(ctx, message), nil
}

// SendMedia stores the attachment, persists its message and delivers it. The blob is
// written before the row and removed again when the row cannot be stored.
func (s *Service) SendMedia(ctx context.Context, input MediaInput) (MessagePayload, error) {
	kind, err := Classify(input.Upload, input.ContentType, input.Filename)
	if err != nil {
		return MessagePayload{}, newServiceError(opSendMedia, "unsupported_media", err)
	}
	if input.Body == nil || input.Size <= 0 {
		return MessagePayload{}, newServiceError(opSendMedia, "empty_upload", ErrEmptyUpload)
	}
	if input.Size > s.maxBytes {
		return MessagePayload{}, newServiceError(opSendMedia, "too_large", ErrMediaTooLarge)
	}
	if s.media == nil {
		return MessagePayload{}, newServiceError(opSendMedia, "storage_unavailable", storage.ErrUnavailable)
	}
	chat, err := s.authorizeSend(ctx, opSendMedia, input.SenderID, input.ChatID)
	if err != nil {
		return MessagePayload{}, err
	}

	key, err := s.keys.MediaKey(chat.ID, input.Filename)
	if err != nil {
		s.logError(opSendMedia, "key_failed", err, zap.Int64("chat_id", chat.ID))
		return MessagePayload{}, newServiceError(opSendMedia, "key_failed", err)
	}
	contentType := contentTypeFor(kind, input.ContentType)
	if err := s.media.Put(ctx, key, input.Body, contentType, input.Size); err != nil {
		s.logError(opSendMedia, "store_failed", err, zap.Int64("chat_id", chat.ID), zap.String("media_key", key))
		return MessagePayload{}, newServiceError(opSendMedia, "store_failed", err)
	}

	message := Message{
		ChatID:      chat.ID,
		SenderID:    input.SenderID.Int64(),
		RecipientID: chat.Other(input.SenderID.Int64()),
		Kind:        kind,
		MediaKey:    key,
		MediaName:   strings.TrimSpace(input.Filename),
		MediaType:   contentType,
		MediaSize:   input.Size,
		SentAt:      s.clock().UTC(),
	}
	if kind == KindDocument {
		message.Content = strings.TrimSpace(input.Caption)
		if message.Content == "" {
			message.Content = message.MediaName
		}
	}
	if err := s.persist(ctx, &message); err != nil {
		s.logError(opSendMedia, "insert_failed", err, zap.Int64("chat_id", chat.ID))
		s.removeBlob(ctx, opSendMedia, key)
		return MessagePayload{}, newServiceError(opSendMedia, "insert_failed", err)
	}
	return s.deliver(ctx, message), nil
}

// StartChat returns the chat between the two users, creating it when missing. A new
// chat is announced to the other user.
func (s *Service) StartChat(ctx context.Context, user, other auth.Identity) (StartResult, error) {
	if user == other {
		return StartResult{}, newServiceError(opStartChat, "self_chat", ErrSelfChat)
	}
	if err := s.checkBlocked(ctx, opStartChat, user, other); err != nil {
		return StartResult{}, err
	}
	exists, err := s.users.Exists(ctx, other)
	if err != nil {
		s.logError(opStartChat, "user_lookup_failed", err, zap.Int64("user_id", other.Int64()))
		return StartResult{}, newServiceError(opStartChat, "user_lookup_failed", err)
	}
	if !exists {
		return StartResult{}, newServiceError(opStartChat, "user_not_found", ErrRecipientNotFound)
	}

	var chat Chat
	err = s.db.WithContext(ctx).
		Where("(usuario1_id = ? AND usuario2_id = ?) OR (usuario1_id = ? AND usuario2_id = ?)",
			user.Int64(), other.Int64(), other.Int64(), user.Int64()).
		Take(&chat).Error
	if err == nil {
		return StartResult{ChatID: chat.ID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opStartChat, "lookup_failed", err)
		return StartResult{}, newServiceError(opStartChat, "lookup_failed", err)
	}

	chat = Chat{FirstUserID: user.Int64(), SecondUserID: other.Int64(), CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&chat).Error; err != nil {
		s.logError(opStartChat, "insert_failed", err)
		return StartResult{}, newServiceError(opStartChat, "insert_failed", err)
	}
	s.live.Send(other, ChatEvent{
		Type:        realtime.EventNewChat,
		ChatID:      chat.ID,
		OtherUserID: user.Int64(),
		CreatedAt:   chat.CreatedAt.Format(TimestampLayout),
	})
	return StartResult{ChatID: chat.ID, Created: true}, nil
}

// DeleteChat removes the chat with its messages, announces it to the other participant
// and then removes the media blobs.
func (s *Service) DeleteChat(ctx context.Context, user auth.Identity, chatID int64) error {
	chat, err := s.participantChat(ctx, opDeleteChat, user, chatID)
	if err != nil {
		return err
	}

	var keys []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Message{}).
			Where("chat_id = ? AND media_key <> ''", chat.ID).
			Pluck("media_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Chat{}, chat.ID).Error
	})
	if err != nil {
		s.logError(opDeleteChat, "delete_failed", err, zap.Int64("chat_id", chat.ID))
		return newServiceError(opDeleteChat, "delete_failed", err)
	}

	s.live.Send(auth.Identity(chat.Other(user.Int64())), ChatEvent{
		Type:        realtime.EventChatDeleted,
		ChatID:      chat.ID,
		OtherUserID: user.Int64(),
		DeletedAt:   s.clock().UTC().Format(TimestampLayout),
	})
	for _, key := range keys {
		s.removeBlob(ctx, opDeleteChat, key)
	}
	return nil
}

// ListChats returns the user's chats, most recent activity first.
func (s *Service) ListChats(ctx context.Context, user auth.Identity, limit, offset int) ([]Summary, error) {
	return s.summaries(ctx, user, "", limit, offset)
}

// SearchChats lists the user's chats whose other participant's display name contains query.
func (s *Service) SearchChats(ctx context.Context, user auth.Identity, query string, limit, offset int) ([]Summary, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, newServiceError(opListChats, "empty_search", ErrEmptySearch)
	}
	return s.summaries(ctx, user, query, limit, offset)
}

// Conversation returns a page of the chat's messages in send order and marks the
// messages addressed to the user as read.
func (s *Service) Conversation(ctx context.Context, user auth.Identity, chatID int64, limit, offset int) (Conversation, error) {
	chat, err := s.participantChat(ctx, opConversation, user, chatID)
	if err != nil {
		return Conversation{}, err
	}
	limit, offset = clampPage(limit, offset, defaultPageLimit, maxPageLimit)

	var messages []Message
	err = s.db.WithContext(ctx).
		Where("chat_id = ?", chat.ID).
		Order("fecha_envio ASC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		s.logError(opConversation, "query_failed", err, zap.Int64("chat_id", chat.ID))
		return Conversation{}, newServiceError(opConversation, "query_failed", err)
	}

	err = s.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ? AND receptor_id = ? AND leido = ?", chat.ID, user.Int64(), false).
		Update("leido", true).Error
	if err != nil {
		s.logError(opConversation, "mark_read_failed", err, zap.Int64("chat_id", chat.ID))
		return Conversation{}, newServiceError(opConversation, "mark_read_failed", err)
	}

	otherID := chat.Other(user.Int64())
	conversation := Conversation{
		ChatID:   chat.ID,
		Other:    s.participant(ctx, auth.Identity(otherID)),
		Messages: make([]MessagePayload, 0, len(messages)),
	}
	for _, message := range messages {
		conversation.Messages = append(conversation.Messages, newMessagePayload(message, message.SenderID == user.Int64()))
	}
	return conversation, nil
}

// UnreadCount returns the number of unread messages addressed to the user.
func (s *Service) UnreadCount(ctx context.Context, user auth.Identity) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receptor_id = ? AND leido = ?", user.Int64(), false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCount, "count_failed", err, zap.Int64("user_id", user.Int64()))
		return 0, newServiceError(opUnreadCount, "count_failed", err)
	}
	return count, nil
}

// OpenMedia opens the attachment of a message in one of the user's chats. byteRange is an
// HTTP Range header value or empty.
func (s *Service) OpenMedia(ctx context.Context, user auth.Identity, messageID int64, byteRange string) (MediaObject, error) {
	if s.media == nil {
		return MediaObject{}, newServiceError(opOpenMedia, "storage_unavailable", storage.ErrUnavailable)
	}
	var message Message
	err := s.db.WithContext(ctx).
		Table("mensajes_chat AS m").
		Select("m.*").
		Joins("JOIN chats c ON c.id = m.chat_id").
		Where("m.id = ? AND (c.usuario1_id = ? OR c.usuario2_id = ?)", messageID, user.Int64(), user.Int64()).
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MediaObject{}, newServiceError(opOpenMedia, "message_not_found", ErrMessageNotFound)
	}
	if err != nil {
		s.logError(opOpenMedia, "lookup_failed", err, zap.Int64("message_id", messageID))
		return MediaObject{}, newServiceError(opOpenMedia, "lookup_failed", err)
	}
	if !message.HasMedia() {
		return MediaObject{}, newServiceError(opOpenMedia, "no_media", ErrMessageNotFound)
	}

	object, err := s.media.Get(ctx, message.MediaKey, byteRange)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return MediaObject{}, newServiceError(opOpenMedia, "object_missing", fmt.Errorf("%w: %v", ErrMessageNotFound, err))
		}
		if errors.Is(err, storage.ErrInvalidRange) {
			return MediaObject{}, newServiceError(opOpenMedia, "invalid_range", err)
		}
		s.logError(opOpenMedia, "read_failed", err, zap.Int64("message_id", messageID))
		return MediaObject{}, newServiceError(opOpenMedia, "read_failed", err)
	}
	if object.ContentType == "" {
		object.ContentType = contentTypeFor(message.Kind, message.MediaType)
	}
	return MediaObject{Object: object, Filename: DownloadName(message)}, nil
}

func (s *Service) authorizeSend(ctx context.Context, operation string, sender auth.Identity, chatID int64) (Chat, error) {
	chat, err := s.participantChat(ctx, operation, sender, chatID)
	if err != nil {
		return Chat{}, err
	}
	if err := s.checkBlocked(ctx, operation, sender, auth.Identity(chat.Other(sender.Int64()))); err != nil {
		return Chat{}, err
	}
	return chat, nil
}

func (s *Service) participantChat(ctx context.Context, operation string, user auth.Identity, chatID int64) (Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).
		Where("id = ? AND (usuario1_id = ? OR usuario2_id = ?)", chatID, user.Int64(), user.Int64()).
		Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Chat{}, newServiceError(operation, "chat_not_found", ErrChatNotFound)
	}
	if err != nil {
		s.logError(operation, "chat_lookup_failed", err, zap.Int64("chat_id", chatID))
		return Chat{}, newServiceError(operation, "chat_lookup_failed", err)
	}
	return chat, nil
}

func (s *Service) checkBlocked(ctx context.Context, operation string, first, second auth.Identity) error {
	blocked, err := s.users.IsBlocked(ctx, first, second)
	if err != nil {
		s.logError(operation, "block_check_failed", err,
			zap.Int64("user_id", first.Int64()),
			zap.Int64("other_user_id", second.Int64()))
		return newServiceError(operation, "block_check_failed", err)
	}
	if blocked {
		return newServiceError(operation, "blocked", ErrBlocked)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, message *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&Chat{}).Where("id = ?", message.ChatID).Update("ultimo_mensaje_id", message.ID).Error
	})
}

// deliver pushes the stored message to the recipient's live connections, then to their
// devices. Neither outcome affects the returned payload.
func (s *Service) deliver(ctx context.Context, message Message) MessagePayload {
	recipient := auth.Identity(message.RecipientID)
	delivered := s.live.Send(recipient, newMessagePayload(message, false))

	if s.push != nil {
		sender := fallbackSenderName
		if name, err := s.users.DisplayName(ctx, auth.Identity(message.SenderID)); err == nil && name != "" {
			sender = name
		}
		err := s.push.Notify(ctx, recipient, push.Message{
			Title: "Nuevo mensaje de " + sender,
			Body:  PushBody(message),
			Data:  map[string]string{"tipo": "chat", "chat_id": formatID(message.ChatID)},
		})
		if err != nil {
			s.logger.Warn("chat push failed",
				zap.Int64("chat_id", message.ChatID),
				zap.Int64("message_id", message.ID),
				zap.Error(err))
		}
	}

	s.logger.Debug("chat message delivered",
		zap.Int64("chat_id", message.ChatID),
		zap.Int64("message_id", message.ID),
		zap.Int("live_deliveries", delivered))
	return newMessagePayload(message, true)
}

func (s *Service) summaries(ctx context.Context, user auth.Identity, query string, limit, offset int) ([]Summary, error) {
	limit, offset = clampPage(limit, offset, defaultListLimit, maxListLimit)

	var chats []Chat
	err := s.db.WithContext(ctx).
		Where("usuario1_id = ? OR usuario2_id = ?", user.Int64(), user.Int64()).
		Find(&chats).Error
	if err != nil {
		s.logError(opListChats, "query_failed", err, zap.Int64("user_id", user.Int64()))
		return nil, newServiceError(opListChats, "query_failed", err)
	}
	if len(chats) == 0 {
		return []Summary{}, nil
	}

	lastIDs := make([]int64, 0, len(chats))
	chatIDs := make([]int64, 0, len(chats))
	for _, chat := range chats {
		chatIDs = append(chatIDs, chat.ID)
		if chat.LastMessageID != nil {
			lastIDs = append(lastIDs, *chat.LastMessageID)
		}
	}

	lastMessages := map[int64]Message{}
	if len(lastIDs) > 0 {
		var messages []Message
		if err := s.db.WithContext(ctx).Where("id IN ?", lastIDs).Find(&messages).Error; err != nil {
			s.logError(opListChats, "last_message_failed", err, zap.Int64("user_id", user.Int64()))
			return nil, newServiceError(opListChats, "last_message_failed", err)
		}
		for _, message := range messages {
			lastMessages[message.ChatID] = message
		}
	}

	type unreadRow struct {
		ChatID int64
		Total  int64
	}
	var rows []unreadRow
	err = s.db.WithContext(ctx).Model(&Message{}).
		Select("chat_id, COUNT(*) AS total").
		Where("chat_id IN ? AND receptor_id = ? AND leido = ?", chatIDs, user.Int64(), false).
		Group("chat_id").
		Scan(&rows).Error
	if err != nil {
		s.logError(opListChats, "unread_failed", err, zap.Int64("user_id", user.Int64()))
		return nil, newServiceError(opListChats, "unread_failed", err)
	}
	unread := make(map[int64]int64, len(rows))
	for _, row := range rows {
		unread[row.ChatID] = row.Total
	}

	summaries := make([]Summary, 0, len(chats))
	for _, chat := range chats {
		other := s.participant(ctx, auth.Identity(chat.Other(user.Int64())))
		if query != "" && !strings.Contains(strings.ToLower(other.DisplayName), query) {
			continue
		}
		summary := Summary{
			ChatID:          chat.ID,
			OtherUserID:     other.ID,
			DisplayName:     other.DisplayName,
			UserKind:        other.UserKind,
			LastMessageKind: KindText,
			UnreadCount:     unread[chat.ID],
			activity:        chat.CreatedAt,
		}
		if last, ok := lastMessages[chat.ID]; ok {
			summary.LastMessage = last.Content
			summary.LastSentAt = last.SentAt.Format(TimestampLayout)
			summary.LastMessageKind = last.Kind
			summary.Mine = last.SenderID == user.Int64()
			summary.activity = last.SentAt
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].activity.Equal(summaries[j].activity) {
			return summaries[i].ChatID > summaries[j].ChatID
		}
		return summaries[i].activity.After(summaries[j].activity)
	})
	if offset >= len(summaries) {
		return []Summary{}, nil
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[offset:end], nil
}

func (s *Service) participant(ctx context.Context, identity auth.Identity) Participant {
	participant := Participant{ID: identity.Int64(), DisplayName: fallbackSenderName, UserKind: users.KindExplorer}
	profile, err := s.users.Profile(ctx, identity)
	if err != nil {
		s.logger.Warn("chat participant lookup failed", zap.Int64("user_id", identity.Int64()), zap.Error(err))
		return participant
	}
	if profile.DisplayName != "" {
		participant.DisplayName = profile.DisplayName
	}
	if profile.Kind != "" {
		participant.UserKind = profile.Kind
	}
	return participant
}

func (s *Service) removeBlob(ctx context.Context, operation, key string) {
	if s.media == nil {
		return
	}
	if err := s.media.Delete(ctx, key); err != nil {
		s.logger.Warn("media cleanup failed",
			zap.String("operation", operation),
			zap.String("media_key", key),
			zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat service error", attrs...)
}

func newMessagePayload(message Message, mine bool) MessagePayload {
	return MessagePayload{
		Type:        realtime.EventChat,
		ID:          message.ID,
		ChatID:      message.ChatID,
		SenderID:    message.SenderID,
		RecipientID: message.RecipientID,
		Content:     message.Content,
		Kind:        message.Kind,
		MediaURL:    mediaURL(message),
		SentAt:      message.SentAt.Format(TimestampLayout),
		Read:        message.Read,
		Mine:        mine,
	}
}

func clampPage(limit, offset, fallback, ceiling int) (int, int) {
	if limit <= 0 {
		limit = fallback
	}
	if limit > ceiling {
		limit = ceiling
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
