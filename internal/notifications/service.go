package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// PostDirectory resolves the owner of a post.
type PostDirectory interface {
	PostOwner(ctx context.Context, postID int64) (auth.Identity, error)
}

// UserDirectory resolves display names and confirms that explicit recipients exist.
type UserDirectory interface {
	DisplayName(ctx context.Context, identity auth.Identity) (string, error)
	Exists(ctx context.Context, identity auth.Identity) (bool, error)
}

// LiveSender pushes payloads to connected clients.
type LiveSender interface {
	Send(identity auth.Identity, payload interface{}) int
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database *gorm.DB
	Posts    PostDirectory
	Users    UserDirectory
	Live     LiveSender
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Request describes a social event that may notify someone.
type Request struct {
	Type    string
	PostID  int64
	ActorID auth.Identity
	// TargetID addresses the notification explicitly (replies, mentions); zero means the post owner.
	TargetID  auth.Identity
	Message   string
	CommentID *int64
}

// Service persists notifications and fans them out to live connections.
type Service struct {
	db     *gorm.DB
	posts  PostDirectory
	users  UserDirectory
	live   LiveSender
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Posts == nil {
		return nil, newServiceError(opServiceNew, "missing_posts", errMissingPosts)
	}
	if cfg.Live == nil {
		return nil, newServiceError(opServiceNew, "missing_live_sender", errMissingLive)
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
		db:     cfg.Database,
		posts:  cfg.Posts,
		users:  cfg.Users,
		live:   cfg.Live,
		clock:  clock,
		logger: logger,
	}, nil
}

// Notify persists the notification and pushes it to the recipient's live connections.
// It reports false, without an error, when nothing was created: self notifications are
// suppressed and failures are logged so the triggering action still succeeds.
func (s *Service) Notify(ctx context.Context, request Request) (Payload, bool) {
	if !validType(request.Type) {
		s.logError(opNotify, "unknown_type", ErrUnknownType, zap.String("type", request.Type))
		return Payload{}, false
	}

	recipient := request.TargetID
	if recipient == 0 {
		owner, err := s.posts.PostOwner(ctx, request.PostID)
		if err != nil {
			s.logError(opNotify, "owner_lookup_failed", err, zap.Int64("publicacion_id", request.PostID))
			return Payload{}, false
		}
		recipient = owner
	}
	if recipient == request.ActorID {
		return Payload{}, false
	}
	if request.TargetID != 0 && !s.recipientExists(ctx, recipient) {
		return Payload{}, false
	}

	record := Notification{
		UserID:    recipient.Int64(),
		PostID:    request.PostID,
		Type:      request.Type,
		CreatedAt: s.clock().UTC(),
		ActorID:   request.ActorID.Int64(),
		CommentID: request.CommentID,
	}
	if message := strings.TrimSpace(request.Message); message != "" {
		record.Message = &message
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opNotify, "insert_failed", err,
			zap.Int64("user_id", recipient.Int64()),
			zap.Int64("publicacion_id", request.PostID))
		return Payload{}, false
	}

	payload := newPayload(record, s.actorName(ctx, request.ActorID))
	delivered := s.live.Send(recipient, payload)
	s.logger.Debug("notification created",
		zap.Int64("notification_id", record.ID),
		zap.String("type", record.Type),
		zap.Int("live_deliveries", delivered))
	return payload, true
}

// List returns a page of the user's notifications, newest first, with totals.
func (s *Service) List(ctx context.Context, user auth.Identity, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var records []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", user.Int64()).
		Order("fecha_creacion DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.Int64("user_id", user.Int64()))
		return Page{}, newServiceError(opList, "query_failed", err)
	}

	page := Page{Notifications: make([]Payload, 0, len(records))}
	if err := s.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", user.Int64()).Count(&page.Total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.Int64("user_id", user.Int64()))
		return Page{}, newServiceError(opList, "count_failed", err)
	}
	unread, err := s.UnreadCount(ctx, user)
	if err != nil {
		return Page{}, err
	}
	page.Unread = unread

	for _, record := range records {
		page.Notifications = append(page.Notifications, newPayload(record, s.actorName(ctx, auth.Identity(record.ActorID))))
	}
	return page, nil
}

// UnreadCount returns the number of unread notifications of the user.
func (s *Service) UnreadCount(ctx context.Context, user auth.Identity) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND leida = ?", user.Int64(), false).
		Count(&count).Error
	if err != nil {
		s.logError(opList, "unread_count_failed", err, zap.Int64("user_id", user.Int64()))
		return 0, newServiceError(opList, "unread_count_failed", err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, user auth.Identity, notificationID int64) error {
	var record Notification
	err := s.db.WithContext(ctx).Where("id = ?", notificationID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opMarkRead, "not_found", ErrNotificationNotFound)
	}
	if err != nil {
		s.logError(opMarkRead, "query_failed", err, zap.Int64("notification_id", notificationID))
		return newServiceError(opMarkRead, "query_failed", err)
	}
	if record.UserID != user.Int64() {
		return newServiceError(opMarkRead, "forbidden", ErrNotificationForbidden)
	}
	if err := s.db.WithContext(ctx).Model(&record).Update("leida", true).Error; err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.Int64("notification_id", notificationID))
		return newServiceError(opMarkRead, "update_failed", err)
	}
	return nil
}

// recipientExists guards explicit targets, which come from client-supplied ids.
func (s *Service) recipientExists(ctx context.Context, recipient auth.Identity) bool {
	if s.users == nil {
		return true
	}
	exists, err := s.users.Exists(ctx, recipient)
	if err != nil {
		s.logError(opNotify, "recipient_lookup_failed", err, zap.Int64("user_id", recipient.Int64()))
		return false
	}
	if !exists {
		s.logger.Debug("notification recipient unknown", zap.Int64("user_id", recipient.Int64()))
	}
	return exists
}

func (s *Service) actorName(ctx context.Context, actor auth.Identity) string {
	if s.users == nil {
		return unknownActorName
	}
	name, err := s.users.DisplayName(ctx, actor)
	if err != nil || strings.TrimSpace(name) == "" {
		return unknownActorName
	}
	return name
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
	s.logger.Error("notifications service error", attrs...)
}

func validType(notificationType string) bool {
	switch notificationType {
	case TypeInterest, TypeComment, TypeReply, TypeMention:
		return true
	default:
		return false
	}
}
