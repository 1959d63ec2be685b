package posts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/notifications"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier creates social notifications.
type Notifier interface {
	Notify(ctx context.Context, request notifications.Request) (notifications.Payload, bool)
}

// NameDirectory resolves display names for comment listings.
type NameDirectory interface {
	DisplayName(ctx context.Context, identity auth.Identity) (string, error)
}

// ServiceConfig describes the dependencies of the post service. Names is optional; without
// it listed comments carry a placeholder author name.
type ServiceConfig struct {
	Database *gorm.DB
	Notifier Notifier
	Names    NameDirectory
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores posts, comments and interests and triggers their notifications.
type Service struct {
	db       *gorm.DB
	notifier Notifier
	names    NameDirectory
	clock    func() time.Time
	logger   *zap.Logger
}

const (
	defaultCommentPage = 5
	maxCommentPage     = 100
)

// CommentInput describes a new comment.
type CommentInput struct {
	PostID   int64
	AuthorID auth.Identity
	Content  string
	ParentID *int64
	// ReplyToUserID names the user being answered; defaults to the parent comment's author.
	ReplyToUserID auth.Identity
	MentionIDs    []auth.Identity
}

// NewService constructs the post service. A nil notifier disables notifications.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
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
		notifier: cfg.Notifier,
		names:    cfg.Names,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SetNotifier attaches the notifier once it exists; the notifier itself depends on PostOwner.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// CreatePost stores a new post.
func (s *Service) CreatePost(ctx context.Context, author auth.Identity, content string) (Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Post{}, newServiceError(opCreatePost, "empty_content", ErrEmptyContent)
	}
	post := Post{UserID: author.Int64(), Content: content, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.logError(opCreatePost, "insert_failed", err, zap.Int64("user_id", author.Int64()))
		return Post{}, newServiceError(opCreatePost, "insert_failed", err)
	}
	return post, nil
}

// PostOwner returns the author of the post.
func (s *Service) PostOwner(ctx context.Context, postID int64) (auth.Identity, error) {
	post, err := s.loadPost(ctx, postID, opPostOwner)
	if err != nil {
		return 0, err
	}
	return auth.Identity(post.UserID), nil
}

// Comment stores the comment, then notifies the answered user, every mentioned user and the
// post owner. Each recipient is notified at most once and never the author. Notification
// failures do not affect the result.
func (s *Service) Comment(ctx context.Context, input CommentInput) (Comment, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return Comment{}, newServiceError(opComment, "empty_content", ErrEmptyContent)
	}
	post, err := s.loadPost(ctx, input.PostID, opComment)
	if err != nil {
		return Comment{}, err
	}

	replyTo := input.ReplyToUserID
	if input.ParentID != nil {
		var parent Comment
		err := s.db.WithContext(ctx).
			Where("id = ? AND publicacion_id = ?", *input.ParentID, post.ID).
			Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Comment{}, newServiceError(opComment, "parent_not_found", ErrCommentNotFound)
		}
		if err != nil {
			s.logError(opComment, "parent_lookup_failed", err, zap.Int64("publicacion_id", post.ID))
			return Comment{}, newServiceError(opComment, "parent_lookup_failed", err)
		}
		if replyTo == 0 {
			replyTo = auth.Identity(parent.UserID)
		}
	}

	comment := Comment{
		PostID:    post.ID,
		UserID:    input.AuthorID.Int64(),
		Content:   content,
		ParentID:  input.ParentID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opComment, "insert_failed", err, zap.Int64("publicacion_id", post.ID))
		return Comment{}, newServiceError(opComment, "insert_failed", err)
	}

	s.notifyComment(ctx, comment, auth.Identity(post.UserID), replyTo, input.MentionIDs)
	return comment, nil
}

// ListComments returns a page of the post's comments, newest first.
func (s *Service) ListComments(ctx context.Context, postID int64, limit, offset int) (CommentPage, error) {
	post, err := s.loadPost(ctx, postID, opComments)
	if err != nil {
		return CommentPage{}, err
	}
	if limit <= 0 {
		limit = defaultCommentPage
	}
	if limit > maxCommentPage {
		limit = maxCommentPage
	}
	if offset < 0 {
		offset = 0
	}

	page := CommentPage{Comments: []CommentView{}}
	query := s.db.WithContext(ctx).Model(&Comment{}).Where("publicacion_id = ?", post.ID)
	if err := query.Count(&page.Total).Error; err != nil {
		s.logError(opComments, "count_failed", err, zap.Int64("publicacion_id", post.ID))
		return CommentPage{}, newServiceError(opComments, "count_failed", err)
	}
	var comments []Comment
	err = s.db.WithContext(ctx).
		Where("publicacion_id = ?", post.ID).
		Order("fecha_creacion DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&comments).Error
	if err != nil {
		s.logError(opComments, "query_failed", err, zap.Int64("publicacion_id", post.ID))
		return CommentPage{}, newServiceError(opComments, "query_failed", err)
	}

	names := make(map[int64]string, len(comments))
	for _, comment := range comments {
		name, ok := names[comment.UserID]
		if !ok {
			name = s.authorName(ctx, auth.Identity(comment.UserID))
			names[comment.UserID] = name
		}
		page.Comments = append(page.Comments, CommentView{Comment: comment, AuthorName: name})
	}
	return page, nil
}

// DeleteComment removes a comment. Only its author may delete it.
func (s *Service) DeleteComment(ctx context.Context, user auth.Identity, commentID int64) error {
	var comment Comment
	err := s.db.WithContext(ctx).Where("id = ?", commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opUncomment, "not_found", ErrCommentNotFound)
	}
	if err != nil {
		s.logError(opUncomment, "lookup_failed", err, zap.Int64("comment_id", commentID))
		return newServiceError(opUncomment, "lookup_failed", err)
	}
	if comment.UserID != user.Int64() {
		return newServiceError(opUncomment, "forbidden", ErrCommentForbidden)
	}
	if err := s.db.WithContext(ctx).Delete(&Comment{}, comment.ID).Error; err != nil {
		s.logError(opUncomment, "delete_failed", err, zap.Int64("comment_id", commentID))
		return newServiceError(opUncomment, "delete_failed", err)
	}
	return nil
}

// ToggleInterest adds or removes the user's interest in the post. Adding notifies the owner.
func (s *Service) ToggleInterest(ctx context.Context, postID int64, user auth.Identity) (InterestState, error) {
	post, err := s.loadPost(ctx, postID, opInterest)
	if err != nil {
		return InterestState{}, err
	}

	state := InterestState{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("publicacion_id = ? AND user_id = ?", post.ID, user.Int64()).Delete(&Interest{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			state.Interested = true
			return tx.Create(&Interest{PostID: post.ID, UserID: user.Int64(), CreatedAt: s.clock().UTC()}).Error
		}
		return nil
	})
	if err != nil {
		s.logError(opInterest, "toggle_failed", err, zap.Int64("publicacion_id", post.ID))
		return InterestState{}, newServiceError(opInterest, "toggle_failed", err)
	}

	if err := s.db.WithContext(ctx).Model(&Interest{}).Where("publicacion_id = ?", post.ID).Count(&state.Count).Error; err != nil {
		s.logError(opInterest, "count_failed", err, zap.Int64("publicacion_id", post.ID))
		return InterestState{}, newServiceError(opInterest, "count_failed", err)
	}

	if state.Interested && s.notifier != nil {
		s.notifier.Notify(ctx, notifications.Request{
			Type:    notifications.TypeInterest,
			PostID:  post.ID,
			ActorID: user,
		})
	}
	return state, nil
}

func (s *Service) notifyComment(ctx context.Context, comment Comment, owner, replyTo auth.Identity, mentions []auth.Identity) {
	if s.notifier == nil {
		return
	}
	author := auth.Identity(comment.UserID)
	commentID := comment.ID
	notified := map[auth.Identity]struct{}{author: {}}

	notify := func(notificationType string, recipient auth.Identity) {
		if recipient <= 0 {
			return
		}
		if _, seen := notified[recipient]; seen {
			return
		}
		notified[recipient] = struct{}{}
		s.notifier.Notify(ctx, notifications.Request{
			Type:      notificationType,
			PostID:    comment.PostID,
			ActorID:   author,
			TargetID:  recipient,
			Message:   comment.Content,
			CommentID: &commentID,
		})
	}

	notify(notifications.TypeReply, replyTo)
	for _, mentioned := range mentions {
		notify(notifications.TypeMention, mentioned)
	}
	notify(notifications.TypeComment, owner)
}

func (s *Service) authorName(ctx context.Context, identity auth.Identity) string {
	if s.names == nil {
		return anonymousAuthor
	}
	name, err := s.names.DisplayName(ctx, identity)
	if err != nil || strings.TrimSpace(name) == "" {
		return anonymousAuthor
	}
	return name
}

func (s *Service) loadPost(ctx context.Context, postID int64, operation string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, newServiceError(operation, "post_not_found", ErrPostNotFound)
	}
	if err != nil {
		s.logError(operation, "post_lookup_failed", err, zap.Int64("publicacion_id", postID))
		return Post{}, newServiceError(operation, "post_lookup_failed", err)
	}
	return post, nil
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
	s.logger.Error("posts service error", attrs...)
}
