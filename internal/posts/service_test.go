package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/notifications"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu       sync.Mutex
	requests []notifications.Request
}

func (r *recordingNotifier) Notify(_ context.Context, request notifications.Request) (notifications.Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, request)
	return notifications.Payload{}, true
}

func (r *recordingNotifier) recipients(notificationType string) []auth.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recipients []auth.Identity
	for _, request := range r.requests {
		if request.Type == notificationType {
			recipients = append(recipients, request.TargetID)
		}
	}
	return recipients
}

type countingLive struct {
	mu   sync.Mutex
	sent map[auth.Identity]int
}

func (c *countingLive) Send(identity auth.Identity, _ interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = map[auth.Identity]int{}
	}
	c.sent[identity]++
	return 1
}

type staticNames struct{}

func (staticNames) DisplayName(_ context.Context, identity auth.Identity) (string, error) {
	return fmt.Sprintf("user-%d", identity), nil
}

func (staticNames) Exists(context.Context, auth.Identity) (bool, error) {
	return true, nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := db.AutoMigrate(&Post{}, &Comment{}, &Interest{}, &notifications.Notification{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, notifier Notifier) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{
		Database: db,
		Notifier: notifier,
		Clock:    func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, db
}

func TestCommentNotifiesReplyMentionAndOwnerOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	service, _ := newTestService(t, notifier)
	ctx := context.Background()

	post, err := service.CreatePost(ctx, auth.Identity(1), "Vendo pan casero")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	parent, err := service.Comment(ctx, CommentInput{PostID: post.ID, AuthorID: auth.Identity(2), Content: "Me interesa"})
	if err != nil {
		t.Fatalf("parent comment: %v", err)
	}
	notifier.requests = nil

	comment, err := service.Comment(ctx, CommentInput{
		PostID:     post.ID,
		AuthorID:   auth.Identity(3),
		Content:    "  @dos @uno hola  ",
		ParentID:   &parent.ID,
		MentionIDs: []auth.Identity{2, 1, 4, 3},
	})
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if comment.Content != "@dos @uno hola" {
		t.Fatalf("expected trimmed content, got %q", comment.Content)
	}

	if got := notifier.recipients(notifications.TypeReply); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected reply to parent author 2, got %v", got)
	}
	if got := notifier.recipients(notifications.TypeMention); len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Fatalf("expected mentions for 1 and 4, got %v", got)
	}
	if got := notifier.recipients(notifications.TypeComment); len(got) != 0 {
		t.Fatalf("expected owner already notified through mention, got %v", got)
	}
	for _, request := range notifier.requests {
		if request.ActorID != 3 || request.Message != comment.Content {
			t.Fatalf("unexpected request %+v", request)
		}
		if request.CommentID == nil || *request.CommentID != comment.ID {
			t.Fatalf("expected comment id on request %+v", request)
		}
	}
}

func TestCommentByOwnerProducesNoNotifications(t *testing.T) {
	notifier := &recordingNotifier{}
	service, _ := newTestService(t, notifier)
	ctx := context.Background()

	post, err := service.CreatePost(ctx, auth.Identity(1), "post")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := service.Comment(ctx, CommentInput{PostID: post.ID, AuthorID: auth.Identity(1), Content: "gracias"}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if len(notifier.requests) != 0 {
		t.Fatalf("expected no notifications, got %+v", notifier.requests)
	}
}

func TestCommentValidatesInput(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Comment(ctx, CommentInput{PostID: 99, AuthorID: 1, Content: "hola"}); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
	post, err := service.CreatePost(ctx, auth.Identity(1), "post")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := service.Comment(ctx, CommentInput{PostID: post.ID, AuthorID: 2, Content: "   "}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	missing := int64(404)
	if _, err := service.Comment(ctx, CommentInput{PostID: post.ID, AuthorID: 2, Content: "hola", ParentID: &missing}); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestToggleInterestAddsAndRemoves(t *testing.T) {
	notifier := &recordingNotifier{}
	service, _ := newTestService(t, notifier)
	ctx := context.Background()

	post, err := service.CreatePost(ctx, auth.Identity(1), "post")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	state, err := service.ToggleInterest(ctx, post.ID, auth.Identity(5))
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !state.Interested || state.Count != 1 {
		t.Fatalf("unexpected state after add %+v", state)
	}
	if len(notifier.requests) != 1 || notifier.requests[0].Type != notifications.TypeInterest || notifier.requests[0].TargetID != 0 {
		t.Fatalf("expected one interest request addressed to the owner, got %+v", notifier.requests)
	}

	state, err = service.ToggleInterest(ctx, post.ID, auth.Identity(5))
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if state.Interested || state.Count != 0 {
		t.Fatalf("unexpected state after removal %+v", state)
	}
	if len(notifier.requests) != 1 {
		t.Fatalf("expected removal to skip notifications, got %d", len(notifier.requests))
	}

	if _, err := service.ToggleInterest(ctx, 999, auth.Identity(5)); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}

func TestInterestNotificationReachesOwnerThroughPostDirectory(t *testing.T) {
	service, db := newTestService(t, nil)
	live := &countingLive{}
	notifier, err := notifications.NewService(notifications.ServiceConfig{
		Database: db,
		Posts:    service,
		Users:    staticNames{},
		Live:     live,
	})
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}
	service.SetNotifier(notifier)
	ctx := context.Background()

	post, err := service.CreatePost(ctx, auth.Identity(7), "post")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := service.ToggleInterest(ctx, post.ID, auth.Identity(8)); err != nil {
		t.Fatalf("toggle interest: %v", err)
	}
	if _, err := service.ToggleInterest(ctx, post.ID, auth.Identity(7)); err != nil {
		t.Fatalf("owner toggle interest: %v", err)
	}

	page, err := notifier.List(ctx, auth.Identity(7), 10, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if page.Total != 1 || page.Unread != 1 {
		t.Fatalf("expected exactly one notification for the owner, got %+v", page)
	}
	if page.Notifications[0].Type != notifications.TypeInterest || page.Notifications[0].ActorName != "user-8" {
		t.Fatalf("unexpected payload %+v", page.Notifications[0])
	}
	if live.sent[auth.Identity(7)] != 1 {
		t.Fatalf("expected one live delivery to the owner, got %d", live.sent[auth.Identity(7)])
	}
}

func TestPostOwner(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()
	post, err := service.CreatePost(ctx, auth.Identity(12), "post")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	owner, err := service.PostOwner(ctx, post.ID)
	if err != nil || owner != 12 {
		t.Fatalf("expected owner 12, got %d, %v", owner, err)
	}
	if _, err := service.PostOwner(ctx, 999); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
	if _, err := service.CreatePost(ctx, auth.Identity(12), " "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}
