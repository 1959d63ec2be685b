package posts

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrPostNotFound indicates the post does not exist.
	ErrPostNotFound = errors.New("posts: post not found")
	// ErrCommentNotFound indicates the comment does not exist, or not on the post.
	ErrCommentNotFound = errors.New("posts: comment not found")
	// ErrCommentForbidden indicates the comment belongs to another user.
	ErrCommentForbidden = errors.New("posts: comment belongs to another user")
	// ErrEmptyContent indicates a post or comment without text.
	ErrEmptyContent = errors.New("posts: content must not be empty")

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
	opServiceNew = "posts.service.new"
	opCreatePost = "posts.create"
	opComment    = "posts.comment"
	opInterest   = "posts.interest"
	opPostOwner  = "posts.owner"
	opComments   = "posts.comments"
	opUncomment  = "posts.delete_comment"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
