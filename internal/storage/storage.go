// Package storage persists chat media blobs.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrObjectNotFound indicates the key does not exist in the store.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrInvalidRange indicates a byte range the object cannot satisfy.
	ErrInvalidRange = errors.New("storage: invalid range")
	// ErrUnavailable indicates no media store is configured.
	ErrUnavailable = errors.New("storage: media store unavailable")
)

// Object is a stored blob, or the requested slice of it.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	// ContentRange is set for partial reads, e.g. "bytes 0-99/1000".
	ContentRange string
}

// Partial reports whether the object is a ranged slice.
func (o Object) Partial() bool {
	return o.ContentRange != ""
}

// MediaStore stores and streams media blobs by key.
type MediaStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error
	// Get returns the object; byteRange is an HTTP Range header value or empty.
	Get(ctx context.Context, key string, byteRange string) (Object, error)
	Delete(ctx context.Context, key string) error
}
