package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// KeyProvider issues object keys for chat media.
type KeyProvider interface {
	MediaKey(chatID int64, filename string) (string, error)
}

type uuidKeyProvider struct{}

// NewUUIDKeyProvider constructs a KeyProvider that names objects with UUIDv7 identifiers,
// so keys sort by upload time within a chat.
func NewUUIDKeyProvider() KeyProvider {
	return &uuidKeyProvider{}
}

func (p *uuidKeyProvider) MediaKey(chatID int64, filename string) (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("chats/%d/%s%s", chatID, value.String(), Extension(filename)), nil
}

// Extension returns the lower-cased extension of filename including the dot, or "".
func Extension(filename string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if len(ext) <= 1 || len(ext) > 10 {
		return ""
	}
	return ext
}
