package chats

import (
	"fmt"
	"strings"

	"github.com/prendiax/backend/internal/storage"
)

// Upload names the endpoint an attachment arrives through; each accepts different kinds.
type Upload string

const (
	// UploadVisual accepts images and videos.
	UploadVisual Upload = "media"
	// UploadVoice accepts voice notes.
	UploadVoice Upload = "voz"
	// UploadDocument accepts office documents and other application files.
	UploadDocument Upload = "document"
)

// DefaultMaxMediaBytes caps an attachment at 100 MiB.
const DefaultMaxMediaBytes int64 = 100 << 20

var (
	imageExtensions    = setOf("jpg", "jpeg", "png", "gif", "webp", "heic", "bmp")
	videoExtensions    = setOf("mp4", "mov", "avi", "mkv", "webm")
	audioExtensions    = setOf("m4a", "mp3", "wav", "aac", "webm", "ogg", "opus")
	documentExtensions = setOf("pdf", "doc", "docx", "txt", "xls", "xlsx", "ppt", "pptx")
	documentTypes      = setOf("application/pdf", "application/msword", "text/plain")

	fallbackContentTypes = map[string]string{
		KindImage:    "image/jpeg",
		KindVideo:    "video/mp4",
		KindVoice:    "audio/mp4",
		KindDocument: "application/pdf",
	}
	fallbackExtensions = map[string]string{
		KindImage:    ".jpg",
		KindVideo:    ".mp4",
		KindVoice:    ".m4a",
		KindDocument: ".pdf",
	}
)

// Classify returns the message kind of an upload, or ErrUnsupportedMedia.
func Classify(upload Upload, contentType, filename string) (string, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext := strings.TrimPrefix(storage.Extension(filename), ".")

	switch upload {
	case UploadVisual:
		switch {
		case strings.HasPrefix(contentType, "image/"):
			return KindImage, nil
		case strings.HasPrefix(contentType, "video/"):
			return KindVideo, nil
		case imageExtensions[ext]:
			return KindImage, nil
		case videoExtensions[ext]:
			return KindVideo, nil
		}
	case UploadVoice:
		if strings.HasPrefix(contentType, "audio/") || audioExtensions[ext] {
			return KindVoice, nil
		}
	case UploadDocument:
		if documentTypes[contentType] || documentExtensions[ext] || strings.Contains(contentType, "application/") {
			return KindDocument, nil
		}
	}
	return "", fmt.Errorf("%w (%s)", ErrUnsupportedMedia, describe(ext, contentType))
}

// PushBody returns the device notification text for a message.
func PushBody(message Message) string {
	switch message.Kind {
	case KindImage:
		return "📷 Te ha enviado una foto."
	case KindVideo:
		return "🎥 Te ha enviado un video."
	case KindVoice:
		return "🎙️ Te ha enviado una nota de voz."
	case KindDocument:
		return "📄 Te ha enviado un documento: " + message.Content
	default:
		return message.Content
	}
}

func contentTypeFor(kind, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if fallback, ok := fallbackContentTypes[kind]; ok {
		return fallback
	}
	return "application/octet-stream"
}

// DownloadName is the file name offered when streaming the message's media.
func DownloadName(message Message) string {
	ext := storage.Extension(message.MediaName)
	if ext == "" {
		ext = fallbackExtensions[message.Kind]
	}
	return "file_" + formatID(message.ID) + ext
}

func describe(ext, contentType string) string {
	if ext != "" {
		return ext
	}
	if contentType != "" {
		return contentType
	}
	return "unknown"
}

func setOf(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}
