// Package media uploads message attachments to the media host and
// classifies them by file extension.
package media

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/serofero/server/models"
)

// Store uploads a buffered attachment and returns its public URL together
// with the message type derived from the file name.
type Store interface {
	Upload(ctx context.Context, localPath, filename string) (url string, mediaType models.MessageType, err error)
}

// ResourceType is the storage category the media host files an object under.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceRaw   ResourceType = "raw"
)

var extensions = map[string]models.MessageType{
	"png": models.MessageTypeImage, "jpg": models.MessageTypeImage, "jpeg": models.MessageTypeImage,
	"gif": models.MessageTypeImage, "webp": models.MessageTypeImage,
	"mp4": models.MessageTypeVideo, "webm": models.MessageTypeVideo,
	"mov": models.MessageTypeVideo, "avi": models.MessageTypeVideo,
	"mp3": models.MessageTypeAudio, "wav": models.MessageTypeAudio, "ogg": models.MessageTypeAudio,
}

// Classify maps a file name to its message type and storage category.
// Audio is filed under the video category, which is where the media host
// keeps every time-based stream. Unknown extensions are generic files.
func Classify(filename string) (models.MessageType, ResourceType) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	switch extensions[ext] {
	case models.MessageTypeImage:
		return models.MessageTypeImage, ResourceImage
	case models.MessageTypeVideo:
		return models.MessageTypeVideo, ResourceVideo
	case models.MessageTypeAudio:
		return models.MessageTypeAudio, ResourceVideo
	default:
		return models.MessageTypeFile, ResourceRaw
	}
}

// SanitizeFilename strips directories and path separators so a client
// supplied name cannot escape the target directory.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '\x00' {
			return -1
		}
		return r
	}, name)

	if name == "" || name == "." || name == ".." {
		name = "unnamed"
	}
	return name
}
