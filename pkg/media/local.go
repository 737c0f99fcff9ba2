package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/serofero/server/models"
)

type localStore struct {
	dir     string
	baseURL string
}

// NewLocalStore stores attachments under dir and serves them from
// baseURL (for example "/api/uploads").
func NewLocalStore(dir, baseURL string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &localStore{dir: dir, baseURL: baseURL}, nil
}

func (s *localStore) Upload(ctx context.Context, localPath, filename string) (string, models.MessageType, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	mediaType, _ := Classify(filename)
	name := uuid.NewString() + "_" + SanitizeFilename(filename)

	src, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open buffered file: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(s.dir, name)
	dst, err := os.Create(destPath)
	if err != nil {
		return "", "", fmt.Errorf("create media file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(destPath)
		return "", "", fmt.Errorf("copy media file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(destPath)
		return "", "", fmt.Errorf("close media file: %w", err)
	}

	return s.baseURL + "/" + name, mediaType, nil
}
