package media

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serofero/server/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		wantType models.MessageType
		wantRes  ResourceType
	}{
		{"photo.PNG", models.MessageTypeImage, ResourceImage},
		{"a.jpeg", models.MessageTypeImage, ResourceImage},
		{"clip.webm", models.MessageTypeVideo, ResourceVideo},
		{"voice.ogg", models.MessageTypeAudio, ResourceVideo},
		{"report.pdf", models.MessageTypeFile, ResourceRaw},
		{"noext", models.MessageTypeFile, ResourceRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, res := Classify(tt.name)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.wantRes, res)
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"plain.txt":            "plain.txt",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\evil.exe`: "evil.exe",
		"with\x00nul.png":      "withnul.png",
		"":                     "unnamed",
		"..":                   "unnamed",
		"dir/":                 "dir",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffered")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewLocalStore(dir, "/api/uploads")
	require.NoError(t, err)

	src := writeTemp(t, "JPEGDATA")
	url, typ, err := store.Upload(context.Background(), src, "../cat.jpg")
	require.NoError(t, err)

	assert.Equal(t, models.MessageTypeImage, typ)
	assert.True(t, strings.HasPrefix(url, "/api/uploads/"))
	assert.True(t, strings.HasSuffix(url, "_cat.jpg"))

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/api/uploads/")))
	require.NoError(t, err)
	assert.Equal(t, "JPEGDATA", string(stored))

	_, err = os.Stat(src)
	assert.NoError(t, err, "the buffered file belongs to the caller")
}

func TestLocalStore_Errors(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/u")
	require.NoError(t, err)

	_, _, err = store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), "a.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = store.Upload(ctx, writeTemp(t, "x"), "a.png")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func newTestS3(client putObjectAPI) *s3Store {
	s := newS3Store(client, "media", "https://cdn.example/")
	s.now = func() time.Time { return time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestS3Store_Image(t *testing.T) {
	client := &fakeS3{}
	store := newTestS3(client)

	url, typ, err := store.Upload(context.Background(), writeTemp(t, "PNG"), "sunset.png")
	require.NoError(t, err)

	assert.Equal(t, models.MessageTypeImage, typ)
	assert.Equal(t, "media", aws.ToString(client.in.Bucket))
	key := aws.ToString(client.in.Key)
	assert.True(t, strings.HasPrefix(key, "image/2026/07/"), key)
	assert.True(t, strings.HasSuffix(key, "_sunset.png"), key)
	assert.Equal(t, "https://cdn.example/media/"+key, url)
	assert.Equal(t, "image/png", aws.ToString(client.in.ContentType))
	assert.Nil(t, client.in.ContentDisposition)
	assert.Equal(t, "PNG", client.body)
}

func TestS3Store_GenericFile(t *testing.T) {
	client := &fakeS3{}
	store := newTestS3(client)

	_, typ, err := store.Upload(context.Background(), writeTemp(t, "%PDF"), "q3 report.pdf")
	require.NoError(t, err)

	assert.Equal(t, models.MessageTypeFile, typ)
	assert.True(t, strings.HasPrefix(aws.ToString(client.in.Key), "raw/"))
	assert.Equal(t, "attachment; filename*=UTF-8''q3%20report.pdf", aws.ToString(client.in.ContentDisposition))
}

func TestS3Store_Errors(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	store := newTestS3(client)

	_, _, err := store.Upload(context.Background(), writeTemp(t, "x"), "a.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.True(t, strings.HasPrefix(aws.ToString(client.in.Key), "video/"), "audio is filed with video")

	_, _, err = store.Upload(context.Background(), "/does/not/exist", "a.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
