package media

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/serofero/server/models"
)

// S3Config points the store at an S3 compatible bucket (AWS or MinIO).
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicURL prefixes object URLs handed to clients; defaults to Endpoint.
	PublicURL string
}

// putObjectAPI is the part of *s3.Client the store uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Store struct {
	client    putObjectAPI
	bucket    string
	publicURL string
	now       func() time.Time
}

// NewS3Store builds an S3 client from static credentials.
func NewS3Store(ctx context.Context, cfg S3Config) (Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = cfg.Endpoint
	}

	return newS3Store(client, cfg.Bucket, publicURL), nil
}

func newS3Store(client putObjectAPI, bucket, publicURL string) *s3Store {
	return &s3Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// objectKey lays objects out as <resource>/<yyyy>/<mm>/<uuid>_<name>.
func (s *s3Store) objectKey(resource ResourceType, filename string) string {
	d := s.now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s_%s", resource, d.Year(), int(d.Month()), uuid.New(), SanitizeFilename(filename))
}

func (s *s3Store) Upload(ctx context.Context, localPath, filename string) (string, models.MessageType, error) {
	mediaType, resource := Classify(filename)

	f, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open buffered file: %w", err)
	}
	defer f.Close()

	key := s.objectKey(resource, filename)
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if mediaType == models.MessageTypeFile {
		// generic files download under their original name
		in.ContentDisposition = aws.String("attachment; filename*=UTF-8''" + url.PathEscape(filename))
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", "", fmt.Errorf("put object %s: %w", key, err)
	}

	return s.publicURL + "/" + s.bucket + "/" + key, mediaType, nil
}
