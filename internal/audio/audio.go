// Package audio stores recorded answers and returns URLs for them.
package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config configures a MinioStore.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	// PublicURL prefixes object URLs. Defaults to the endpoint.
	PublicURL string
}

// MinioStore keeps recordings in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	cfg    Config
}

func NewMinio(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.Secure {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://" + cfg.Endpoint
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &MinioStore{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	slog.Info("created audio bucket", "bucket", s.cfg.Bucket)
	return nil
}

// Upload stores r under name and returns its URL.
func (s *MinioStore) Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, name, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return s.URL(name), nil
}

// URL returns the public URL of an object.
func (s *MinioStore) URL(name string) string {
	return s.cfg.PublicURL + "/" + s.cfg.Bucket + "/" + name
}

var extensions = map[string]string{
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
}

// ObjectName returns a unique object name for a student's recording.
func ObjectName(studentID, contentType string) string {
	ext := ".webm"
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if e, ok := extensions[mt]; ok {
			ext = e
		}
	}
	if studentID == "" {
		studentID = "unknown"
	}
	return path.Join("answers", studentID, uuid.NewString()+ext)
}
