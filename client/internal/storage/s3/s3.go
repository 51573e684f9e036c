// Package s3 is an object store on any S3-compatible bucket (MinIO, AWS, R2).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/itchan-dev/pairchat/client/internal/composer"
	"github.com/itchan-dev/pairchat/shared/config"
)

type Storage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

var _ composer.ObjectStore = (*Storage)(nil)

// New builds a client for the configured bucket. No request is made until the first
// upload.
func New(cfg config.S3, accessKey, secretKey string) (*Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	public := strings.TrimSuffix(cfg.PublicURL, "/")
	if public == "" {
		// path-style URL on the endpoint itself
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &Storage{client: cl, bucket: cfg.Bucket, publicURL: public}, nil
}

// objectKey rejects keys that are empty or try to climb out of the bucket prefix.
func objectKey(p string) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(p), "/")
	if key == "" {
		return "", errors.New("empty key")
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q", p)
	}
	return path.Clean(key), nil
}

func (s *Storage) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	key, err := objectKey(objectPath)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Storage) PublicURL(objectPath string) string {
	key, err := objectKey(objectPath)
	if err != nil {
		key = strings.TrimLeft(objectPath, "/")
	}
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + "/" + strings.Join(segments, "/")
}
