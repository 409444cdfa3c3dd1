// Package archive stores delivered financial reports in S3-compatible
// storage. When no bucket is configured, NoopArchiver is used and reports
// are only delivered over chat.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/nudge/internal/config"
)

// Archiver persists a rendered report and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, userID int64, at time.Time, report string) (string, error)
}

// objectPutter is the slice of *minio.Client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Archiver uploads reports as text objects.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// Archive uploads report under {prefix}/reports/{user_id}/{date}.txt.
func (a *S3Archiver) Archive(ctx context.Context, userID int64, at time.Time, report string) (string, error) {
	key := ObjectKey(a.prefix, userID, at)
	body := []byte(report)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}
	return key, nil
}

// NoopArchiver discards reports.
type NoopArchiver struct{}

// Archive does nothing and returns an empty key.
func (NoopArchiver) Archive(ctx context.Context, userID int64, at time.Time, report string) (string, error) {
	return "", nil
}

// New returns NoopArchiver when the bucket is empty, S3Archiver otherwise.
func New(cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return NoopArchiver{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectKey returns the object name for a user's report on the date of at
// (UTC).
func ObjectKey(prefix string, userID int64, at time.Time) string {
	return path.Join(prefix, "reports", strconv.FormatInt(userID, 10), at.UTC().Format("2006-01-02")+".txt")
}
