// Package objectstore keeps configuration content in a versioned S3 bucket.
// Each object version is one commit; the version id is the commit id.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"

	"atlas/api/internal/contentstore"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	metaMessage = "Atlas-Message"
	metaAuthor  = "Atlas-Author"
)

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

var _ contentstore.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("objectstore: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if needed and turns on versioning.
// Without versioning every write would replace history.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return unavailable(fmt.Errorf("check bucket %s: %w", s.bucket, err))
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return unavailable(fmt.Errorf("create bucket %s: %w", s.bucket, err))
		}
	}
	if err := s.client.EnableVersioning(ctx, s.bucket); err != nil {
		return unavailable(fmt.Errorf("enable versioning on %s: %w", s.bucket, err))
	}
	return nil
}

func (s *Store) WriteContent(ctx context.Context, path, content, author, message string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader([]byte(content)), int64(len(content)), minio.PutObjectOptions{
		ContentType: "text/markdown; charset=utf-8",
		UserMetadata: map[string]string{
			metaMessage: url.QueryEscape(message),
			metaAuthor:  url.QueryEscape(author),
		},
	})
	if err != nil {
		return "", unavailable(fmt.Errorf("put %s: %w", path, err))
	}
	if info.VersionID == "" {
		return "", unavailable(fmt.Errorf("put %s: bucket %s is not versioned", path, s.bucket))
	}
	return info.VersionID, nil
}

func (s *Store) ReadContent(ctx context.Context, path, commitID string) (string, error) {
	if strings.TrimSpace(commitID) == "" {
		return "", contentstore.ErrNotFound
	}
	return s.read(ctx, path, minio.GetObjectOptions{VersionID: commitID})
}

func (s *Store) ReadLatest(ctx context.Context, path string) (string, error) {
	content, err := s.read(ctx, path, minio.GetObjectOptions{})
	if errors.Is(err, contentstore.ErrNotFound) {
		return "", nil
	}
	return content, err
}

func (s *Store) read(ctx context.Context, path string, opts minio.GetObjectOptions) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, opts)
	if err != nil {
		return "", classify(path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", classify(path, err)
	}
	return string(data), nil
}

// ListHistory lists object versions for the exact key. S3 returns versions of
// a key newest-first; delete markers are skipped.
func (s *Store) ListHistory(ctx context.Context, path string, limit int) iter.Seq2[contentstore.CommitRecord, error] {
	limit = contentstore.ClampLimit(limit)
	return contentstore.Once(func(yield func(contentstore.CommitRecord, error) bool) {
		listCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		count := 0
		for info := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
			Prefix:       path,
			WithVersions: true,
		}) {
			if info.Err != nil {
				yield(contentstore.CommitRecord{}, classify(path, info.Err))
				return
			}
			if info.Key != path || info.IsDeleteMarker {
				continue
			}
			record, err := s.commitRecord(listCtx, path, info)
			if err != nil {
				yield(contentstore.CommitRecord{}, err)
				return
			}
			if !yield(record, nil) {
				return
			}
			count++
			if count >= limit {
				return
			}
		}
	})
}

func (s *Store) commitRecord(ctx context.Context, path string, info minio.ObjectInfo) (contentstore.CommitRecord, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{VersionID: info.VersionID})
	if err != nil {
		return contentstore.CommitRecord{}, classify(path, err)
	}
	return contentstore.CommitRecord{
		CommitID:    info.VersionID,
		Message:     metadataValue(stat.UserMetadata, metaMessage),
		Author:      metadataValue(stat.UserMetadata, metaAuthor),
		Timestamp:   info.LastModified,
		ContentPath: path,
	}, nil
}

func metadataValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) || strings.EqualFold(k, "X-Amz-Meta-"+key) {
			decoded, err := url.QueryUnescape(v)
			if err != nil {
				return v
			}
			return decoded
		}
	}
	return ""
}

func classify(path string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchVersion", "InvalidArgument":
		return fmt.Errorf("%s: %w", path, contentstore.ErrNotFound)
	}
	return unavailable(fmt.Errorf("%s: %w", path, err))
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", contentstore.ErrUnavailable, err)
}
