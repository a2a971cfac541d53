package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/config"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3Scheme = "s3://"

// ErrNotFound is returned when a mirrored object does not exist.
var ErrNotFound = errors.New("object not found")

// S3Store mirrors source workbooks in an S3-compatible bucket, keyed by
// Prefix + SourceFile.FileName(). It is both a Fetcher and a catalog.
type S3Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// NewS3Store connects to the bucket described by cfg.
func NewS3Store(cfg config.StorageConfig) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Key returns the object key of f.
func (s *S3Store) Key(f catalog.SourceFile) string {
	if key, ok := parseS3Location(f.Location, s.bucket); ok {
		return key
	}
	return objectKey(s.prefix, f.FileName())
}

// Location returns the s3:// location of f in this store.
func (s *S3Store) Location(f catalog.SourceFile) string {
	return s3Scheme + s.bucket + "/" + s.Key(f)
}

// Put uploads the content of f.
func (s *S3Store) Put(ctx context.Context, f catalog.SourceFile, r io.Reader, size int64) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(s.prefix, f.FileName()), r, size, minio.PutObjectOptions{
		ContentType: contentType(f.FileName()),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", f.FileName(), err)
	}
	return nil
}

// Open implements Fetcher.
func (s *S3Store) Open(ctx context.Context, f catalog.SourceFile) (io.ReadCloser, error) {
	key := s.Key(f)
	loc := s3Scheme + s.bucket + "/" + key
	if err := s.ensureBucket(ctx); err != nil {
		return nil, &core.RetrievalError{Location: loc, Err: err}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &core.RetrievalError{Location: loc, Err: err}
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchBucket" {
			err = ErrNotFound
		}
		return nil, &core.RetrievalError{Location: loc, Err: err}
	}
	return obj, nil
}

// Resolve implements catalog.Catalog over the mirrored objects.
func (s *S3Store) Resolve(ctx context.Context, c core.ExtractionCriteria) ([]catalog.SourceFile, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, &core.RetrievalError{Location: s3Scheme + s.bucket, Err: err}
	}

	var files []catalog.SourceFile
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &core.RetrievalError{Location: s3Scheme + s.bucket + "/" + s.prefix, Err: obj.Err}
		}
		f, err := catalog.ParseFileName(path.Base(obj.Key))
		if err != nil {
			continue
		}
		f.Location = s3Scheme + s.bucket + "/" + obj.Key
		files = append(files, f)
	}

	catalog.Sort(files)
	return catalog.Filter(files, c), nil
}

func objectKey(prefix, name string) string {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strings.TrimLeft(name, "/")
}

// parseS3Location returns the key of an s3://bucket/key location in bucket.
func parseS3Location(loc, bucket string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(loc), s3Scheme) {
		return "", false
	}
	b, key, ok := strings.Cut(loc[len(s3Scheme):], "/")
	if !ok || b != bucket || key == "" {
		return "", false
	}
	return key, true
}

func contentType(name string) string {
	if strings.EqualFold(path.Ext(name), ".csv") {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
