package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// S3Store archives run captures to an S3 bucket, optionally under a key
// prefix so multiple runs can share a bucket.
type S3Store struct {
	bucket     *blob.Bucket
	bucketName string
	prefix     string
}

func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 artifacts: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	bucket, err := s3blob.OpenBucketV2(context.Background(), client, cfg.Bucket, nil)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket: %w", err)
	}

	return &S3Store{
		bucket:     bucket,
		bucketName: cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Store) Kind() string { return "s3" }

func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Store) Put(ctx context.Context, key string, reader io.Reader, opts ...PutOption) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}

	options := &PutOptions{ContentType: "image/png"}
	for _, opt := range opts {
		opt(options)
	}

	full := s.fullKey(key)
	w, err := s.bucket.NewWriter(ctx, full, &blob.WriterOptions{ContentType: options.ContentType})
	if err != nil {
		return "", fmt.Errorf("create writer: %w", err)
	}

	_, copyErr := io.Copy(w, reader)
	closeErr := w.Close()
	if copyErr != nil {
		return "", fmt.Errorf("write artifact: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close artifact: %w", closeErr)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucketName, full), nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.fullKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return r, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, s.fullKey(key))
	if err != nil {
		return false, fmt.Errorf("check artifact: %w", err)
	}
	return ok, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]*Object, error) {
	var objects []*Object
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.fullKey(prefix)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		key := obj.Key
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		objects = append(objects, &Object{Key: key, Size: obj.Size, LastModified: obj.ModTime})
	}
	return objects, nil
}

func (s *S3Store) HealthCheck(ctx context.Context) error {
	key := fmt.Sprintf(".health-%d", time.Now().UnixNano())
	if _, err := s.Put(ctx, key, strings.NewReader("ok"), WithContentType("text/plain")); err != nil {
		return fmt.Errorf("health check write: %w", err)
	}
	return s.bucket.Delete(ctx, s.fullKey(key))
}

func (s *S3Store) Close() error { return s.bucket.Close() }

var _ Provider = (*S3Store)(nil)
