package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// LocalStore keeps artifacts as ordinary files under a directory. Keys map
// one-to-one onto file names, so operators can open captures directly.
type LocalStore struct {
	bucket *blob.Bucket
	dir    string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "./screenshots"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	bucket, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open artifact directory: %w", err)
	}

	return &LocalStore{bucket: bucket, dir: abs}, nil
}

func (s *LocalStore) Kind() string { return "local" }

// Dir returns the directory captures land in.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(ctx context.Context, key string, reader io.Reader, opts ...PutOption) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}

	options := &PutOptions{ContentType: "image/png"}
	for _, opt := range opts {
		opt(options)
	}

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: options.ContentType})
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

	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return r, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check artifact: %w", err)
	}
	return ok, nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]*Object, error) {
	var objects []*Object
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		// fileblob tracks content types in sidecar attribute files; they are
		// bookkeeping, not captures.
		if strings.HasSuffix(obj.Key, ".attrs") {
			continue
		}
		objects = append(objects, &Object{Key: obj.Key, Size: obj.Size, LastModified: obj.ModTime})
	}
	return objects, nil
}

func (s *LocalStore) HealthCheck(ctx context.Context) error {
	key := fmt.Sprintf(".health-%d", time.Now().UnixNano())
	if _, err := s.Put(ctx, key, strings.NewReader("ok")); err != nil {
		return fmt.Errorf("health check write: %w", err)
	}
	defer s.bucket.Delete(ctx, key)

	r, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("health check read: %w", err)
	}
	defer r.Close()
	if _, err := io.ReadAll(r); err != nil {
		return fmt.Errorf("health check read data: %w", err)
	}
	return nil
}

func (s *LocalStore) Close() error { return s.bucket.Close() }

var _ Provider = (*LocalStore)(nil)
