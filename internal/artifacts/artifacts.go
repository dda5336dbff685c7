// Package artifacts stores the PNG captures a walkthrough produces. The
// default provider writes plain files into the local screenshot directory;
// an S3 provider archives runs off-box. Put returns the stored object's
// address, which is what screenshot events report.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("artifacts: object not found")
	ErrInvalidKey = errors.New("artifacts: invalid key")
)

type Store interface {
	// Put stores an object and returns its address: an absolute file path
	// for the local provider, an s3:// URL for the S3 provider.
	Put(ctx context.Context, key string, reader io.Reader, opts ...PutOption) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]*Object, error)
}

type Provider interface {
	Store
	Kind() string
	HealthCheck(ctx context.Context) error
	Close() error
}

type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type PutOptions struct {
	ContentType string
}

type PutOption func(*PutOptions)

func WithContentType(contentType string) PutOption {
	return func(o *PutOptions) {
		o.ContentType = contentType
	}
}

// Keys are flat relative names like "05-send-a-test-message.png"; anything
// that escapes the store's root is rejected.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string // "local" or "s3"
	Dir      string // local: directory screenshots land in
	Bucket   string // s3: bucket name
	Region   string // s3: region, default us-east-1
	Prefix   string // s3: key prefix for this run
}

// New builds the configured provider. An empty provider means local.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocalStore(cfg.Dir)
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown artifact provider: %s", cfg.Provider)
	}
}
